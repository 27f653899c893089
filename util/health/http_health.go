package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const httpCheckTimeout = 2 * time.Second

// CheckHTTPServer returns a check that GETs address+healthPath. Any 2xx answer
// is healthy; an answer outside 2xx is unhealthy without an error, and an
// unreachable server is unhealthy with the transport error.
func CheckHTTPServer(address string, healthPath string) Func {
	target := strings.TrimSuffix(address, "/") + "/" + strings.TrimPrefix(healthPath, "/")
	client := &http.Client{Timeout: httpCheckTimeout}

	return func(ctx context.Context, _ bool) (int, string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return http.StatusServiceUnavailable, fmt.Sprintf("invalid health url %s", target), err
		}

		resp, err := client.Do(req)
		if err != nil {
			return http.StatusServiceUnavailable, fmt.Sprintf("%s is not accepting connections", address), err
		}

		_ = resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return http.StatusServiceUnavailable, fmt.Sprintf("%s answered %d", target, resp.StatusCode), nil
		}

		return http.StatusOK, fmt.Sprintf("%s is healthy", address), nil
	}
}
