// Package health aggregates the health of the token cache's services and
// their dependencies into one HTTP status and JSON document.
package health

import (
	"context"
	"net/http"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Func reports a status code, a message and an optional error. With
// checkLiveness set it only answers whether the component is running.
type Func func(ctx context.Context, checkLiveness bool) (int, string, error)

type Check struct {
	Name  string
	Check Func
}

type dependency struct {
	Resource     string              `json:"resource"`
	Status       int                 `json:"status"`
	Error        string              `json:"error,omitempty"`
	Message      string              `json:"message,omitempty"`
	Dependencies jsoniter.RawMessage `json:"dependencies,omitempty"`
}

type report struct {
	Status       int          `json:"status"`
	Dependencies []dependency `json:"dependencies"`
}

// CheckAll runs every check and reports 503 when any of them fails or is not
// 200. A check whose message is itself a JSON document is nested as its
// dependencies rather than quoted.
func CheckAll(ctx context.Context, checkLiveness bool, checks []Check) (int, string, error) {
	result := report{
		Status:       http.StatusOK,
		Dependencies: make([]dependency, 0, len(checks)),
	}

	for _, check := range checks {
		status, message, err := check.Check(ctx, checkLiveness)
		if err != nil || status != http.StatusOK {
			result.Status = http.StatusServiceUnavailable
		}

		dep := dependency{
			Resource: check.Name,
			Status:   status,
		}

		if err != nil {
			dep.Error = err.Error()
		}

		if len(message) > 0 && json.Valid([]byte(message)) && message[0] == '{' {
			dep.Dependencies = jsoniter.RawMessage(message)
		} else {
			dep.Message = message
		}

		result.Dependencies = append(result.Dependencies, dep)
	}

	body, err := json.Marshal(result)
	if err != nil {
		return http.StatusInternalServerError, "", err
	}

	return result.Status, string(body), nil
}
