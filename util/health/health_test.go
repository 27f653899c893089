package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bsv-blockchain/tokencache/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAll(t *testing.T) {
	ctx := context.Background()

	ok := Check{Name: "ledger", Check: func(context.Context, bool) (int, string, error) {
		return http.StatusOK, "SQL Engine is sqlite", nil
	}}

	nested := Check{Name: "cache", Check: func(context.Context, bool) (int, string, error) {
		return http.StatusOK, `{"loader":"done"}`, nil
	}}

	failing := Check{Name: "kafka", Check: func(context.Context, bool) (int, string, error) {
		return http.StatusServiceUnavailable, "broker down", errors.NewServiceUnavailableError("no brokers")
	}}

	t.Run("all healthy", func(t *testing.T) {
		status, body, err := CheckAll(ctx, false, []Check{ok, nested})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, status)
		assert.Contains(t, body, `"resource":"ledger"`)
		assert.Contains(t, body, `"dependencies":{"loader":"done"}`)
	})

	t.Run("one failing", func(t *testing.T) {
		status, body, err := CheckAll(ctx, true, []Check{ok, failing})
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, status)
		assert.Contains(t, body, "no brokers")
	})
}

func TestCheckHTTPServer(t *testing.T) {
	ctx := context.Background()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}

		w.WriteHeader(http.StatusNotFound)
	}))
	defer healthy.Close()

	status, _, err := CheckHTTPServer(healthy.URL+"/", "/health")(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	status, _, err = CheckHTTPServer(healthy.URL, "missing")(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	healthy.Close()

	status, _, err = CheckHTTPServer(healthy.URL, "/health")(ctx, false)
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}
