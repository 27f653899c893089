package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestHealthCommand(t *testing.T) {
	healthy := atomic.NewBool(true)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" || !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	address := strings.TrimPrefix(server.URL, "http://")

	require.NoError(t, newApp().Run([]string{progname, "health", "--address", address}))
	require.NoError(t, newApp().Run([]string{progname, "health", "--address", address, "--liveness"}))

	healthy.Store(false)

	require.Error(t, newApp().Run([]string{progname, "health", "--address", address}))
	require.Error(t, newApp().Run([]string{progname, "health", "--address", "no-port"}))
}

func TestDemoCommand(t *testing.T) {
	t.Run("direct feed", func(t *testing.T) {
		require.NoError(t, newApp().Run([]string{
			progname, "demo",
			"--holders", "3",
			"--records", "200",
			"--selections", "30",
			"--concurrency", "4",
			"--amount", "20",
		}))
	})

	t.Run("kafka feed", func(t *testing.T) {
		require.NoError(t, newApp().Run([]string{
			progname, "demo",
			"--holders", "2",
			"--records", "50",
			"--selections", "10",
			"--kafka",
		}))
	})

	t.Run("invalid sizes", func(t *testing.T) {
		require.Error(t, newApp().Run([]string{progname, "demo", "--records", "0"}))
	})
}
