// Package httpapi exposes the token cache over HTTP: selections, lock
// management, balances and the cache's statistics, plus health and
// Prometheus metrics endpoints.
package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/bsv-blockchain/tokencache/errors"
	"github.com/bsv-blockchain/tokencache/model"
	"github.com/bsv-blockchain/tokencache/settings"
	"github.com/bsv-blockchain/tokencache/stores/tokencache"
	"github.com/bsv-blockchain/tokencache/ulogger"
	"github.com/bsv-blockchain/tokencache/util/servicemanager"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache is the part of the token cache the API serves.
type Cache interface {
	Select(ctx context.Context, req tokencache.SelectRequest) (*tokencache.Selection, error)
	Unlock(ids []model.RecordID, selectionID string) int
	ReleaseSelection(selectionID string) int
	LockExternal(ids []model.RecordID, selectionID string, autoUnlockDelay time.Duration) error
	Balance(ctx context.Context, holder model.HolderKey, valueType model.ValueType, issuer string) (total, available uint64, err error)
	Get(id model.RecordID) (*model.TokenRecord, bool)
	LockedBy(id model.RecordID) (string, bool)
	Stats() tokencache.Stats
}

// HealthFunc reports the health of the process, usually the service
// manager's combined check.
type HealthFunc func(ctx context.Context, checkLiveness bool) (int, string, error)

type HTTP struct {
	logger    ulogger.Logger
	settings  *settings.Settings
	cache     Cache
	health    HealthFunc
	e         *echo.Echo
	startTime time.Time
}

// New registers the routes:
//
//	GET  /alive, /health, /metrics
//	POST /api/v1/select, /api/v1/unlock, /api/v1/lock, /api/v1/release
//	GET  /api/v1/balance, /api/v1/record/:id, /api/v1/stats
func New(logger ulogger.Logger, tSettings *settings.Settings, cache Cache, health HealthFunc) *HTTP {
	initPrometheusMetrics()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	if tSettings.LogLevel == "DEBUG" {
		e.Use(customLoggerMiddleware(logger))
	}

	h := &HTTP{
		logger:    logger,
		settings:  tSettings,
		cache:     cache,
		health:    health,
		e:         e,
		startTime: time.Now(),
	}

	e.GET("/alive", func(c echo.Context) error {
		return c.String(http.StatusOK, fmt.Sprintf("Token cache is alive. Uptime: %s\n", time.Since(h.startTime)))
	})

	e.GET("/health", h.healthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiGroup := e.Group("/api/v1")

	apiGroup.POST("/select", h.Select)
	apiGroup.POST("/unlock", h.Unlock)
	apiGroup.POST("/lock", h.Lock)
	apiGroup.POST("/release", h.Release)
	apiGroup.GET("/balance", h.Balance)
	apiGroup.GET("/record/:id", h.GetRecord)
	apiGroup.GET("/stats", h.Stats)

	return h
}

func (h *HTTP) Init(_ context.Context) error {
	return nil
}

// Start listens on the configured address until ctx is done.
func (h *HTTP) Start(ctx context.Context, readyCh chan<- struct{}) error {
	addr := h.settings.TokenCache.HTTPListenAddress
	if addr == "" {
		return errors.NewConfigurationError("[HTTP] tokencache_httpListenAddress is not set")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.NewServiceError("[HTTP] failed to listen on %s", addr, err)
	}

	h.e.Listener = listener

	go func() {
		<-ctx.Done()

		h.logger.Infof("[HTTP] service shutting down")

		if err := h.e.Shutdown(context.Background()); err != nil {
			h.logger.Errorf("[HTTP] service shutdown error: %s", err)
		}
	}()

	servicemanager.AddListenerInfo(fmt.Sprintf("Token cache HTTP listening on %s", listener.Addr()))

	close(readyCh)

	if err = h.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.NewServiceError("[HTTP] server failed", err)
	}

	return nil
}

func (h *HTTP) Stop(ctx context.Context) error {
	return h.e.Shutdown(ctx)
}

// healthHandler serves the process health; ?liveness=1 only checks liveness.
func (h *HTTP) healthHandler(c echo.Context) error {
	if h.health == nil {
		return c.String(http.StatusOK, "OK")
	}

	status, details, err := h.health(c.Request().Context(), c.QueryParam("liveness") == "1")
	if err != nil && status == http.StatusOK {
		status = http.StatusInternalServerError
	}

	return c.String(status, details)
}

// Health reports the API itself, which holds no state of its own.
func (h *HTTP) Health(_ context.Context, _ bool) (int, string, error) {
	return http.StatusOK, "OK", nil
}

func customLoggerMiddleware(logger ulogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Debugf("http request: Method=%s, URI=%s, RemoteAddr=%s Status=%d, Duration=%v, err=%v",
				c.Request().Method, c.Request().RequestURI, c.Request().RemoteAddr, c.Response().Status, time.Since(start), err)

			return err
		}
	}
}
