// Package tokencache is an in-memory, continuously updated view of the
// unspent token records of a ledger. Concurrent callers lock subsets of the
// records that cover a requested amount; no record is ever handed to two
// selections at once.
//
// The cache is filled by a resumable background loader paging through the
// ledger and kept current by the ledger's change feed (Apply). Lock state
// lives in a single concurrent map and every transition is a compare-and-set
// on one record, so selections never wait on each other.
package tokencache

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bsv-blockchain/tokencache/errors"
	"github.com/bsv-blockchain/tokencache/model"
	"github.com/bsv-blockchain/tokencache/services/identity"
	"github.com/bsv-blockchain/tokencache/settings"
	"github.com/bsv-blockchain/tokencache/stores/ledger"
	"github.com/bsv-blockchain/tokencache/ulogger"
	jsoniter "github.com/json-iterator/go"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"
)

type Cache struct {
	logger          ulogger.Logger
	settings        *settings.Settings
	query           ledger.Query
	resolver        identity.Resolver
	strategy        Strategy
	autoUnlockDelay time.Duration

	store   *recordStore
	indexes *indexSet
	expiry  *expiryScheduler
	loader  *loader

	// loadMu guards the switch from loading to loaded: consumes take it
	// shared, the loader takes it exclusively to drain missedConsumes.
	loadMu         sync.RWMutex
	loaded         bool
	missedConsumes *xsync.MapOf[model.RecordID, struct{}]

	loadStarted atomic.Bool
	loadErr     atomic.Error
	loadDone    chan struct{}

	cancelMu     sync.Mutex
	cancelLoader context.CancelFunc
	loaderExited chan struct{}
}

// New builds a cache over query. resolver is only needed by the external id
// strategy and may be nil otherwise. A nil query leaves the cache to be
// filled by the change feed alone.
func New(logger ulogger.Logger, tSettings *settings.Settings, query ledger.Query, resolver identity.Resolver) (*Cache, error) {
	initPrometheusMetrics()

	strategy, err := ParseStrategy(tSettings.TokenCache.Strategy)
	if err != nil {
		return nil, err
	}

	if strategy == StrategyExternalID && resolver == nil {
		return nil, errors.NewConfigurationError("the %s strategy needs an identity resolver", strategy)
	}

	autoUnlockDelay := tSettings.TokenCache.AutoUnlockDelay
	if autoUnlockDelay <= 0 {
		autoUnlockDelay = settings.DefaultAutoUnlockDelay
	}

	c := &Cache{
		logger:          logger,
		settings:        tSettings,
		query:           query,
		resolver:        resolver,
		strategy:        strategy,
		autoUnlockDelay: autoUnlockDelay,
		store:           newRecordStore(),
		indexes:         newIndexSet(),
		missedConsumes:  xsync.NewMapOf[model.RecordID, struct{}](),
		loadDone:        make(chan struct{}),
		loaderExited:    make(chan struct{}),
	}

	c.expiry = newExpiryScheduler(logger, c.store.unlock)

	if query != nil {
		c.loader = newLoader(logger, tSettings, query, c.loadPage)
	}

	return c, nil
}

// Init activates the configured strategy's index.
func (c *Cache) Init(ctx context.Context) error {
	c.ensureStrategy(ctx, c.strategy)
	return nil
}

// Start runs the expiry scheduler and the loader until ctx is done. The cache
// reports ready straight away; selections are served while loading.
func (c *Cache) Start(ctx context.Context, readyCh chan<- struct{}) error {
	c.expiry.start()

	loaderCtx, cancel := context.WithCancel(ctx)

	c.cancelMu.Lock()
	c.cancelLoader = cancel
	c.cancelMu.Unlock()

	go func() {
		defer close(c.loaderExited)

		_ = c.Load(loaderCtx)
	}()

	close(readyCh)

	<-ctx.Done()

	return nil
}

// Stop cancels a running loader and drops pending expiry tasks.
func (c *Cache) Stop(ctx context.Context) error {
	c.cancelMu.Lock()
	cancel := c.cancelLoader
	c.cancelMu.Unlock()

	c.expiry.stop()

	if cancel == nil {
		return nil
	}

	cancel()

	select {
	case <-c.loaderExited:
		return nil
	case <-ctx.Done():
		return errors.NewServiceError("[TokenCache] timed out waiting for the loader to stop", ctx.Err())
	}
}

// Load runs the loader to completion on the calling goroutine. It may only be
// called once; Start calls it in the background.
func (c *Cache) Load(ctx context.Context) error {
	if !c.loadStarted.CompareAndSwap(false, true) {
		return errors.NewProcessingError("[Loader] already started")
	}

	defer close(c.loadDone)

	if c.loader == nil {
		c.finishLoad()
		return nil
	}

	start := time.Now()

	c.logger.Infof("[Loader] loading records with page size %d", c.loader.baseSize)

	if err := c.loader.run(ctx); err != nil {
		c.loadErr.Store(err)

		if !errors.Is(err, context.Canceled) {
			c.logger.Errorf("[Loader] failed after %s: %v", time.Since(start), err)
		}

		c.finishLoad()

		return err
	}

	c.finishLoad()

	c.logger.Infof("[Loader] loaded %d records in %s (%d pages, %d resyncs, %d restarts)",
		c.loader.emitted.Load(), time.Since(start), c.loader.pages.Load(), c.loader.resyncs.Load(), c.loader.restarts.Load())

	return nil
}

// WaitForLoad blocks until the loader has finished, returning its error.
func (c *Cache) WaitForLoad(ctx context.Context) error {
	select {
	case <-c.loadDone:
		return c.loadErr.Load()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache) Loaded() bool {
	c.loadMu.RLock()
	defer c.loadMu.RUnlock()

	return c.loaded
}

type Stats struct {
	Strategy        string   `json:"strategy"`
	Strategies      []string `json:"strategies"`
	Records         int      `json:"records"`
	Locked          int      `json:"locked"`
	PendingExpiries int      `json:"pendingExpiries"`
	MissedConsumes  int      `json:"missedConsumes"`
	LoaderState     string   `json:"loaderState"`
	LoaderPages     int64    `json:"loaderPages"`
	LoaderResyncs   int64    `json:"loaderResyncs"`
	LoaderRestarts  int64    `json:"loaderRestarts"`
	LoaderError     string   `json:"loaderError,omitempty"`
}

func (c *Cache) Stats() Stats {
	strategies := c.indexes.active()

	stats := Stats{
		Strategy:        string(c.strategy),
		Strategies:      make([]string, 0, len(strategies)),
		Records:         c.store.len(),
		Locked:          c.store.lockedCount(),
		PendingExpiries: c.expiry.pending(),
		MissedConsumes:  c.missedConsumes.Size(),
		LoaderState:     loaderStateDone,
	}

	for _, s := range strategies {
		stats.Strategies = append(stats.Strategies, string(s))
	}

	if c.loader != nil {
		stats.LoaderState = c.loader.state()
		stats.LoaderPages = c.loader.pages.Load()
		stats.LoaderResyncs = c.loader.resyncs.Load()
		stats.LoaderRestarts = c.loader.restarts.Load()
	}

	if err := c.loadErr.Load(); err != nil {
		stats.LoaderError = err.Error()
	}

	return stats
}

// Health is unhealthy only after the loader failed; a cache still loading
// serves selections and reports healthy.
func (c *Cache) Health(_ context.Context, checkLiveness bool) (int, string, error) {
	if checkLiveness {
		return http.StatusOK, "OK", nil
	}

	stats := c.Stats()

	body, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(stats)
	if err != nil {
		return http.StatusInternalServerError, "", errors.NewProcessingError("failed to encode cache stats", err)
	}

	if err := c.loadErr.Load(); err != nil && !errors.Is(err, context.Canceled) {
		return http.StatusServiceUnavailable, body, errors.NewServiceUnavailableError("[TokenCache] loader failed", err)
	}

	return http.StatusOK, body, nil
}
