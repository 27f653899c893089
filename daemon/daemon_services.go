package daemon

import (
	"context"

	"github.com/bsv-blockchain/tokencache/errors"
	"github.com/bsv-blockchain/tokencache/services/httpapi"
	"github.com/bsv-blockchain/tokencache/services/identity"
	"github.com/bsv-blockchain/tokencache/services/tokenfeed"
	"github.com/bsv-blockchain/tokencache/settings"
	"github.com/bsv-blockchain/tokencache/stores/ledger"
	ledgersql "github.com/bsv-blockchain/tokencache/stores/ledger/sql"
	"github.com/bsv-blockchain/tokencache/stores/tokencache"
	"github.com/bsv-blockchain/tokencache/ulogger"
	"github.com/bsv-blockchain/tokencache/util"
	"github.com/bsv-blockchain/tokencache/util/servicemanager"
)

// startServices registers, in start order, the cache, the token feed
// consumer when a feed is configured, and the HTTP API.
func (d *Daemon) startServices(ctx context.Context, logger ulogger.Logger, tSettings *settings.Settings, sm *servicemanager.ServiceManager) error {
	query, err := d.getLedger(ctx, tSettings)
	if err != nil {
		return err
	}

	resolver, err := d.getResolver(ctx, tSettings)
	if err != nil {
		return err
	}

	cache, err := tokencache.New(d.loggerFactory("tokencache"), tSettings, query, resolver)
	if err != nil {
		return err
	}

	d.cacheMu.Lock()
	d.cache = cache
	d.cacheMu.Unlock()

	if err = sm.AddService("TokenCache", cache); err != nil {
		return err
	}

	if tSettings.Kafka.TokenFeedConfig != nil {
		if err = sm.AddService("TokenFeed", tokenfeed.New(d.loggerFactory("tokenfeed"), tSettings, cache.Apply)); err != nil {
			return err
		}
	} else {
		logger.Warnf("kafka_tokenFeedConfig is not set, the cache will not see ledger changes after loading")
	}

	if !d.skipHTTP {
		if err = sm.AddService("HTTP", httpapi.New(d.loggerFactory("http"), tSettings, cache, sm.HealthHandler)); err != nil {
			return err
		}
	}

	return nil
}

func (d *Daemon) getLedger(ctx context.Context, tSettings *settings.Settings) (ledger.Query, error) {
	d.stores.mu.Lock()
	defer d.stores.mu.Unlock()

	if d.stores.query != nil {
		return d.stores.query, nil
	}

	if tSettings.Ledger.StoreURL == nil {
		return nil, errors.NewConfigurationError("ledger_store is not set")
	}

	store, err := ledgersql.New(ctx, d.loggerFactory("ledger"), tSettings, tSettings.Ledger.StoreURL)
	if err != nil {
		return nil, err
	}

	d.stores.query = store
	d.stores.closers = append(d.stores.closers, store.Close)

	return store, nil
}

// getResolver opens the identity table next to the ledger. Resolutions are
// cached for tokencache_identityCacheTTL.
func (d *Daemon) getResolver(ctx context.Context, tSettings *settings.Settings) (identity.Resolver, error) {
	d.stores.mu.Lock()
	defer d.stores.mu.Unlock()

	if d.stores.resolver != nil {
		return d.stores.resolver, nil
	}

	if tSettings.Ledger.StoreURL == nil || tSettings.Ledger.IdentityTable == "" {
		if tSettings.TokenCache.Strategy == settings.StrategyExternalID {
			return nil, errors.NewConfigurationError("the %s strategy needs ledger_store and ledger_identityTable", settings.StrategyExternalID)
		}

		return nil, nil
	}

	logger := d.loggerFactory("identity")

	db, err := util.InitSQLDB(logger, tSettings.Ledger.StoreURL, tSettings)
	if err != nil {
		return nil, errors.NewStorageError("failed to open identity db", err)
	}

	d.stores.closers = append(d.stores.closers, db.Close)

	sqlResolver, err := identity.NewSQLResolver(ctx, logger, db, tSettings.Ledger.IdentityTable, tSettings.Ledger.DBTimeout)
	if err != nil {
		return nil, err
	}

	d.stores.resolver = identity.NewCachedResolver(sqlResolver, tSettings.TokenCache.IdentityCacheTTL, tSettings.TokenCache.IdentityCacheCleanupEvery)

	return d.stores.resolver, nil
}
