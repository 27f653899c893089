// Package settings loads the token cache configuration from gocore
// (settings.conf, settings_local.conf and the environment).
package settings

import (
	"time"
)

const (
	StrategyOwningKey  = "owningkey"
	StrategyExternalID = "externalid"

	DefaultPageSize        = 2000
	DefaultAutoUnlockDelay = 5 * time.Minute
)

func NewSettings() *Settings {
	return &Settings{
		ServiceName: getString("SERVICE_NAME", "tokencache"),
		DataFolder:  getString("dataFolder", "data"),
		LogLevel:    getString("logLevel", "INFO"),
		PrettyLogs:  getBool("PRETTY_LOGS", true),
		TokenCache: TokenCacheSettings{
			Strategy:                  getString("tokencache_strategy", StrategyOwningKey),
			PageSize:                  getInt("tokencache_pageSize", DefaultPageSize),
			AutoUnlockDelay:           getDuration("tokencache_autoUnlockDelay", DefaultAutoUnlockDelay),
			LoaderRetryCount:          getInt("tokencache_loaderRetryCount", 5),
			LoaderRetryBackoff:        getDuration("tokencache_loaderRetryBackoff", 500*time.Millisecond),
			LoaderResyncAttempts:      getInt("tokencache_loaderResyncAttempts", 8),
			TrackedClasses:            getMultiString("tokencache_trackedClasses", ""),
			HTTPListenAddress:         getString("tokencache_httpListenAddress", ":8095"),
			IdentityCacheTTL:          getDuration("tokencache_identityCacheTTL", 10*time.Minute),
			IdentityCacheCleanupEvery: getDuration("tokencache_identityCacheCleanup", time.Minute),
		},
		Ledger: LedgerSettings{
			StoreURL:             getURL("ledger_store", "sqlite:///ledger"),
			DBTimeout:            getDuration("ledger_dbTimeout", 5*time.Second),
			IdentityTable:        getString("ledger_identityTable", "identities"),
			PostgresMaxIdleConns: getInt("ledger_postgresMaxIdleConns", 10),
			PostgresMaxOpenConns: getInt("ledger_postgresMaxOpenConns", 80),
			SQLiteMaxOpenConns:   getInt("ledger_sqliteMaxOpenConns", 1),
		},
		Kafka: KafkaSettings{
			TokenFeedConfig:    getURL("kafka_tokenFeedConfig", ""),
			ConsumerGroupID:    getString("kafka_tokenFeedGroupID", "tokencache"),
			EnableDebugLogging: getBool("kafka_enableDebugLogging", false),
		},
	}
}
