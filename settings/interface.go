package settings

import (
	"net/url"
	"time"
)

type TokenCacheSettings struct {
	// Strategy names the secondary index maintained for holder scoped selections: "owningkey" or "externalid".
	Strategy                  string
	PageSize                  int
	AutoUnlockDelay           time.Duration
	LoaderRetryCount          int
	LoaderRetryBackoff        time.Duration
	LoaderResyncAttempts      int
	TrackedClasses            []string
	HTTPListenAddress         string
	IdentityCacheTTL          time.Duration
	IdentityCacheCleanupEvery time.Duration
}

type LedgerSettings struct {
	StoreURL  *url.URL
	DBTimeout time.Duration
	// IdentityTable holds the public key to account id mapping used by the SQL identity resolver.
	IdentityTable        string
	PostgresMaxIdleConns int
	PostgresMaxOpenConns int
	SQLiteMaxOpenConns   int
}

type KafkaSettings struct {
	TokenFeedConfig    *url.URL
	ConsumerGroupID    string
	EnableDebugLogging bool
}

type Settings struct {
	ServiceName string
	DataFolder  string
	LogLevel    string
	PrettyLogs  bool
	TokenCache  TokenCacheSettings
	Ledger      LedgerSettings
	Kafka       KafkaSettings
}
