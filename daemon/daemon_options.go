package daemon

import (
	"context"

	"github.com/bsv-blockchain/tokencache/services/identity"
	"github.com/bsv-blockchain/tokencache/stores/ledger"
	"github.com/bsv-blockchain/tokencache/ulogger"
)

// Option is a functional option type for configuring the Daemon.
type Option func(*Daemon)

// WithLoggerFactory provides a custom logger factory for the Daemon and its services.
func WithLoggerFactory(factory func(serviceName string) ulogger.Logger) Option {
	return func(d *Daemon) {
		d.loggerFactory = factory
	}
}

// WithContext allows setting a custom context for the Daemon.
func WithContext(ctx context.Context) Option {
	return func(d *Daemon) {
		d.Ctx = ctx
	}
}

// WithLedger makes the cache load from query instead of the configured SQL ledger.
func WithLedger(query ledger.Query) Option {
	return func(d *Daemon) {
		d.stores.query = query
	}
}

// WithResolver replaces the SQL identity resolver.
func WithResolver(resolver identity.Resolver) Option {
	return func(d *Daemon) {
		d.stores.resolver = resolver
	}
}

// WithoutHTTP leaves the HTTP API out, for one-shot commands.
func WithoutHTTP() Option {
	return func(d *Daemon) {
		d.skipHTTP = true
	}
}
