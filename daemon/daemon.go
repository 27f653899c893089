// Package daemon wires the token cache process together: the ledger and
// identity stores, the cache itself, the token feed consumer and the HTTP
// API, all run under one service manager.
package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/bsv-blockchain/tokencache/errors"
	"github.com/bsv-blockchain/tokencache/services/identity"
	"github.com/bsv-blockchain/tokencache/settings"
	"github.com/bsv-blockchain/tokencache/stores/ledger"
	"github.com/bsv-blockchain/tokencache/stores/tokencache"
	"github.com/bsv-blockchain/tokencache/ulogger"
	"github.com/bsv-blockchain/tokencache/util/servicemanager"
)

// daemonStores holds the stores the daemon opened, or was handed, so that
// Stop can close what it owns.
type daemonStores struct {
	mu       sync.RWMutex
	query    ledger.Query
	resolver identity.Resolver
	closers  []func() error
}

type Daemon struct {
	Ctx           context.Context
	doneCh        chan struct{}
	closeDoneOnce sync.Once

	stopCh        chan struct{}
	closeStopOnce sync.Once

	ServiceManager *servicemanager.ServiceManager
	loggerFactory  func(serviceName string) ulogger.Logger
	stores         *daemonStores
	skipHTTP       bool

	cacheMu sync.RWMutex
	cache   *tokencache.Cache
}

func New(opts ...Option) *Daemon {
	d := &Daemon{
		Ctx:    context.Background(),
		doneCh: make(chan struct{}),
		stopCh: make(chan struct{}),
		loggerFactory: func(serviceName string) ulogger.Logger {
			return ulogger.New(serviceName)
		},
		stores: &daemonStores{},
	}

	for _, opt := range opts {
		opt(d)
	}

	d.ServiceManager = servicemanager.NewServiceManager(d.Ctx, d.loggerFactory("ServiceManager"), servicemanager.WithSignalHandling())

	return d
}

// Cache returns the running cache, or nil before Start has built it.
func (d *Daemon) Cache() *tokencache.Cache {
	d.cacheMu.RLock()
	defer d.cacheMu.RUnlock()

	return d.cache
}

// Start builds and runs the services and blocks until they stop, either
// because one failed, the process was signalled or Stop was called.
// readyCh, when given, is closed once every service is ready.
func (d *Daemon) Start(logger ulogger.Logger, tSettings *settings.Settings, readyCh ...chan struct{}) error {
	defer d.closeStopOnce.Do(func() { close(d.stopCh) })

	sm := d.ServiceManager

	if err := d.startServices(sm.Ctx, logger, tSettings, sm); err != nil {
		logger.Errorf("error starting services: %v", err)
		sm.ForceShutdown()
		_ = sm.Wait()
		d.closeStores(logger)

		return err
	}

	go func() {
		sm.WaitForServiceToBeReady()

		if sm.Ctx.Err() != nil {
			return
		}

		if len(readyCh) > 0 && readyCh[0] != nil {
			close(readyCh[0])
		}
	}()

	waitErr := make(chan error, 1)

	go func() {
		waitErr <- sm.Wait()
	}()

	var err error

	select {
	case err = <-waitErr:
		if err != nil {
			logger.Errorf("services failed: %v", err)
		}
	case <-d.doneCh:
		logger.Infof("daemon shutdown requested")

		sm.ForceShutdown()

		err = <-waitErr
		if err != nil {
			logger.Errorf("error during service shutdown: %v", err)
		}
	}

	d.closeStores(logger)

	logger.Infof("daemon shutdown completed")

	return err
}

// Stop asks a running daemon to shut down and waits up to timeout (10s by
// default) for Start to return.
func (d *Daemon) Stop(timeout ...time.Duration) error {
	d.closeDoneOnce.Do(func() { close(d.doneCh) })

	shutdownTimeout := 10 * time.Second
	if len(timeout) > 0 {
		shutdownTimeout = timeout[0]
	}

	select {
	case <-d.stopCh:
		return nil
	case <-time.After(shutdownTimeout):
		return errors.NewProcessingError("timeout waiting for services to stop after %v", shutdownTimeout)
	}
}

func (d *Daemon) closeStores(logger ulogger.Logger) {
	d.stores.mu.Lock()
	closers := d.stores.closers
	d.stores.closers = nil
	d.stores.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			logger.Warnf("error closing store: %v", err)
		}
	}
}
