// Package servicemanager owns the lifetime of the token cache's services: it
// initialises them in registration order, starts each once its predecessor
// has started, and stops them in reverse order when any of them fails or the
// process is signalled.
package servicemanager

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/bsv-blockchain/tokencache/errors"
	"github.com/bsv-blockchain/tokencache/ulogger"
	"github.com/bsv-blockchain/tokencache/util/health"
	"golang.org/x/sync/errgroup"
)

const (
	startDependencyTimeout = 5 * time.Second
	stopTimeout            = 5 * time.Second
)

type serviceWrapper struct {
	name     string
	instance Service
	index    int
	readyCh  chan struct{}
}

var (
	mu        sync.RWMutex
	listeners []string
)

type ServiceManager struct {
	services              []serviceWrapper
	dependencyChannelsMux sync.Mutex
	dependencyChannels    []chan struct{}
	logger                ulogger.Logger
	Ctx                   context.Context
	cancelFunc            context.CancelFunc
	g                     *errgroup.Group
}

type Option func(*options)

type options struct {
	handleSignals bool
}

// WithSignalHandling cancels the manager's context on SIGINT or SIGTERM.
func WithSignalHandling() Option {
	return func(o *options) {
		o.handleSignals = true
	}
}

func NewServiceManager(ctx context.Context, logger ulogger.Logger, opts ...Option) *ServiceManager {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	ctx, cancelFunc := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)

	sm := &ServiceManager{
		services:   make([]serviceWrapper, 0),
		logger:     logger,
		Ctx:        ctx,
		cancelFunc: cancelFunc,
		g:          g,
	}

	if o.handleSignals {
		go func() {
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

			defer signal.Stop(sigs)

			select {
			case <-sigs:
				sm.logger.Infof("Received shutdown signal. Stopping services...")
				sm.cancelFunc()
			case <-ctx.Done():
			}
		}()
	}

	return sm
}

// AddListenerInfo records a listening address so it can be reported by the
// HTTP API.
func AddListenerInfo(name string) {
	mu.Lock()
	defer mu.Unlock()

	listeners = append(listeners, name)
}

func GetListenerInfos() []string {
	mu.RLock()
	defer mu.RUnlock()

	sortedListeners := make([]string, len(listeners))
	copy(sortedListeners, listeners)
	sort.Strings(sortedListeners)

	return sortedListeners
}

// AddService initialises the service and schedules its start behind the
// previously added one.
func (sm *ServiceManager) AddService(name string, service Service) error {
	sm.dependencyChannelsMux.Lock()
	sm.dependencyChannels = append(sm.dependencyChannels, make(chan struct{}))

	sw := serviceWrapper{
		name:     name,
		instance: service,
		index:    len(sm.dependencyChannels) - 1,
		readyCh:  make(chan struct{}, 1),
	}

	sm.dependencyChannelsMux.Unlock()

	sm.services = append(sm.services, sw)

	sm.logger.Infof("Initializing service %s...", name)

	if err := service.Init(sm.Ctx); err != nil {
		return errors.NewServiceError("failed to initialize service %s", name, err)
	}

	sm.logger.Infof("Starting service %s...", name)

	sm.g.Go(func() error {
		if sw.index > 0 {
			sm.dependencyChannelsMux.Lock()
			channel := sm.dependencyChannels[sw.index-1]
			sm.dependencyChannelsMux.Unlock()

			if err := sm.waitForPreviousServiceToStart(sw, channel); err != nil {
				return err
			}
		}

		sm.dependencyChannelsMux.Lock()
		close(sm.dependencyChannels[sw.index])
		sm.dependencyChannelsMux.Unlock()

		if err := service.Start(sm.Ctx, sw.readyCh); err != nil {
			sm.logger.Errorf("Error from service start %s: %v", name, err)
			return err
		}

		return nil
	})

	return nil
}

// WaitForServiceToBeReady blocks until every service has signalled readiness
// or the manager's context is done.
func (sm *ServiceManager) WaitForServiceToBeReady() {
	var wg sync.WaitGroup

	for _, service := range sm.services {
		wg.Add(1)

		go func(s serviceWrapper) {
			defer wg.Done()

			select {
			case <-s.readyCh:
				sm.logger.Infof("Service %s is ready", s.name)
			case <-sm.Ctx.Done():
			}
		}(service)
	}

	wg.Wait()
}

func (sm *ServiceManager) waitForPreviousServiceToStart(sw serviceWrapper, channel chan struct{}) error {
	timer := time.NewTimer(startDependencyTimeout)
	defer timer.Stop()

	select {
	case <-channel:
		return nil
	case <-sm.Ctx.Done():
		return sm.Ctx.Err()
	case <-timer.C:
		return errors.NewServiceError("%s (index %d) timed out waiting for previous service to start", sw.name, sw.index)
	}
}

func (sm *ServiceManager) ForceShutdown() {
	sm.cancelFunc()
}

// Wait blocks until all services have returned, then stops them in reverse
// order. A context cancellation is a clean shutdown and returns nil.
func (sm *ServiceManager) Wait() error {
	err := sm.g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		sm.logger.Errorf("Received error: %v", err)
	}

	for i := len(sm.services) - 1; i >= 0; i-- {
		service := sm.services[i]

		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)

		sm.logger.Infof("Stopping service %s...", service.name)

		if stopErr := service.instance.Stop(stopCtx); stopErr != nil {
			sm.logger.Warnf("[%s] Failed to stop service: %v", service.name, stopErr)
		} else {
			sm.logger.Infof("[%s] Service stopped gracefully", service.name)
		}

		stopCancel()
	}

	sm.logger.Infof("All services stopped.")

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// HealthHandler reports the combined health of all services.
func (sm *ServiceManager) HealthHandler(ctx context.Context, checkLiveness bool) (int, string, error) {
	checks := make([]health.Check, 0, len(sm.services))

	for _, service := range sm.services {
		checks = append(checks, health.Check{Name: service.name, Check: service.instance.Health})
	}

	return health.CheckAll(ctx, checkLiveness, checks)
}
