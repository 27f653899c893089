package tokencache

import (
	"context"
	"sync"
	"time"

	"github.com/bsv-blockchain/tokencache/model"
	"github.com/bsv-blockchain/tokencache/ulogger"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

type expiryTask struct {
	selectionID string
	ids         []model.RecordID
}

// expiryScheduler releases the records of a selection once its auto unlock
// delay has passed. ttlcache runs a single goroutine with one timer for the
// earliest deadline.
type expiryScheduler struct {
	logger  ulogger.Logger
	tasks   *ttlcache.Cache[string, expiryTask]
	unlock  func(id model.RecordID, selectionID string) bool
	mu      sync.Mutex
	running bool
	stopped bool
}

func newExpiryScheduler(logger ulogger.Logger, unlock func(id model.RecordID, selectionID string) bool) *expiryScheduler {
	e := &expiryScheduler{
		logger: logger,
		tasks: ttlcache.New[string, expiryTask](
			ttlcache.WithDisableTouchOnHit[string, expiryTask](),
		),
		unlock: unlock,
	}

	e.tasks.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, expiryTask]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}

		e.fire(item.Value())
	})

	return e
}

// fire unlocks what is still held by the task's selection. Records released
// or reused in the meantime do not match and are skipped.
func (e *expiryScheduler) fire(task expiryTask) {
	released := 0

	for _, id := range task.ids {
		if e.unlock(id, task.selectionID) {
			released++
		}
	}

	prometheusTokenCacheExpiries.Inc()
	prometheusTokenCacheExpiryReleased.Add(float64(released))

	if released > 0 {
		e.logger.Infof("[TokenCache] auto unlocked %d of %d records of selection %s", released, len(task.ids), task.selectionID)
	}
}

func (e *expiryScheduler) schedule(selectionID string, ids []model.RecordID, delay time.Duration) {
	if len(ids) == 0 {
		return
	}

	e.tasks.Set(uuid.NewString(), expiryTask{selectionID: selectionID, ids: ids}, delay)
}

func (e *expiryScheduler) pending() int {
	return e.tasks.Len()
}

func (e *expiryScheduler) start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running || e.stopped {
		return
	}

	e.running = true

	go e.tasks.Start()
}

// stop drops every pending task without firing it. A stopped scheduler
// cannot be restarted.
func (e *expiryScheduler) stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}

	e.stopped = true

	if e.running {
		e.tasks.Stop()
		e.running = false
	}

	e.tasks.DeleteAll()
}
