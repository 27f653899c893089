// Package memory is an in-process ledger holding a sorted set of unspent token
// records. It answers paged queries like the SQL ledger and can publish its
// updates to a change feed subscriber, which makes it the ledger used by the
// demo command and by the loader tests.
package memory

import (
	"context"
	"math/rand/v2"
	"net/http"
	"slices"
	"sync"

	"github.com/bsv-blockchain/tokencache/errors"
	"github.com/bsv-blockchain/tokencache/model"
	"github.com/bsv-blockchain/tokencache/stores/ledger"
	"github.com/bsv-blockchain/tokencache/ulogger"
)

type Option func(*Memory)

// WithShuffledPages returns the records of each page in random order, the way
// a store without a stable intra-page order would.
func WithShuffledPages() Option {
	return func(m *Memory) {
		m.shufflePages = true
	}
}

// WithFeed publishes every update to fn, produced records first.
func WithFeed(fn ledger.FeedFunc) Option {
	return func(m *Memory) {
		m.feed = fn
	}
}

// WithPageHook calls fn before every page query is answered.
func WithPageHook(fn func(spec ledger.PageSpec)) Option {
	return func(m *Memory) {
		m.pageHook = fn
	}
}

type Memory struct {
	logger       ulogger.Logger
	recordsMu    sync.RWMutex
	records      []*model.TokenRecord
	ids          map[model.RecordID]struct{}
	publishMu    sync.Mutex
	feed         ledger.FeedFunc
	shufflePages bool
	pageHook     func(spec ledger.PageSpec)
}

func New(logger ulogger.Logger, opts ...Option) *Memory {
	m := &Memory{
		logger: logger,
		ids:    make(map[model.RecordID]struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Subscribe replaces the change feed subscriber.
func (m *Memory) Subscribe(fn ledger.FeedFunc) {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.feed = fn
}

func (m *Memory) Health(_ context.Context, _ bool) (int, string, error) {
	return http.StatusOK, "Memory ledger available", nil
}

// Insert adds unspent records. Records already present are rejected.
func (m *Memory) Insert(ctx context.Context, records ...*model.TokenRecord) error {
	return m.Update(ctx, nil, records)
}

// Consume marks records as spent by removing them.
func (m *Memory) Consume(ctx context.Context, ids ...model.RecordID) error {
	return m.Update(ctx, ids, nil)
}

// Update applies one ledger transaction: the produced records are added and
// the consumed ids removed. The update is published to the feed subscriber
// before the next update is accepted, so subscribers see ledger order.
func (m *Memory) Update(ctx context.Context, consumed []model.RecordID, produced []*model.TokenRecord) error {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.recordsMu.Lock()

	for _, record := range produced {
		if _, exists := m.ids[record.ID]; exists {
			m.recordsMu.Unlock()
			return errors.NewRecordExistsError("record %s already exists in memory ledger", record.ID)
		}
	}

	for _, id := range consumed {
		if _, exists := m.ids[id]; !exists {
			m.recordsMu.Unlock()
			return errors.NewNotFoundError("record %s not found in memory ledger", id)
		}
	}

	for _, record := range produced {
		m.insert(record)
	}

	for _, id := range consumed {
		m.remove(id)
	}

	m.recordsMu.Unlock()

	if m.feed != nil {
		if err := m.feed(ctx, consumed, produced); err != nil {
			return errors.NewProcessingError("failed to publish ledger update", err)
		}
	}

	return nil
}

func (m *Memory) insert(record *model.TokenRecord) {
	pos, _ := slices.BinarySearchFunc(m.records, record, compareRecords)
	m.records = slices.Insert(m.records, pos, record)
	m.ids[record.ID] = struct{}{}
}

func (m *Memory) remove(id model.RecordID) {
	idx := slices.IndexFunc(m.records, func(r *model.TokenRecord) bool {
		return r.ID == id
	})

	if idx >= 0 {
		m.records = slices.Delete(m.records, idx, idx+1)
	}

	delete(m.ids, id)
}

func compareRecords(a, b *model.TokenRecord) int {
	return a.Meta.Compare(b.Meta)
}

func (m *Memory) Page(ctx context.Context, criteria ledger.Criteria, sort ledger.Sort, spec ledger.PageSpec) (*ledger.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewContextCanceledError("memory ledger page query canceled", err)
	}

	if spec.Number < 1 || spec.Size < 1 {
		return nil, errors.NewInvalidArgumentError("invalid %s", spec)
	}

	if !slices.Equal(sort.Fields, ledger.RecordOrder().Fields) {
		return nil, errors.NewInvalidArgumentError("memory ledger only supports the record order sort")
	}

	if m.pageHook != nil {
		m.pageHook(spec)
	}

	m.recordsMu.RLock()

	window := make([]*model.TokenRecord, 0, spec.Size)
	offset := spec.Offset()
	position := 0

	for _, record := range m.records {
		if !criteria.Matches(record) {
			continue
		}

		if position >= offset {
			window = append(window, record)
			if len(window) == spec.Size {
				break
			}
		}

		position++
	}

	m.recordsMu.RUnlock()

	if m.shufflePages {
		rand.Shuffle(len(window), func(i, j int) {
			window[i], window[j] = window[j], window[i]
		})
	}

	return &ledger.Page{Spec: spec, Records: window}, nil
}

func (m *Memory) Len() int {
	m.recordsMu.RLock()
	defer m.recordsMu.RUnlock()

	return len(m.records)
}

// Records returns a sorted snapshot of the unspent records.
func (m *Memory) Records() []*model.TokenRecord {
	m.recordsMu.RLock()
	defer m.recordsMu.RUnlock()

	return slices.Clone(m.records)
}
