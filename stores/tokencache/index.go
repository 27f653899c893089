package tokencache

import (
	"context"
	"sort"
	"sync"

	"github.com/bsv-blockchain/tokencache/model"
	"github.com/dolthub/swiss"
	"github.com/puzpuzpuz/xsync/v3"
)

// bucket is the set of record ids sharing a classification key. Buckets are
// never deleted.
type bucket struct {
	ids *xsync.MapOf[model.RecordID, struct{}]
}

func newBucket() *bucket {
	return &bucket{ids: xsync.NewMapOf[model.RecordID, struct{}]()}
}

func (b *bucket) add(id model.RecordID) {
	b.ids.Store(id, struct{}{})
}

func (b *bucket) remove(id model.RecordID) {
	b.ids.Delete(id)
}

func (b *bucket) len() int {
	return b.ids.Size()
}

func (b *bucket) snapshot() []model.RecordID {
	ids := make([]model.RecordID, 0, b.ids.Size())

	b.ids.Range(func(id model.RecordID, _ struct{}) bool {
		ids = append(ids, id)
		return true
	})

	return ids
}

// strategyIndex maps classification keys to buckets for one strategy.
type strategyIndex struct {
	mu      sync.RWMutex
	buckets *swiss.Map[ClassificationKey, *bucket]
}

func newStrategyIndex() *strategyIndex {
	return &strategyIndex{buckets: swiss.NewMap[ClassificationKey, *bucket](64)}
}

// get returns the bucket for key, or nil when none was created yet.
func (x *strategyIndex) get(key ClassificationKey) *bucket {
	x.mu.RLock()
	defer x.mu.RUnlock()

	b, _ := x.buckets.Get(key)

	return b
}

// recordFor returns the bucket for key, creating it on first use.
func (x *strategyIndex) recordFor(key ClassificationKey) *bucket {
	if b := x.get(key); b != nil {
		return b
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if b, ok := x.buckets.Get(key); ok {
		return b
	}

	b := newBucket()
	x.buckets.Put(key, b)

	return b
}

func (x *strategyIndex) bucketCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	return x.buckets.Count()
}

// indexSet holds the index of every strategy activated so far.
type indexSet struct {
	mu      sync.RWMutex
	indexes map[Strategy]*strategyIndex
}

func newIndexSet() *indexSet {
	return &indexSet{indexes: make(map[Strategy]*strategyIndex)}
}

func (s *indexSet) index(strategy Strategy) *strategyIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.indexes[strategy]
}

// active returns the activated strategies in a fixed order.
func (s *indexSet) active() []Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	strategies := make([]Strategy, 0, len(s.indexes))
	for strategy := range s.indexes {
		strategies = append(strategies, strategy)
	}

	sort.Slice(strategies, func(i, j int) bool { return strategies[i] < strategies[j] })

	return strategies
}

// ensureStrategy activates strategy, back-filling its index from every record
// already in the store. The store is held exclusively for the back-fill, so
// no put or remove can slip between the scan and the index becoming active.
func (c *Cache) ensureStrategy(ctx context.Context, strategy Strategy) *strategyIndex {
	if x := c.indexes.index(strategy); x != nil {
		return x
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	if x := c.indexes.index(strategy); x != nil {
		return x
	}

	x := newStrategyIndex()
	n := 0

	c.store.rangeRecords(func(record *model.TokenRecord, _ string) bool {
		x.recordFor(classify(ctx, c.logger, strategy, c.resolver, record)).add(record.ID)
		n++

		return true
	})

	c.indexes.mu.Lock()
	c.indexes.indexes[strategy] = x
	c.indexes.mu.Unlock()

	c.logger.Infof("[TokenCache] activated %s index, back-filled %d records", strategy, n)

	return x
}
