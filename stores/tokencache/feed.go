package tokencache

import (
	"context"

	"github.com/bsv-blockchain/tokencache/model"
)

// Apply applies one change feed batch: produced records first, then consumed
// ones. Feed inconsistencies are logged, never returned.
//
// While the loader runs every consumed id is also remembered and removed
// again after each loader page, since the page may have been read before
// the consume reached the ledger.
func (c *Cache) Apply(ctx context.Context, consumed []model.RecordID, produced []*model.TokenRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, record := range produced {
		if record == nil {
			c.logger.Warnf("[TokenFeed] skipping nil produced record")
			continue
		}

		if c.insert(ctx, record, false) {
			prometheusTokenCacheFeedProduced.Inc()
		}
	}

	for _, id := range consumed {
		c.consume(ctx, id)
	}

	prometheusTokenCacheRecords.Set(float64(c.store.len()))

	return nil
}

func (c *Cache) consume(ctx context.Context, id model.RecordID) {
	c.loadMu.RLock()
	loading := !c.loaded

	// remember first, so a loader page read before this consume is cleaned up
	if loading {
		c.missedConsumes.Store(id, struct{}{})
	}

	removed := c.remove(ctx, id)
	c.loadMu.RUnlock()

	switch {
	case removed:
		prometheusTokenCacheFeedConsumed.Inc()
	case loading:
		prometheusTokenCacheFeedBuffered.Inc()
		c.logger.Debugf("[TokenFeed] consumed %s before it was loaded, buffering", id)
	default:
		c.logger.Warnf("[TokenFeed] consumed %s is not in the cache", id)
	}
}

// insert adds record to the store and to every active index. A duplicate is
// expected from the loader and logged quietly; from the feed it is a warning.
func (c *Cache) insert(ctx context.Context, record *model.TokenRecord, fromLoader bool) bool {
	record = withCanonicalHolder(record)

	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	if !c.store.put(record) {
		if fromLoader {
			prometheusTokenCacheDuplicates.WithLabelValues("loader").Inc()
			c.logger.Debugf("[Loader] %s already cached", record.ID)
		} else {
			prometheusTokenCacheDuplicates.WithLabelValues("feed").Inc()
			c.logger.Warnf("[TokenFeed] produced %s is already cached, keeping its lock state", record.ID)
		}

		return false
	}

	for _, strategy := range c.indexes.active() {
		c.indexes.index(strategy).recordFor(classify(ctx, c.logger, strategy, c.resolver, record)).add(record.ID)
	}

	return true
}

func (c *Cache) remove(ctx context.Context, id model.RecordID) bool {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	record, ok := c.store.remove(id)
	if !ok {
		return false
	}

	for _, strategy := range c.indexes.active() {
		if b := c.indexes.index(strategy).get(classify(ctx, c.logger, strategy, c.resolver, record)); b != nil {
			b.remove(id)
		}
	}

	return true
}

// loadPage is the loader's sink: insert the page, then replay the consumes
// seen so far.
func (c *Cache) loadPage(ctx context.Context, records []*model.TokenRecord) {
	for _, record := range records {
		c.insert(ctx, record, true)
	}

	c.replayMissedConsumes(ctx)

	prometheusTokenCacheRecords.Set(float64(c.store.len()))
}

func (c *Cache) replayMissedConsumes(ctx context.Context) {
	c.missedConsumes.Range(func(id model.RecordID, _ struct{}) bool {
		if c.remove(ctx, id) {
			c.logger.Debugf("[Loader] removed %s consumed during the load", id)
		}

		return true
	})
}

// finishLoad replays the buffered consumes one last time and switches the
// feed to warning about unknown consumes.
func (c *Cache) finishLoad() {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if c.loaded {
		return
	}

	c.replayMissedConsumes(context.Background())
	c.missedConsumes.Clear()
	c.loaded = true

	prometheusTokenCacheLoaderCompleted.Set(1)
	prometheusTokenCacheRecords.Set(float64(c.store.len()))
}
