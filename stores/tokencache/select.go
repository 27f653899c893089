package tokencache

import (
	"context"
	"slices"
	"time"

	"github.com/bsv-blockchain/tokencache/errors"
	"github.com/bsv-blockchain/tokencache/model"
	"github.com/google/uuid"
)

// SelectRequest describes the records a caller wants locked.
type SelectRequest struct {
	// Holder scopes the selection; TypeOnlyHolder selects from every holder.
	Holder model.HolderKey
	Amount model.Amount
	// Predicate, when set, must accept a record for it to be selected.
	Predicate func(record *model.TokenRecord) bool
	// AllowShortfall returns whatever could be locked instead of failing.
	AllowShortfall bool
	// AutoUnlockDelay overrides the configured delay after which unreleased
	// records are unlocked again.
	AutoUnlockDelay time.Duration
	// SelectionID identifies the selection; a random one is used when empty.
	SelectionID string
	// Strategy overrides the cache's index strategy. It is activated on first use.
	Strategy Strategy
}

// Selection is the result of a successful Select.
type Selection struct {
	ID      string
	Records []*model.TokenRecord
	Total   uint64
}

// IDs returns the ids of the selected records.
func (s *Selection) IDs() []model.RecordID {
	ids := make([]model.RecordID, 0, len(s.Records))
	for _, r := range s.Records {
		ids = append(ids, r.ID)
	}

	return ids
}

// Select locks records of req.Amount's value type until their quantities
// cover the amount. On failure, unless shortfall is allowed, every record
// locked by the call is released again and the error is
// ERR_INSUFFICIENT_BALANCE when the matching records do not add up to the
// amount at all, or ERR_INSUFFICIENT_UNLOCKED when they would but other
// selections hold too many of them.
func (c *Cache) Select(ctx context.Context, req SelectRequest) (*Selection, error) {
	start := time.Now()
	defer func() {
		prometheusTokenCacheSelectDuration.Observe(time.Since(start).Seconds())
	}()

	if req.Amount.Quantity == 0 {
		prometheusTokenCacheSelect.WithLabelValues("invalid").Inc()
		return nil, errors.NewInvalidArgumentError("requested amount of %s is zero", req.Amount.Type)
	}

	selectionID := req.SelectionID
	if selectionID == "" {
		selectionID = uuid.NewString()
	}

	candidates, err := c.candidates(ctx, req.Holder, req.Strategy, req.Amount.Type)
	if err != nil {
		prometheusTokenCacheSelect.WithLabelValues("error").Inc()
		return nil, err
	}

	var (
		selected        = make([]*model.TokenRecord, 0, 4)
		claimed         uint64
		lockedElsewhere uint64
	)

	for _, record := range candidates {
		if claimed >= req.Amount.Quantity {
			break
		}

		if !req.Amount.Matches(record) || (req.Predicate != nil && !req.Predicate(record)) {
			continue
		}

		locked, _, present := c.store.tryLock(record.ID, selectionID)

		switch {
		case locked:
			selected = append(selected, record)
			claimed = model.SaturatingAdd(claimed, record.Quantity)
		case present:
			lockedElsewhere = model.SaturatingAdd(lockedElsewhere, record.Quantity)
		}
	}

	if claimed < req.Amount.Quantity && !req.AllowShortfall {
		for _, record := range selected {
			c.store.unlock(record.ID, selectionID)
		}

		if model.SaturatingAdd(claimed, lockedElsewhere) < req.Amount.Quantity {
			prometheusTokenCacheSelect.WithLabelValues("insufficient_balance").Inc()

			return nil, errors.NewShortfallError(errors.ERR_INSUFFICIENT_BALANCE, req.Amount.Quantity, claimed, lockedElsewhere,
				"%s holds %d of the %s requested", req.Holder, model.SaturatingAdd(claimed, lockedElsewhere), req.Amount)
		}

		prometheusTokenCacheSelect.WithLabelValues("insufficient_unlocked").Inc()

		return nil, errors.NewShortfallError(errors.ERR_INSUFFICIENT_UNLOCKED, req.Amount.Quantity, claimed, lockedElsewhere,
			"%s has %d of the %s requested locked by other selections", req.Holder, lockedElsewhere, req.Amount)
	}

	selection := &Selection{ID: selectionID, Records: selected, Total: claimed}

	c.expiry.schedule(selectionID, selection.IDs(), c.unlockDelay(req.AutoUnlockDelay))

	prometheusTokenCacheLocked.Add(float64(len(selected)))

	if claimed < req.Amount.Quantity {
		prometheusTokenCacheSelect.WithLabelValues("shortfall").Inc()
	} else {
		prometheusTokenCacheSelect.WithLabelValues("ok").Inc()
	}

	c.logger.Debugf("[TokenCache] selection %s locked %d records worth %d for %s of %s", selectionID, len(selected), claimed, req.Holder, req.Amount)

	return selection, nil
}

func (c *Cache) unlockDelay(delay time.Duration) time.Duration {
	if delay <= 0 {
		return c.autoUnlockDelay
	}

	return delay
}

// candidates returns the records a selection for holder may consider, oldest
// first. Type only holders scan the whole store; other holders read their
// bucket under the requested strategy.
func (c *Cache) candidates(ctx context.Context, holder model.HolderKey, strategy Strategy, valueType model.ValueType) ([]*model.TokenRecord, error) {
	var records []*model.TokenRecord

	if holder.IsTypeOnly() {
		c.store.rangeRecords(func(record *model.TokenRecord, _ string) bool {
			if record.Value.Type == valueType {
				records = append(records, record)
			}

			return true
		})
	} else {
		if strategy == "" {
			strategy = c.strategy
		}

		if _, err := ParseStrategy(string(strategy)); err != nil {
			return nil, errors.NewInvalidArgumentError("unknown strategy %q", strategy)
		}

		if strategy == StrategyExternalID && c.resolver == nil {
			return nil, errors.NewConfigurationError("the %s strategy needs an identity resolver", strategy)
		}

		key, err := holderFor(ctx, strategy, c.resolver, holder)
		if err != nil {
			return nil, err
		}

		b := c.ensureStrategy(ctx, strategy).get(keyFor(key, valueType))
		if b == nil {
			return nil, nil
		}

		for _, id := range b.snapshot() {
			record, _, ok := c.store.get(id)
			if !ok {
				// consumed after being classified differently, drop the stale id
				b.remove(id)
				continue
			}

			records = append(records, record)
		}
	}

	slices.SortFunc(records, func(a, b *model.TokenRecord) int {
		return a.Meta.Compare(b.Meta)
	})

	return records, nil
}
