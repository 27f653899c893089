package tokencache

import (
	"context"
	"time"

	"github.com/bsv-blockchain/tokencache/errors"
	"github.com/bsv-blockchain/tokencache/model"
)

// Unlock releases the given records held by selectionID and returns how many
// were released. Records held by another selection, or gone, are skipped.
func (c *Cache) Unlock(ids []model.RecordID, selectionID string) int {
	released := 0

	for _, id := range ids {
		if c.store.unlock(id, selectionID) {
			released++
		}
	}

	prometheusTokenCacheUnlocked.Add(float64(released))

	return released
}

// ReleaseSelection releases every record held by selectionID.
func (c *Cache) ReleaseSelection(selectionID string) int {
	if selectionID == unlocked {
		return 0
	}

	var ids []model.RecordID

	c.store.rangeRecords(func(record *model.TokenRecord, lockedBy string) bool {
		if lockedBy == selectionID {
			ids = append(ids, record.ID)
		}

		return true
	})

	return c.Unlock(ids, selectionID)
}

// LockExternal locks records chosen outside the cache, all or nothing.
// Records already held by selectionID count as locked. An id missing from
// the cache fails with ERR_NOT_FOUND and one held by another selection with
// ERR_INSUFFICIENT_UNLOCKED; either way the records locked by the call are
// released again.
func (c *Cache) LockExternal(ids []model.RecordID, selectionID string, autoUnlockDelay time.Duration) error {
	if selectionID == unlocked {
		return errors.NewInvalidArgumentError("external lock needs a selection id")
	}

	lockedNow := make([]model.RecordID, 0, len(ids))

	rollback := func() {
		for _, id := range lockedNow {
			c.store.unlock(id, selectionID)
		}
	}

	for _, id := range ids {
		locked, holder, present := c.store.tryLock(id, selectionID)

		switch {
		case locked:
			lockedNow = append(lockedNow, id)
		case !present:
			rollback()
			return errors.NewNotFoundError("record %s is not in the cache", id)
		case holder == selectionID:
			// already ours
		default:
			rollback()
			return errors.NewInsufficientUnlockedError("record %s is locked by selection %s", id, holder)
		}
	}

	c.expiry.schedule(selectionID, ids, c.unlockDelay(autoUnlockDelay))

	prometheusTokenCacheLocked.Add(float64(len(lockedNow)))

	return nil
}

// LockedBy returns the selection holding id, empty when unlocked, and
// whether the record is cached at all.
func (c *Cache) LockedBy(id model.RecordID) (string, bool) {
	return c.store.lockedBy(id)
}

// Get returns the cached record for id.
func (c *Cache) Get(id model.RecordID) (*model.TokenRecord, bool) {
	record, _, ok := c.store.get(id)
	return record, ok
}

// Balance sums the records of valueType held by holder, optionally of one
// issuer only. It locks nothing.
func (c *Cache) Balance(ctx context.Context, holder model.HolderKey, valueType model.ValueType, issuer string) (total, available uint64, err error) {
	records, err := c.candidates(ctx, holder, "", valueType)
	if err != nil {
		return 0, 0, err
	}

	amount := model.Amount{Type: valueType, Issuer: issuer}

	for _, record := range records {
		if !amount.Matches(record) {
			continue
		}

		total = model.SaturatingAdd(total, record.Quantity)

		if lockedBy, ok := c.store.lockedBy(record.ID); ok && lockedBy == unlocked {
			available = model.SaturatingAdd(available, record.Quantity)
		}
	}

	return total, available, nil
}
