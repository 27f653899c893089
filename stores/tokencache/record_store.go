package tokencache

import (
	"sync"

	"github.com/bsv-blockchain/tokencache/model"
	"github.com/puzpuzpuz/xsync/v3"
)

// unlocked is the lock marker of a record no selection holds.
const unlocked = ""

type entry struct {
	record   *model.TokenRecord
	lockedBy string
}

// recordStore is the single source of truth for lock state. Every lock
// transition is a compare-and-set on one map slot.
//
// mu is held shared by feed and loader mutations (together with their index
// updates) and exclusively only while a new strategy index is back-filled.
type recordStore struct {
	mu      sync.RWMutex
	entries *xsync.MapOf[model.RecordID, entry]
}

func newRecordStore() *recordStore {
	return &recordStore{
		entries: xsync.NewMapOf[model.RecordID, entry](),
	}
}

// put inserts the record unlocked. It returns false and leaves the existing
// entry untouched when the id is already present.
func (s *recordStore) put(record *model.TokenRecord) bool {
	_, loaded := s.entries.LoadOrStore(record.ID, entry{record: record, lockedBy: unlocked})
	return !loaded
}

func (s *recordStore) remove(id model.RecordID) (*model.TokenRecord, bool) {
	e, ok := s.entries.LoadAndDelete(id)
	if !ok {
		return nil, false
	}

	return e.record, true
}

func (s *recordStore) get(id model.RecordID) (*model.TokenRecord, string, bool) {
	e, ok := s.entries.Load(id)
	if !ok {
		return nil, unlocked, false
	}

	return e.record, e.lockedBy, true
}

// tryLock moves the marker from unlocked to selectionID. It returns the
// marker found, and whether the record was present.
func (s *recordStore) tryLock(id model.RecordID, selectionID string) (locked bool, holder string, present bool) {
	s.entries.Compute(id, func(old entry, loaded bool) (entry, bool) {
		if !loaded {
			return old, true
		}

		present = true
		holder = old.lockedBy

		if old.lockedBy != unlocked {
			return old, false
		}

		locked = true
		old.lockedBy = selectionID

		return old, false
	})

	return locked, holder, present
}

// unlock moves the marker from selectionID back to unlocked. A record held
// by another selection, or no longer present, is left alone.
func (s *recordStore) unlock(id model.RecordID, selectionID string) bool {
	released := false

	s.entries.Compute(id, func(old entry, loaded bool) (entry, bool) {
		if !loaded {
			return old, true
		}

		if old.lockedBy == selectionID && selectionID != unlocked {
			old.lockedBy = unlocked
			released = true
		}

		return old, false
	})

	return released
}

func (s *recordStore) lockedBy(id model.RecordID) (string, bool) {
	e, ok := s.entries.Load(id)
	return e.lockedBy, ok
}

func (s *recordStore) len() int {
	return s.entries.Size()
}

func (s *recordStore) lockedCount() int {
	n := 0

	s.entries.Range(func(_ model.RecordID, e entry) bool {
		if e.lockedBy != unlocked {
			n++
		}

		return true
	})

	return n
}

func (s *recordStore) rangeRecords(fn func(record *model.TokenRecord, lockedBy string) bool) {
	s.entries.Range(func(_ model.RecordID, e entry) bool {
		return fn(e.record, e.lockedBy)
	})
}
