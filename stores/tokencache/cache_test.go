package tokencache

import (
	"context"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	bec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/tokencache/errors"
	"github.com/bsv-blockchain/tokencache/model"
	"github.com/bsv-blockchain/tokencache/services/identity"
	"github.com/bsv-blockchain/tokencache/settings"
	"github.com/bsv-blockchain/tokencache/stores/ledger/memory"
	"github.com/bsv-blockchain/tokencache/ulogger"
	"github.com/bsv-blockchain/tokencache/util/test"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var issuer = model.IssuedValue{Type: test.USD, Issuer: "issuer-1"}

// newLoadedCache returns a cache without a ledger, filled through Apply.
func newLoadedCache(t *testing.T, tSettings *settings.Settings, resolver identity.Resolver, records ...*model.TokenRecord) *Cache {
	t.Helper()

	if tSettings == nil {
		tSettings = test.CreateBaseTestSettings()
	}

	c, err := New(ulogger.TestLogger{}, tSettings, nil, resolver)
	require.NoError(t, err)
	require.NoError(t, c.Init(context.Background()))
	require.NoError(t, c.Load(context.Background()))

	c.expiry.start()
	t.Cleanup(c.expiry.stop)

	require.NoError(t, c.Apply(context.Background(), nil, records))

	return c
}

func assertUnlocked(t *testing.T, c *Cache, records ...*model.TokenRecord) {
	t.Helper()

	for _, record := range records {
		lockedBy, ok := c.LockedBy(record.ID)
		require.True(t, ok, "record %s missing", record.ID)
		assert.Empty(t, lockedBy, "record %s is locked", record.ID)
	}
}

func shortfall(t *testing.T, err error) *errors.ShortfallErrData {
	t.Helper()

	var data *errors.ShortfallErrData

	require.True(t, errors.AsData(err, &data), "error carries no shortfall data: %v", err)

	return data
}

func TestSelect(t *testing.T) {
	ctx := context.Background()
	factory := test.NewRecordFactory()
	holder := test.NewHolder(t)

	t.Run("locks records covering the amount", func(t *testing.T) {
		records := []*model.TokenRecord{
			factory.Record(issuer, 10, holder),
			factory.Record(issuer, 10, holder),
			factory.Record(issuer, 10, holder),
		}

		c := newLoadedCache(t, nil, nil, records...)

		selection, err := c.Select(ctx, SelectRequest{
			Holder: model.PublicKeyHolder(holder),
			Amount: model.NewIssuedAmount(25, issuer),
		})
		require.NoError(t, err)

		assert.GreaterOrEqual(t, selection.Total, uint64(25))
		assert.NotEmpty(t, selection.ID)

		selected := make(map[model.RecordID]struct{})

		for _, id := range selection.IDs() {
			selected[id] = struct{}{}

			lockedBy, _ := c.LockedBy(id)
			assert.Equal(t, selection.ID, lockedBy)
		}

		for _, record := range records {
			if _, ok := selected[record.ID]; !ok {
				assertUnlocked(t, c, record)
			}
		}

		assert.Equal(t, []model.RecordID{records[0].ID, records[1].ID, records[2].ID}, selection.IDs())
	})

	t.Run("leaves records the amount does not need", func(t *testing.T) {
		records := []*model.TokenRecord{
			factory.Record(issuer, 10, holder),
			factory.Record(issuer, 10, holder),
			factory.Record(issuer, 10, holder),
		}

		c := newLoadedCache(t, nil, nil, records...)

		selection, err := c.Select(ctx, SelectRequest{
			Holder:      model.PublicKeyHolder(holder),
			Amount:      model.NewIssuedAmount(15, issuer),
			SelectionID: "payment-1",
		})
		require.NoError(t, err)

		// oldest first
		assert.Equal(t, "payment-1", selection.ID)
		assert.Equal(t, uint64(20), selection.Total)
		assert.Equal(t, []model.RecordID{records[0].ID, records[1].ID}, selection.IDs())
		assertUnlocked(t, c, records[2])
	})

	t.Run("insufficient balance leaves everything unlocked", func(t *testing.T) {
		records := []*model.TokenRecord{
			factory.Record(issuer, 10, holder),
			factory.Record(issuer, 5, holder),
		}

		c := newLoadedCache(t, nil, nil, records...)

		_, err := c.Select(ctx, SelectRequest{
			Holder: model.PublicKeyHolder(holder),
			Amount: model.NewIssuedAmount(25, issuer),
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInsufficientBalance))
		assert.True(t, errors.IsSelectionShortfall(err))

		data := shortfall(t, err)
		assert.Equal(t, uint64(25), data.Required)
		assert.Equal(t, uint64(15), data.Claimed)
		assert.Zero(t, data.LockedElsewhere)

		assertUnlocked(t, c, records...)
	})

	t.Run("locked elsewhere is insufficient unlocked", func(t *testing.T) {
		record := factory.Record(issuer, 15, holder)
		c := newLoadedCache(t, nil, nil, record)

		req := SelectRequest{
			Holder: model.PublicKeyHolder(holder),
			Amount: model.NewIssuedAmount(10, issuer),
		}

		first, err := c.Select(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, uint64(15), first.Total)

		_, err = c.Select(ctx, req)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInsufficientUnlocked))
		assert.False(t, errors.Is(err, errors.ErrInsufficientBalance))

		data := shortfall(t, err)
		assert.Equal(t, uint64(15), data.LockedElsewhere)

		lockedBy, _ := c.LockedBy(record.ID)
		assert.Equal(t, first.ID, lockedBy)
	})

	t.Run("shortfall allowed returns what could be locked", func(t *testing.T) {
		record := factory.Record(issuer, 7, holder)
		c := newLoadedCache(t, nil, nil, record)

		selection, err := c.Select(ctx, SelectRequest{
			Holder:         model.PublicKeyHolder(holder),
			Amount:         model.NewIssuedAmount(25, issuer),
			AllowShortfall: true,
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(7), selection.Total)
		assert.Len(t, selection.Records, 1)
	})

	t.Run("filters by issuer type and predicate", func(t *testing.T) {
		other := model.IssuedValue{Type: test.USD, Issuer: "issuer-2"}
		pounds := model.IssuedValue{Type: test.GBP, Issuer: "issuer-1"}

		records := []*model.TokenRecord{
			factory.Record(other, 50, holder),
			factory.Record(pounds, 50, holder),
			factory.Record(issuer, 3, holder),
			factory.Record(issuer, 20, holder),
		}

		c := newLoadedCache(t, nil, nil, records...)

		selection, err := c.Select(ctx, SelectRequest{
			Holder: model.PublicKeyHolder(holder),
			Amount: model.NewIssuedAmount(10, issuer),
			Predicate: func(record *model.TokenRecord) bool {
				return record.Quantity >= 10
			},
		})
		require.NoError(t, err)
		assert.Equal(t, []model.RecordID{records[3].ID}, selection.IDs())

		anyIssuer, err := c.Select(ctx, SelectRequest{
			Holder: model.PublicKeyHolder(holder),
			Amount: model.NewAmount(40, test.USD),
		})
		require.NoError(t, err)
		assert.Equal(t, []model.RecordID{records[0].ID}, anyIssuer.IDs())

		assertUnlocked(t, c, records[1], records[2])
	})

	t.Run("type only holder spans holders", func(t *testing.T) {
		other := test.NewHolder(t)

		records := []*model.TokenRecord{
			factory.Record(issuer, 10, holder),
			factory.Record(issuer, 10, other),
		}

		c := newLoadedCache(t, nil, nil, records...)

		selection, err := c.Select(ctx, SelectRequest{
			Holder: model.TypeOnlyHolder(),
			Amount: model.NewIssuedAmount(20, issuer),
		})
		require.NoError(t, err)
		assert.Len(t, selection.Records, 2)
	})

	t.Run("zero amount is invalid", func(t *testing.T) {
		c := newLoadedCache(t, nil, nil)

		_, err := c.Select(ctx, SelectRequest{
			Holder: model.PublicKeyHolder(holder),
			Amount: model.NewIssuedAmount(0, issuer),
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
	})

	t.Run("account holder needs the external id strategy", func(t *testing.T) {
		c := newLoadedCache(t, nil, nil)

		_, err := c.Select(ctx, SelectRequest{
			Holder: model.AccountHolder("alice"),
			Amount: model.NewIssuedAmount(1, issuer),
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
	})
}

// TestHolderKeysAreCanonical ingests records whose holder is upper case or
// uncompressed hex and selects them by the compressed key.
func TestHolderKeysAreCanonical(t *testing.T) {
	ctx := context.Background()
	factory := test.NewRecordFactory()
	holder := test.NewHolder(t)

	raw, err := hex.DecodeString(holder)
	require.NoError(t, err)

	pubKey, err := bec.ParsePubKey(raw)
	require.NoError(t, err)

	variants := func() []*model.TokenRecord {
		return []*model.TokenRecord{
			factory.Record(issuer, 2, strings.ToUpper(holder)),
			factory.Record(issuer, 3, hex.EncodeToString(pubKey.Uncompressed())),
		}
	}

	assertSelectable := func(t *testing.T, c *Cache, records []*model.TokenRecord) {
		t.Helper()

		for _, record := range records {
			cached, ok := c.Get(record.ID)
			require.True(t, ok)
			assert.Equal(t, holder, cached.Holder)
		}

		total, _, err := c.Balance(ctx, model.PublicKeyHolder(holder), test.USD, "")
		require.NoError(t, err)
		assert.Equal(t, uint64(5), total)

		selection, err := c.Select(ctx, SelectRequest{
			Holder: model.PublicKeyHolder(strings.ToUpper(holder)),
			Amount: model.NewIssuedAmount(5, issuer),
		})
		require.NoError(t, err)
		assert.Len(t, selection.Records, 2)
	}

	t.Run("feed", func(t *testing.T) {
		records := variants()
		c := newLoadedCache(t, nil, nil, records...)

		assertSelectable(t, c, records)
	})

	t.Run("loader", func(t *testing.T) {
		records := variants()

		ledgerStore := memory.New(ulogger.TestLogger{})
		require.NoError(t, ledgerStore.Insert(ctx, records...))

		c, err := New(ulogger.TestLogger{}, test.CreateBaseTestSettings(), ledgerStore, nil)
		require.NoError(t, err)
		require.NoError(t, c.Init(ctx))
		require.NoError(t, c.Load(ctx))

		assertSelectable(t, c, records)
	})
}

func TestSelectConcurrentNeverDoubleLocks(t *testing.T) {
	ctx := context.Background()
	factory := test.NewRecordFactory()
	holder := test.NewHolder(t)

	records := make([]*model.TokenRecord, 0, 200)
	for i := 0; i < 200; i++ {
		records = append(records, factory.Record(issuer, 1, holder))
	}

	c := newLoadedCache(t, nil, nil, records...)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		owners     = make(map[model.RecordID]string)
		doubles    int
		selections int
	)

	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			selection, err := c.Select(ctx, SelectRequest{
				Holder: model.PublicKeyHolder(holder),
				Amount: model.NewIssuedAmount(5, issuer),
			})
			if err != nil {
				assert.True(t, errors.IsSelectionShortfall(err))
				return
			}

			mu.Lock()
			defer mu.Unlock()

			selections++

			for _, id := range selection.IDs() {
				if _, taken := owners[id]; taken {
					doubles++
				}

				owners[id] = selection.ID
			}
		}()
	}

	wg.Wait()

	// failed selections roll back, so others may transiently see their
	// records locked and fail too
	assert.Zero(t, doubles)
	assert.Positive(t, selections)
	assert.LessOrEqual(t, selections, 40)
	assert.Len(t, owners, 5*selections)
	assert.Equal(t, len(owners), c.Stats().Locked)

	for id, owner := range owners {
		lockedBy, _ := c.LockedBy(id)
		assert.Equal(t, owner, lockedBy)
	}
}

func TestSelectRollbackKeepsOtherLocks(t *testing.T) {
	ctx := context.Background()
	factory := test.NewRecordFactory()
	holder := test.NewHolder(t)

	records := []*model.TokenRecord{
		factory.Record(issuer, 4, holder),
		factory.Record(issuer, 4, holder),
		factory.Record(issuer, 4, holder),
	}

	c := newLoadedCache(t, nil, nil, records...)

	require.NoError(t, c.LockExternal([]model.RecordID{records[1].ID}, "held", 0))

	_, err := c.Select(ctx, SelectRequest{
		Holder:      model.PublicKeyHolder(holder),
		Amount:      model.NewIssuedAmount(10, issuer),
		SelectionID: "greedy",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientUnlocked))

	data := shortfall(t, err)
	assert.Equal(t, uint64(8), data.Claimed)
	assert.Equal(t, uint64(4), data.LockedElsewhere)

	assertUnlocked(t, c, records[0], records[2])

	lockedBy, _ := c.LockedBy(records[1].ID)
	assert.Equal(t, "held", lockedBy)
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	factory := test.NewRecordFactory()
	holder := test.NewHolder(t)

	t.Run("duplicate produce keeps the lock", func(t *testing.T) {
		record := factory.Record(issuer, 10, holder)
		c := newLoadedCache(t, nil, nil, record)

		selection, err := c.Select(ctx, SelectRequest{
			Holder: model.PublicKeyHolder(holder),
			Amount: model.NewIssuedAmount(10, issuer),
		})
		require.NoError(t, err)

		require.NoError(t, c.Apply(ctx, nil, []*model.TokenRecord{record}))

		lockedBy, _ := c.LockedBy(record.ID)
		assert.Equal(t, selection.ID, lockedBy)
		assert.Equal(t, 1, c.Stats().Records)

		total, _, err := c.Balance(ctx, model.PublicKeyHolder(holder), test.USD, "")
		require.NoError(t, err)
		assert.Equal(t, uint64(10), total)
	})

	t.Run("consume removes from store and index", func(t *testing.T) {
		first := factory.Record(issuer, 10, holder)
		second := factory.Record(issuer, 10, holder)
		c := newLoadedCache(t, nil, nil, first, second)

		require.NoError(t, c.Apply(ctx, []model.RecordID{first.ID, factory.ID()}, nil))

		_, ok := c.Get(first.ID)
		assert.False(t, ok)

		selection, err := c.Select(ctx, SelectRequest{
			Holder:         model.PublicKeyHolder(holder),
			Amount:         model.NewIssuedAmount(20, issuer),
			AllowShortfall: true,
		})
		require.NoError(t, err)
		assert.Equal(t, []model.RecordID{second.ID}, selection.IDs())
	})

	t.Run("produce and consume in one batch", func(t *testing.T) {
		record := factory.Record(issuer, 10, holder)
		c := newLoadedCache(t, nil, nil)

		require.NoError(t, c.Apply(ctx, []model.RecordID{record.ID}, []*model.TokenRecord{record}))

		_, ok := c.Get(record.ID)
		assert.False(t, ok)
	})

	t.Run("canceled context", func(t *testing.T) {
		c := newLoadedCache(t, nil, nil)

		canceled, cancel := context.WithCancel(ctx)
		cancel()

		require.Error(t, c.Apply(canceled, nil, []*model.TokenRecord{factory.Record(issuer, 1, holder)}))
		assert.Zero(t, c.Stats().Records)
	})
}

func TestConsumeBeforeLoadIsBuffered(t *testing.T) {
	ctx := context.Background()
	factory := test.NewRecordFactory()
	holder := test.NewHolder(t)

	kept := factory.Record(issuer, 10, holder)
	spent := factory.Record(issuer, 10, holder)

	ledgerStore := memory.New(ulogger.TestLogger{})
	require.NoError(t, ledgerStore.Insert(ctx, kept, spent))

	c, err := New(ulogger.TestLogger{}, test.CreateBaseTestSettings(), ledgerStore, nil)
	require.NoError(t, err)
	require.NoError(t, c.Init(ctx))

	// the consume reaches the cache before the loader has read the record
	require.NoError(t, c.Apply(ctx, []model.RecordID{spent.ID}, nil))
	assert.Equal(t, 1, c.Stats().MissedConsumes)
	assert.False(t, c.Loaded())

	require.NoError(t, c.Load(ctx))
	assert.True(t, c.Loaded())

	_, ok := c.Get(spent.ID)
	assert.False(t, ok)

	_, ok = c.Get(kept.ID)
	assert.True(t, ok)

	assert.Zero(t, c.Stats().MissedConsumes)
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	factory := test.NewRecordFactory()
	holder := test.NewHolder(t)

	t.Run("unreleased selection is unlocked", func(t *testing.T) {
		record := factory.Record(issuer, 10, holder)
		c := newLoadedCache(t, nil, nil, record)

		_, err := c.Select(ctx, SelectRequest{
			Holder:          model.PublicKeyHolder(holder),
			Amount:          model.NewIssuedAmount(10, issuer),
			AutoUnlockDelay: 20 * time.Millisecond,
		})
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			lockedBy, _ := c.LockedBy(record.ID)
			return lockedBy == ""
		}, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("expiry never unlocks a later selection", func(t *testing.T) {
		record := factory.Record(issuer, 10, holder)
		c := newLoadedCache(t, nil, nil, record)

		req := SelectRequest{
			Holder:          model.PublicKeyHolder(holder),
			Amount:          model.NewIssuedAmount(10, issuer),
			AutoUnlockDelay: 50 * time.Millisecond,
		}

		first, err := c.Select(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, 1, c.Unlock(first.IDs(), first.ID))

		req.AutoUnlockDelay = time.Hour

		second, err := c.Select(ctx, req)
		require.NoError(t, err)

		// wait for the first selection's timer to have fired
		assert.Eventually(t, func() bool {
			return c.Stats().PendingExpiries == 1
		}, 2*time.Second, 5*time.Millisecond)

		lockedBy, _ := c.LockedBy(record.ID)
		assert.Equal(t, second.ID, lockedBy)
	})

	t.Run("stop drops pending expiries", func(t *testing.T) {
		record := factory.Record(issuer, 10, holder)
		c := newLoadedCache(t, nil, nil, record)

		_, err := c.Select(ctx, SelectRequest{
			Holder: model.PublicKeyHolder(holder),
			Amount: model.NewIssuedAmount(10, issuer),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, c.Stats().PendingExpiries)

		c.expiry.stop()
		assert.Zero(t, c.Stats().PendingExpiries)
	})
}

func TestUnlockAndRelease(t *testing.T) {
	ctx := context.Background()
	factory := test.NewRecordFactory()
	holder := test.NewHolder(t)

	records := []*model.TokenRecord{
		factory.Record(issuer, 10, holder),
		factory.Record(issuer, 10, holder),
		factory.Record(issuer, 10, holder),
	}

	c := newLoadedCache(t, nil, nil, records...)

	selection, err := c.Select(ctx, SelectRequest{
		Holder: model.PublicKeyHolder(holder),
		Amount: model.NewIssuedAmount(20, issuer),
	})
	require.NoError(t, err)

	total, available, err := c.Balance(ctx, model.PublicKeyHolder(holder), test.USD, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(30), total)
	assert.Equal(t, uint64(10), available)

	assert.Zero(t, c.Unlock(selection.IDs(), "someone-else"))
	assert.Equal(t, 1, c.Unlock(selection.IDs()[:1], selection.ID))
	assert.Equal(t, 1, c.ReleaseSelection(selection.ID))
	assert.Zero(t, c.ReleaseSelection(selection.ID))
	assert.Zero(t, c.ReleaseSelection(""))

	assertUnlocked(t, c, records...)

	_, available, err = c.Balance(ctx, model.PublicKeyHolder(holder), test.USD, "issuer-2")
	require.NoError(t, err)
	assert.Zero(t, available)
}

func TestLockExternal(t *testing.T) {
	factory := test.NewRecordFactory()
	holder := test.NewHolder(t)

	records := []*model.TokenRecord{
		factory.Record(issuer, 10, holder),
		factory.Record(issuer, 10, holder),
	}

	c := newLoadedCache(t, nil, nil, records...)

	t.Run("locks and is idempotent for the same selection", func(t *testing.T) {
		require.NoError(t, c.LockExternal([]model.RecordID{records[0].ID}, "ext", 0))
		require.NoError(t, c.LockExternal([]model.RecordID{records[0].ID}, "ext", 0))

		lockedBy, _ := c.LockedBy(records[0].ID)
		assert.Equal(t, "ext", lockedBy)
	})

	t.Run("held by another selection rolls back", func(t *testing.T) {
		err := c.LockExternal([]model.RecordID{records[1].ID, records[0].ID}, "other", 0)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInsufficientUnlocked))

		assertUnlocked(t, c, records[1])
	})

	t.Run("unknown record", func(t *testing.T) {
		err := c.LockExternal([]model.RecordID{records[1].ID, factory.ID()}, "other", 0)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrNotFound))

		assertUnlocked(t, c, records[1])
	})

	t.Run("empty selection id", func(t *testing.T) {
		err := c.LockExternal([]model.RecordID{records[1].ID}, "", 0)
		assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
	})
}

func TestExternalIDStrategy(t *testing.T) {
	ctx := context.Background()
	factory := test.NewRecordFactory()

	aliceKey1 := test.NewHolder(t)
	aliceKey2 := test.NewHolder(t)
	stranger := test.NewHolder(t)

	resolver := identity.NewStaticResolver()
	require.NoError(t, resolver.Register(aliceKey1, "alice"))
	require.NoError(t, resolver.Register(aliceKey2, "alice"))

	records := []*model.TokenRecord{
		factory.Record(issuer, 10, aliceKey1),
		factory.Record(issuer, 10, aliceKey2),
		factory.Record(issuer, 10, stranger),
	}

	t.Run("configured strategy", func(t *testing.T) {
		tSettings := test.CreateBaseTestSettings()
		tSettings.TokenCache.Strategy = settings.StrategyExternalID

		c := newLoadedCache(t, tSettings, resolver, records...)

		selection, err := c.Select(ctx, SelectRequest{
			Holder: model.AccountHolder("alice"),
			Amount: model.NewIssuedAmount(20, issuer),
		})
		require.NoError(t, err)
		assert.Len(t, selection.Records, 2)
		c.ReleaseSelection(selection.ID)

		// a key of the account selects the account's records
		selection, err = c.Select(ctx, SelectRequest{
			Holder: model.PublicKeyHolder(aliceKey2),
			Amount: model.NewIssuedAmount(20, issuer),
		})
		require.NoError(t, err)
		assert.Len(t, selection.Records, 2)

		unmapped, err := c.Select(ctx, SelectRequest{
			Holder: model.UnmappedHolder(stranger),
			Amount: model.NewIssuedAmount(10, issuer),
		})
		require.NoError(t, err)
		assert.Equal(t, []model.RecordID{records[2].ID}, unmapped.IDs())

		_, err = c.Select(ctx, SelectRequest{
			Holder: model.PublicKeyHolder(stranger),
			Amount: model.NewIssuedAmount(10, issuer),
		})
		assert.True(t, errors.Is(err, errors.ErrUnknownKey))
	})

	t.Run("strategy is back filled on first use", func(t *testing.T) {
		c := newLoadedCache(t, nil, resolver, records...)
		assert.Equal(t, []string{settings.StrategyOwningKey}, c.Stats().Strategies)

		selection, err := c.Select(ctx, SelectRequest{
			Holder:   model.AccountHolder("alice"),
			Amount:   model.NewIssuedAmount(15, issuer),
			Strategy: StrategyExternalID,
		})
		require.NoError(t, err)
		assert.Len(t, selection.Records, 2)

		assert.Equal(t, []string{settings.StrategyExternalID, settings.StrategyOwningKey}, c.Stats().Strategies)

		// records produced later are indexed under both strategies
		later := factory.Record(issuer, 5, aliceKey1)
		require.NoError(t, c.Apply(ctx, nil, []*model.TokenRecord{later}))

		selection, err = c.Select(ctx, SelectRequest{
			Holder:   model.AccountHolder("alice"),
			Amount:   model.NewIssuedAmount(5, issuer),
			Strategy: StrategyExternalID,
		})
		require.NoError(t, err)
		assert.Equal(t, []model.RecordID{later.ID}, selection.IDs())
	})

	t.Run("unknown strategy", func(t *testing.T) {
		c := newLoadedCache(t, nil, resolver, records...)

		_, err := c.Select(ctx, SelectRequest{
			Holder:   model.PublicKeyHolder(aliceKey1),
			Amount:   model.NewIssuedAmount(5, issuer),
			Strategy: "bogus",
		})
		assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
	})

	t.Run("missing resolver", func(t *testing.T) {
		tSettings := test.CreateBaseTestSettings()
		tSettings.TokenCache.Strategy = settings.StrategyExternalID

		_, err := New(ulogger.TestLogger{}, tSettings, nil, nil)
		assert.True(t, errors.Is(err, errors.ErrConfiguration))
	})
}

func TestHealthAndStats(t *testing.T) {
	ctx := context.Background()
	factory := test.NewRecordFactory()
	holder := test.NewHolder(t)

	ledgerStore := memory.New(ulogger.TestLogger{})
	require.NoError(t, ledgerStore.Insert(ctx,
		factory.Record(issuer, 1, holder),
		factory.Record(issuer, 2, holder),
	))

	c, err := New(ulogger.TestLogger{}, test.CreateBaseTestSettings(), ledgerStore, nil)
	require.NoError(t, err)
	require.NoError(t, c.Init(ctx))

	runCtx, cancel := context.WithCancel(ctx)
	readyCh := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- c.Start(runCtx, readyCh)
	}()

	<-readyCh
	require.NoError(t, c.WaitForLoad(ctx))

	status, body, err := c.Health(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	var stats Stats

	require.NoError(t, jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(body, &stats))
	assert.Equal(t, 2, stats.Records)
	assert.Equal(t, loaderStateDone, stats.LoaderState)
	assert.Equal(t, int64(1), stats.LoaderPages)

	status, body, err = c.Health(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body)

	err = c.Load(ctx)
	assert.True(t, errors.Is(err, errors.ErrProcessing))

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, c.Stop(ctx))
}

func TestHealthAfterLoaderFailure(t *testing.T) {
	ctx := context.Background()

	c, err := New(ulogger.TestLogger{}, test.CreateBaseTestSettings(), failingQuery{}, nil)
	require.NoError(t, err)

	require.Error(t, c.Load(ctx))
	assert.True(t, c.Loaded())
	assert.Equal(t, loaderStateFailed, c.Stats().LoaderState)

	status, body, err := c.Health(ctx, false)
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, body, "loaderError")
}
