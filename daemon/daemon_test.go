package daemon

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/bsv-blockchain/tokencache/errors"
	"github.com/bsv-blockchain/tokencache/model"
	"github.com/bsv-blockchain/tokencache/services/identity"
	"github.com/bsv-blockchain/tokencache/services/tokenfeed"
	"github.com/bsv-blockchain/tokencache/settings"
	"github.com/bsv-blockchain/tokencache/stores/ledger/memory"
	ledgersql "github.com/bsv-blockchain/tokencache/stores/ledger/sql"
	"github.com/bsv-blockchain/tokencache/stores/tokencache"
	"github.com/bsv-blockchain/tokencache/ulogger"
	"github.com/bsv-blockchain/tokencache/util/test"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var usd = model.IssuedValue{Type: test.USD, Issuer: "issuer-1"}

func testLoggerFactory(string) ulogger.Logger {
	return ulogger.TestLogger{}
}

// runDaemon starts d in the background and waits for its services.
func runDaemon(t *testing.T, d *Daemon, tSettings *settings.Settings) {
	t.Helper()

	readyCh := make(chan struct{})
	errCh := make(chan error, 1)

	go func() {
		errCh <- d.Start(ulogger.TestLogger{}, tSettings, readyCh)
	}()

	select {
	case <-readyCh:
	case err := <-errCh:
		t.Fatalf("daemon stopped before it was ready: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon not ready in time")
	}

	t.Cleanup(func() {
		require.NoError(t, d.Stop(5*time.Second))
	})
}

func TestDaemonLoadsSQLLedger(t *testing.T) {
	ctx := context.Background()

	tSettings := test.CreateBaseTestSettings()
	tSettings.DataFolder = t.TempDir()
	tSettings.Ledger.StoreURL = &url.URL{Scheme: "sqlite", Path: "/ledger"}
	tSettings.Kafka.TokenFeedConfig = nil

	store, err := ledgersql.New(ctx, ulogger.TestLogger{}, tSettings, tSettings.Ledger.StoreURL)
	require.NoError(t, err)

	factory := test.NewRecordFactory()
	holder := test.NewHolder(t)

	for i := 0; i < 20; i++ {
		require.NoError(t, store.Insert(ctx, factory.Record(usd, 100, holder)))
	}

	require.NoError(t, store.Close())

	d := New(WithLoggerFactory(testLoggerFactory), WithoutHTTP())
	runDaemon(t, d, tSettings)

	cache := d.Cache()
	require.NotNil(t, cache)
	require.NoError(t, cache.WaitForLoad(ctx))

	assert.Equal(t, 20, cache.Stats().Records)

	selection, err := cache.Select(ctx, tokencache.SelectRequest{
		Holder: model.TypeOnlyHolder(),
		Amount: model.NewIssuedAmount(250, usd),
	})
	require.NoError(t, err)
	assert.Len(t, selection.Records, 3)

	status, _, err := d.ServiceManager.HealthHandler(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
}

func TestDaemonAppliesTokenFeed(t *testing.T) {
	ctx := context.Background()

	feedURL, err := url.Parse("memory://local/daemon-feed-" + uuid.NewString())
	require.NoError(t, err)

	tSettings := test.CreateBaseTestSettings()
	tSettings.Kafka.TokenFeedConfig = feedURL

	publisher, err := tokenfeed.NewPublisher(ulogger.TestLogger{}, feedURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = publisher.Close()
	})

	ledgerStore := memory.New(ulogger.TestLogger{}, memory.WithFeed(publisher.Publish))

	d := New(
		WithLoggerFactory(testLoggerFactory),
		WithLedger(ledgerStore),
		WithResolver(identity.NewStaticResolver()),
		WithoutHTTP(),
	)
	runDaemon(t, d, tSettings)

	cache := d.Cache()
	require.NoError(t, cache.WaitForLoad(ctx))

	factory := test.NewRecordFactory()
	holder := test.NewHolder(t)
	records := []*model.TokenRecord{
		factory.Record(usd, 10, holder),
		factory.Record(usd, 20, holder),
		factory.Record(usd, 30, holder),
	}

	require.NoError(t, ledgerStore.Insert(ctx, records...))

	require.Eventually(t, func() bool {
		return cache.Stats().Records == 3
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, ledgerStore.Consume(ctx, records[0].ID))

	require.Eventually(t, func() bool {
		return cache.Stats().Records == 2
	}, 5*time.Second, 10*time.Millisecond)

	_, err = cache.Select(ctx, tokencache.SelectRequest{
		Holder: model.TypeOnlyHolder(),
		Amount: model.NewIssuedAmount(60, usd),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientBalance))
}

func TestDaemonStartFailure(t *testing.T) {
	tSettings := test.CreateBaseTestSettings()
	tSettings.TokenCache.Strategy = settings.StrategyExternalID
	tSettings.Ledger.StoreURL = nil
	tSettings.Kafka.TokenFeedConfig = nil

	d := New(
		WithLoggerFactory(testLoggerFactory),
		WithLedger(memory.New(ulogger.TestLogger{})),
		WithoutHTTP(),
	)

	err := d.Start(ulogger.TestLogger{}, tSettings)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
	assert.Nil(t, d.Cache())

	require.NoError(t, d.Stop(time.Second))
}
