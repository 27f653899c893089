package main

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	bec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/tokencache/daemon"
	"github.com/bsv-blockchain/tokencache/errors"
	"github.com/bsv-blockchain/tokencache/model"
	"github.com/bsv-blockchain/tokencache/services/identity"
	"github.com/bsv-blockchain/tokencache/services/tokenfeed"
	"github.com/bsv-blockchain/tokencache/settings"
	"github.com/bsv-blockchain/tokencache/stores/ledger/memory"
	"github.com/bsv-blockchain/tokencache/stores/tokencache"
	"github.com/bsv-blockchain/tokencache/util/health"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/ordishs/gocore"
	"github.com/urfave/cli/v2"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

var demoValue = model.IssuedValue{
	Type:   model.ValueType{Class: "currency", Identifier: "USD", FractionDigits: 2},
	Issuer: "demo-issuer",
}

func serve(_ *cli.Context) error {
	// starts the gocore unix socket that allows settings to be changed at runtime
	gocore.Log(progname)

	tSettings := settings.NewSettings()
	logger := newLogger(progname, tSettings)

	stats := gocore.Config().Stats()
	logger.Infof("STATS\n%s\nVERSION\n-------\n%s (%s)\n\n", stats, version, commit)

	return daemon.New(daemon.WithLoggerFactory(loggerFactory(tSettings))).Start(logger, tSettings)
}

// startDaemon runs d until the returned stop function is called.
func startDaemon(d *daemon.Daemon, tSettings *settings.Settings) (stop func(), err error) {
	logger := newLogger(progname, tSettings)
	readyCh := make(chan struct{})
	errCh := make(chan error, 1)

	go func() {
		errCh <- d.Start(logger, tSettings, readyCh)
	}()

	select {
	case <-readyCh:
	case err = <-errCh:
		if err == nil {
			err = errors.NewServiceError("daemon stopped before it was ready")
		}

		return nil, err
	}

	return func() {
		if err := d.Stop(); err != nil {
			logger.Warnf("error stopping daemon: %v", err)
		}
	}, nil
}

func printJSON(v interface{}) error {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(os.Stdout, string(data))

	return err
}

func scan(c *cli.Context) error {
	tSettings := settings.NewSettings()
	tSettings.Kafka.TokenFeedConfig = nil

	d := daemon.New(daemon.WithLoggerFactory(loggerFactory(tSettings)), daemon.WithoutHTTP())

	stop, err := startDaemon(d, tSettings)
	if err != nil {
		return err
	}
	defer stop()

	start := time.Now()

	if err = d.Cache().WaitForLoad(c.Context); err != nil {
		return err
	}

	stats := d.Cache().Stats()
	if stats.LoaderError != "" {
		return errors.NewStorageError("ledger scan failed: %s", stats.LoaderError)
	}

	fmt.Fprintf(os.Stderr, "loaded %d records in %s\n", stats.Records, time.Since(start))

	return printJSON(stats)
}

type demoResult struct {
	Selections int64           `json:"selections"`
	Succeeded  int64           `json:"succeeded"`
	Shortfalls int64           `json:"shortfalls"`
	Failed     int64           `json:"failed"`
	Duration   string          `json:"duration"`
	Stats      tokencache.Stats `json:"stats"`
}

// demo generates holders and records into an in-memory ledger, loads them
// and runs concurrent selections. Half the records are written before the
// cache loads and half while it is running, through the change feed.
func demo(c *cli.Context) error {
	ctx := c.Context

	tSettings := settings.NewSettings()
	tSettings.Kafka.TokenFeedConfig = nil

	holders := c.Int("holders")
	records := c.Int("records")

	if holders <= 0 || records <= 0 {
		return errors.NewInvalidArgumentError("holders and records must be positive")
	}

	resolver := identity.NewStaticResolver()
	keys := make([]string, holders)

	for i := range keys {
		privateKey, err := bec.NewPrivateKey()
		if err != nil {
			return err
		}

		keys[i] = hex.EncodeToString(privateKey.PubKey().Compressed())

		if err = resolver.Register(keys[i], fmt.Sprintf("account-%d", i)); err != nil {
			return err
		}
	}

	var opts []memory.Option

	if c.Bool("kafka") {
		feedURL, err := url.Parse("memory://local/tokencache-demo-" + uuid.NewString())
		if err != nil {
			return err
		}

		publisher, err := tokenfeed.NewPublisher(newLogger("publisher", tSettings), feedURL)
		if err != nil {
			return err
		}
		defer publisher.Close()

		tSettings.Kafka.TokenFeedConfig = feedURL
		opts = append(opts, memory.WithFeed(publisher.Publish))
	}

	ledgerStore := memory.New(newLogger("ledger", tSettings), opts...)

	var seq uint64

	newRecord := func() *model.TokenRecord {
		seq++

		var b [8]byte

		binary.LittleEndian.PutUint64(b[:], seq)

		id := model.NewRecordID(chainhash.DoubleHashH(b[:]), 0)

		return model.NewTokenRecord(id, demoValue, 1+rand.Uint64N(100), keys[rand.IntN(holders)], time.Now())
	}

	for i := 0; i < records/2; i++ {
		if err := ledgerStore.Insert(ctx, newRecord()); err != nil {
			return err
		}
	}

	d := daemon.New(
		daemon.WithLoggerFactory(loggerFactory(tSettings)),
		daemon.WithLedger(ledgerStore),
		daemon.WithResolver(resolver),
		daemon.WithoutHTTP(),
	)

	stop, err := startDaemon(d, tSettings)
	if err != nil {
		return err
	}
	defer stop()

	cache := d.Cache()

	if !c.Bool("kafka") {
		ledgerStore.Subscribe(cache.Apply)
	}

	for i := records / 2; i < records; i++ {
		if err = ledgerStore.Insert(ctx, newRecord()); err != nil {
			return err
		}
	}

	if err = cache.WaitForLoad(ctx); err != nil {
		return err
	}

	var (
		result     demoResult
		succeeded  atomic.Int64
		shortfalls atomic.Int64
		failed     atomic.Int64
		start      = time.Now()
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, c.Int("concurrency")))

	for i := 0; i < c.Int("selections"); i++ {
		holder := keys[i%holders]

		g.Go(func() error {
			selection, err := cache.Select(gCtx, tokencache.SelectRequest{
				Holder: model.PublicKeyHolder(holder),
				Amount: model.NewIssuedAmount(c.Uint64("amount"), demoValue),
			})

			switch {
			case err == nil:
				succeeded.Inc()

				if c.Bool("release") {
					cache.ReleaseSelection(selection.ID)
				}
			case errors.IsSelectionShortfall(err):
				shortfalls.Inc()
			default:
				failed.Inc()
			}

			return nil
		})
	}

	_ = g.Wait()

	result.Selections = int64(c.Int("selections"))
	result.Succeeded = succeeded.Load()
	result.Shortfalls = shortfalls.Load()
	result.Failed = failed.Load()
	result.Duration = time.Since(start).String()
	result.Stats = cache.Stats()

	return printJSON(result)
}

func healthCheck(c *cli.Context) error {
	tSettings := settings.NewSettings()

	address := c.String("address")
	if address == "" {
		address = tSettings.TokenCache.HTTPListenAddress
	}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return errors.NewInvalidArgumentError("invalid address %q", address, err)
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}

	path := "/health"
	if c.Bool("liveness") {
		path += "?liveness=1"
	}

	ctx, cancel := context.WithTimeout(c.Context, 5*time.Second)
	defer cancel()

	status, details, err := health.CheckHTTPServer("http://"+net.JoinHostPort(host, port), path)(ctx, c.Bool("liveness"))
	fmt.Println(details)

	if err != nil {
		return err
	}

	if status != 200 {
		return errors.NewServiceUnavailableError("token cache is not healthy")
	}

	return nil
}
