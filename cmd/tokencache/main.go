// Command tokencache runs the token selection cache.
//
// Usage:
//
//	tokencache serve          load the ledger, follow the token feed and serve the HTTP API
//	tokencache scan           load the ledger once and print the cache statistics
//	tokencache demo           run concurrent selections against a generated in-memory ledger
//	tokencache health         query the health endpoint of a running instance
//
// Settings are read from settings.conf, settings_local.conf and the
// environment.
package main

import (
	"fmt"
	"os"

	"github.com/bsv-blockchain/tokencache/settings"
	"github.com/bsv-blockchain/tokencache/ulogger"
	"github.com/ordishs/gocore"
	"github.com/urfave/cli/v2"
)

const progname = "tokencache"

// Set at build time with -ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	gocore.SetInfo(progname, version, commit)

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    progname,
		Usage:   "In-memory cache that selects and locks token records for payments",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Load the ledger, follow the token feed and serve the HTTP API",
				Action: serve,
			},
			{
				Name:   "scan",
				Usage:  "Load the ledger once and print the cache statistics as JSON",
				Action: scan,
			},
			{
				Name:   "demo",
				Usage:  "Run concurrent selections against a generated in-memory ledger",
				Action: demo,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "holders", Value: 10, Usage: "number of holder keys"},
					&cli.IntFlag{Name: "records", Value: 1000, Usage: "number of token records"},
					&cli.IntFlag{Name: "selections", Value: 200, Usage: "number of selections to run"},
					&cli.IntFlag{Name: "concurrency", Value: 8, Usage: "number of concurrent selectors"},
					&cli.Uint64Flag{Name: "amount", Value: 50, Usage: "amount requested by each selection"},
					&cli.BoolFlag{Name: "kafka", Usage: "deliver ledger updates through the in-memory token feed"},
					&cli.BoolFlag{Name: "release", Value: true, Usage: "release each selection after it succeeded"},
				},
			},
			{
				Name:   "health",
				Usage:  "Query the health endpoint of a running instance",
				Action: healthCheck,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "address", Usage: "HTTP address, defaults to tokencache_httpListenAddress"},
					&cli.BoolFlag{Name: "liveness", Usage: "only check liveness"},
				},
			},
		},
	}
}

func newLogger(service string, tSettings *settings.Settings) ulogger.Logger {
	return ulogger.InitLogger(service, tSettings)
}

func loggerFactory(tSettings *settings.Settings) func(string) ulogger.Logger {
	return func(serviceName string) ulogger.Logger {
		return newLogger(serviceName, tSettings)
	}
}
