package tokencache

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/bsv-blockchain/tokencache/errors"
	"github.com/bsv-blockchain/tokencache/model"
	"github.com/bsv-blockchain/tokencache/settings"
	"github.com/bsv-blockchain/tokencache/stores/ledger"
	"github.com/bsv-blockchain/tokencache/ulogger"
	"github.com/bsv-blockchain/tokencache/util/retry"
	"github.com/looplab/fsm"
	"go.uber.org/atomic"
)

const (
	loaderStateScanning  = "scanning"
	loaderStateResyncing = "resyncing"
	loaderStateDone      = "done"
	loaderStateFailed    = "failed"

	loaderEventResync = "resync"
	loaderEventScan   = "scan"
	loaderEventFinish = "finish"
	loaderEventFail   = "fail"

	// number of alternative page sizes tried while resyncing
	resyncPrimeCount = 16
)

// loader pages through the ledger's unspent records in (recorded time,
// output index, tx hash) order while the ledger keeps changing.
//
// The sync point is the greatest record emitted so far and position its
// estimated absolute offset in the ordering. A page is accepted only when its
// first record is at or before the sync point (or it starts at offset 0):
// then no record after the sync point can lie between it and the page, and
// everything in the page after the sync point is emitted. Otherwise records
// before the page were removed and the loader resyncs backwards with prime
// sized pages, restarting from offset 0 when the attempts run out. Records at
// or before the sync point are never emitted twice.
type loader struct {
	logger         ulogger.Logger
	query          ledger.Query
	criteria       ledger.Criteria
	sort           ledger.Sort
	baseSize       int
	primes         []int
	windows        []int
	resyncAttempts int
	retryCount     int
	retryBackoff   time.Duration
	emit           func(ctx context.Context, records []*model.TokenRecord)
	fsm            *fsm.FSM

	haveSyncPoint bool
	syncPoint     model.RecordMeta
	position      int
	attempt       int

	pages    atomic.Int64
	resyncs  atomic.Int64
	restarts atomic.Int64
	emitted  atomic.Int64
}

func newLoader(logger ulogger.Logger, tSettings *settings.Settings, query ledger.Query, emit func(context.Context, []*model.TokenRecord)) *loader {
	initPrometheusMetrics()

	baseSize := tSettings.TokenCache.PageSize
	if baseSize <= 0 {
		baseSize = settings.DefaultPageSize
	}

	retryCount := tSettings.TokenCache.LoaderRetryCount
	if retryCount <= 0 {
		retryCount = 1
	}

	resyncAttempts := tSettings.TokenCache.LoaderResyncAttempts
	if resyncAttempts < 0 {
		resyncAttempts = 0
	}

	primes := primesNear(baseSize, resyncPrimeCount)

	return &loader{
		logger:         logger,
		query:          query,
		criteria:       ledger.Criteria{Classes: tSettings.TokenCache.TrackedClasses},
		sort:           ledger.RecordOrder(),
		baseSize:       baseSize,
		primes:         primes,
		windows:        append([]int{baseSize}, primes...),
		resyncAttempts: resyncAttempts,
		retryCount:     retryCount,
		retryBackoff:   tSettings.TokenCache.LoaderRetryBackoff,
		emit:           emit,
		position:       -1,
		fsm: fsm.NewFSM(
			loaderStateScanning,
			fsm.Events{
				{Name: loaderEventResync, Src: []string{loaderStateScanning}, Dst: loaderStateResyncing},
				{Name: loaderEventScan, Src: []string{loaderStateResyncing}, Dst: loaderStateScanning},
				{Name: loaderEventFinish, Src: []string{loaderStateScanning, loaderStateResyncing}, Dst: loaderStateDone},
				{Name: loaderEventFail, Src: []string{loaderStateScanning, loaderStateResyncing}, Dst: loaderStateFailed},
			},
			fsm.Callbacks{},
		),
	}
}

func (l *loader) state() string {
	return l.fsm.Current()
}

func (l *loader) event(ctx context.Context, name string) {
	if !l.fsm.Can(name) {
		return
	}

	if err := l.fsm.Event(ctx, name); err != nil {
		l.logger.Debugf("[Loader] %s event: %v", name, err)
	}
}

func (l *loader) run(ctx context.Context) error {
	spec := ledger.PageSpec{Number: 1, Size: l.baseSize}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := l.fetch(ctx, spec)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				l.event(ctx, loaderEventFail)
			}

			return err
		}

		next, done := l.process(ctx, spec, page.Records)
		if done {
			l.event(ctx, loaderEventFinish)
			return nil
		}

		spec = next
	}
}

func (l *loader) fetch(ctx context.Context, spec ledger.PageSpec) (*ledger.Page, error) {
	page, err := retry.Retry(ctx, l.logger, func() (*ledger.Page, error) {
		return l.query.Page(ctx, l.criteria, l.sort, spec)
	},
		retry.WithRetryCount(l.retryCount),
		retry.WithBackoffDurationType(l.retryBackoff),
		retry.WithExponentialBackoff(),
		retry.WithRetryable(errors.IsRetryableError),
		retry.WithMessage(fmt.Sprintf("[Loader] retrying page %s", spec)),
	)
	if err != nil {
		return nil, errors.NewStorageError("[Loader] failed to read page %s", spec, err)
	}

	l.pages.Inc()
	prometheusTokenCacheLoaderPages.Inc()

	return page, nil
}

// process emits what the page adds after the sync point and returns the next
// page to read, or done once a short page was accepted.
func (l *loader) process(ctx context.Context, spec ledger.PageSpec, records []*model.TokenRecord) (ledger.PageSpec, bool) {
	sorted := slices.Clone(records)
	slices.SortFunc(sorted, func(a, b *model.TokenRecord) int {
		return a.Meta.Compare(b.Meta)
	})

	start := spec.Offset()
	proven := start == 0
	idx := 0

	if l.haveSyncPoint {
		idx = l.locate(start, sorted)
		proven = proven || (len(sorted) > 0 && sorted[0].Meta.Compare(l.syncPoint) <= 0)
	}

	if !proven {
		return l.resync(ctx, spec), false
	}

	l.attempt = 0
	l.event(ctx, loaderEventScan)

	if fresh := sorted[idx:]; len(fresh) > 0 {
		l.emit(ctx, fresh)
		l.emitted.Add(int64(len(fresh)))

		l.syncPoint = fresh[len(fresh)-1].Meta
		l.haveSyncPoint = true
		l.position = start + len(sorted) - 1
	} else {
		l.position = start + idx - 1
	}

	if len(sorted) < spec.Size {
		return spec, true
	}

	return l.nextWindow(l.position), false
}

// locate returns the number of records in the page at or before the sync
// point, trying the index the sync point's position predicts first.
func (l *loader) locate(start int, sorted []*model.TokenRecord) int {
	expected := l.position - start + 1
	if expected >= 0 && expected <= len(sorted) &&
		(expected == 0 || sorted[expected-1].Meta.Compare(l.syncPoint) <= 0) &&
		(expected == len(sorted) || sorted[expected].Meta.Compare(l.syncPoint) > 0) {
		return expected
	}

	return sort.Search(len(sorted), func(i int) bool {
		return sorted[i].Meta.Compare(l.syncPoint) > 0
	})
}

// resync picks a page further back than the last known position. Attempt k
// uses the k-th prime page size and a page holding offset position-k*prime.
func (l *loader) resync(ctx context.Context, rejected ledger.PageSpec) ledger.PageSpec {
	l.attempt++
	l.resyncs.Inc()
	prometheusTokenCacheLoaderResyncs.Inc()
	l.event(ctx, loaderEventResync)

	if l.attempt > l.resyncAttempts {
		l.attempt = 0
		l.restarts.Inc()
		prometheusTokenCacheLoaderRestarts.Inc()
		l.logger.Warnf("[Loader] could not resync after page %s, restarting from the first page", rejected)

		return ledger.PageSpec{Number: 1, Size: l.baseSize}
	}

	p := l.primes[(l.attempt-1)%len(l.primes)]
	target := max(0, l.position-l.attempt*p)
	spec := ledger.PageSpec{Number: target/p + 1, Size: p}

	l.logger.Debugf("[Loader] page %s starts after the sync point at ~%d, resync attempt %d with page %s", rejected, l.position, l.attempt, spec)

	return spec
}

// nextWindow returns the page holding offset pos that reaches furthest past it.
func (l *loader) nextWindow(pos int) ledger.PageSpec {
	best := ledger.PageSpec{}
	bestGain := 0

	for _, size := range l.windows {
		number := 1
		if pos > 0 {
			number = pos/size + 1
		}

		gain := size*(number-1) + size - 1 - pos
		if gain > bestGain {
			best = ledger.PageSpec{Number: number, Size: size}
			bestGain = gain
		}
	}

	if bestGain == 0 {
		return ledger.PageSpec{Number: 1, Size: pos + 1 + l.baseSize}
	}

	return best
}

// primesNear returns up to n primes in [base/2, 2*base], nearest to base first.
func primesNear(base, n int) []int {
	lo := max(2, base/2)
	hi := max(3, 2*base)

	composite := make([]bool, hi+1)
	primes := make([]int, 0, n)

	for i := 2; i <= hi; i++ {
		if composite[i] {
			continue
		}

		for j := i * i; j <= hi; j += i {
			composite[j] = true
		}

		if i >= lo {
			primes = append(primes, i)
		}
	}

	distance := func(p int) int {
		if p > base {
			return p - base
		}

		return base - p
	}

	sort.SliceStable(primes, func(i, j int) bool {
		return distance(primes[i]) < distance(primes[j])
	})

	if len(primes) > n {
		primes = primes[:n]
	}

	return primes
}
