// Package aggregate summarizes catalog search hits per satellite family.
//
// One count query is issued per collection with bounded concurrency. A
// failing collection contributes zero; only a failed collection listing
// degrades the whole summary to zero.
package aggregate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/whatnick/aws-tf-vibe/internal/core/model"
	"github.com/whatnick/aws-tf-vibe/internal/core/observability"
	"github.com/whatnick/aws-tf-vibe/internal/core/stac"
	"github.com/whatnick/aws-tf-vibe/internal/family"
	mylog "github.com/whatnick/aws-tf-vibe/internal/logger"
)

// Gateway is the part of the catalog client the engine depends on.
type Gateway interface {
	ListCollections(ctx context.Context, endpoint string) ([]model.CollectionRecord, error)
	Count(ctx context.Context, endpoint string, req model.SearchRequest) (int, error)
}

// Sink receives every finished report, e.g. to publish it as an event.
type Sink interface {
	Publish(ctx context.Context, f model.Filter, r Report)
}

const (
	ReasonListFailed = "list_failed"
	ReasonCanceled   = "canceled"
)

type Config struct {
	Table             family.Table
	PageLimit         int
	MaxWorkers        int
	QueueSize         int
	CollectionTimeout time.Duration
	ListTimeout       time.Duration
	DefaultEndpoint   string
}

// Report is a summary plus what it took to build it.
type Report struct {
	Summary  model.Summary
	Degraded bool
	Reason   string
	Queried  int
	Failed   int
}

type Option func(*Engine)

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.obs = o
		}
	}
}

func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

type Engine struct {
	logger *slog.Logger
	gw     Gateway
	cfg    Config
	obs    Observer
	sink   Sink
}

func New(logger *slog.Logger, gw Gateway, cfg Config, opts ...Option) *Engine {
	if cfg.Table.Len() == 0 {
		cfg.Table = family.DefaultTable()
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = stac.DefaultPageLimit
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.MaxWorkers
	}
	if cfg.DefaultEndpoint == "" {
		cfg.DefaultEndpoint = stac.EarthSearchURL
	}
	e := &Engine{logger: logger, gw: gw, cfg: cfg}
	e.obs = LogObserver{Logger: logger}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Summarize never fails; see Report for the degraded cases.
func (e *Engine) Summarize(ctx context.Context, f model.Filter) model.Summary {
	return e.Report(ctx, f).Summary
}

type task struct {
	collection string
	family     string
}

type result struct {
	task
	n   int
	err error
}

// Report runs the aggregation. The summary is all-zero when the collection
// list cannot be fetched or ctx ends before every query finished.
func (e *Engine) Report(ctx context.Context, f model.Filter) Report {
	start := time.Now()
	f.CatalogEndpoint = stac.ResolveEndpoint(f.CatalogEndpoint, e.cfg.DefaultEndpoint)
	ctx = mylog.WithCatalog(mylog.WithComponent(ctx, "aggregate"), f.CatalogEndpoint)

	r := e.run(ctx, f)
	if r.Degraded {
		observability.IncSummaryDegraded(r.Reason)
	}
	observability.ObserveSummaryDuration(time.Since(start).Seconds())
	if e.sink != nil {
		e.sink.Publish(ctx, f, r)
	}
	return r
}

func (e *Engine) zero() model.Summary {
	s := model.NewSummary(e.cfg.Table.Tags())
	s.Seal()
	return s
}

func (e *Engine) run(ctx context.Context, f model.Filter) Report {
	cols, err := e.list(ctx, f.CatalogEndpoint)
	if err != nil {
		e.obs.ListFailed(ctx, f, err)
		return Report{Summary: e.zero(), Degraded: true, Reason: ReasonListFailed}
	}

	cls := family.Classify(cols, e.cfg.Table)
	tasks := make([]task, 0, len(cols))
	for _, a := range cls.Classified {
		tasks = append(tasks, task{collection: a.Collection.ID, family: a.Family})
	}
	for _, c := range cls.Unclassified {
		tasks = append(tasks, task{collection: c.ID, family: model.FamilyOther})
	}

	results, ok := e.fanOut(ctx, f, tasks)
	if !ok {
		e.logger.WarnContext(ctx, "summary canceled", "endpoint", f.CatalogEndpoint, "err", ctx.Err())
		return Report{Summary: e.zero(), Degraded: true, Reason: ReasonCanceled, Queried: len(tasks)}
	}

	sum := model.NewSummary(e.cfg.Table.Tags())
	rep := Report{Queried: len(tasks)}
	for _, res := range results {
		if res.err != nil {
			rep.Failed++
			continue
		}
		sum.Add(res.family, res.n)
	}
	sum.Seal()
	rep.Summary = sum

	e.logger.DebugContext(ctx, "summary done",
		"endpoint", f.CatalogEndpoint,
		"collections", len(tasks),
		"failed", rep.Failed,
		"total", sum.Total())
	return rep
}

func (e *Engine) list(ctx context.Context, endpoint string) ([]model.CollectionRecord, error) {
	if e.cfg.ListTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ListTimeout)
		defer cancel()
	}
	return e.gw.ListCollections(ctx, endpoint)
}

// fanOut runs one count per task on a bounded pool. It reports false when ctx
// ended before all results were in; partial results are then dropped.
func (e *Engine) fanOut(ctx context.Context, f model.Filter, tasks []task) ([]result, bool) {
	if len(tasks) == 0 {
		return nil, ctx.Err() == nil
	}

	jobs := make(chan task, e.cfg.QueueSize)
	results := make(chan result, len(tasks))

	workerN := min(e.cfg.MaxWorkers, len(tasks))
	var wg sync.WaitGroup
	wg.Add(workerN)
	for range workerN {
		go func() {
			defer wg.Done()
			for t := range jobs {
				if ctx.Err() != nil {
					return
				}
				results <- e.count(ctx, f, t)
			}
		}()
	}

	canceled := false
send:
	for _, t := range tasks {
		select {
		case jobs <- t:
		case <-ctx.Done():
			canceled = true
			break send
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	if canceled || ctx.Err() != nil {
		return nil, false
	}
	out := make([]result, 0, len(tasks))
	for r := range results {
		out = append(out, r)
	}
	return out, true
}

func (e *Engine) count(ctx context.Context, f model.Filter, t task) result {
	if e.cfg.CollectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.CollectionTimeout)
		defer cancel()
	}
	req := stac.BuildSearchRequestLimit(f, t.collection, e.cfg.PageLimit)
	n, err := e.gw.Count(ctx, f.CatalogEndpoint, req)
	if err != nil {
		e.obs.CollectionFailed(ctx, f.CatalogEndpoint, t.collection, t.family, err)
		return result{task: t, err: err}
	}
	e.obs.CollectionCounted(ctx, f.CatalogEndpoint, t.collection, t.family, n)
	return result{task: t, n: n}
}
