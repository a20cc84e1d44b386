package aggregate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/whatnick/aws-tf-vibe/internal/core/model"
	"github.com/whatnick/aws-tf-vibe/internal/family"
)

type fakeGateway struct {
	collections []model.CollectionRecord
	listErr     error
	counts      map[string]int
	fail        map[string]error
	// hang makes Count for these ids block until ctx ends
	hang map[string]bool

	mu       sync.Mutex
	requests []model.SearchRequest

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func (g *fakeGateway) ListCollections(_ context.Context, _ string) ([]model.CollectionRecord, error) {
	if g.listErr != nil {
		return nil, g.listErr
	}
	return g.collections, nil
}

func (g *fakeGateway) Count(ctx context.Context, _ string, req model.SearchRequest) (int, error) {
	cur := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		m := g.maxInFlight.Load()
		if cur <= m || g.maxInFlight.CompareAndSwap(m, cur) {
			break
		}
	}

	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	id := req.Collections[0]
	if g.hang[id] {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if err := g.fail[id]; err != nil {
		return 0, err
	}
	return g.counts[id], nil
}

type recordingObserver struct {
	mu       sync.Mutex
	listErrs int
	failed   []string
	counted  []string
}

func (o *recordingObserver) ListFailed(context.Context, model.Filter, error) {
	o.mu.Lock()
	o.listErrs++
	o.mu.Unlock()
}

func (o *recordingObserver) CollectionFailed(_ context.Context, _, collection, _ string, _ error) {
	o.mu.Lock()
	o.failed = append(o.failed, collection)
	o.mu.Unlock()
}

func (o *recordingObserver) CollectionCounted(_ context.Context, _, collection, _ string, _ int) {
	o.mu.Lock()
	o.counted = append(o.counted, collection)
	o.mu.Unlock()
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func recs(ids ...string) []model.CollectionRecord {
	out := make([]model.CollectionRecord, len(ids))
	for i, id := range ids {
		out[i] = model.CollectionRecord{ID: id}
	}
	return out
}

func assertTotalInvariant(t *testing.T, s model.Summary) {
	t.Helper()
	sum := 0
	for _, f := range s.Families() {
		sum += s.Get(f)
	}
	if sum != s.Total() {
		t.Fatalf("total=%d but buckets sum to %d", s.Total(), sum)
	}
}

func TestSummarize_FamiliesAndOther(t *testing.T) {
	gw := &fakeGateway{
		collections: recs("sentinel-2-l2a", "landsat-c2-l2", "custom-x"),
		counts:      map[string]int{"sentinel-2-l2a": 5, "landsat-c2-l2": 3, "custom-x": 2},
	}
	e := New(discard(), gw, Config{})

	s := e.Summarize(context.Background(), model.NewFilter(""))
	want := map[string]int{"sentinel-2": 5, "landsat": 3, "other": 2, "total": 10}
	got := s.Counts()
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s=%d want %d (summary %v)", k, got[k], v, got)
		}
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected buckets: %v", got)
	}
}

func TestSummarize_AliasesShareFamily(t *testing.T) {
	gw := &fakeGateway{
		collections: recs("sentinel-2-l2a", "sentinel-2-l1c", "landsat-c2-l1"),
		counts:      map[string]int{"sentinel-2-l2a": 50, "sentinel-2-l1c": 7, "landsat-c2-l1": 1},
	}
	s := New(discard(), gw, Config{}).Summarize(context.Background(), model.NewFilter(""))
	if s.Get("sentinel-2") != 57 || s.Get("landsat") != 1 || s.Total() != 58 {
		t.Fatalf("summary=%v", s.Counts())
	}
}

func TestSummarize_OneFailureKeepsOthers(t *testing.T) {
	gw := &fakeGateway{
		collections: recs("sentinel-2-l2a", "sentinel-2-l1c", "landsat-c2-l2", "custom-x"),
		counts:      map[string]int{"sentinel-2-l2a": 5, "sentinel-2-l1c": 4, "landsat-c2-l2": 3, "custom-x": 2},
		fail:        map[string]error{"sentinel-2-l1c": errors.New("boom")},
	}
	obs := &recordingObserver{}
	rep := New(discard(), gw, Config{}, WithObserver(obs)).Report(context.Background(), model.NewFilter(""))

	if rep.Degraded {
		t.Fatalf("per-collection failure must not degrade the report")
	}
	if rep.Queried != 4 || rep.Failed != 1 {
		t.Fatalf("queried=%d failed=%d", rep.Queried, rep.Failed)
	}
	s := rep.Summary
	if s.Get("sentinel-2") != 5 || s.Get("landsat") != 3 || s.Get("other") != 2 || s.Total() != 10 {
		t.Fatalf("summary=%v", s.Counts())
	}
	assertTotalInvariant(t, s)
	if len(obs.failed) != 1 || obs.failed[0] != "sentinel-2-l1c" {
		t.Fatalf("observer failed=%v", obs.failed)
	}
	if len(obs.counted) != 3 {
		t.Fatalf("observer counted=%v", obs.counted)
	}
}

func TestSummarize_AllFailuresStillValid(t *testing.T) {
	errBoom := errors.New("boom")
	gw := &fakeGateway{
		collections: recs("sentinel-2-l2a", "landsat-c2-l2", "x", "y"),
		fail:        map[string]error{"sentinel-2-l2a": errBoom, "landsat-c2-l2": errBoom, "x": errBoom, "y": errBoom},
	}
	rep := New(discard(), gw, Config{}).Report(context.Background(), model.NewFilter(""))
	if rep.Failed != 4 || rep.Summary.Total() != 0 {
		t.Fatalf("report=%+v summary=%v", rep, rep.Summary.Counts())
	}
	assertTotalInvariant(t, rep.Summary)
}

func TestSummarize_ListFailureIsExactZero(t *testing.T) {
	gw := &fakeGateway{listErr: errors.New("connection refused")}
	obs := &recordingObserver{}
	rep := New(discard(), gw, Config{}, WithObserver(obs)).Report(context.Background(), model.NewFilter(""))

	if !rep.Degraded || rep.Reason != ReasonListFailed {
		t.Fatalf("report=%+v", rep)
	}
	want := map[string]int{"sentinel-2": 0, "landsat": 0, "other": 0, "total": 0}
	got := rep.Summary.Counts()
	if len(got) != len(want) {
		t.Fatalf("summary=%v", got)
	}
	for k, v := range want {
		if n, ok := got[k]; !ok || n != v {
			t.Fatalf("summary=%v want %v", got, want)
		}
	}
	if obs.listErrs != 1 {
		t.Fatalf("ListFailed calls=%d", obs.listErrs)
	}
}

func TestSummarize_EmptyCatalog(t *testing.T) {
	gw := &fakeGateway{collections: nil}
	rep := New(discard(), gw, Config{}).Report(context.Background(), model.NewFilter(""))
	if rep.Degraded || rep.Summary.Total() != 0 || rep.Queried != 0 {
		t.Fatalf("report=%+v", rep)
	}
}

func TestSummarize_RequestsCarryFilterAndOverride(t *testing.T) {
	gw := &fakeGateway{
		collections: recs("sentinel-2-l2a", "custom-x"),
		counts:      map[string]int{"sentinel-2-l2a": 1, "custom-x": 1},
	}
	f := model.NewFilter("")
	f.BBox = &model.BBox{1, 2, 3, 4}
	f.CollectionID = "ignored-by-override"
	f.StartDate, f.EndDate = "2024-01-01", "2024-02-01"
	f.CloudCoverCeiling = 30

	New(discard(), gw, Config{PageLimit: 10}).Summarize(context.Background(), f)

	if len(gw.requests) != 2 {
		t.Fatalf("requests=%d", len(gw.requests))
	}
	seen := map[string]bool{}
	for _, r := range gw.requests {
		if len(r.Collections) != 1 {
			t.Fatalf("collections=%v", r.Collections)
		}
		seen[r.Collections[0]] = true
		if r.Limit != 10 || r.Datetime != "2024-01-01/2024-02-01" || r.BBox == nil {
			t.Fatalf("request=%+v", r)
		}
		if op, ok := r.Query[model.CloudCoverProperty]; !ok || op.Lt == nil || *op.Lt != 30 {
			t.Fatalf("cloud clause=%+v", r.Query)
		}
	}
	if !seen["sentinel-2-l2a"] || !seen["custom-x"] {
		t.Fatalf("collections queried=%v", seen)
	}
}

func TestSummarize_PerCollectionTimeout(t *testing.T) {
	gw := &fakeGateway{
		collections: recs("sentinel-2-l2a", "landsat-c2-l2"),
		counts:      map[string]int{"landsat-c2-l2": 3},
		hang:        map[string]bool{"sentinel-2-l2a": true},
	}
	e := New(discard(), gw, Config{CollectionTimeout: 30 * time.Millisecond})

	start := time.Now()
	rep := e.Report(context.Background(), model.NewFilter(""))
	if time.Since(start) > 2*time.Second {
		t.Fatalf("hung collection stalled the summary")
	}
	if rep.Degraded || rep.Failed != 1 {
		t.Fatalf("report=%+v", rep)
	}
	if rep.Summary.Get("landsat") != 3 || rep.Summary.Total() != 3 {
		t.Fatalf("summary=%v", rep.Summary.Counts())
	}
}

func TestSummarize_CanceledReturnsZero(t *testing.T) {
	gw := &fakeGateway{
		collections: recs("sentinel-2-l2a", "landsat-c2-l2", "custom-x"),
		counts:      map[string]int{"landsat-c2-l2": 3, "custom-x": 2},
		hang:        map[string]bool{"sentinel-2-l2a": true},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	rep := New(discard(), gw, Config{}).Report(ctx, model.NewFilter(""))
	if !rep.Degraded || rep.Reason != ReasonCanceled {
		t.Fatalf("report=%+v", rep)
	}
	if rep.Summary.Total() != 0 || rep.Summary.Get("landsat") != 0 {
		t.Fatalf("partial results must be dropped: %v", rep.Summary.Counts())
	}
}

func TestSummarize_ConcurrencyIsBounded(t *testing.T) {
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = "c" + string(rune('a'+i))
	}
	gw := &fakeGateway{collections: recs(ids...), delay: 10 * time.Millisecond, counts: map[string]int{}}
	for _, id := range ids {
		gw.counts[id] = 1
	}

	rep := New(discard(), gw, Config{MaxWorkers: 3, QueueSize: 1}).Report(context.Background(), model.NewFilter(""))
	if rep.Summary.Get("other") != 20 || rep.Summary.Total() != 20 {
		t.Fatalf("summary=%v", rep.Summary.Counts())
	}
	if m := gw.maxInFlight.Load(); m > 3 || m < 1 {
		t.Fatalf("max in-flight=%d want 1..3", m)
	}
}

func TestSummarize_CustomTable(t *testing.T) {
	tbl, err := family.NewTable(family.Family{Tag: "modis", Aliases: []string{"modis-09a1"}})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	gw := &fakeGateway{
		collections: recs("modis-09a1", "sentinel-2-l2a"),
		counts:      map[string]int{"modis-09a1": 4, "sentinel-2-l2a": 6},
	}
	s := New(discard(), gw, Config{Table: tbl}).Summarize(context.Background(), model.NewFilter(""))
	if s.Get("modis") != 4 || s.Get("other") != 6 || s.Total() != 10 {
		t.Fatalf("summary=%v", s.Counts())
	}
	if _, ok := s.Counts()["sentinel-2"]; ok {
		t.Fatalf("default families must not appear with a custom table")
	}
}

type captureSink struct {
	mu      sync.Mutex
	reports []Report
}

func (c *captureSink) Publish(_ context.Context, _ model.Filter, r Report) {
	c.mu.Lock()
	c.reports = append(c.reports, r)
	c.mu.Unlock()
}

func TestReport_PublishesToSink(t *testing.T) {
	gw := &fakeGateway{listErr: errors.New("down")}
	sink := &captureSink{}
	New(discard(), gw, Config{}, WithSink(sink)).Summarize(context.Background(), model.NewFilter(""))
	if len(sink.reports) != 1 || !sink.reports[0].Degraded {
		t.Fatalf("sink reports=%+v", sink.reports)
	}
}
