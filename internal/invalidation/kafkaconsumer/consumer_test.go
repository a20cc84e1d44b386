package kafkaconsumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"

	"github.com/whatnick/aws-tf-vibe/internal/invalidation"
)

type fakeInvalidator struct {
	failFirst atomic.Bool
	mu        sync.Mutex
	seen      []string
}

func (f *fakeInvalidator) Invalidate(_ context.Context, endpoints ...string) error {
	f.mu.Lock()
	f.seen = append(f.seen, endpoints...)
	f.mu.Unlock()
	if f.failFirst.Load() {
		f.failFirst.Store(false)
		return errors.New("boom")
	}
	return nil
}

func (f *fakeInvalidator) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "stac-catalog-changes" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func eventBytes(endpoint string) []byte {
	b, _ := json.Marshal(invalidation.Event{
		Version: 1, Op: invalidation.OpCollectionAdded, Endpoint: endpoint,
		Collection: "sentinel-1-grd", TS: time.Now().UTC(),
	})
	return b
}

func newConsumerForTest(inv Invalidator) *Consumer {
	cfg := Config{Brokers: []string{"x"}}
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil, inv)
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	inv := &fakeInvalidator{}
	c := newConsumerForTest(inv)

	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- &sarama.ConsumerMessage{Partition: 0, Offset: 10, Value: eventBytes("https://a/v1")}
	ch <- &sarama.ConsumerMessage{Partition: 0, Offset: 11, Value: eventBytes("https://b/v1")}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
	if got := inv.calls(); len(got) != 2 || got[0] != "https://a/v1" || got[1] != "https://b/v1" {
		t.Fatalf("invalidated=%v", got)
	}
}

func TestFailedInvalidation_NotMarkedThenRetried(t *testing.T) {
	inv := &fakeInvalidator{}
	inv.failFirst.Store(true)
	c := newConsumerForTest(inv)
	g := &groupHandler{process: c.ProcessOne}
	msg := &sarama.ConsumerMessage{Partition: 0, Offset: 5, Value: eventBytes("https://a/v1")}

	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err == nil {
		t.Fatalf("expected error on first attempt")
	}
	if len(s.marked) != 0 {
		t.Fatalf("offset marked despite failure: %v", s.marked)
	}

	ch = make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("offset was not marked after success; marked=%v", s.marked)
	}
}

func TestPoisonMessagesAreSkipped(t *testing.T) {
	inv := &fakeInvalidator{}
	c := newConsumerForTest(inv)
	g := &groupHandler{process: c.ProcessOne}

	invalid, _ := json.Marshal(invalidation.Event{Version: 1, Op: "upsert", Endpoint: "https://a", TS: time.Now()})
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 3)
	ch <- &sarama.ConsumerMessage{Offset: 1, Value: []byte("{not json")}
	ch <- &sarama.ConsumerMessage{Offset: 2, Value: invalid}
	ch <- &sarama.ConsumerMessage{Offset: 3, Value: eventBytes("https://a/v1")}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 3 {
		t.Fatalf("marked=%v want all three", s.marked)
	}
	if got := inv.calls(); len(got) != 1 {
		t.Fatalf("invalidated=%v want only the valid event", got)
	}
}

func TestMultiPartition_Parallel(t *testing.T) {
	inv := &fakeInvalidator{}
	c := newConsumerForTest(inv)
	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}

	p0 := make(chan *sarama.ConsumerMessage, 2)
	p1 := make(chan *sarama.ConsumerMessage, 2)
	for off := int64(1); off <= 2; off++ {
		p0 <- &sarama.ConsumerMessage{Partition: 0, Offset: off, Value: eventBytes("https://a/v1")}
		p1 <- &sarama.ConsumerMessage{Partition: 1, Offset: off, Value: eventBytes("https://b/v1")}
	}
	close(p0)
	close(p1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 0, msgs: p0}) }()
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 1, msgs: p1}) }()
	wg.Wait()

	if len(s.marked) != 4 {
		t.Fatalf("expected 4 marks total; got %v", s.marked)
	}
}

func TestStart_RequiresDependencies(t *testing.T) {
	if err := New(Config{Brokers: []string{"x"}}, nil, nil, nil).Start(t.Context()); err == nil {
		t.Fatalf("expected error without invalidator")
	}
	if err := New(Config{}, nil, nil, &fakeInvalidator{}).Start(t.Context()); err == nil {
		t.Fatalf("expected error without brokers")
	}
}
