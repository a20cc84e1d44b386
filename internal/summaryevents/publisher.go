// Package summaryevents publishes finished family summaries to Kafka.
package summaryevents

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/uber/h3-go/v4"

	"github.com/whatnick/aws-tf-vibe/internal/aggregate"
	"github.com/whatnick/aws-tf-vibe/internal/core/model"
	"github.com/whatnick/aws-tf-vibe/internal/core/observability"
)

type Event struct {
	ID       string        `json:"id"`
	Endpoint string        `json:"endpoint"`
	BBox     *model.BBox   `json:"bbox,omitempty"`
	H3Cell   string        `json:"h3_cell,omitempty"`
	Counts   model.Summary `json:"counts"`
	Degraded bool          `json:"degraded"`
	Reason   string        `json:"reason,omitempty"`
	Queried  int           `json:"queried"`
	Failed   int           `json:"failed"`
	TS       time.Time     `json:"ts"`
}

// Publisher queues events and hands them to an async producer from a single
// goroutine. A full queue drops the event instead of blocking the caller, and
// so does a closed publisher.
type Publisher struct {
	logger  *slog.Logger
	topic   string
	h3Res   int
	prod    sarama.AsyncProducer
	stopped chan struct{}
	now     func() time.Time

	mu     sync.Mutex
	closed bool
	events chan Event
}

var _ aggregate.Sink = (*Publisher)(nil)

func NewPublisher(logger *slog.Logger, brokers []string, topic string, queueSize, h3Res int) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("summaryevents: create async producer: %w", err)
	}
	return NewWithProducer(logger, prod, topic, queueSize, h3Res), nil
}

// NewWithProducer wires an existing producer, e.g. a mock in tests.
func NewWithProducer(logger *slog.Logger, prod sarama.AsyncProducer, topic string, queueSize, h3Res int) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	p := &Publisher{
		logger:  logger,
		topic:   topic,
		h3Res:   h3Res,
		events:  make(chan Event, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
		now:     time.Now,
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Error("summaryevents: marshal", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Endpoint),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				p.logger.Warn("summaryevents: producer error", "err", err)
			}
		}
	}()

	return p
}

// Publish turns a finished report into an event and queues it.
func (p *Publisher) Publish(_ context.Context, f model.Filter, r aggregate.Report) {
	ev := Event{
		ID:       uuid.NewString(),
		Endpoint: f.CatalogEndpoint,
		BBox:     f.BBox,
		Counts:   r.Summary,
		Degraded: r.Degraded,
		Reason:   r.Reason,
		Queried:  r.Queried,
		Failed:   r.Failed,
		TS:       p.now().UTC(),
	}
	if f.BBox != nil {
		ev.H3Cell = p.cellOf(*f.BBox)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		observability.IncSummaryEventDropped()
		return
	}
	select {
	case p.events <- ev:
	default:
		observability.IncSummaryEventDropped()
	}
}

func (p *Publisher) cellOf(b model.BBox) string {
	lon, lat := b.Center()
	c, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lon}, p.h3Res)
	if err != nil {
		return ""
	}
	return c.String()
}

// Close flushes queued events and closes the producer. Later calls are no-ops.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("summaryevents: close producer: %w", err)
	}
	return nil
}
