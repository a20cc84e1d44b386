// Package kafkaconsumer evicts cached collection listings when a catalog
// change event arrives on Kafka.
package kafkaconsumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/whatnick/aws-tf-vibe/internal/core/observability"
	"github.com/whatnick/aws-tf-vibe/internal/invalidation"
	mylog "github.com/whatnick/aws-tf-vibe/internal/logger"
)

// Invalidator drops the cached listing of each endpoint.
type Invalidator interface {
	Invalidate(ctx context.Context, endpoints ...string) error
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	inv    Invalidator
	zlog   *zerolog.Logger
}

func New(cfg Config, logger *slog.Logger, zl *zerolog.Logger, inv Invalidator) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:    cfg.withDefaults(),
		logger: logger,
		inv:    inv,
		zlog:   zl,
	}
}

// Start joins the consumer group and blocks until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.inv == nil {
		return errors.New("kafkaconsumer: missing invalidator")
	}
	if len(c.cfg.Brokers) == 0 {
		return errors.New("kafkaconsumer: no brokers")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}
	c.logger.Info("catalog invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil && ctx.Err() == nil {
			observability.IncKafkaConsumerError("consume")
			c.logger.Error("consumer error", "topic", c.cfg.Topic, "err", err)
		}
		select {
		case <-ctx.Done():
			c.logger.Info("catalog invalidation consumer shutting down")
			return nil
		case <-time.After(c.cfg.RetryBackoff):
		}
	}
}

// ProcessOne handles a single message. Undecodable or invalid events are
// logged and skipped; only a failed eviction returns an error.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	ctx = mylog.WithComponent(ctx, "catalog_invalidation")
	zl := mylog.FromContext(ctx, c.zlog)

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		observability.IncKafkaConsumerError("decode")
		zl.Error().Err(err).
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("skipping undecodable catalog event")
		return nil
	}
	if err := ev.Validate(); err != nil {
		observability.IncKafkaConsumerError("invalid")
		zl.Warn().Err(err).
			Str("op", ev.Op).
			Int64("offset", msg.Offset).
			Msg("skipping invalid catalog event")
		return nil
	}

	if err := c.inv.Invalidate(ctx, ev.Endpoint); err != nil {
		observability.ObserveInvalidation(ev.Op, err, time.Since(start).Seconds())
		zl.Error().Err(err).
			Str("op", ev.Op).
			Str("endpoint", ev.Endpoint).
			Int32("partition", msg.Partition).
			Msg("catalog invalidation failed")
		return fmt.Errorf("invalidate %s: %w", ev.Endpoint, err)
	}

	observability.ObserveInvalidation(ev.Op, nil, time.Since(start).Seconds())
	c.logger.Debug("catalog listing invalidated",
		"op", ev.Op, "endpoint", ev.Endpoint, "collection", ev.Collection)
	return nil
}
