// Command catalog-notify publishes one catalog change event so running API
// instances drop their cached collection listing for that catalog.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"

	"github.com/whatnick/aws-tf-vibe/internal/invalidation"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	brokers := flag.String("brokers", getenv("KAFKA_BROKERS", "localhost:9092"), "comma separated broker list")
	topic := flag.String("topic", getenv("CATALOG_INVALIDATION_TOPIC", "stac-catalog-changes"), "topic")
	endpoint := flag.String("endpoint", "", "catalog root URL")
	op := flag.String("op", invalidation.OpCatalogRefresh, "collection_added|collection_removed|collection_updated|catalog_refresh")
	collection := flag.String("collection", "", "collection id for collection_* ops")
	flag.Parse()

	if err := publish(strings.Split(*brokers, ","), *topic, invalidation.Event{
		Version:    1,
		Op:         *op,
		Endpoint:   strings.TrimSpace(*endpoint),
		Collection: strings.TrimSpace(*collection),
		TS:         time.Now().UTC(),
		Source:     "catalog-notify",
	}); err != nil {
		fmt.Fprintln(os.Stderr, "catalog-notify:", err)
		os.Exit(1)
	}
}

func publish(brokers []string, topic string, ev invalidation.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	part, off, err := prod.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(ev.Endpoint),
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	fmt.Printf("published %s for %s to %s[%d]@%d\n", ev.Op, ev.Endpoint, topic, part, off)
	return nil
}
