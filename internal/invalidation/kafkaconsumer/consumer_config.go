package kafkaconsumer

import "time"

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	// RetryBackoff is the pause after a failed Consume before rejoining.
	RetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Topic == "" {
		c.Topic = "stac-catalog-changes"
	}
	if c.GroupID == "" {
		c.GroupID = "stac-api-catalog-cache"
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 3 * time.Second
	}
	if c.RebalanceTimeout <= 0 {
		c.RebalanceTimeout = 30 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	return c
}
