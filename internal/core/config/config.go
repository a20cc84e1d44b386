package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/whatnick/aws-tf-vibe/internal/core/stac"
)

type CacheCfg struct {
	Driver    string // none|lru|redis
	TTL       time.Duration
	Size      int
	RedisAddr string
	OpTimeout time.Duration
}

type EventsCfg struct {
	Enabled bool
	Brokers string
	Topic   string
	Queue   int
	H3Res   int
}

// InvalidationCfg drives the catalog change consumer. It shares the broker
// list with Events.
type InvalidationCfg struct {
	Enabled       bool
	Topic         string
	GroupID       string
	InitialOldest bool
}

type Config struct {
	Addr            string
	LogLevel        string
	DefaultEndpoint string
	FamilyTableFile string

	PageLimit         int
	SummaryMaxWorkers int
	SummaryQueue      int
	CollectionTimeout time.Duration
	ListTimeout       time.Duration
	SummaryTimeout    time.Duration
	// ShutdownTimeout bounds the drain of in-flight requests; zero derives
	// it from SummaryTimeout.
	ShutdownTimeout   time.Duration

	UpstreamRPS     float64
	UpstreamBurst   int
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	GeocoderURL       string
	GeocoderUserAgent string
	SimplifyThreshold int
	SimplifyTolerance float64

	CORSOrigins  []string
	RateLimitRPM int

	Cache        CacheCfg
	Events       EventsCfg
	Invalidation InvalidationCfg
}

// LoadDotEnv loads a .env file into the environment when one exists. Values
// already set in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func FromEnv() Config {
	return Config{
		Addr:            getenv("ADDR", ":3001"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		DefaultEndpoint: getenv("DEFAULT_STAC_ENDPOINT", stac.EarthSearchURL),
		FamilyTableFile: getenv("FAMILY_TABLE_FILE", ""),

		PageLimit:         getint("SEARCH_PAGE_LIMIT", stac.DefaultPageLimit),
		SummaryMaxWorkers: getint("SUMMARY_MAX_WORKERS", 8),
		SummaryQueue:      getint("SUMMARY_QUEUE", 64),
		CollectionTimeout: getduration("COLLECTION_TIMEOUT", 10*time.Second),
		ListTimeout:       getduration("LIST_TIMEOUT", 15*time.Second),
		SummaryTimeout:    getduration("SUMMARY_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getduration("SHUTDOWN_TIMEOUT", 0),

		UpstreamRPS:     getfloat("UPSTREAM_RPS", 20),
		UpstreamBurst:   getint("UPSTREAM_BURST", 40),
		BreakerFailures: safeUint32(getint("BREAKER_FAILURES", 5)),
		BreakerTimeout:  getduration("BREAKER_TIMEOUT", 30*time.Second),

		GeocoderURL:       getenv("GEOCODER_URL", "https://nominatim.openstreetmap.org/search"),
		GeocoderUserAgent: getenv("GEOCODER_USER_AGENT", "STAC-Lookup-App/1.0"),
		SimplifyThreshold: getint("SIMPLIFY_THRESHOLD", 100),
		SimplifyTolerance: getfloat("SIMPLIFY_TOLERANCE", 0.01),

		CORSOrigins:  getlist("CORS_ORIGINS", []string{"*"}),
		RateLimitRPM: getint("RATE_LIMIT_RPM", 120),

		Cache: CacheCfg{
			Driver:    strings.ToLower(getenv("CATALOG_CACHE", "none")),
			TTL:       getduration("CATALOG_CACHE_TTL", 5*time.Minute),
			Size:      getint("CATALOG_CACHE_SIZE", 128),
			RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
			OpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		},
		Events: EventsCfg{
			Enabled: getbool("SUMMARY_EVENTS_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "stac-summaries"),
			Queue:   getint("SUMMARY_EVENTS_QUEUE", 1024),
			H3Res:   clamp(getint("H3_RES", 5), 0, 15),
		},
		Invalidation: InvalidationCfg{
			Enabled:       getbool("CATALOG_INVALIDATION_ENABLED", false),
			Topic:         getenv("CATALOG_INVALIDATION_TOPIC", "stac-catalog-changes"),
			GroupID:       getenv("CATALOG_INVALIDATION_GROUP", "stac-api-catalog-cache"),
			InitialOldest: getbool("CATALOG_INVALIDATION_OLDEST", false),
		},
	}
}

// BrokerList splits the comma separated broker list.
func (e EventsCfg) BrokerList() []string {
	return splitList(e.Brokers)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getlist(k string, def []string) []string {
	if v := os.Getenv(k); v != "" {
		if l := splitList(v); len(l) > 0 {
			return l
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func safeUint32(n int) uint32 {
	if n <= 0 {
		return 1
	}
	return uint32(n)
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
