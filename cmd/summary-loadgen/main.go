// Command summary-loadgen drives POST /api/search/summary with a Zipf
// distributed pool of search payloads and records latency percentiles.
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

type Config struct {
	TargetURL       string
	CatalogURL      string
	Concurrency     int
	Duration        time.Duration
	RPS             float64
	ZipfS           float64
	ZipfV           float64
	RequestCount    int
	OutputPrefix    string
	RequestTimeout  time.Duration
	AppendTimestamp bool
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.TargetURL, "target", "http://localhost:3001/api/search/summary", "summary endpoint URL")
	flag.StringVar(&cfg.CatalogURL, "catalog", "", "catalogUrl sent with every request (empty uses the server default)")
	flag.IntVar(&cfg.Concurrency, "concurrency", 8, "concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 60*time.Second, "test duration")
	flag.Float64Var(&cfg.RPS, "rps", 0, "global request rate cap (0 means unlimited)")
	flag.Float64Var(&cfg.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	flag.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	flag.IntVar(&cfg.RequestCount, "requests", 128, "distinct payloads in the pool")
	flag.StringVar(&cfg.OutputPrefix, "out", "results/summary", "output file prefix (JSON/CSV)")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", 90*time.Second, "per-request timeout")
	flag.BoolVar(&cfg.AppendTimestamp, "append-ts", true, "append a UTC timestamp to the output prefix")
	flag.Parse()
	return cfg
}

func main() {
	cfg := loadConfig()
	if cfg.Concurrency <= 0 || cfg.RequestCount <= 0 {
		log.Fatalf("concurrency and requests must be positive")
	}
	if cfg.ZipfS <= 1 || cfg.ZipfV < 1 {
		log.Fatalf("zipf needs s > 1 and v >= 1")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPrefix), 0o750); err != nil {
		log.Fatalf("mkdir results: %v", err)
	}
	prefix := cfg.OutputPrefix
	if cfg.AppendTimestamp {
		prefix = fmt.Sprintf("%s_%s", prefix, time.Now().UTC().Format("20060102_150405Z"))
	}

	seed := time.Now().UnixNano()
	pool := makeRequests(cfg.RequestCount, cfg.CatalogURL, rand.New(rand.NewSource(seed)))
	bodies := make([][]byte, len(pool))
	for i, r := range pool {
		b, err := json.Marshal(r)
		if err != nil {
			log.Fatalf("encode request %d: %v", i, err)
		}
		bodies[i] = b
	}
	imax := uint64(len(pool)) - 1

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	limiter := rate.NewLimiter(limit, max(1, int(math.Ceil(cfg.RPS))))

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: 4 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:        256,
			MaxIdleConnsPerHost: 64,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: cfg.RequestTimeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	csvPath := prefix + "_samples.csv"
	jsonPath := prefix + "_summary.json"
	csvFile, err := os.Create(filepath.Clean(csvPath))
	if err != nil {
		log.Fatalf("open csv: %v", err)
	}
	defer func() { _ = csvFile.Close() }()

	samples := make(chan sample, 1024)
	done := make(chan *tally, 1)
	go collect(csv.NewWriter(csvFile), samples, done)

	start := time.Now()
	log.Printf("loadgen start target=%s dur=%s conc=%d rps=%.1f zipf(s=%.2f,v=%.2f) requests=%d",
		cfg.TargetURL, cfg.Duration, cfg.Concurrency, cfg.RPS, cfg.ZipfS, cfg.ZipfV, len(pool))

	var wg sync.WaitGroup
	for id := range cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			zipf := rand.NewZipf(rand.New(rand.NewSource(seed+int64(id)+1)), cfg.ZipfS, cfg.ZipfV, imax)
			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				idx := int(zipf.Uint64())
				s := fire(ctx, httpClient, cfg.TargetURL, bodies[idx])
				s.Index, s.BBox = idx, pool[idx].bboxString()
				if ctx.Err() != nil {
					// cut off by the end of the run
					return
				}
				select {
				case samples <- s:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	wg.Wait()
	close(samples)

	t := <-done
	end := time.Now()
	r := report{
		StartTime:   start.UTC(),
		EndTime:     end.UTC(),
		DurationSec: end.Sub(start).Seconds(),
		Concurrency: cfg.Concurrency,
		ZipfS:       cfg.ZipfS,
		ZipfV:       cfg.ZipfV,
		Requests:    len(pool),
		TargetURL:   cfg.TargetURL,
	}
	t.fill(&r)

	if b, err := json.MarshalIndent(r, "", "  "); err == nil {
		if err := os.WriteFile(filepath.Clean(jsonPath), b, 0o600); err != nil {
			log.Printf("write summary: %v", err)
		}
	}
	log.Printf("done: total=%d succ=%d err=%d zero=%d thr=%.2f rps p50=%.1fms p95=%.1fms p99=%.1fms",
		r.TotalRequests, r.SuccessCount, r.ErrorCount, r.ZeroCount, r.ThroughputRPS, r.P50Ms, r.P95Ms, r.P99Ms)
	log.Printf("wrote %s and %s", jsonPath, csvPath)
}

func fire(ctx context.Context, c *http.Client, target string, body []byte) sample {
	s := sample{Timestamp: time.Now()}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	s.Latency = time.Since(s.Timestamp)
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	defer func() { _ = resp.Body.Close() }()
	s.Status = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		s.ErrorMsg = "status=" + strconv.Itoa(resp.StatusCode)
		return s
	}
	var counts map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&counts); err != nil {
		s.ErrorMsg = "decode: " + err.Error()
		return s
	}
	s.Total = counts["total"]
	return s
}

func collect(w *csv.Writer, in <-chan sample, done chan<- *tally) {
	t := &tally{latMs: make([]float64, 0, 1<<14)}
	_ = w.Write([]string{"timestamp", "latency_ms", "status", "total", "error", "idx", "bbox"})
	for s := range in {
		t.add(s)
		_ = w.Write([]string{
			s.Timestamp.UTC().Format(time.RFC3339Nano),
			strconv.FormatFloat(float64(s.Latency.Microseconds())/1000.0, 'f', 3, 64),
			strconv.Itoa(s.Status),
			strconv.Itoa(s.Total),
			strings.ReplaceAll(s.ErrorMsg, "\n", " "),
			strconv.Itoa(s.Index),
			s.BBox,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		log.Printf("csv flush error: %v", err)
	}
	done <- t
}
