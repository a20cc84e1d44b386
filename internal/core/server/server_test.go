package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/whatnick/aws-tf-vibe/internal/aggregate"
	"github.com/whatnick/aws-tf-vibe/internal/core/config"
	"github.com/whatnick/aws-tf-vibe/internal/core/router"
	"github.com/whatnick/aws-tf-vibe/internal/gateway"
	"github.com/whatnick/aws-tf-vibe/internal/geometry"
	"github.com/whatnick/aws-tf-vibe/internal/metrics"
)

// fakeSTAC answers /collections and /search; search returns as many features
// as configured for the requested collection.
func fakeSTAC(t *testing.T, counts map[string]int, failing string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/collections":
			_, _ = w.Write([]byte(`{"collections":[{"id":"sentinel-2-l2a"},{"id":"landsat-c2-l2"},{"id":"custom-x"}]}`))
		case "/search":
			var req struct {
				Collections []string `json:"collections"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			id := ""
			if len(req.Collections) > 0 {
				id = req.Collections[0]
			}
			if id == failing {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			feats := make([]string, counts[id])
			for i := range feats {
				feats[i] = `{"type":"Feature"}`
			}
			_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[` + strings.Join(feats, ",") + `]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newStack(t *testing.T, upstream string, rpm int) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{CORSOrigins: []string{"https://app.example"}, RateLimitRPM: rpm, SummaryTimeout: 5 * time.Second}

	cat := gateway.NewCatalog(logger, http.DefaultClient, gateway.Options{})
	eng := aggregate.New(logger, cat, aggregate.Config{DefaultEndpoint: upstream, MaxWorkers: 2, CollectionTimeout: time.Second})
	h := &router.Handlers{
		Logger:          logger,
		Catalog:         cat,
		Geocoder:        gateway.NewNominatim(logger, http.DefaultClient, upstream+"/nominatim", geometry.DefaultOptions(), gateway.Options{}),
		Summary:         eng,
		DefaultEndpoint: upstream,
		PageLimit:       50,
		SummaryTimeout:  cfg.SummaryTimeout,
	}
	p := metrics.Init(metrics.Config{})
	srv := httptest.NewServer(NewHandler(cfg, logger, h, Options{Metrics: p.Handler(), MetricsPath: p.Path()}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSummaryEndToEnd(t *testing.T) {
	up := fakeSTAC(t, map[string]int{"sentinel-2-l2a": 5, "landsat-c2-l2": 3, "custom-x": 2}, "")
	srv := newStack(t, up.URL, 0)

	resp, err := http.Post(srv.URL+"/api/search/summary", "application/json", strings.NewReader(`{"bbox":[10,50,11,51]}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var got map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := map[string]int{"sentinel-2": 5, "landsat": 3, "other": 2, "total": 10}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("summary=%v want %v", got, want)
		}
	}
}

func TestSummaryEndToEnd_OneCollectionFails(t *testing.T) {
	up := fakeSTAC(t, map[string]int{"sentinel-2-l2a": 5, "landsat-c2-l2": 3, "custom-x": 2}, "landsat-c2-l2")
	srv := newStack(t, up.URL, 0)

	resp, err := http.Post(srv.URL+"/api/search/summary", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var got map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || got["landsat"] != 0 || got["total"] != 7 {
		t.Fatalf("status=%d summary=%v", resp.StatusCode, got)
	}
}

func TestSummaryEndToEnd_CatalogDown(t *testing.T) {
	srv := newStack(t, "http://127.0.0.1:1", 0)

	resp, err := http.Post(srv.URL+"/api/search/summary", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if got := strings.TrimSpace(string(b)); got != `{"landsat":0,"other":0,"sentinel-2":0,"total":0}` {
		t.Fatalf("body=%s", got)
	}
}

func TestRoutes(t *testing.T) {
	up := fakeSTAC(t, map[string]int{}, "")
	srv := newStack(t, up.URL, 0)

	for path, want := range map[string]int{
		"/healthz":         http.StatusOK,
		"/readyz":          http.StatusOK,
		"/health":          http.StatusOK,
		"/metrics":         http.StatusOK,
		"/api/catalogs":    http.StatusOK,
		"/api/collections": http.StatusOK,
		"/api/geocode":     http.StatusBadRequest,
		"/nope":            http.StatusNotFound,
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("%s: status=%d want %d", path, resp.StatusCode, want)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	up := fakeSTAC(t, map[string]int{}, "")
	srv := newStack(t, up.URL, 0)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/search", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	_ = resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}
}

func TestRateLimit(t *testing.T) {
	up := fakeSTAC(t, map[string]int{}, "")
	srv := newStack(t, up.URL, 2)

	codes := make([]int, 0, 3)
	for range 3 {
		resp, err := http.Get(srv.URL + "/api/catalogs")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		_ = resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes=%v", codes)
	}

	// probes are outside the limited group
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status=%d", resp.StatusCode)
	}
}

func TestServe_ShutdownDrainsInFlight(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	entered := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(entered)
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write([]byte("done"))
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ln, config.Config{ShutdownTimeout: 2 * time.Second}, logger, handler) }()

	respCh := make(chan string, 1)
	go func() {
		resp, err := http.Get("http://" + ln.Addr().String())
		if err != nil {
			respCh <- "err: " + err.Error()
			return
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		respCh <- string(b)
	}()
	<-entered
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if got := <-respCh; got != "done" {
		t.Fatalf("in-flight request got %q", got)
	}
}

func TestServe_ShutdownTimeoutIsReported(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	handler := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		close(entered)
		<-release
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ln, config.Config{ShutdownTimeout: 50 * time.Millisecond}, logger, handler) }()

	go func() {
		resp, err := http.Get("http://" + ln.Addr().String())
		if err == nil {
			resp.Body.Close()
		}
	}()
	<-entered
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err=%v want drain deadline exceeded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after the drain window")
	}
}
