package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/whatnick/aws-tf-vibe/internal/core/observability"
)

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, p.Path(), nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	return rr.Body.String()
}

func TestProvider_ServesDefaultAndOwnRegistry(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test", Revision: "r", Branch: "b", BuildDate: "now"}})

	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "smoke"})
	p.Register(g)
	g.Set(42)
	if n := testutil.CollectAndCount(g); n == 0 {
		t.Fatalf("expected at least 1 sample from test_gauge, got %d", n)
	}

	observability.ObserveCollectionQuery("sentinel-2", nil)
	observability.IncSummaryDegraded("list_failed")

	body := scrape(t, p)
	for _, want := range []string{
		"go_goroutines",
		`stac_api_build_info{`,
		"test_gauge 42",
		`summary_collection_queries_total{family="sentinel-2",outcome="ok"}`,
		`summary_degraded_total{reason="list_failed"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in payload; got:\n%s", want, body)
		}
	}
}

func TestProvider_DefaultPath(t *testing.T) {
	if got := Init(Config{}).Path(); got != "/metrics" {
		t.Fatalf("path=%q", got)
	}
	if got := Init(Config{Path: "/m"}).Path(); got != "/m" {
		t.Fatalf("path=%q", got)
	}
}
