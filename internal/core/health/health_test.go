package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestLiveness_Handler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	Liveness()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	ct := rr.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type=%q want text/plain", ct)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "ok" {
		t.Fatalf("body=%q want ok", got)
	}
}

func TestReadiness_AllChecksPass(t *testing.T) {
	h := Readiness(time.Second, Check{Name: "cache", Fn: func(context.Context) error { return nil }})
	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != `{"status":"ready"}` {
		t.Fatalf("body=%s", got)
	}
}

func TestReadiness_FailingCheck(t *testing.T) {
	h := Readiness(time.Second,
		Check{Name: "ok", Fn: func(context.Context) error { return nil }},
		Check{Name: "redis", Fn: func(context.Context) error { return errors.New("connection refused") }},
	)
	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want 503", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"not_ready"`) || !strings.Contains(body, `"redis":"connection refused"`) {
		t.Fatalf("body=%s", body)
	}
}
