// Package router holds the HTTP handlers in front of the catalog gateway,
// the geocoder and the summary engine.
package router

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/whatnick/aws-tf-vibe/internal/core/model"
	"github.com/whatnick/aws-tf-vibe/internal/core/observability"
	"github.com/whatnick/aws-tf-vibe/internal/core/stac"
	"github.com/whatnick/aws-tf-vibe/internal/gateway"
)

// Summarizer produces a family summary; it never fails.
type Summarizer interface {
	Summarize(ctx context.Context, f model.Filter) model.Summary
}

type Handlers struct {
	Logger          *slog.Logger
	Catalog         gateway.CatalogClient
	Geocoder        gateway.Geocoder
	Summary         Summarizer
	DefaultEndpoint string
	PageLimit       int
	SummaryTimeout  time.Duration
	Now             func() time.Time
}

const maxBody = 1 << 20

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handlers) defaultEndpoint() string {
	return stac.ResolveEndpoint("", h.DefaultEndpoint)
}

// Catalogs lists the built-in catalogs.
func (h *Handlers) Catalogs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, stac.Catalogs())
}

func (h *Handlers) Collections(w http.ResponseWriter, r *http.Request) {
	endpoint := stac.ResolveEndpoint(strings.TrimSpace(r.URL.Query().Get("catalog")), h.DefaultEndpoint)
	cols, err := h.Catalog.ListCollections(r.Context(), endpoint)
	if err != nil {
		h.upstreamError(w, r, "list collections", err, "endpoint", endpoint)
		return
	}
	writeJSON(w, http.StatusOK, model.CollectionList{Collections: cols})
}

func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	f, ok := h.decodeFilter(w, r)
	if !ok {
		return
	}
	ic, err := h.Catalog.Search(r.Context(), f.CatalogEndpoint, stac.BuildSearchRequestLimit(f, "", h.PageLimit))
	if err != nil {
		h.upstreamError(w, r, "search", err, "endpoint", f.CatalogEndpoint)
		return
	}
	if ic.Features == nil {
		ic.Features = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, ic)
}

func (h *Handlers) Count(w http.ResponseWriter, r *http.Request) {
	f, ok := h.decodeFilter(w, r)
	if !ok {
		return
	}
	n, err := h.Catalog.Count(r.Context(), f.CatalogEndpoint, stac.BuildSearchRequestLimit(f, "", h.PageLimit))
	if err != nil {
		h.upstreamError(w, r, "count", err, "endpoint", f.CatalogEndpoint)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// Summary always answers 200; failures show up as zero buckets.
func (h *Handlers) Summary(w http.ResponseWriter, r *http.Request) {
	f, ok := h.decodeFilter(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if h.SummaryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.SummaryTimeout)
		defer cancel()
	}
	writeJSON(w, http.StatusOK, h.Summary.Summarize(ctx, f))
}

func (h *Handlers) Geocode(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "Query parameter required")
		return
	}
	loc, err := h.Geocoder.SearchLocation(r.Context(), q)
	if errors.Is(err, gateway.ErrLocationNotFound) {
		h.Logger.InfoContext(r.Context(), "geocode miss", "query", q)
		writeError(w, http.StatusNotFound, gateway.ErrLocationNotFound.Error())
		return
	}
	if err != nil {
		h.upstreamError(w, r, "geocode", err, "query", q)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// Health is the JSON health document of the web client.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

func (h *Handlers) decodeFilter(w http.ResponseWriter, r *http.Request) (model.Filter, bool) {
	var p SearchPayload
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return model.Filter{}, false
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return model.Filter{}, false
		}
	}
	if err := validatePayload(&p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return model.Filter{}, false
	}
	return p.Filter(h.defaultEndpoint()), true
}

func (h *Handlers) upstreamError(w http.ResponseWriter, r *http.Request, op string, err error, kv ...any) {
	h.Logger.ErrorContext(r.Context(), op+" failed", append(kv, "err", err)...)
	writeError(w, http.StatusBadGateway, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "encode response: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Instrument records request count and latency under a fixed route label.
func Instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
