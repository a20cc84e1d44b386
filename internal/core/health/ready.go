package health

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// Check is one readiness dependency, e.g. the redis catalog cache.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Readiness runs every check with a shared timeout and answers 503 when any
// of them fails.
func Readiness(timeout time.Duration, checks ...Check) http.HandlerFunc {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status string            `json:"status"`
			Failed map[string]string `json:"failed,omitempty"`
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		out := resp{Status: "ready"}
		for _, c := range checks {
			if err := c.Fn(ctx); err != nil {
				if out.Failed == nil {
					out.Failed = make(map[string]string)
				}
				out.Failed[c.Name] = err.Error()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if len(out.Failed) > 0 {
			out.Status = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		b, _ := json.Marshal(out)
		_, _ = w.Write(b)
	}
}
