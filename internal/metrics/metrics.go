// Package metrics builds the /metrics handler for the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type BuildInfo struct {
	Version   string
	Revision  string
	Branch    string
	BuildDate string
}

type Config struct {
	Path  string
	Build BuildInfo
}

// Provider serves the default registry, where the go, process and
// observability collectors already live, together with its own registry
// for build metadata and anything registered later.
type Provider struct {
	reg  *prometheus.Registry
	path string
}

func Init(cfg Config) *Provider {
	reg := prometheus.NewRegistry()

	build := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stac_api_build_info",
			Help: "Build info for this binary (value is always 1).",
		},
		[]string{"version", "revision", "branch", "build_date"},
	)
	reg.MustRegister(build)
	v := cfg.Build
	if v.Version == "" {
		v.Version = "dev"
	}
	build.WithLabelValues(v.Version, v.Revision, v.Branch, v.BuildDate).Set(1)

	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	return &Provider{reg: reg, path: path}
}

func (p *Provider) Path() string { return p.path }

func (p *Provider) Handler() http.Handler {
	g := prometheus.Gatherers{prometheus.DefaultGatherer, p.reg}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (p *Provider) Register(cs ...prometheus.Collector) {
	for _, c := range cs {
		p.reg.MustRegister(c)
	}
}

func (p *Provider) Registerer() prometheus.Registerer { return p.reg }
