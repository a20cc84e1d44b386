package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/whatnick/aws-tf-vibe/internal/aggregate"
	"github.com/whatnick/aws-tf-vibe/internal/catalogcache"
	"github.com/whatnick/aws-tf-vibe/internal/core/config"
	"github.com/whatnick/aws-tf-vibe/internal/core/health"
	"github.com/whatnick/aws-tf-vibe/internal/core/httpclient"
	"github.com/whatnick/aws-tf-vibe/internal/core/observability"
	"github.com/whatnick/aws-tf-vibe/internal/core/router"
	"github.com/whatnick/aws-tf-vibe/internal/core/server"
	"github.com/whatnick/aws-tf-vibe/internal/family"
	"github.com/whatnick/aws-tf-vibe/internal/gateway"
	"github.com/whatnick/aws-tf-vibe/internal/geometry"
	"github.com/whatnick/aws-tf-vibe/internal/invalidation/kafkaconsumer"
	"github.com/whatnick/aws-tf-vibe/internal/logger"
	"github.com/whatnick/aws-tf-vibe/internal/metrics"
	"github.com/whatnick/aws-tf-vibe/internal/summaryevents"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	envFile := flag.String("env-file", ".env", "optional dotenv file")
	addr := flag.String("addr", "", "listen address (overrides ADDR)")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		slog.Error("dotenv", "err", err)
		return 1
	}
	cfg := config.FromEnv()
	if *addr != "" {
		cfg.Addr = strings.TrimSpace(*addr)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Service:   "stac-api",
		Component: "api",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	mp := metrics.Init(metrics.Config{
		Path: os.Getenv("METRICS_PATH"),
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})

	appLog.Info("starting stac api",
		"addr", cfg.Addr,
		"version", Version,
		"default_catalog", cfg.DefaultEndpoint,
		"catalog_cache", cfg.Cache.Driver,
		"summary_events", cfg.Events.Enabled)

	table := family.DefaultTable()
	if cfg.FamilyTableFile != "" {
		t, err := family.LoadTable(cfg.FamilyTableFile)
		if err != nil {
			appLog.Error("failed to load family table", "path", cfg.FamilyTableFile, "err", err)
			return 1
		}
		table = t
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := httpclient.NewOutbound(max(cfg.CollectionTimeout, cfg.ListTimeout))
	upstream := gateway.Options{
		Upstream:        "stac",
		RPS:             cfg.UpstreamRPS,
		Burst:           cfg.UpstreamBurst,
		BreakerFailures: cfg.BreakerFailures,
		BreakerTimeout:  cfg.BreakerTimeout,
	}

	var catalog gateway.CatalogClient = gateway.NewCatalog(appLog, httpClient, upstream)
	var ready []health.Check

	store, err := catalogcache.Open(ctx, cfg.Cache)
	if err != nil {
		appLog.Error("catalog cache setup failed", "driver", cfg.Cache.Driver, "err", err)
		return 1
	}
	if store != nil {
		cached := catalogcache.Wrap(appLog, catalog, store, cfg.Cache.TTL, cfg.Cache.OpTimeout)
		defer func() {
			if err := cached.Close(); err != nil {
				appLog.Warn("catalog cache close", "err", err)
			}
		}()
		catalog = cached
		if rs, ok := store.(*catalogcache.RedisStore); ok {
			ready = append(ready, health.Check{Name: "redis", Fn: rs.Ping})
		}

		if cfg.Invalidation.Enabled {
			consumer := kafkaconsumer.New(kafkaconsumer.Config{
				Brokers:             cfg.Events.BrokerList(),
				Topic:               cfg.Invalidation.Topic,
				GroupID:             cfg.Invalidation.GroupID,
				InitialOffsetOldest: cfg.Invalidation.InitialOldest,
			}, appLog, &zl, cached)
			go func() {
				if err := consumer.Start(ctx); err != nil {
					appLog.Error("catalog invalidation consumer stopped", "err", err)
				}
			}()
		}
	} else if cfg.Invalidation.Enabled {
		appLog.Warn("catalog invalidation enabled without a catalog cache; ignoring")
	}

	geoOpts := upstream
	geoOpts.Upstream = "nominatim"
	geoOpts.UserAgent = cfg.GeocoderUserAgent
	// public nominatim allows one request per second
	geoOpts.RPS, geoOpts.Burst = 1, 1
	geocoder := gateway.NewNominatim(appLog, httpClient, cfg.GeocoderURL, geometry.Options{
		VertexThreshold: cfg.SimplifyThreshold,
		Tolerance:       cfg.SimplifyTolerance,
	}, geoOpts)

	var engOpts []aggregate.Option
	if cfg.Events.Enabled {
		pub, err := summaryevents.NewPublisher(appLog, cfg.Events.BrokerList(), cfg.Events.Topic, cfg.Events.Queue, cfg.Events.H3Res)
		if err != nil {
			appLog.Error("summary events setup failed", "brokers", cfg.Events.Brokers, "err", err)
			return 1
		}
		defer func() {
			if err := pub.Close(); err != nil {
				appLog.Warn("summary events close", "err", err)
			}
		}()
		engOpts = append(engOpts, aggregate.WithSink(pub))
	}

	engine := aggregate.New(appLog, catalog, aggregate.Config{
		Table:             table,
		PageLimit:         cfg.PageLimit,
		MaxWorkers:        cfg.SummaryMaxWorkers,
		QueueSize:         cfg.SummaryQueue,
		CollectionTimeout: cfg.CollectionTimeout,
		ListTimeout:       cfg.ListTimeout,
		DefaultEndpoint:   cfg.DefaultEndpoint,
	}, engOpts...)

	h := &router.Handlers{
		Logger:          appLog,
		Catalog:         catalog,
		Geocoder:        geocoder,
		Summary:         engine,
		DefaultEndpoint: cfg.DefaultEndpoint,
		PageLimit:       cfg.PageLimit,
		SummaryTimeout:  cfg.SummaryTimeout,
	}
	handler := server.NewHandler(cfg, appLog, h, server.Options{
		Metrics:     mp.Handler(),
		MetricsPath: mp.Path(),
		Ready:       ready,
	})

	if err := server.Run(ctx, cfg, appLog, handler); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
