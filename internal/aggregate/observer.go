package aggregate

import (
	"context"
	"log/slog"

	"github.com/whatnick/aws-tf-vibe/internal/core/model"
	"github.com/whatnick/aws-tf-vibe/internal/core/observability"
)

// Observer receives the engine's diagnostic events.
type Observer interface {
	ListFailed(ctx context.Context, f model.Filter, err error)
	CollectionFailed(ctx context.Context, endpoint, collection, family string, err error)
	CollectionCounted(ctx context.Context, endpoint, collection, family string, n int)
}

// LogObserver logs failures and records per-collection metrics.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) ListFailed(ctx context.Context, f model.Filter, err error) {
	attrs := []any{"endpoint", f.CatalogEndpoint, "collection", f.CollectionID,
		"start", f.StartDate, "end", f.EndDate, "cloud_cover", f.CloudCoverCeiling, "err", err}
	if f.BBox != nil {
		attrs = append(attrs, "bbox", f.BBox.String())
	}
	o.Logger.ErrorContext(ctx, "list collections failed; returning empty summary", attrs...)
}

func (o LogObserver) CollectionFailed(ctx context.Context, endpoint, collection, family string, err error) {
	observability.ObserveCollectionQuery(family, err)
	o.Logger.WarnContext(ctx, "collection count failed",
		"endpoint", endpoint, "collection", collection, "family", family, "err", err)
}

func (o LogObserver) CollectionCounted(_ context.Context, _, _, family string, _ int) {
	observability.ObserveCollectionQuery(family, nil)
}
