package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/whatnick/aws-tf-vibe/internal/core/model"
	"github.com/whatnick/aws-tf-vibe/internal/core/stac"
)

// CatalogClient is what the summary engine and handlers need from a catalog.
type CatalogClient interface {
	ListCollections(ctx context.Context, endpoint string) ([]model.CollectionRecord, error)
	Search(ctx context.Context, endpoint string, req model.SearchRequest) (model.ItemCollection, error)
	Count(ctx context.Context, endpoint string, req model.SearchRequest) (int, error)
}

// Catalog is the HTTP implementation of CatalogClient.
type Catalog struct {
	logger *slog.Logger
	t      *transport
}

var _ CatalogClient = (*Catalog)(nil)

func NewCatalog(logger *slog.Logger, client *http.Client, opts Options) *Catalog {
	if opts.Upstream == "" {
		opts.Upstream = "stac"
	}
	return &Catalog{logger: logger, t: newTransport(logger, client, opts)}
}

func (c *Catalog) ListCollections(ctx context.Context, endpoint string) ([]model.CollectionRecord, error) {
	b, err := c.t.fetch(ctx, "collections", http.MethodGet, stac.CollectionsEndpoint(endpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	var out model.CollectionList
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode collections: %w", err)
	}
	if out.Collections == nil {
		out.Collections = []model.CollectionRecord{}
	}
	return out.Collections, nil
}

func (c *Catalog) Search(ctx context.Context, endpoint string, req model.SearchRequest) (model.ItemCollection, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return model.ItemCollection{}, fmt.Errorf("encode search: %w", err)
	}
	b, err := c.t.fetch(ctx, "search", http.MethodPost, stac.SearchEndpoint(endpoint), body)
	if err != nil {
		return model.ItemCollection{}, fmt.Errorf("search: %w", err)
	}
	var ic model.ItemCollection
	if err := json.Unmarshal(b, &ic); err != nil {
		return model.ItemCollection{}, fmt.Errorf("decode item collection: %w", err)
	}
	return ic, nil
}

// Count is the number of features on the single returned page, so it is
// capped by the request limit.
func (c *Catalog) Count(ctx context.Context, endpoint string, req model.SearchRequest) (int, error) {
	ic, err := c.Search(ctx, endpoint, req)
	if err != nil {
		return 0, err
	}
	return len(ic.Features), nil
}
