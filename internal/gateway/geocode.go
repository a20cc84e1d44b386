package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"

	"github.com/whatnick/aws-tf-vibe/internal/core/model"
	"github.com/whatnick/aws-tf-vibe/internal/geometry"
)

const (
	DefaultNominatimURL = "https://nominatim.openstreetmap.org/search"
	DefaultUserAgent    = "STAC-Lookup-App/1.0"
)

type Geocoder interface {
	SearchLocation(ctx context.Context, query string) (model.Location, error)
}

// Nominatim resolves place names to a boundary polygon.
type Nominatim struct {
	logger   *slog.Logger
	t        *transport
	baseURL  string
	simplify geometry.Options
}

var _ Geocoder = (*Nominatim)(nil)

func NewNominatim(logger *slog.Logger, client *http.Client, baseURL string, simplify geometry.Options, opts Options) *Nominatim {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	if simplify == (geometry.Options{}) {
		simplify = geometry.DefaultOptions()
	}
	if opts.Upstream == "" {
		opts.Upstream = "nominatim"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	return &Nominatim{
		logger:   logger,
		t:        newTransport(logger, client, opts),
		baseURL:  baseURL,
		simplify: simplify,
	}
}

type nominatimFeature struct {
	Properties struct {
		DisplayName string `json:"display_name"`
	} `json:"properties"`
	Geometry model.Geometry `json:"geometry"`
	BBox     *model.BBox    `json:"bbox"`
}

type nominatimResponse struct {
	Features []nominatimFeature `json:"features"`
}

// SearchLocation returns the best match for query. Zero matches yield
// ErrLocationNotFound.
func (n *Nominatim) SearchLocation(ctx context.Context, query string) (model.Location, error) {
	u, err := url.Parse(n.baseURL)
	if err != nil {
		return model.Location{}, fmt.Errorf("parse geocoder url: %w", err)
	}
	params := u.Query()
	params.Set("q", query)
	params.Set("format", "geojson")
	params.Set("polygon_geojson", "1")
	params.Set("limit", "1")
	u.RawQuery = params.Encode()

	b, err := n.t.fetch(ctx, "search", http.MethodGet, u.String(), nil)
	if err != nil {
		return model.Location{}, fmt.Errorf("geocode: %w", err)
	}
	var resp nominatimResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		return model.Location{}, fmt.Errorf("decode geocode response: %w", err)
	}
	if len(resp.Features) == 0 {
		return model.Location{}, ErrLocationNotFound
	}

	f := resp.Features[0]
	geom, err := n.shape(f.Geometry)
	if err != nil {
		return model.Location{}, err
	}
	return model.Location{Name: f.Properties.DisplayName, Geometry: geom, BBox: f.BBox}, nil
}

// shape simplifies oversized polygons; other geometry types pass through.
func (n *Nominatim) shape(g model.Geometry) (model.Geometry, error) {
	if g.Type != "Polygon" {
		return g, nil
	}
	var p geometry.Polygon
	if err := json.Unmarshal(g.Coordinates, &p); err != nil {
		return model.Geometry{}, fmt.Errorf("decode polygon: %w", err)
	}
	before := p.OuterVertexCount()
	s := geometry.SimplifyIfNeeded(p, n.simplify)
	if s.OuterVertexCount() == before {
		return g, nil
	}
	coords, err := json.Marshal(s)
	if err != nil {
		return model.Geometry{}, fmt.Errorf("encode polygon: %w", err)
	}
	n.logger.Debug("simplified geocoder polygon", "before", before, "after", s.OuterVertexCount())
	return model.Geometry{Type: g.Type, Coordinates: coords}, nil
}
