// Package stac builds STAC API item-search requests and endpoint URLs.
package stac

import (
	"strings"

	"github.com/whatnick/aws-tf-vibe/internal/core/model"
)

// DefaultPageLimit is the single page size requested from a catalog.
const DefaultPageLimit = 50

func CollectionsEndpoint(catalogBase string) string {
	return strings.TrimRight(catalogBase, "/") + "/collections"
}

func SearchEndpoint(catalogBase string) string {
	return strings.TrimRight(catalogBase, "/") + "/search"
}

// BuildSearchRequest turns a filter into a search body. Absent filter fields
// are left out entirely; an empty override keeps the filter's own collection.
func BuildSearchRequest(f model.Filter, collectionOverride string) model.SearchRequest {
	return BuildSearchRequestLimit(f, collectionOverride, DefaultPageLimit)
}

func BuildSearchRequestLimit(f model.Filter, collectionOverride string, limit int) model.SearchRequest {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	req := model.SearchRequest{Limit: limit}

	if f.BBox != nil {
		bb := *f.BBox
		req.BBox = &bb
	}

	switch {
	case collectionOverride != "":
		req.Collections = []string{collectionOverride}
	case f.CollectionID != "":
		req.Collections = []string{f.CollectionID}
	}

	// one-sided ranges are dropped
	if f.StartDate != "" && f.EndDate != "" {
		req.Datetime = f.StartDate + "/" + f.EndDate
	}

	if f.CloudCoverCeiling < model.NoCloudFilter {
		lt := f.CloudCoverCeiling
		req.Query = map[string]model.QueryOp{
			model.CloudCoverProperty: {Lt: &lt},
		}
	}
	return req
}
