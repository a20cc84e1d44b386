// Package invalidation describes catalog change notifications that evict
// cached collection listings.
package invalidation

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	OpCollectionAdded   = "collection_added"
	OpCollectionRemoved = "collection_removed"
	OpCollectionUpdated = "collection_updated"
	OpCatalogRefresh    = "catalog_refresh"
)

// Event says that the collection set of one catalog changed.
type Event struct {
	Version    int       `json:"version"`
	Op         string    `json:"op"`
	Endpoint   string    `json:"endpoint"`
	Collection string    `json:"collection,omitempty"`
	TS         time.Time `json:"ts"`
	Source     string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return errors.New("version must be 1")
	}
	switch e.Op {
	case OpCollectionAdded, OpCollectionRemoved, OpCollectionUpdated:
		if strings.TrimSpace(e.Collection) == "" {
			return fmt.Errorf("collection is required for %s", e.Op)
		}
	case OpCatalogRefresh:
	default:
		return errors.New("op must be collection_added|collection_removed|collection_updated|catalog_refresh")
	}
	u, err := url.Parse(strings.TrimSpace(e.Endpoint))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("endpoint must be an absolute http(s) URL")
	}
	if e.TS.IsZero() {
		return errors.New("ts is required")
	}
	return nil
}
