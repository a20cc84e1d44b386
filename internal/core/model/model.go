// Package model defines core domain types shared across the service.
package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

const (
	FamilySentinel2 = "sentinel-2"
	FamilyLandsat   = "landsat"
	FamilyOther     = "other"

	// summary JSON key for the sum of all family buckets
	TotalKey = "total"

	// NoCloudFilter is the ceiling at which no cloud-cover clause is sent.
	NoCloudFilter = 100.0

	CloudCoverProperty = "eo:cloud_cover"
)

// BBox is west, south, east, north in degrees.
type BBox [4]float64

func (b BBox) West() float64  { return b[0] }
func (b BBox) South() float64 { return b[1] }
func (b BBox) East() float64  { return b[2] }
func (b BBox) North() float64 { return b[3] }

// Center returns lon, lat of the box midpoint.
func (b BBox) Center() (float64, float64) {
	return (b[0] + b[2]) / 2, (b[1] + b[3]) / 2
}

// String representation matching the STAC GET bbox parameter
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b[0], b[1], b[2], b[3])
}

// Filter is the loose, caller-supplied search filter. Dates are kept as the
// caller sent them and are only combined when both are present.
type Filter struct {
	BBox              *BBox
	CollectionID      string
	StartDate         string
	EndDate           string
	CloudCoverCeiling float64
	CatalogEndpoint   string
}

// NewFilter returns a filter with no cloud-cover constraint.
func NewFilter(endpoint string) Filter {
	return Filter{CloudCoverCeiling: NoCloudFilter, CatalogEndpoint: endpoint}
}

// QueryOp is a single property comparison of the STAC query extension.
type QueryOp struct {
	Lt *float64 `json:"lt,omitempty"`
}

type SearchRequest struct {
	Limit       int                `json:"limit"`
	BBox        *BBox              `json:"bbox,omitempty"`
	Collections []string           `json:"collections,omitempty"`
	Datetime    string             `json:"datetime,omitempty"`
	Query       map[string]QueryOp `json:"query,omitempty"`
}

type CollectionRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type CollectionList struct {
	Collections []CollectionRecord `json:"collections"`
}

// ItemCollection is a single page of search results. Features are kept raw;
// only their number matters to the aggregation.
type ItemCollection struct {
	Type           string            `json:"type"`
	Features       []json.RawMessage `json:"features"`
	Links          []json.RawMessage `json:"links,omitempty"`
	NumberMatched  *int              `json:"numberMatched,omitempty"`
	NumberReturned *int              `json:"numberReturned,omitempty"`
}

type Catalog struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

type Location struct {
	Name     string   `json:"name"`
	Geometry Geometry `json:"geometry"`
	BBox     *BBox    `json:"bbox,omitempty"`
}

// Summary holds per-family item counts. Total is only written by Seal, so
// it always equals the sum of the buckets it was sealed over.
type Summary struct {
	counts map[string]int
	order  []string
	total  int
}

// NewSummary returns the zero summary for the given family tags plus the
// catch-all other bucket.
func NewSummary(families []string) Summary {
	s := Summary{counts: make(map[string]int, len(families)+1)}
	for _, f := range families {
		if _, ok := s.counts[f]; ok || f == FamilyOther {
			continue
		}
		s.counts[f] = 0
		s.order = append(s.order, f)
	}
	s.counts[FamilyOther] = 0
	s.order = append(s.order, FamilyOther)
	return s
}

// Add accumulates n into a known bucket; unknown families land in other.
func (s *Summary) Add(family string, n int) {
	if n <= 0 {
		return
	}
	if s.counts == nil {
		*s = NewSummary(nil)
	}
	if _, ok := s.counts[family]; !ok {
		family = FamilyOther
	}
	s.counts[family] += n
}

// Seal recomputes the total from the buckets.
func (s *Summary) Seal() {
	t := 0
	for _, n := range s.counts {
		t += n
	}
	s.total = t
}

func (s Summary) Get(family string) int { return s.counts[family] }
func (s Summary) Total() int            { return s.total }

// Families returns bucket names in declaration order, other last.
func (s Summary) Families() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Counts returns a copy of the buckets including the total key.
func (s Summary) Counts() map[string]int {
	out := make(map[string]int, len(s.counts)+1)
	for k, v := range s.counts {
		out[k] = v
	}
	out[TotalKey] = s.total
	return out
}

func (s Summary) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(s.Counts())
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}
	return b, nil
}

func (s *Summary) UnmarshalJSON(b []byte) error {
	var m map[string]int
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("unmarshal summary: %w", err)
	}
	fams := make([]string, 0, len(m))
	for k := range m {
		if k == TotalKey || k == FamilyOther {
			continue
		}
		fams = append(fams, k)
	}
	sort.Strings(fams)
	*s = NewSummary(fams)
	for k, v := range m {
		if k == TotalKey {
			continue
		}
		s.counts[k] = v
	}
	s.Seal()
	return nil
}
