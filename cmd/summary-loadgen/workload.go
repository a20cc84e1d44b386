package main

import (
	"fmt"
	"math"
	"math/rand"
)

// request is one summary payload from the pool.
type request struct {
	BBox       [4]float64 `json:"bbox"`
	StartDate  string     `json:"startDate,omitempty"`
	EndDate    string     `json:"endDate,omitempty"`
	CloudCover *float64   `json:"cloudCover,omitempty"`
	CatalogURL string     `json:"catalogUrl,omitempty"`
}

func (r request) bboxString() string {
	return fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", r.BBox[0], r.BBox[1], r.BBox[2], r.BBox[3])
}

// well imaged areas; popular requests cluster around them
var hotspots = [][2]float64{
	{18.0686, 59.3293},   // Stockholm
	{-122.4194, 37.7749}, // San Francisco
	{151.2093, -33.8688}, // Sydney
	{36.8219, -1.2921},   // Nairobi
	{-47.8825, -15.7942}, // Brasilia
}

var dateWindows = [][2]string{
	{"", ""},
	{"2024-01-01", "2024-03-31"},
	{"2024-06-01", "2024-08-31"},
	{"2023-01-01", "2023-12-31"},
}

var cloudCeilings = []float64{100, 50, 20, 10}

// makeRequests builds count payloads: a quarter (at least 8) around the
// hotspots and the rest scattered over land latitudes.
func makeRequests(count int, catalog string, r *rand.Rand) []request {
	out := make([]request, 0, count)
	hot := int(math.Max(8, float64(count/4)))

	for i := 0; len(out) < count; i++ {
		var lon, lat, w, h float64
		if i < hot {
			c := hotspots[i%len(hotspots)]
			lon, lat = c[0]+(r.Float64()-0.5)*0.4, c[1]+(r.Float64()-0.5)*0.4
			w, h = 0.1+r.Float64()*0.2, 0.1+r.Float64()*0.2
		} else {
			lon, lat = -170+r.Float64()*340, -55+r.Float64()*125
			w, h = 0.05+r.Float64()*0.5, 0.05+r.Float64()*0.5
		}
		win := dateWindows[r.Intn(len(dateWindows))]
		req := request{
			BBox:       [4]float64{lon - w/2, lat - h/2, lon + w/2, lat + h/2},
			StartDate:  win[0],
			EndDate:    win[1],
			CatalogURL: catalog,
		}
		if cc := cloudCeilings[r.Intn(len(cloudCeilings))]; cc < 100 {
			req.CloudCover = &cc
		}
		out = append(out, req)
	}
	return out
}
