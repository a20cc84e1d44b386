package stac

import "github.com/whatnick/aws-tf-vibe/internal/core/model"

const (
	EarthSearchURL = "https://earth-search.aws.element84.com/v1"
	USGSLandsatURL = "https://landsatlook.usgs.gov/stac-server"
)

// Catalogs lists the well-known catalog endpoints offered to clients.
func Catalogs() []model.Catalog {
	return []model.Catalog{
		{ID: "earth-search", Name: "AWS Earth Search", URL: EarthSearchURL},
		{ID: "usgs-landsat", Name: "USGS Landsat", URL: USGSLandsatURL},
	}
}

// ResolveEndpoint picks the caller's endpoint or falls back to def.
func ResolveEndpoint(endpoint, def string) string {
	if endpoint != "" {
		return endpoint
	}
	if def != "" {
		return def
	}
	return EarthSearchURL
}
