package domain

import (
	"context"
	"encoding/json"
	"time"
)

// BucketInterval is the width of a time bucket in the history cache.
const BucketInterval = 5 * time.Minute

// Page is one page of a paginated collection. Plain collections carry their
// items in Results, GeoJSON collections in Features.
//
// Next and Previous are "" when the server sent null, an empty string or
// left the key out; "" is the only "no more pages" value.
type Page[T any] struct {
	Type     string `json:"type,omitempty"`
	Count    int    `json:"count"`
	Next     string `json:"next"`
	Previous string `json:"previous"`
	Results  []T    `json:"results,omitempty"`
	Features []T    `json:"features,omitempty"`
}

// Items returns the items of the page regardless of the envelope flavour.
func (p *Page[T]) Items() []T {
	if len(p.Features) > 0 {
		return p.Features
	}
	return p.Results
}

// HasNext reports whether another page follows.
func (p *Page[T]) HasNext() bool {
	return p.Next != ""
}

// Region is a monitoring region as a GeoJSON feature.
type Region struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Geometry   json.RawMessage   `json:"geometry"`
	Properties *RegionProperties `json:"properties"`
}

// RegionProperties are the non-geometric attributes of a Region.
type RegionProperties struct {
	Name             string   `json:"name"`
	CapacityEstimate int      `json:"capacity_estimate"`
	AreaKm2          float64  `json:"area_km2"`
	SpotsPerKm2      float64  `json:"spots_per_km2"`
	ParkingAreas     []string `json:"parking_areas"`
}

// RegionStats is the parking count of one region at a point in time.
type RegionStats struct {
	ID           string `json:"id"`
	ParkingCount int    `json:"parking_count"`
}

// Parking is a parking record as a GeoJSON point feature.
type Parking struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Geometry   json.RawMessage   `json:"geometry"`
	Properties ParkingProperties `json:"properties"`
}

// ParkingProperties are the attributes of a Parking.
type ParkingProperties struct {
	RegistrationNumber string     `json:"registration_number"`
	Region             string     `json:"region"`
	Zone               int        `json:"zone"`
	TerminalNumber     string     `json:"terminal_number"`
	OperatorName       string     `json:"operator_name"`
	TimeStart          time.Time  `json:"time_start"`
	TimeEnd            *time.Time `json:"time_end"`
	CreatedAt          time.Time  `json:"created_at"`
	ModifiedAt         time.Time  `json:"modified_at"`
}

// RegionUsage is what the history keeps per region and bucket.
type RegionUsage struct {
	ParkingCount int `json:"parkingCount"`
}

// MonitoringAPI is the port for the paginated monitoring collections and the
// CSV export. The fetch methods deliver pages to onPage in server order and
// return the first error, after which no more pages are delivered.
type MonitoringAPI interface {
	FetchRegions(ctx context.Context, onPage func(*Page[Region])) error
	FetchRegionStats(ctx context.Context, at time.Time, onPage func(*Page[RegionStats])) error
	FetchValidParkings(ctx context.Context, at time.Time, onPage func(*Page[Parking])) error
	Export(ctx context.Context, filters ExportFilters) (*ExportFile, error)
}

// Notifier surfaces background failures to the operator.
type Notifier interface {
	Notify(msg string)
}
