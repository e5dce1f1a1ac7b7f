package adapthttp

import (
	"context"
	"net/url"
	"time"

	"parkmon/internal/domain"
)

// timeParamLayout matches what browsers send for Date.toISOString.
const timeParamLayout = "2006-01-02T15:04:05.000Z"

func timeQuery(at time.Time) url.Values {
	if at.IsZero() {
		return nil
	}
	return url.Values{"time": {at.UTC().Format(timeParamLayout)}}
}

// FetchRegions walks the region collection.
func (c *Client) FetchRegions(ctx context.Context, onPage func(*domain.Page[domain.Region])) error {
	return fetchAll(ctx, c, c.endpoint(pathRegions, nil), onPage)
}

// FetchRegionStats walks the per-region parking counts valid at at.
func (c *Client) FetchRegionStats(ctx context.Context, at time.Time, onPage func(*domain.Page[domain.RegionStats])) error {
	return fetchAll(ctx, c, c.endpoint(pathRegionStats, timeQuery(at)), onPage)
}

// FetchValidParkings walks the parkings valid at at.
func (c *Client) FetchValidParkings(ctx context.Context, at time.Time, onPage func(*domain.Page[domain.Parking])) error {
	return fetchAll(ctx, c, c.endpoint(pathValidParkings, timeQuery(at)), onPage)
}
