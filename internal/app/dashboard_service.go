package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"parkmon/internal/domain"

	"golang.org/x/sync/errgroup"
)

// Collection names a bucketed history kept by the DashboardService.
type Collection string

const (
	CollectionRegionStats   Collection = "region_statistics"
	CollectionValidParkings Collection = "valid_parking"
)

// DashboardService is the application state store. It keeps the displayed
// time bucket and, per collection, a history of snapshots keyed by bucket.
// Histories only grow: buckets are created by the first received page and
// later pages are merged in.
type DashboardService struct {
	api      domain.MonitoringAPI
	notifier domain.Notifier
	log      *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu             sync.Mutex
	dataTime       domain.Bucket
	hasDataTime    bool
	autoUpdate     bool
	selectedRegion string

	regions  map[string]domain.Region
	parkings map[string]domain.Parking

	regionUsageHistory   map[domain.Bucket]map[string]domain.RegionUsage
	validParkingsHistory map[domain.Bucket]map[string]struct{}

	inFlight        map[Collection]map[domain.Bucket]bool
	regionsFetching bool
}

// NewDashboardService creates an empty state store with auto update on.
func NewDashboardService(api domain.MonitoringAPI, notifier domain.Notifier, logger *slog.Logger) *DashboardService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DashboardService{
		api:                  api,
		notifier:             notifier,
		log:                  logger,
		interval:             domain.BucketInterval,
		now:                  time.Now,
		autoUpdate:           true,
		regions:              make(map[string]domain.Region),
		parkings:             make(map[string]domain.Parking),
		regionUsageHistory:   make(map[domain.Bucket]map[string]domain.RegionUsage),
		validParkingsHistory: make(map[domain.Bucket]map[string]struct{}),
		inFlight: map[Collection]map[domain.Bucket]bool{
			CollectionRegionStats:   {},
			CollectionValidParkings: {},
		},
	}
}

// WithInterval sets the bucket width.
func (s *DashboardService) WithInterval(d time.Duration) *DashboardService {
	if d > 0 {
		s.interval = d
	}
	return s
}

// WithClock replaces the clock used by UpdateData.
func (s *DashboardService) WithClock(now func() time.Time) *DashboardService {
	s.now = now
	return s
}

// DataTime returns the start of the displayed bucket.
func (s *DashboardService) DataTime() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataTime.Time(), s.hasDataTime
}

// SetDataTime selects the bucket containing t and fetches the region
// statistics and valid parkings for it unless already cached or in flight.
// Selecting the displayed bucket again retries a fetch that failed before it
// delivered anything. A zero t is ignored.
func (s *DashboardService) SetDataTime(ctx context.Context, t time.Time) error {
	if t.IsZero() {
		return nil
	}
	b := domain.RoundTime(t, s.interval)

	s.mu.Lock()
	changed := !s.hasDataTime || s.dataTime != b
	s.dataTime, s.hasDataTime = b, true
	s.mu.Unlock()

	if changed {
		s.log.Debug("data time set", "bucket", b.Time())
	}

	var g errgroup.Group
	g.Go(func() error { return s.FetchRegionStats(ctx, b) })
	g.Go(func() error { return s.FetchValidParkings(ctx, b) })
	return g.Wait()
}

// UpdateData selects the bucket containing the current time.
func (s *DashboardService) UpdateData(ctx context.Context) error {
	return s.SetDataTime(ctx, s.now())
}

// SetAutoUpdate toggles periodic updates done by RunAutoUpdate.
func (s *DashboardService) SetAutoUpdate(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoUpdate = v
}

// AutoUpdate reports whether periodic updates are on.
func (s *DashboardService) AutoUpdate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoUpdate
}

// SetSelectedRegion selects a region; "" clears the selection.
func (s *DashboardService) SetSelectedRegion(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedRegion = id
}

// SelectedRegion returns the selected region id or "".
func (s *DashboardService) SelectedRegion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedRegion
}

// RunAutoUpdate calls UpdateData now and then every interval while auto
// update is on, invoking onUpdate after each attempt. It returns when ctx is
// done. Fetch failures have already been reported through the notifier.
func (s *DashboardService) RunAutoUpdate(ctx context.Context, every time.Duration, onUpdate func(error)) error {
	update := func() {
		err := s.UpdateData(ctx)
		if onUpdate != nil {
			onUpdate(err)
		}
	}
	update()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.AutoUpdate() {
				update()
			}
		}
	}
}

// claim marks bucket b of collection c as being fetched. It fails when b is
// already cached or in flight for that collection.
func (s *DashboardService) claim(c Collection, b domain.Bucket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cached bool
	switch c {
	case CollectionRegionStats:
		_, cached = s.regionUsageHistory[b]
	case CollectionValidParkings:
		_, cached = s.validParkingsHistory[b]
	}
	if cached || s.inFlight[c][b] {
		return false
	}
	s.inFlight[c][b] = true
	return true
}

func (s *DashboardService) release(c Collection, b domain.Bucket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight[c], b)
}

// FetchRegionStats fetches region statistics for bucket b unless they are
// cached. Regions the store has not seen yet are fetched afterwards.
func (s *DashboardService) FetchRegionStats(ctx context.Context, b domain.Bucket) error {
	if !s.claim(CollectionRegionStats, b) {
		s.log.Debug("region statistics cached", "bucket", b.Time())
		return nil
	}
	defer s.release(CollectionRegionStats, b)

	needsRegions := false
	err := s.api.FetchRegionStats(ctx, b.Time(), func(page *domain.Page[domain.RegionStats]) {
		if s.hasUnknownRegion(page.Items()) {
			needsRegions = true
		}
		s.ReceiveRegionStats(b, page)
	})
	if err != nil {
		s.report("Region statistics fetch failed", err)
		err = fmt.Errorf("fetch region statistics: %w", err)
	}
	if needsRegions {
		err = errors.Join(err, s.FetchRegions(ctx))
	}
	return err
}

// FetchValidParkings fetches the parkings valid at bucket b unless cached.
func (s *DashboardService) FetchValidParkings(ctx context.Context, b domain.Bucket) error {
	if !s.claim(CollectionValidParkings, b) {
		s.log.Debug("valid parkings cached", "bucket", b.Time())
		return nil
	}
	defer s.release(CollectionValidParkings, b)

	err := s.api.FetchValidParkings(ctx, b.Time(), func(page *domain.Page[domain.Parking]) {
		s.ReceiveValidParkings(b, page)
	})
	if err != nil {
		s.report("Valid parkings fetch failed", err)
		return fmt.Errorf("fetch valid parkings: %w", err)
	}
	return nil
}

// FetchRegions fetches region geometry and properties. Concurrent calls
// while a fetch is running return immediately.
func (s *DashboardService) FetchRegions(ctx context.Context) error {
	s.mu.Lock()
	if s.regionsFetching {
		s.mu.Unlock()
		return nil
	}
	s.regionsFetching = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.regionsFetching = false
		s.mu.Unlock()
	}()

	if err := s.api.FetchRegions(ctx, s.ReceiveRegions); err != nil {
		s.report("Region fetch failed", err)
		return fmt.Errorf("fetch regions: %w", err)
	}
	return nil
}

func (s *DashboardService) report(what string, err error) {
	s.log.Error(what, "error", err)
	if s.notifier != nil {
		s.notifier.Notify(what + ": " + FailureReason(err))
	}
}

func (s *DashboardService) hasUnknownRegion(stats []domain.RegionStats) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range stats {
		if _, ok := s.regions[st.ID]; !ok {
			return true
		}
	}
	return false
}

// ReceiveRegions merges a page of regions by id.
func (s *DashboardService) ReceiveRegions(page *domain.Page[domain.Region]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range page.Items() {
		s.regions[r.ID] = r
	}
}

// ReceiveRegionStats merges a page of statistics into bucket b.
func (s *DashboardService) ReceiveRegionStats(b domain.Bucket, page *domain.Page[domain.RegionStats]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	usage, ok := s.regionUsageHistory[b]
	if !ok {
		usage = make(map[string]domain.RegionUsage)
		s.regionUsageHistory[b] = usage
	}
	for _, st := range page.Items() {
		usage[st.ID] = domain.ConvertRegionStats(st)
	}
}

// ReceiveValidParkings merges a page of parkings into bucket b.
func (s *DashboardService) ReceiveValidParkings(b domain.Bucket, page *domain.Page[domain.Parking]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, ok := s.validParkingsHistory[b]
	if !ok {
		ids = make(map[string]struct{})
		s.validParkingsHistory[b] = ids
	}
	for _, p := range page.Items() {
		s.parkings[p.ID] = p
		ids[p.ID] = struct{}{}
	}
}

// HistorySize returns how many buckets each history holds.
func (s *DashboardService) HistorySize() (regionStats, validParkings int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.regionUsageHistory), len(s.validParkingsHistory)
}

// ValidParkingIDs returns the sorted parking ids cached for bucket b.
func (s *DashboardService) ValidParkingIDs(b domain.Bucket) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.validParkingsHistory[b]
	if !ok {
		return nil, false
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, true
}

// RegionUsageAt returns a copy of the usage cached for bucket b.
func (s *DashboardService) RegionUsageAt(b domain.Bucket) (map[string]domain.RegionUsage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	usage, ok := s.regionUsageHistory[b]
	if !ok {
		return nil, false
	}
	out := make(map[string]domain.RegionUsage, len(usage))
	for k, v := range usage {
		out[k] = v
	}
	return out, true
}

// RegionView is a region enriched with the usage of the displayed bucket.
type RegionView struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	CapacityEstimate int             `json:"capacityEstimate"`
	AreaKm2          float64         `json:"areaKm2"`
	SpotsPerKm2      float64         `json:"spotsPerKm2"`
	ParkingCount     int             `json:"parkingCount"`
	IsSelected       bool            `json:"isSelected"`
	Geometry         json.RawMessage `json:"geometry,omitempty"`
}

// RegionUsage returns every known region with the parking count of the
// displayed bucket, ordered by id.
func (s *DashboardService) RegionUsage() []RegionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	var usage map[string]domain.RegionUsage
	if s.hasDataTime {
		usage = s.regionUsageHistory[s.dataTime]
	}

	views := make([]RegionView, 0, len(s.regions))
	for id, r := range s.regions {
		v := RegionView{
			ID:           id,
			ParkingCount: usage[id].ParkingCount,
			IsSelected:   id == s.selectedRegion,
			Geometry:     r.Geometry,
		}
		if p := r.Properties; p != nil {
			v.Name = p.Name
			v.CapacityEstimate = p.CapacityEstimate
			v.AreaKm2 = p.AreaKm2
			v.SpotsPerKm2 = p.SpotsPerKm2
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// RegionChoice is an entry of the region selector.
type RegionChoice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RegionChoices lists regions by name, unnamed ones last.
func (s *DashboardService) RegionChoices() []RegionChoice {
	s.mu.Lock()
	defer s.mu.Unlock()

	choices := make([]RegionChoice, 0, len(s.regions))
	for id, r := range s.regions {
		c := RegionChoice{ID: id}
		if r.Properties != nil {
			c.Name = r.Properties.Name
		}
		choices = append(choices, c)
	}
	sort.Slice(choices, func(i, j int) bool {
		a, b := choices[i], choices[j]
		if (a.Name == "") != (b.Name == "") {
			return a.Name != ""
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	return choices
}

// ParkingRow is a row of the valid parkings table.
type ParkingRow struct {
	ID                 string     `json:"id"`
	RegistrationNumber string     `json:"registrationNumber"`
	Region             string     `json:"region,omitempty"`
	OperatorName       string     `json:"operatorName"`
	Zone               int        `json:"zone"`
	TerminalNumber     string     `json:"terminalNumber,omitempty"`
	TimeStart          time.Time  `json:"timeStart"`
	TimeEnd            *time.Time `json:"timeEnd"`
	CreatedAt          time.Time  `json:"createdAt"`
	ModifiedAt         time.Time  `json:"modifiedAt"`
}

// ValidParkingRows returns the parkings valid in the displayed bucket,
// restricted to the selected region if any, ordered by start time.
func (s *DashboardService) ValidParkingRows() []ParkingRow {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasDataTime {
		return nil
	}
	ids := s.validParkingsHistory[s.dataTime]
	rows := make([]ParkingRow, 0, len(ids))
	for id := range ids {
		p, ok := s.parkings[id]
		if !ok {
			continue
		}
		props := p.Properties
		if s.selectedRegion != "" && props.Region != s.selectedRegion {
			continue
		}
		rows = append(rows, ParkingRow{
			ID:                 p.ID,
			RegistrationNumber: props.RegistrationNumber,
			Region:             props.Region,
			OperatorName:       props.OperatorName,
			Zone:               props.Zone,
			TerminalNumber:     props.TerminalNumber,
			TimeStart:          props.TimeStart,
			TimeEnd:            props.TimeEnd,
			CreatedAt:          props.CreatedAt,
			ModifiedAt:         props.ModifiedAt,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].TimeStart.Equal(rows[j].TimeStart) {
			return rows[i].TimeStart.Before(rows[j].TimeStart)
		}
		return rows[i].ID < rows[j].ID
	})
	return rows
}
