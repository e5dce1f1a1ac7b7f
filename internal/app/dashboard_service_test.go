package app

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"parkmon/internal/domain"
)

type mockMonitoringAPI struct {
	fetchRegionsFn  func(ctx context.Context, onPage func(*domain.Page[domain.Region])) error
	fetchStatsFn    func(ctx context.Context, at time.Time, onPage func(*domain.Page[domain.RegionStats])) error
	fetchParkingsFn func(ctx context.Context, at time.Time, onPage func(*domain.Page[domain.Parking])) error
	exportFn        func(ctx context.Context, f domain.ExportFilters) (*domain.ExportFile, error)

	regionCalls   atomic.Int32
	statsCalls    atomic.Int32
	parkingsCalls atomic.Int32
}

func (m *mockMonitoringAPI) FetchRegions(ctx context.Context, onPage func(*domain.Page[domain.Region])) error {
	m.regionCalls.Add(1)
	if m.fetchRegionsFn != nil {
		return m.fetchRegionsFn(ctx, onPage)
	}
	return nil
}

func (m *mockMonitoringAPI) FetchRegionStats(ctx context.Context, at time.Time, onPage func(*domain.Page[domain.RegionStats])) error {
	m.statsCalls.Add(1)
	if m.fetchStatsFn != nil {
		return m.fetchStatsFn(ctx, at, onPage)
	}
	onPage(&domain.Page[domain.RegionStats]{})
	return nil
}

func (m *mockMonitoringAPI) FetchValidParkings(ctx context.Context, at time.Time, onPage func(*domain.Page[domain.Parking])) error {
	m.parkingsCalls.Add(1)
	if m.fetchParkingsFn != nil {
		return m.fetchParkingsFn(ctx, at, onPage)
	}
	onPage(&domain.Page[domain.Parking]{})
	return nil
}

func (m *mockMonitoringAPI) Export(ctx context.Context, f domain.ExportFilters) (*domain.ExportFile, error) {
	if m.exportFn != nil {
		return m.exportFn(ctx, f)
	}
	return &domain.ExportFile{}, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Notify(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *recordingNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

var t0 = time.Date(2024, 3, 1, 12, 3, 20, 0, time.UTC)

func region(id, name string) domain.Region {
	return domain.Region{ID: id, Type: "Feature", Properties: &domain.RegionProperties{Name: name}}
}

func parking(id, regionID string, start time.Time) domain.Parking {
	return domain.Parking{
		ID:   id,
		Type: "Feature",
		Properties: domain.ParkingProperties{
			RegistrationNumber: "ABC-" + id,
			Region:             regionID,
			OperatorName:       "Operator",
			Zone:               1,
			TimeStart:          start,
		},
	}
}

func TestDashboardService_SetDataTimeFetchesOncePerBucket(t *testing.T) {
	ctx := context.Background()
	api := &mockMonitoringAPI{}
	svc := NewDashboardService(api, nil, nil)

	if err := svc.SetDataTime(ctx, t0); err != nil {
		t.Fatalf("SetDataTime: %v", err)
	}
	// Same bucket, different instant.
	if err := svc.SetDataTime(ctx, t0.Add(time.Minute)); err != nil {
		t.Fatalf("SetDataTime: %v", err)
	}
	if api.statsCalls.Load() != 1 || api.parkingsCalls.Load() != 1 {
		t.Fatalf("expected one fetch per collection, got stats=%d parkings=%d",
			api.statsCalls.Load(), api.parkingsCalls.Load())
	}

	got, ok := svc.DataTime()
	if !ok || !got.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("expected bucket start 12:00, got %v", got)
	}

	// Move away and back: the first bucket is served from the history.
	_ = svc.SetDataTime(ctx, t0.Add(10*time.Minute))
	_ = svc.SetDataTime(ctx, t0)
	if api.statsCalls.Load() != 2 || api.parkingsCalls.Load() != 2 {
		t.Errorf("expected one extra fetch per collection, got stats=%d parkings=%d",
			api.statsCalls.Load(), api.parkingsCalls.Load())
	}
	stats, parkings := svc.HistorySize()
	if stats != 2 || parkings != 2 {
		t.Errorf("expected two buckets per history, got %d and %d", stats, parkings)
	}
}

func TestDashboardService_ZeroTimeIgnored(t *testing.T) {
	api := &mockMonitoringAPI{}
	svc := NewDashboardService(api, nil, nil)

	if err := svc.SetDataTime(context.Background(), time.Time{}); err != nil {
		t.Fatalf("SetDataTime: %v", err)
	}
	if _, ok := svc.DataTime(); ok {
		t.Error("expected no data time")
	}
	if api.statsCalls.Load() != 0 {
		t.Error("expected no fetch")
	}
}

func TestDashboardService_FetchIfMissingIdempotent(t *testing.T) {
	ctx := context.Background()
	api := &mockMonitoringAPI{}
	svc := NewDashboardService(api, nil, nil)
	b := domain.RoundTime(t0, domain.BucketInterval)

	for i := 0; i < 3; i++ {
		if err := svc.FetchRegionStats(ctx, b); err != nil {
			t.Fatalf("FetchRegionStats: %v", err)
		}
		if err := svc.FetchValidParkings(ctx, b); err != nil {
			t.Fatalf("FetchValidParkings: %v", err)
		}
	}
	if api.statsCalls.Load() != 1 || api.parkingsCalls.Load() != 1 {
		t.Errorf("expected single fetches, got stats=%d parkings=%d",
			api.statsCalls.Load(), api.parkingsCalls.Load())
	}
}

func TestDashboardService_ConcurrentFetchSameBucket(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})
	api := &mockMonitoringAPI{
		fetchParkingsFn: func(ctx context.Context, at time.Time, onPage func(*domain.Page[domain.Parking])) error {
			close(started)
			<-release
			onPage(&domain.Page[domain.Parking]{Features: []domain.Parking{parking("p1", "r1", t0)}})
			return nil
		},
	}
	svc := NewDashboardService(api, nil, nil)
	b := domain.RoundTime(t0, domain.BucketInterval)

	done := make(chan error, 1)
	go func() { done <- svc.FetchValidParkings(ctx, b) }()
	<-started

	// In flight counts as present.
	if err := svc.FetchValidParkings(ctx, b); err != nil {
		t.Fatalf("FetchValidParkings: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("FetchValidParkings: %v", err)
	}
	if n := api.parkingsCalls.Load(); n != 1 {
		t.Errorf("expected one fetch, got %d", n)
	}
	ids, ok := svc.ValidParkingIDs(b)
	if !ok || !reflect.DeepEqual(ids, []string{"p1"}) {
		t.Errorf("unexpected ids %v", ids)
	}
}

func TestDashboardService_MergeOrderIndependent(t *testing.T) {
	b := domain.RoundTime(t0, domain.BucketInterval)
	p1 := &domain.Page[domain.RegionStats]{Results: []domain.RegionStats{{ID: "r1", ParkingCount: 3}, {ID: "r2", ParkingCount: 1}}}
	p2 := &domain.Page[domain.RegionStats]{Results: []domain.RegionStats{{ID: "r3", ParkingCount: 7}}}
	q1 := &domain.Page[domain.Parking]{Features: []domain.Parking{parking("a", "r1", t0)}}
	q2 := &domain.Page[domain.Parking]{Features: []domain.Parking{parking("b", "r2", t0), parking("c", "r3", t0)}}

	forward := NewDashboardService(&mockMonitoringAPI{}, nil, nil)
	forward.ReceiveRegionStats(b, p1)
	forward.ReceiveRegionStats(b, p2)
	forward.ReceiveValidParkings(b, q1)
	forward.ReceiveValidParkings(b, q2)

	backward := NewDashboardService(&mockMonitoringAPI{}, nil, nil)
	backward.ReceiveRegionStats(b, p2)
	backward.ReceiveRegionStats(b, p1)
	backward.ReceiveValidParkings(b, q2)
	backward.ReceiveValidParkings(b, q1)

	u1, _ := forward.RegionUsageAt(b)
	u2, _ := backward.RegionUsageAt(b)
	if !reflect.DeepEqual(u1, u2) {
		t.Errorf("usage differs by order: %v vs %v", u1, u2)
	}
	if len(u1) != 3 || u1["r3"].ParkingCount != 7 {
		t.Errorf("unexpected usage %v", u1)
	}

	i1, _ := forward.ValidParkingIDs(b)
	i2, _ := backward.ValidParkingIDs(b)
	if !reflect.DeepEqual(i1, i2) || !reflect.DeepEqual(i1, []string{"a", "b", "c"}) {
		t.Errorf("ids differ by order: %v vs %v", i1, i2)
	}
}

func TestDashboardService_EmptyPageCreatesBucket(t *testing.T) {
	svc := NewDashboardService(&mockMonitoringAPI{}, nil, nil)
	b := domain.RoundTime(t0, domain.BucketInterval)

	svc.ReceiveRegionStats(b, &domain.Page[domain.RegionStats]{})
	usage, ok := svc.RegionUsageAt(b)
	if !ok || len(usage) != 0 {
		t.Errorf("expected an empty bucket, got %v (%v)", usage, ok)
	}
}

func TestDashboardService_UnknownRegionFetchesRegions(t *testing.T) {
	ctx := context.Background()
	api := &mockMonitoringAPI{
		fetchStatsFn: func(ctx context.Context, at time.Time, onPage func(*domain.Page[domain.RegionStats])) error {
			onPage(&domain.Page[domain.RegionStats]{Results: []domain.RegionStats{{ID: "r1", ParkingCount: 2}}})
			return nil
		},
		fetchRegionsFn: func(ctx context.Context, onPage func(*domain.Page[domain.Region])) error {
			onPage(&domain.Page[domain.Region]{Features: []domain.Region{region("r1", "Kamppi")}})
			return nil
		},
	}
	svc := NewDashboardService(api, nil, nil)

	if err := svc.SetDataTime(ctx, t0); err != nil {
		t.Fatalf("SetDataTime: %v", err)
	}
	if n := api.regionCalls.Load(); n != 1 {
		t.Fatalf("expected regions to be fetched once, got %d", n)
	}

	views := svc.RegionUsage()
	if len(views) != 1 || views[0].Name != "Kamppi" || views[0].ParkingCount != 2 {
		t.Errorf("unexpected views %+v", views)
	}

	// Known regions do not trigger another fetch.
	_ = svc.SetDataTime(ctx, t0.Add(time.Hour))
	if n := api.regionCalls.Load(); n != 1 {
		t.Errorf("expected no further region fetch, got %d", n)
	}
}

func TestDashboardService_FetchErrorNotifiedCacheIntact(t *testing.T) {
	ctx := context.Background()
	fail := false
	api := &mockMonitoringAPI{
		fetchStatsFn: func(ctx context.Context, at time.Time, onPage func(*domain.Page[domain.RegionStats])) error {
			onPage(&domain.Page[domain.RegionStats]{Results: []domain.RegionStats{{ID: "r1", ParkingCount: 5}}})
			if fail {
				return &statusError{status: "500 Internal Server Error", body: "boom"}
			}
			return nil
		},
		fetchRegionsFn: func(ctx context.Context, onPage func(*domain.Page[domain.Region])) error {
			onPage(&domain.Page[domain.Region]{Features: []domain.Region{region("r1", "Kamppi")}})
			return nil
		},
	}
	notifier := &recordingNotifier{}
	svc := NewDashboardService(api, notifier, nil)

	first := domain.RoundTime(t0, domain.BucketInterval)
	if err := svc.FetchRegionStats(ctx, first); err != nil {
		t.Fatalf("FetchRegionStats: %v", err)
	}

	fail = true
	second := domain.RoundTime(t0.Add(time.Hour), domain.BucketInterval)
	if err := svc.FetchRegionStats(ctx, second); err == nil {
		t.Fatal("expected error")
	}

	msgs := notifier.Messages()
	if len(msgs) != 1 || msgs[0] != "Region statistics fetch failed: 500 Internal Server Error: boom" {
		t.Errorf("unexpected notifications %q", msgs)
	}
	if usage, ok := svc.RegionUsageAt(first); !ok || usage["r1"].ParkingCount != 5 {
		t.Errorf("expected cached bucket to survive, got %v", usage)
	}
	// Pages received before the failure are kept.
	if _, ok := svc.RegionUsageAt(second); !ok {
		t.Error("expected partial bucket to be kept")
	}
}

func TestDashboardService_ParkingsErrorNotified(t *testing.T) {
	api := &mockMonitoringAPI{
		fetchParkingsFn: func(ctx context.Context, at time.Time, onPage func(*domain.Page[domain.Parking])) error {
			return errors.New("connection reset")
		},
	}
	notifier := &recordingNotifier{}
	svc := NewDashboardService(api, notifier, nil)

	err := svc.FetchValidParkings(context.Background(), domain.RoundTime(t0, domain.BucketInterval))
	if err == nil {
		t.Fatal("expected error")
	}
	if msgs := notifier.Messages(); len(msgs) != 1 || msgs[0] != "Valid parkings fetch failed: connection reset" {
		t.Errorf("unexpected notifications %q", msgs)
	}
	// A failed fetch that delivered nothing can be retried.
	_ = svc.FetchValidParkings(context.Background(), domain.RoundTime(t0, domain.BucketInterval))
	if n := api.parkingsCalls.Load(); n != 2 {
		t.Errorf("expected a retry, got %d calls", n)
	}
}

func TestDashboardService_RetryAfterFailedFetch(t *testing.T) {
	ctx := context.Background()
	var fail atomic.Bool
	fail.Store(true)
	api := &mockMonitoringAPI{
		fetchStatsFn: func(ctx context.Context, at time.Time, onPage func(*domain.Page[domain.RegionStats])) error {
			if fail.Load() {
				return errors.New("connection reset")
			}
			onPage(&domain.Page[domain.RegionStats]{})
			return nil
		},
	}
	svc := NewDashboardService(api, &recordingNotifier{}, nil)

	if err := svc.SetDataTime(ctx, t0); err == nil {
		t.Fatal("expected error")
	}
	fail.Store(false)

	// Re-selecting the displayed bucket fetches what is still missing.
	if err := svc.SetDataTime(ctx, t0.Add(time.Minute)); err != nil {
		t.Fatalf("SetDataTime: %v", err)
	}
	if n := api.statsCalls.Load(); n != 2 {
		t.Errorf("expected a retry, got %d stats calls", n)
	}
	if n := api.parkingsCalls.Load(); n != 1 {
		t.Errorf("expected cached parkings, got %d calls", n)
	}

	_ = svc.SetDataTime(ctx, t0)
	if n := api.statsCalls.Load(); n != 2 {
		t.Errorf("expected a cache hit, got %d stats calls", n)
	}
}

func TestDashboardService_PartialBucketStaysCached(t *testing.T) {
	ctx := context.Background()
	api := &mockMonitoringAPI{
		fetchStatsFn: func(ctx context.Context, at time.Time, onPage func(*domain.Page[domain.RegionStats])) error {
			onPage(&domain.Page[domain.RegionStats]{
				Next:    "page=2",
				Results: []domain.RegionStats{{ID: "r1", ParkingCount: 3}},
			})
			return errors.New("connection reset")
		},
		fetchRegionsFn: func(ctx context.Context, onPage func(*domain.Page[domain.Region])) error {
			onPage(&domain.Page[domain.Region]{Features: []domain.Region{region("r1", "Kamppi")}})
			return nil
		},
	}
	svc := NewDashboardService(api, &recordingNotifier{}, nil)
	b := domain.RoundTime(t0, domain.BucketInterval)

	if err := svc.SetDataTime(ctx, t0); err == nil {
		t.Fatal("expected error")
	}

	// The first page created the bucket. Delivered pages are never
	// retracted, so later selections treat the bucket as cached.
	usage, ok := svc.RegionUsageAt(b)
	if !ok || len(usage) != 1 || usage["r1"].ParkingCount != 3 {
		t.Fatalf("expected partial bucket with r1=3, got %v (present=%v)", usage, ok)
	}
	_ = svc.SetDataTime(ctx, t0.Add(time.Minute))
	_ = svc.FetchRegionStats(ctx, b)
	if n := api.statsCalls.Load(); n != 1 {
		t.Errorf("expected the partial bucket to be a cache hit, got %d stats calls", n)
	}
}

func TestDashboardService_HistoryGrows(t *testing.T) {
	ctx := context.Background()
	api := &mockMonitoringAPI{}
	svc := NewDashboardService(api, nil, nil)

	for i := 0; i < 12; i++ {
		_ = svc.SetDataTime(ctx, t0.Add(time.Duration(i)*domain.BucketInterval))
	}
	stats, parkings := svc.HistorySize()
	if stats != 12 || parkings != 12 {
		t.Errorf("expected 12 buckets each, got %d and %d", stats, parkings)
	}
}

func TestDashboardService_Views(t *testing.T) {
	svc := NewDashboardService(&mockMonitoringAPI{}, nil, nil)
	b := domain.RoundTime(t0, domain.BucketInterval)

	svc.ReceiveRegions(&domain.Page[domain.Region]{Features: []domain.Region{
		region("r2", "Töölö"),
		region("r1", "Kamppi"),
		{ID: "r3", Type: "Feature"},
	}})
	svc.ReceiveRegionStats(b, &domain.Page[domain.RegionStats]{Results: []domain.RegionStats{{ID: "r1", ParkingCount: 4}}})
	svc.ReceiveValidParkings(b, &domain.Page[domain.Parking]{Features: []domain.Parking{
		parking("p2", "r1", t0.Add(time.Minute)),
		parking("p1", "r1", t0),
		parking("p3", "r2", t0),
	}})

	// Views are empty until a bucket is displayed.
	if rows := svc.ValidParkingRows(); rows != nil {
		t.Errorf("expected no rows, got %v", rows)
	}
	svc.mu.Lock()
	svc.dataTime, svc.hasDataTime = b, true
	svc.mu.Unlock()

	choices := svc.RegionChoices()
	want := []RegionChoice{{ID: "r1", Name: "Kamppi"}, {ID: "r2", Name: "Töölö"}, {ID: "r3"}}
	if !reflect.DeepEqual(choices, want) {
		t.Errorf("expected %v, got %v", want, choices)
	}

	views := svc.RegionUsage()
	if len(views) != 3 || views[0].ParkingCount != 4 || views[1].ParkingCount != 0 {
		t.Errorf("unexpected views %+v", views)
	}

	rows := svc.ValidParkingRows()
	if len(rows) != 3 || rows[0].ID != "p1" || rows[1].ID != "p3" || rows[2].ID != "p2" {
		t.Errorf("unexpected row order %+v", rows)
	}

	svc.SetSelectedRegion("r1")
	rows = svc.ValidParkingRows()
	if len(rows) != 2 || rows[0].ID != "p1" || rows[1].ID != "p2" {
		t.Errorf("unexpected filtered rows %+v", rows)
	}
	for _, v := range svc.RegionUsage() {
		if v.IsSelected != (v.ID == "r1") {
			t.Errorf("region %s: unexpected selection %v", v.ID, v.IsSelected)
		}
	}
}

func TestDashboardService_RunAutoUpdate(t *testing.T) {
	api := &mockMonitoringAPI{}
	clock := newFakeClock()
	svc := NewDashboardService(api, nil, nil).WithClock(clock.Now)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan error, 16)
	done := make(chan error, 1)
	go func() {
		done <- svc.RunAutoUpdate(ctx, 10*time.Millisecond, func(err error) {
			clock.Advance(domain.BucketInterval)
			updates <- err
		})
	}()

	for i := 0; i < 3; i++ {
		select {
		case err := <-updates:
			if err != nil {
				t.Errorf("update %d: %v", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for update")
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if n := api.statsCalls.Load(); n < 3 {
		t.Errorf("expected a fetch per bucket, got %d", n)
	}
}

func TestDashboardService_AutoUpdateToggle(t *testing.T) {
	svc := NewDashboardService(&mockMonitoringAPI{}, nil, nil)
	if !svc.AutoUpdate() {
		t.Error("expected auto update on by default")
	}
	svc.SetAutoUpdate(false)
	if svc.AutoUpdate() {
		t.Error("expected auto update off")
	}
}
