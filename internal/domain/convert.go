package domain

import "time"

// Bucket is a timestamp rounded down to a BucketInterval boundary, in
// milliseconds since the epoch.
type Bucket int64

// RoundTime maps t to floor(t / interval) * interval.
func RoundTime(t time.Time, interval time.Duration) Bucket {
	ms := t.UnixMilli()
	iv := interval.Milliseconds()
	if iv <= 0 {
		return Bucket(ms)
	}
	q := ms / iv
	if ms%iv < 0 {
		q--
	}
	return Bucket(q * iv)
}

// Time returns the start of the bucket.
func (b Bucket) Time() time.Time {
	return time.UnixMilli(int64(b))
}

// ConvertRegionStats converts an API statistics row to a history entry.
func ConvertRegionStats(s RegionStats) RegionUsage {
	return RegionUsage{ParkingCount: s.ParkingCount}
}
