package domain

import (
	"encoding/json"
	"time"
)

// ExportTimeLayout is the wire format of the export time range.
const ExportTimeLayout = "02.01.2006 15.04"

// ExportFilters selects the parkings written to a CSV export.
type ExportFilters struct {
	Operators    []string
	PaymentZones []string
	TimeStart    time.Time
	TimeEnd      time.Time
	ParkingCheck bool
}

// MarshalJSON encodes the filters the way the export endpoint expects them;
// empty selections are left out.
func (f ExportFilters) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Operators    []string `json:"operators,omitempty"`
		PaymentZones []string `json:"payment_zones,omitempty"`
		TimeStart    string   `json:"time_start"`
		TimeEnd      string   `json:"time_end"`
		ParkingCheck bool     `json:"parking_check"`
	}{
		Operators:    f.Operators,
		PaymentZones: f.PaymentZones,
		TimeStart:    f.TimeStart.Format(ExportTimeLayout),
		TimeEnd:      f.TimeEnd.Format(ExportTimeLayout),
		ParkingCheck: f.ParkingCheck,
	})
}

// ExportFile is a downloaded CSV export.
type ExportFile struct {
	Filename string
	Data     []byte
}
