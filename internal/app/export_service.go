package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parkmon/internal/domain"
)

var (
	// ErrMissingExportRange indicates that the start or end of the export window is missing.
	ErrMissingExportRange = errors.New("you must provide start date and end date")
	// ErrInvalidExportRange indicates an export window that ends before it starts.
	ErrInvalidExportRange = errors.New("end date must be after start date")
)

// DefaultExportWindow is how far back the export form starts by default.
const DefaultExportWindow = 30 * 24 * time.Hour

// ExportService encapsulates the CSV export use case.
type ExportService struct {
	api domain.MonitoringAPI
}

// NewExportService creates an ExportService backed by api.
func NewExportService(api domain.MonitoringAPI) *ExportService {
	return &ExportService{api: api}
}

// DefaultFilters returns the filters the export form starts with: the last
// 30 days, every operator and payment zone.
func DefaultFilters(now time.Time) domain.ExportFilters {
	return domain.ExportFilters{
		TimeStart: now.Add(-DefaultExportWindow),
		TimeEnd:   now,
	}
}

// Export validates the filters and downloads the CSV export.
func (s *ExportService) Export(ctx context.Context, f domain.ExportFilters) (*domain.ExportFile, error) {
	if f.TimeStart.IsZero() || f.TimeEnd.IsZero() {
		return nil, ErrMissingExportRange
	}
	if f.TimeStart.After(f.TimeEnd) {
		return nil, ErrInvalidExportRange
	}

	file, err := s.api.Export(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	if file.Filename == "" {
		file.Filename = fmt.Sprintf("parkings_%s_%s.csv",
			f.TimeStart.Format("2006-01-02"), f.TimeEnd.Format("2006-01-02"))
	}
	return file, nil
}
