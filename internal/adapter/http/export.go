package adapthttp

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"

	"parkmon/internal/domain"
)

// SuggestedFilenameHeader names the file the export endpoint suggests.
const SuggestedFilenameHeader = "X-Suggested-Filename"

// Export downloads the CSV export selected by f. Filename is empty when the
// server suggested none.
func (c *Client) Export(ctx context.Context, f domain.ExportFilters) (*domain.ExportFile, error) {
	req, err := c.newRequest(ctx, http.MethodPost, c.endpoint(pathExport, nil), f)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	return &domain.ExportFile{Filename: suggestedFilename(resp.Header), Data: data}, nil
}

func suggestedFilename(h http.Header) string {
	if name := h.Get(SuggestedFilenameHeader); name != "" {
		return name
	}
	if cd := h.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			return params["filename"]
		}
	}
	return ""
}
