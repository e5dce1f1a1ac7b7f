package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"parkmon/internal/app"
	"parkmon/internal/domain"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	From         string
	To           string
	Operators    []string
	Zones        []string
	ParkingCheck bool
	Output       string
}

type exportResult struct {
	Filename string `json:"filename"`
	Path     string `json:"path,omitempty"`
	Bytes    int    `json:"bytes"`
}

// inputLayouts are accepted for --from and --to, most specific first.
var inputLayouts = []string{time.RFC3339, domain.ExportTimeLayout, "2006-01-02 15:04", "2006-01-02"}

func parseInputTime(s string) (time.Time, error) {
	for _, layout := range inputLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q (use RFC 3339, %q or 2006-01-02)", s, domain.ExportTimeLayout)
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download parkings as CSV",
		Long: `Download the parkings of a time range as a CSV file.

Without --from and --to the last 30 days are exported. The file is saved
under the name the server suggests unless --output is given; "-" writes to
stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "start of the range")
	cmd.Flags().StringVar(&opts.To, "to", "", "end of the range")
	cmd.Flags().StringSliceVar(&opts.Operators, "operator", nil, "operator id (repeatable, default all)")
	cmd.Flags().StringSliceVar(&opts.Zones, "zone", nil, "payment zone (repeatable, default all)")
	cmd.Flags().BoolVar(&opts.ParkingCheck, "parking-check", false, "include parking check data")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file or directory")

	return cmd
}

func (o *ExportOptions) filters(now time.Time) (domain.ExportFilters, error) {
	f := app.DefaultFilters(now)
	f.Operators = o.Operators
	f.PaymentZones = o.Zones
	f.ParkingCheck = o.ParkingCheck
	if o.From != "" {
		t, err := parseInputTime(o.From)
		if err != nil {
			return f, WrapExitError(ExitCommandError, "invalid --from", err)
		}
		f.TimeStart = t
	}
	if o.To != "" {
		t, err := parseInputTime(o.To)
		if err != nil {
			return f, WrapExitError(ExitCommandError, "invalid --to", err)
		}
		f.TimeEnd = t
	}
	return f, nil
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	f, err := opts.filters(time.Now())
	if err != nil {
		return err
	}
	rt, err := newRuntime(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := cmd.Context()

	if err := rt.requireSession(ctx); err != nil {
		return err
	}
	file, err := app.NewExportService(rt.client).Export(ctx, f)
	if err != nil {
		return WrapExitError(ExitFailure, "export failed", err)
	}

	res := exportResult{Filename: file.Filename, Bytes: len(file.Data)}
	if opts.Output == "-" {
		_, err := rt.out.Writer.Write(file.Data)
		return err
	}

	res.Path = exportPath(opts.Output, file.Filename)
	if err := os.WriteFile(res.Path, file.Data, 0o644); err != nil {
		return WrapExitError(ExitCommandError, "failed to save export", err)
	}
	return rt.out.Success(res, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Saved %s (%d bytes).\n", res.Path, res.Bytes)
		return err
	})
}

// exportPath places the suggested filename in output when it is a
// directory, and uses output as the file name otherwise.
func exportPath(output, suggested string) string {
	name := filepath.Base(suggested)
	if output == "" {
		return name
	}
	if fi, err := os.Stat(output); err == nil && fi.IsDir() {
		return filepath.Join(output, name)
	}
	return output
}
