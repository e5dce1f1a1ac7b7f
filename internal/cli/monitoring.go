package cli

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"parkmon/internal/app"
)

const displayLayout = "2006-01-02 15:04"

// ViewOptions holds the flags shared by the regions and parkings commands.
type ViewOptions struct {
	*RootOptions
	At     string
	Region string
}

func (o *ViewOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.At, "at", "", "point in time, RFC 3339 (default now)")
	cmd.Flags().StringVar(&o.Region, "region", "", "restrict to a region id")
}

func (o *ViewOptions) atTime() (time.Time, error) {
	if o.At == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, o.At)
	if err != nil {
		return time.Time{}, WrapExitError(ExitCommandError, "invalid --at", err)
	}
	return t, nil
}

type regionsResult struct {
	DataTime time.Time        `json:"dataTime"`
	Regions  []app.RegionView `json:"regions"`
}

type parkingsResult struct {
	DataTime time.Time        `json:"dataTime"`
	Region   string           `json:"region,omitempty"`
	Parkings []app.ParkingRow `json:"parkings"`
}

// NewRegionsCommand creates the regions command.
func NewRegionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ViewOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "regions",
		Short: "Show parking counts per region",
		Long: `Show every monitoring region with the number of valid parkings in
the five minute bucket containing --at.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegions(opts, cmd)
		},
	}
	opts.addFlags(cmd)

	return cmd
}

func runRegions(opts *ViewOptions, cmd *cobra.Command) error {
	at, err := opts.atTime()
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
	dash := rt.dashboard()
	dash.SetSelectedRegion(opts.Region)
	if err := dash.FetchRegions(ctx); err != nil {
		return err
	}
	if err := dash.SetDataTime(ctx, at); err != nil {
		return err
	}

	dataTime, _ := dash.DataTime()
	res := regionsResult{DataTime: dataTime.In(at.Location()), Regions: dash.RegionUsage()}
	return rt.out.Success(res, func(w io.Writer) error {
		return writeRegions(w, res)
	})
}

func writeRegions(w io.Writer, res regionsResult) error {
	fmt.Fprintf(w, "Data time: %s\n", res.DataTime.Format(displayLayout+" MST"))
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCAPACITY\tPARKINGS")
	for _, r := range res.Regions {
		marker := ""
		if r.IsSelected {
			marker = " *"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d%s\n", r.ID, r.Name, r.CapacityEstimate, r.ParkingCount, marker)
	}
	return tw.Flush()
}

// NewParkingsCommand creates the parkings command.
func NewParkingsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ViewOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "parkings",
		Short: "List valid parkings",
		Long: `List the parkings valid in the five minute bucket containing --at,
ordered by start time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParkings(opts, cmd)
		},
	}
	opts.addFlags(cmd)

	return cmd
}

func runParkings(opts *ViewOptions, cmd *cobra.Command) error {
	at, err := opts.atTime()
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
	dash := rt.dashboard()
	dash.SetSelectedRegion(opts.Region)
	if err := dash.SetDataTime(ctx, at); err != nil {
		return err
	}

	dataTime, _ := dash.DataTime()
	res := parkingsResult{DataTime: dataTime.In(at.Location()), Region: opts.Region, Parkings: dash.ValidParkingRows()}
	names := make(map[string]string)
	for _, c := range dash.RegionChoices() {
		names[c.ID] = c.Name
	}
	return rt.out.Success(res, func(w io.Writer) error {
		return writeParkings(w, res, names)
	})
}

func writeParkings(w io.Writer, res parkingsResult, regionNames map[string]string) error {
	fmt.Fprintf(w, "Data time: %s\n", res.DataTime.Format(displayLayout+" MST"))
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "REGISTRATION\tREGION\tOPERATOR\tZONE\tSTART\tEND")
	for _, p := range res.Parkings {
		region := regionNames[p.Region]
		if region == "" {
			region = p.Region
		}
		if region == "" {
			region = "-"
		}
		end := "-"
		if p.TimeEnd != nil {
			end = p.TimeEnd.Format(displayLayout)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.RegistrationNumber, region, p.OperatorName, strconv.Itoa(p.Zone),
			p.TimeStart.Format(displayLayout), end)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d valid parkings\n", len(res.Parkings))
	return err
}
