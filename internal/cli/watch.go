package cli

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Region  string
	Updates int
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow region usage as time passes",
		Long: `Keep the data time at "now" and print region usage whenever a new
five minute bucket starts. Stops on Ctrl-C or after --updates buckets.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Region, "region", "", "highlight a region id")
	cmd.Flags().IntVar(&opts.Updates, "updates", 0, "stop after this many buckets (0 = forever)")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	rt, err := newRuntime(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := rt.requireSession(ctx); err != nil {
		return err
	}
	dash := rt.dashboard()
	dash.SetSelectedRegion(opts.Region)
	if err := dash.FetchRegions(ctx); err != nil {
		return err
	}

	var (
		last    time.Time
		printed int
	)
	err = dash.RunAutoUpdate(ctx, rt.cfg.WatchInterval, func(err error) {
		// Failures were already reported by the notifier. The bucket stays
		// unprinted and the next tick fetches it again.
		if err != nil {
			return
		}
		dataTime, ok := dash.DataTime()
		if !ok || dataTime.Equal(last) {
			return
		}
		last = dataTime
		res := regionsResult{DataTime: dataTime, Regions: dash.RegionUsage()}
		if werr := rt.out.Success(res, func(w io.Writer) error { return writeRegions(w, res) }); werr != nil {
			rt.log.Error("write output", "error", werr)
		}
		printed++
		if opts.Updates > 0 && printed >= opts.Updates {
			cancel()
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
