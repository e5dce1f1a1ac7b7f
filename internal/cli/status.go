package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Verify bool
}

type statusResult struct {
	State     string     `json:"state"`
	Username  string     `json:"username,omitempty"`
	UserID    string     `json:"userId,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Verified  *bool      `json:"verified,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the session state",
		Long: `Restore the stored session and show who is logged in.

The stored token is refreshed on the way, exactly as every other command
does before talking to the API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "also ask the server to verify the token")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	rt, err := newRuntime(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := cmd.Context()

	st := rt.session.CheckExistingLogin(ctx)
	res := statusResult{State: st.State.String()}
	if st.LoggedIn() {
		info, err := rt.session.TokenInfo(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read token", err)
		}
		res.Username, res.UserID = info.Username, info.UserID
		if !info.ExpiresAt.IsZero() {
			res.ExpiresAt = &info.ExpiresAt
		}
		if opts.Verify {
			ok := true
			if err := rt.session.Verify(ctx); err != nil {
				ok = false
				res.Reason = reasonOf(err)
				if res.Reason == "" {
					res.Reason = err.Error()
				}
			}
			res.Verified = &ok
		}
	}

	return rt.out.Success(res, func(w io.Writer) error {
		fmt.Fprintf(w, "State:    %s\n", res.State)
		if res.Username != "" {
			fmt.Fprintf(w, "User:     %s\n", res.Username)
		}
		if res.ExpiresAt != nil {
			fmt.Fprintf(w, "Expires:  %s\n", res.ExpiresAt.Format(time.RFC3339))
		}
		if res.Verified != nil {
			if *res.Verified {
				fmt.Fprintln(w, "Verified: yes")
			} else {
				fmt.Fprintf(w, "Verified: no (%s)\n", res.Reason)
			}
		}
		return nil
	})
}
