package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// LoginOptions holds flags for the login command.
type LoginOptions struct {
	*RootOptions
	Username string
	Code     string
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoginOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with username, password and verification code",
		Long: `Log in to the monitoring API.

The password is checked first; the server then sends a verification code
which completes the login. Prompts read from stdin, so both can be piped:

  printf 'secret\n123456\n' | parkmon login -u operator`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Username, "username", "u", "", "username (prompted when empty)")
	cmd.Flags().StringVar(&opts.Code, "code", "", "verification code (prompted when empty)")

	return cmd
}

func runLogin(opts *LoginOptions, cmd *cobra.Command) error {
	rt, err := newRuntime(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := cmd.Context()

	p := newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
	username := opts.Username
	if username == "" {
		if username, err = p.line("Username: "); err != nil {
			return WrapExitError(ExitCommandError, "login aborted", err)
		}
	}
	password, err := p.secret("Password: ")
	if err != nil {
		return WrapExitError(ExitCommandError, "login aborted", err)
	}

	codeToken, err := rt.session.InitiateLogin(ctx, username, password)
	if err != nil {
		return WrapExitError(ExitFailure, "login failed", err)
	}

	code := opts.Code
	if code == "" {
		if code, err = p.line("Verification code: "); err != nil {
			return WrapExitError(ExitCommandError, "login aborted", err)
		}
	}
	if _, err := rt.session.ContinueLogin(ctx, codeToken, code); err != nil {
		return WrapExitError(ExitFailure, "verification failed", err)
	}

	st := rt.session.State()
	return rt.out.Success(map[string]any{"state": st.State.String(), "username": username}, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Logged in as %s.\n", username)
		return err
	})
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			rt.session.Logout(cmd.Context())
			return rt.out.Success(map[string]any{"state": rt.session.State().State.String()}, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, "Logged out.")
				return err
			})
		},
	}
}
