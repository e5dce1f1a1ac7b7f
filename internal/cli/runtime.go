package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	adapthttp "parkmon/internal/adapter/http"
	"parkmon/internal/adapter/memory"
	"parkmon/internal/adapter/postgres"
	"parkmon/internal/adapter/sqlite"
	"parkmon/internal/app"
	"parkmon/internal/config"
	"parkmon/internal/domain"
)

// runtime is everything a command needs, wired from the configuration.
type runtime struct {
	cfg     config.Config
	log     *slog.Logger
	out     *OutputFormatter
	client  *adapthttp.Client
	session *app.AuthService
	closer  io.Closer
}

func newRuntime(opts *RootOptions, cmd *cobra.Command) (*runtime, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	applyFlags(&cfg, opts)
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}

	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logLevel}))

	kv, closer, err := openStore(cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open token store", err)
	}

	client, err := adapthttp.New(cfg.APIURL,
		adapthttp.WithTimeout(cfg.RequestTimeout),
		adapthttp.WithLogger(logger),
	)
	if err != nil {
		_ = closer.Close()
		return nil, WrapExitError(ExitCommandError, "invalid api url", err)
	}

	session := app.NewAuthService(client, app.NewTokenStorage(kv), app.AuthOptions{
		MaxTokenAge: cfg.MaxTokenAge,
		Scheme:      cfg.AuthScheme,
		Logger:      logger,
	})
	client.Use(session)

	logger.Debug("runtime ready", "api", client.BaseURL(), "store", cfg.Store)
	return &runtime{
		cfg:     cfg,
		log:     logger,
		client:  client,
		session: session,
		closer:  closer,
		out: &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
		},
	}, nil
}

func applyFlags(cfg *config.Config, opts *RootOptions) {
	if opts.APIURL != "" {
		cfg.APIURL = opts.APIURL
	}
	if opts.Store != "" {
		cfg.Store = opts.Store
	}
	if opts.DSN != "" {
		cfg.DSN = opts.DSN
	}
}

func openStore(cfg config.Config) (domain.KeyValueStore, io.Closer, error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := postgres.Open(cfg.DSN, cfg.Namespace)
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	case config.StoreMemory:
		return memory.New(), io.NopCloser(nil), nil
	default:
		db, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	}
}

func (r *runtime) Close() {
	if err := r.closer.Close(); err != nil {
		r.log.Error("error closing token store", "error", err)
	}
}

// requireSession restores the stored login and fails when there is none.
func (r *runtime) requireSession(ctx context.Context) error {
	st := r.session.CheckExistingLogin(ctx)
	if !st.LoggedIn() {
		return WrapExitError(ExitFailure, "not logged in", fmt.Errorf("%w; run parkmon login", app.ErrNotAuthenticated))
	}
	return nil
}

// dashboard creates a state store that reports fetch failures on stderr.
func (r *runtime) dashboard() *app.DashboardService {
	return app.NewDashboardService(r.client, &writerNotifier{w: r.out.ErrWriter}, r.log).
		WithInterval(r.cfg.BucketInterval)
}

// writerNotifier shows background failures to the operator.
type writerNotifier struct {
	w io.Writer
}

func (n *writerNotifier) Notify(msg string) {
	fmt.Fprintf(n.w, "! %s\n", msg)
}
