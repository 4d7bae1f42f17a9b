package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexjbarnes/retro-sync/internal/config"
	"github.com/alexjbarnes/retro-sync/internal/logging"
	"github.com/alexjbarnes/retro-sync/internal/reconcile"
	"github.com/alexjbarnes/retro-sync/internal/remote/rest"
	"github.com/alexjbarnes/retro-sync/internal/remote/sqlite"
	"github.com/alexjbarnes/retro-sync/internal/state"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every command needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	format string
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "retro-sync",
		Short: "Keep the local retrocession ledger and its remote replica in sync",
		Long: `retro-sync reconciles the local ledger of places, daily revenue entries
and transfers with a remote replica, and exports or restores it as a
JSON snapshot.

Configuration is read from the environment (and a .env file when present).`,
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.format, "format", formatText, "output format: text, json or yaml")

	root.AddCommand(
		a.pushCmd(),
		a.planCmd(),
		a.pullCmd(),
		a.exportCmd(),
		a.importCmd(),
		a.statusCmd(),
		a.watchCmd(),
		a.placeCmd(),
		a.entryCmd(),
		a.transferCmd(),
	)

	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := checkFormat(a.format); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a.cfg = cfg
	a.logger = logging.NewFileLogger(cfg.Environment, cfg.LogFile)

	a.logger.Debug("retro-sync starting",
		slog.String("version", Version),
		slog.String("command", cmd.Name()),
		slog.String("backend", cfg.RemoteBackend),
	)

	return nil
}

func (a *app) openState() (*state.State, error) {
	path := a.cfg.StatePath
	if path == "" {
		var err error

		path, err = state.DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	st, err := state.LoadAt(path)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	return st, nil
}

// openRemote connects the configured remote backend. The returned close
// function is never nil.
func (a *app) openRemote(ctx context.Context) (reconcile.RemoteStore, func() error, error) {
	if err := a.cfg.ValidateRemote(); err != nil {
		return nil, nil, fmt.Errorf("validating remote config: %w", err)
	}

	switch a.cfg.RemoteBackend {
	case config.BackendSQLite:
		s, err := sqlite.Open(ctx, a.cfg.RemoteSQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite remote: %w", err)
		}

		return s, s.Close, nil
	default:
		c := rest.NewClient(a.cfg.RemoteURL, a.cfg.RemoteAPIKey, a.cfg.RemoteOwnerID, nil)
		return c, func() error { return nil }, nil
	}
}

func (a *app) syncOptions() reconcile.Options {
	return reconcile.Options{
		Concurrency: a.cfg.SyncConcurrency,
		CallTimeout: a.cfg.SyncCallTimeout,
	}
}

// withSyncer opens the local store and, when needRemote is set, the
// remote backend, then runs fn with a syncer bound to both.
func (a *app) withSyncer(ctx context.Context, needRemote bool, fn func(*reconcile.Syncer, *state.State) error) error {
	st, err := a.openState()
	if err != nil {
		return err
	}
	defer st.Close()

	var remote reconcile.RemoteStore

	if needRemote {
		r, closeRemote, err := a.openRemote(ctx)
		if err != nil {
			return err
		}

		defer func() {
			if err := closeRemote(); err != nil {
				a.logger.Warn("closing remote", slog.String("error", err.Error()))
			}
		}()

		remote = r
	}

	syncer, err := reconcile.NewSyncer(st, remote, a.syncOptions(), a.logger)
	if err != nil {
		return err
	}

	return fn(syncer, st)
}
