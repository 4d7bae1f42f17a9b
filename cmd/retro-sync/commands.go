package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alexjbarnes/retro-sync/internal/reconcile"
	"github.com/alexjbarnes/retro-sync/internal/snapshot"
	"github.com/alexjbarnes/retro-sync/internal/state"
	"github.com/alexjbarnes/retro-sync/internal/watch"
	"github.com/spf13/cobra"
)

func (a *app) pushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Make the remote replica match the local ledger",
		Long: `Compare every synchronized collection with the remote replica and apply
the inserts, updates and deletes needed to make it match. Places are
inserted before the entries and transfers that reference them and
deleted after them. A failed record never stops the others; the exit
status is non-zero when any record failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSyncer(cmd.Context(), true, func(s *reconcile.Syncer, _ *state.State) error {
				report, err := s.Push(cmd.Context())
				if err != nil {
					return err
				}

				if err := renderReport(cmd.OutOrStdout(), a.format, report); err != nil {
					return err
				}

				if report.HasFailures() {
					return fmt.Errorf("%d of %d records failed to sync", report.Failed(), report.Attempted())
				}

				return nil
			})
		},
	}
}

func (a *app) planCmd() *cobra.Command {
	var showDiff bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what push would change, without changing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSyncer(cmd.Context(), true, func(s *reconcile.Syncer, _ *state.State) error {
				plan, err := s.Plan(cmd.Context())
				if err != nil {
					return err
				}

				return renderPlan(cmd.OutOrStdout(), a.format, plan, showDiff)
			})
		},
	}

	cmd.Flags().BoolVar(&showDiff, "diff", false, "show a field diff for every update")

	return cmd
}

func (a *app) pullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Replace the local ledger with the remote replica",
		Long: `Download every synchronized collection from the remote replica and
replace the local ledger with it. The remote copy must pass the same
checks as an imported snapshot; otherwise nothing is changed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSyncer(cmd.Context(), true, func(s *reconcile.Syncer, _ *state.State) error {
				ds, err := s.Pull(cmd.Context())
				if err != nil {
					return renderRejection(cmd.OutOrStdout(), a.format, err)
				}

				return renderMessage(cmd.OutOrStdout(), a.format, fmt.Sprintf("pulled %d records", ds.Len()), map[string]int{
					"places":    len(ds.Places),
					"entries":   len(ds.Entries),
					"transfers": len(ds.Transfers),
				})
			})
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write the local ledger as a JSON snapshot",
		Long: `Write the local ledger as a JSON snapshot to file, or to stdout when no
file is given. The snapshot can be restored with import.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSyncer(cmd.Context(), false, func(s *reconcile.Syncer, st *state.State) error {
				now := time.Now()

				if len(args) == 0 {
					data, err := s.Export(cmd.Context(), now)
					if err != nil {
						return err
					}

					_, err = cmd.OutOrStdout().Write(append(data, '\n'))

					return err
				}

				ds, err := st.Dataset(cmd.Context())
				if err != nil {
					return err
				}

				if err := snapshot.WriteFile(args[0], ds, now); err != nil {
					return err
				}

				return renderMessage(cmd.OutOrStdout(), a.format, fmt.Sprintf("exported %d records to %s", ds.Len(), args[0]), map[string]any{
					"file":    args[0],
					"records": ds.Len(),
				})
			})
		},
	}
}

func (a *app) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the local ledger with a JSON snapshot",
		Long: `Validate a JSON snapshot and replace the local ledger with it. Every
revenue entry and transfer must reference a place present in the
snapshot; if any check fails the local ledger is left untouched.
Record ids are preserved, so a following push only sends real changes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading snapshot: %w", err)
			}

			return a.withSyncer(cmd.Context(), false, func(s *reconcile.Syncer, _ *state.State) error {
				ds, err := s.Import(cmd.Context(), data)
				if err != nil {
					return renderRejection(cmd.OutOrStdout(), a.format, err)
				}

				header, err := snapshot.ReadHeader(data)
				if err != nil {
					return err
				}

				return renderMessage(cmd.OutOrStdout(), a.format,
					fmt.Sprintf("imported %d records (snapshot %s, exported %s)", ds.Len(), header.Version, header.ExportedAt.Format(time.RFC3339)),
					map[string]any{
						"records":    ds.Len(),
						"version":    header.Version,
						"exportedAt": header.ExportedAt,
					})
			})
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the local ledger size and the outcome of the last push",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSyncer(cmd.Context(), false, func(_ *reconcile.Syncer, st *state.State) error {
				ds, err := st.Dataset(cmd.Context())
				if err != nil {
					return err
				}

				last, err := st.LastSync()
				if err != nil {
					return err
				}

				return renderStatus(cmd.OutOrStdout(), a.format, ds, last)
			})
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <dir>",
		Short: "Import and push every snapshot dropped into a directory",
		Long: `Watch dir for new JSON snapshots. Each one is imported once it stops
changing and then pushed to the remote replica. A snapshot that fails
validation is logged and left in place; the local ledger is untouched.
Runs until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSyncer(cmd.Context(), true, func(s *reconcile.Syncer, _ *state.State) error {
				w := watch.NewWatcher(args[0], func(ctx context.Context, path string) error {
					return importAndPush(ctx, s, path, a.logger)
				}, a.logger)

				err := w.Watch(cmd.Context())
				if errors.Is(err, context.Canceled) {
					return nil
				}

				return err
			})
		},
	}
}

func importAndPush(ctx context.Context, s *reconcile.Syncer, path string, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}

	ds, err := s.Import(ctx, data)
	if err != nil {
		return err
	}

	report, err := s.Push(ctx)
	if err != nil {
		return err
	}

	logger.Info("snapshot synced",
		slog.String("path", path),
		slog.Int("records", ds.Len()),
		slog.String("summary", report.Summary()),
	)

	return nil
}
