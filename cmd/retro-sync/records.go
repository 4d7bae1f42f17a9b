package main

import (
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/alexjbarnes/retro-sync/internal/errors"
	"github.com/alexjbarnes/retro-sync/internal/models"
	"github.com/alexjbarnes/retro-sync/internal/reconcile"
	"github.com/alexjbarnes/retro-sync/internal/state"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type addedDoc struct {
	EntityType     models.EntityType `json:"entityType" yaml:"entityType"`
	ID             string            `json:"id" yaml:"id"`
	TheoreticalFee string            `json:"theoreticalFee,omitempty" yaml:"theoreticalFee,omitempty"`
}

// withState runs fn against the local store only.
func (a *app) withState(cmd *cobra.Command, fn func(*state.State) error) error {
	return a.withSyncer(cmd.Context(), false, func(_ *reconcile.Syncer, st *state.State) error {
		return fn(st)
	})
}

func (a *app) putRecord(cmd *cobra.Command, st *state.State, rec models.Record, doc addedDoc) error {
	if err := st.Put(rec); err != nil {
		return fmt.Errorf("adding %s: %w", rec.Entity(), err)
	}

	a.logger.Info("record added", slog.String("entity", string(rec.Entity())), slog.String("id", rec.RecordID()))

	return renderMessage(cmd.OutOrStdout(), a.format, fmt.Sprintf("added %s %s", rec.Entity(), rec.RecordID()), doc)
}

func (a *app) removeCmd(entity models.EntityType) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: fmt.Sprintf("Remove a %s from the local ledger", entity),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withState(cmd, func(st *state.State) error {
				if err := st.Delete(entity, args[0]); err != nil {
					return fmt.Errorf("removing %s %s: %w", entity, args[0], err)
				}

				return renderMessage(cmd.OutOrStdout(), a.format, fmt.Sprintf("removed %s %s", entity, args[0]),
					addedDoc{EntityType: entity, ID: args[0]})
			})
		},
	}
}

func (a *app) placeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "place",
		Short: "Manage places in the local ledger",
	}

	var (
		name, percentage, color string
		contact                 models.Contact
	)

	add := &cobra.Command{
		Use:   "add",
		Short: "Add a place",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pct, err := decimal.NewFromString(percentage)
			if err != nil {
				return fmt.Errorf("parsing percentage: %w", err)
			}

			now := time.Now().UTC()
			p := models.Place{
				ID:         models.NewID(),
				Name:       name,
				Percentage: pct,
				Color:      color,
				CreatedAt:  now,
				UpdatedAt:  now,
			}

			if contact != (models.Contact{}) {
				c := contact
				p.Contact = &c
			}

			return a.withState(cmd, func(st *state.State) error {
				return a.putRecord(cmd, st, p, addedDoc{EntityType: p.Entity(), ID: p.ID})
			})
		},
	}

	add.Flags().StringVar(&name, "name", "", "place name")
	add.Flags().StringVar(&percentage, "percentage", "0", "retrocession percentage, 0 to 100")
	add.Flags().StringVar(&color, "color", "", "display color, #rrggbb")
	add.Flags().StringVar(&contact.Phone, "phone", "", "contact phone")
	add.Flags().StringVar(&contact.Email, "email", "", "contact email")
	add.Flags().StringVar(&contact.Address, "address", "", "contact address")
	_ = add.MarkFlagRequired("name")

	cmd.AddCommand(add, a.removeCmd(models.EntityPlace))

	return cmd
}

func (a *app) entryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entry",
		Short: "Manage daily revenue entries in the local ledger",
	}

	var placeID, date, revenue, notes string

	add := &cobra.Command{
		Use:   "add",
		Short: "Add a revenue entry",
		Long: `Add one day's revenue at a place. The theoretical fee is computed from
the place's current percentage and stored with the entry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			day, err := models.ParseDate(date)
			if err != nil {
				return err
			}

			amount, err := decimal.NewFromString(revenue)
			if err != nil {
				return fmt.Errorf("parsing revenue: %w", err)
			}

			return a.withState(cmd, func(st *state.State) error {
				p, err := st.GetPlace(placeID)
				if err != nil {
					return err
				}

				if p == nil {
					return fmt.Errorf("place %s: %w", placeID, apperrors.ErrNotFound)
				}

				e := models.NewRevenueEntry(models.NewID(), day, *p, amount, notes, time.Now().UTC())

				return a.putRecord(cmd, st, e, addedDoc{
					EntityType:     e.Entity(),
					ID:             e.ID,
					TheoreticalFee: e.TheoreticalFee.StringFixed(2),
				})
			})
		},
	}

	add.Flags().StringVar(&placeID, "place", "", "place id")
	add.Flags().StringVar(&date, "date", "", "day, YYYY-MM-DD")
	add.Flags().StringVar(&revenue, "revenue", "", "revenue of the day")
	add.Flags().StringVar(&notes, "notes", "", "free-form notes")
	_ = add.MarkFlagRequired("place")
	_ = add.MarkFlagRequired("date")
	_ = add.MarkFlagRequired("revenue")

	cmd.AddCommand(add, a.removeCmd(models.EntityRevenueEntry))

	return cmd
}

func (a *app) transferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Manage transfers in the local ledger",
	}

	var placeID, from, to, amount, status, receivedOn, notes string

	add := &cobra.Command{
		Use:   "add",
		Short: "Add a transfer received from a place for a period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, err := models.ParseDate(from)
			if err != nil {
				return err
			}

			end, err := models.ParseDate(to)
			if err != nil {
				return err
			}

			value, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("parsing amount: %w", err)
			}

			now := time.Now().UTC()
			t := models.Transfer{
				ID:          models.NewID(),
				PeriodStart: start,
				PeriodEnd:   end,
				PlaceID:     placeID,
				Amount:      value,
				Status:      models.TransferStatus(status),
				Notes:       notes,
				CreatedAt:   now,
				UpdatedAt:   now,
			}

			if receivedOn != "" {
				d, err := models.ParseDate(receivedOn)
				if err != nil {
					return err
				}

				t.ReceivedOn = &d
			}

			return a.withState(cmd, func(st *state.State) error {
				return a.putRecord(cmd, st, t, addedDoc{EntityType: t.Entity(), ID: t.ID})
			})
		},
	}

	add.Flags().StringVar(&placeID, "place", "", "place id")
	add.Flags().StringVar(&from, "from", "", "first day of the period, YYYY-MM-DD")
	add.Flags().StringVar(&to, "to", "", "last day of the period, YYYY-MM-DD")
	add.Flags().StringVar(&amount, "amount", "", "amount received")
	add.Flags().StringVar(&status, "status", string(models.TransferPending), "received, pending, partial or missing")
	add.Flags().StringVar(&receivedOn, "received-on", "", "reception day, YYYY-MM-DD")
	add.Flags().StringVar(&notes, "notes", "", "free-form notes")
	_ = add.MarkFlagRequired("place")
	_ = add.MarkFlagRequired("from")
	_ = add.MarkFlagRequired("to")
	_ = add.MarkFlagRequired("amount")

	cmd.AddCommand(add, a.removeCmd(models.EntityTransfer))

	return cmd
}
