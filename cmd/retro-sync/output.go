package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alexjbarnes/retro-sync/internal/models"
	"github.com/alexjbarnes/retro-sync/internal/reconcile"
	"github.com/alexjbarnes/retro-sync/internal/snapshot"
	"github.com/alexjbarnes/retro-sync/internal/state"
	"gopkg.in/yaml.v3"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func checkFormat(format string) error {
	switch format {
	case formatText, formatJSON, formatYAML:
		return nil
	}

	return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
}

// encode writes v as JSON or YAML. It reports false for the text format,
// which every caller renders itself.
func encode(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return true, enc.Encode(v)
	case formatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return true, err
		}

		_, err = w.Write(data)

		return true, err
	}

	return false, nil
}

func renderReport(w io.Writer, format string, report *reconcile.Report) error {
	if done, err := encode(w, format, report); done {
		return err
	}

	fmt.Fprintln(w, report.Summary())

	for _, kind := range models.EntityTypes {
		c := report.CountsFor(kind)
		fmt.Fprintf(w, "  %-14s inserted %d  updated %d  deleted %d  skipped %d\n",
			kind, c.Inserted, c.Updated, c.Deleted, c.Skipped)
	}

	for _, f := range report.Failures {
		if f.Transient() {
			fmt.Fprintf(w, "  ! %s (temporary, retry the push)\n", f)
			continue
		}

		fmt.Fprintf(w, "  ! %s\n", f)
	}

	return nil
}

type planSetDoc struct {
	Insert []string `json:"insert" yaml:"insert"`
	Update []string `json:"update" yaml:"update"`
	Delete []string `json:"delete" yaml:"delete"`
}

type planDoc struct {
	Mutations int                              `json:"mutations" yaml:"mutations"`
	Sets      map[models.EntityType]planSetDoc `json:"sets" yaml:"sets"`
	Diff      string                           `json:"diff,omitempty" yaml:"diff,omitempty"`
}

func recordIDs(records []models.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.RecordID())
	}

	return out
}

func renderPlan(w io.Writer, format string, plan reconcile.Plan, showDiff bool) error {
	doc := planDoc{
		Mutations: plan.Len(),
		Sets:      make(map[models.EntityType]planSetDoc, len(plan)),
	}

	for kind, set := range plan {
		doc.Sets[kind] = planSetDoc{
			Insert: recordIDs(set.ToInsert),
			Update: recordIDs(set.ToUpdate),
			Delete: recordIDs(set.ToDelete),
		}
	}

	if showDiff {
		d, err := reconcile.DescribePlan(plan, nil)
		if err != nil {
			return err
		}

		doc.Diff = d
	}

	if done, err := encode(w, format, doc); done {
		return err
	}

	if plan.Empty() {
		fmt.Fprintln(w, "nothing to sync")
		return nil
	}

	fmt.Fprintf(w, "%d changes\n", plan.Len())

	for _, kind := range models.EntityTypes {
		set := doc.Sets[kind]

		for _, id := range set.Insert {
			fmt.Fprintf(w, "+ %s %s\n", kind, id)
		}

		for _, id := range set.Update {
			fmt.Fprintf(w, "~ %s %s\n", kind, id)
		}

		for _, id := range set.Delete {
			fmt.Fprintf(w, "- %s %s\n", kind, id)
		}
	}

	if doc.Diff != "" {
		fmt.Fprintf(w, "\n%s", doc.Diff)
	}

	return nil
}

func renderMessage(w io.Writer, format, text string, v any) error {
	if done, err := encode(w, format, v); done {
		return err
	}

	_, err := fmt.Fprintln(w, text)

	return err
}

type transferViewDoc struct {
	ID          string `json:"id" yaml:"id"`
	PlaceID     string `json:"lieuId" yaml:"lieuId"`
	PeriodStart string `json:"periodStart" yaml:"periodStart"`
	PeriodEnd   string `json:"periodEnd" yaml:"periodEnd"`
	Status      string `json:"status" yaml:"status"`
	Amount      string `json:"amount" yaml:"amount"`
	Theoretical string `json:"theoretical" yaml:"theoretical"`
	Difference  string `json:"difference" yaml:"difference"`
}

type statusDoc struct {
	Places        int               `json:"places" yaml:"places"`
	Entries       int               `json:"entries" yaml:"entries"`
	Transfers     int               `json:"transfers" yaml:"transfers"`
	Consultations int               `json:"consultations" yaml:"consultations"`
	Acts          int               `json:"acts" yaml:"acts"`
	LastSync      *state.SyncRecord `json:"lastSync,omitempty" yaml:"lastSync,omitempty"`
	TransferViews []transferViewDoc `json:"transferViews" yaml:"transferViews"`
}

func renderStatus(w io.Writer, format string, ds *models.Dataset, last *state.SyncRecord) error {
	doc := statusDoc{
		Places:        len(ds.Places),
		Entries:       len(ds.Entries),
		Transfers:     len(ds.Transfers),
		Consultations: len(ds.Consultations),
		Acts:          len(ds.Acts),
		LastSync:      last,
		TransferViews: make([]transferViewDoc, 0, len(ds.Transfers)),
	}

	for _, v := range ds.TransferViews() {
		doc.TransferViews = append(doc.TransferViews, transferViewDoc{
			ID:          v.Transfer.ID,
			PlaceID:     v.Transfer.PlaceID,
			PeriodStart: v.Transfer.PeriodStart.String(),
			PeriodEnd:   v.Transfer.PeriodEnd.String(),
			Status:      string(v.Transfer.Status),
			Amount:      v.Transfer.Amount.StringFixed(2),
			Theoretical: v.Theoretical.StringFixed(2),
			Difference:  v.Difference.StringFixed(2),
		})
	}

	if done, err := encode(w, format, doc); done {
		return err
	}

	fmt.Fprintf(w, "local: %d places, %d entries, %d transfers\n", doc.Places, doc.Entries, doc.Transfers)

	if last == nil {
		fmt.Fprintln(w, "last push: never")
	} else {
		fmt.Fprintf(w, "last push: %s (%s)\n", last.At.Local().Format(time.DateTime), last.Summary)
	}

	for _, v := range doc.TransferViews {
		fmt.Fprintf(w, "  %s %s %s..%s %-8s amount %s  expected %s  difference %s\n",
			v.ID, v.PlaceID, v.PeriodStart, v.PeriodEnd, v.Status, v.Amount, v.Theoretical, v.Difference)
	}

	return nil
}

type rejectionDoc struct {
	Error           string                         `json:"error" yaml:"error"`
	Problems        []string                       `json:"problems,omitempty" yaml:"problems,omitempty"`
	Missing         map[models.EntityType][]string `json:"missing,omitempty" yaml:"missing,omitempty"`
	MissingPlaceIDs []string                       `json:"missingPlaceIds,omitempty" yaml:"missingPlaceIds,omitempty"`
}

// renderRejection describes a dataset that failed validation and returns
// err unchanged. Other errors are returned as is.
func renderRejection(w io.Writer, format string, err error) error {
	var verr *snapshot.ValidationError
	if !errors.As(err, &verr) {
		return err
	}

	doc := rejectionDoc{
		Error:           err.Error(),
		Problems:        verr.Problems,
		Missing:         verr.Missing,
		MissingPlaceIDs: verr.MissingPlaceIDs(),
	}

	if done, encErr := encode(w, format, doc); done {
		return errors.Join(err, encErr)
	}

	for _, p := range doc.Problems {
		fmt.Fprintf(w, "  ! %s\n", p)
	}

	if len(doc.MissingPlaceIDs) > 0 {
		fmt.Fprintf(w, "missing places: %s\n", strings.Join(doc.MissingPlaceIDs, ", "))
	}

	return err
}
