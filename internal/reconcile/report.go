package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/alexjbarnes/retro-sync/internal/errors"
	"github.com/alexjbarnes/retro-sync/internal/models"
)

// Operation is the kind of remote call a mutation issues.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// maxSummaryFailures caps how many failures Summary spells out.
const maxSummaryFailures = 5

// Counts tallies the outcome of mutations for one entity type. Skipped
// counts mutations never issued because the sync was cancelled.
type Counts struct {
	Inserted int `json:"inserted" yaml:"inserted"`
	Updated  int `json:"updated" yaml:"updated"`
	Deleted  int `json:"deleted" yaml:"deleted"`
	Skipped  int `json:"skipped" yaml:"skipped"`
}

// Failure is one remote call that returned an error.
type Failure struct {
	ID     string
	Entity models.EntityType
	Op     Operation
	Err    error
}

// Transient reports whether the failure is likely temporary, so a later
// sync may succeed without any change to the data.
func (f Failure) Transient() bool {
	return apperrors.IsTransient(f.Err) || errors.Is(f.Err, context.DeadlineExceeded)
}

func (f Failure) String() string {
	return fmt.Sprintf("%s %s %s: %v", f.Op, f.Entity, f.ID, f.Err)
}

// Report is the outcome of one synchronization call. Recording methods
// are safe for concurrent use; read the fields once Apply has returned.
type Report struct {
	mu sync.Mutex

	StartedAt  time.Time
	FinishedAt time.Time
	Counts     map[models.EntityType]*Counts
	Failures   []Failure
}

// NewReport returns an empty report started now.
func NewReport() *Report {
	return &Report{
		StartedAt: time.Now(),
		Counts:    make(map[models.EntityType]*Counts),
	}
}

func (r *Report) counts(entity models.EntityType) *Counts {
	c, ok := r.Counts[entity]
	if !ok {
		c = &Counts{}
		r.Counts[entity] = c
	}

	return c
}

// record tallies the result of one remote call.
func (r *Report) record(op Operation, rec models.Record, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.Failures = append(r.Failures, Failure{
			ID:     rec.RecordID(),
			Entity: rec.Entity(),
			Op:     op,
			Err:    err,
		})

		return
	}

	c := r.counts(rec.Entity())

	switch op {
	case OpInsert:
		c.Inserted++
	case OpUpdate:
		c.Updated++
	case OpDelete:
		c.Deleted++
	}
}

func (r *Report) skip(entity models.EntityType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counts(entity).Skipped++
}

func (r *Report) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.FinishedAt = time.Now()
}

// CountsFor returns the tallies for entity, zero when nothing happened.
func (r *Report) CountsFor(entity models.EntityType) Counts {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.Counts[entity]; ok {
		return *c
	}

	return Counts{}
}

// Succeeded returns the number of remote calls that succeeded.
func (r *Report) Succeeded() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, c := range r.Counts {
		n += c.Inserted + c.Updated + c.Deleted
	}

	return n
}

// Skipped returns the number of mutations never issued.
func (r *Report) Skipped() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, c := range r.Counts {
		n += c.Skipped
	}

	return n
}

// Failed returns the number of remote calls that returned an error.
func (r *Report) Failed() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.Failures)
}

// Attempted returns the number of remote calls issued.
func (r *Report) Attempted() int {
	return r.Succeeded() + r.Failed()
}

// HasFailures reports whether any remote call failed.
func (r *Report) HasFailures() bool {
	return r.Failed() > 0
}

// Summary renders a one-line human readable outcome, for example
// "12 of 15 records synced; 3 failed: ...".
func (r *Report) Summary() string {
	succeeded, failed, skipped := r.Succeeded(), r.Failed(), r.Skipped()
	total := succeeded + failed + skipped

	if total == 0 {
		return "nothing to sync"
	}

	var b strings.Builder

	fmt.Fprintf(&b, "%d of %d records synced", succeeded, total)

	if failed > 0 {
		r.mu.Lock()

		parts := make([]string, 0, min(len(r.Failures), maxSummaryFailures))
		for i, f := range r.Failures {
			if i == maxSummaryFailures {
				parts = append(parts, fmt.Sprintf("and %d more", len(r.Failures)-i))
				break
			}

			parts = append(parts, f.String())
		}

		r.mu.Unlock()

		fmt.Fprintf(&b, "; %d failed: %s", failed, strings.Join(parts, "; "))
	}

	if skipped > 0 {
		fmt.Fprintf(&b, "; %d not attempted", skipped)
	}

	return b.String()
}

type failureDoc struct {
	ID        string            `json:"id" yaml:"id"`
	Entity    models.EntityType `json:"entityType" yaml:"entityType"`
	Op        Operation         `json:"operation" yaml:"operation"`
	Error     string            `json:"error" yaml:"error"`
	Transient bool              `json:"transient" yaml:"transient"`
}

type reportDoc struct {
	StartedAt  time.Time                    `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time                    `json:"finishedAt" yaml:"finishedAt"`
	Summary    string                       `json:"summary" yaml:"summary"`
	Counts     map[models.EntityType]Counts `json:"counts" yaml:"counts"`
	Failures   []failureDoc                 `json:"failures" yaml:"failures"`
}

func (r *Report) doc() reportDoc {
	summary := r.Summary()

	r.mu.Lock()
	defer r.mu.Unlock()

	d := reportDoc{
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Summary:    summary,
		Counts:     make(map[models.EntityType]Counts, len(r.Counts)),
		Failures:   make([]failureDoc, 0, len(r.Failures)),
	}

	for k, c := range r.Counts {
		d.Counts[k] = *c
	}

	for _, f := range r.Failures {
		d.Failures = append(d.Failures, failureDoc{
			ID:        f.ID,
			Entity:    f.Entity,
			Op:        f.Op,
			Error:     f.Err.Error(),
			Transient: f.Transient(),
		})
	}

	return d
}

// MarshalJSON implements json.Marshaler. Errors are rendered as strings.
func (r *Report) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.doc())
}

// MarshalYAML implements yaml.Marshaler.
func (r *Report) MarshalYAML() (interface{}, error) {
	return r.doc(), nil
}
