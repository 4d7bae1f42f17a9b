package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	apperrors "github.com/alexjbarnes/retro-sync/internal/errors"
	"github.com/alexjbarnes/retro-sync/internal/models"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultConcurrency is the number of remote calls issued at once
	// within a phase.
	DefaultConcurrency = 4

	// DefaultCallTimeout bounds every individual remote call.
	DefaultCallTimeout = 30 * time.Second
)

// Options tunes the apply engine. Zero values select the defaults.
type Options struct {
	Graph       Graph
	Concurrency int
	CallTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Graph == nil {
		o.Graph = DefaultGraph
	}

	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}

	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}

	return o
}

// Applier executes a Plan against a remote store in dependency order:
//  1. Inserts, one dependency layer at a time, referenced types first.
//  2. Updates for every entity type in a single concurrent phase.
//  3. Deletes, one layer at a time, referencing types first.
//
// Phases run sequentially; calls within a phase run concurrently. A failed
// call is recorded and never aborts its siblings or later phases.
type Applier struct {
	remote      RemoteStore
	graph       Graph
	layers      [][]models.EntityType
	concurrency int
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewApplier validates the dependency graph and returns an engine bound
// to remote.
func NewApplier(remote RemoteStore, opts Options, logger *slog.Logger) (*Applier, error) {
	opts = opts.withDefaults()

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	layers, err := opts.Graph.Layers()
	if err != nil {
		return nil, fmt.Errorf("ordering entity types: %w", err)
	}

	return &Applier{
		remote:      remote,
		graph:       opts.Graph,
		layers:      layers,
		concurrency: opts.Concurrency,
		callTimeout: opts.CallTimeout,
		logger:      logger,
	}, nil
}

// Apply executes plan and returns the per-record outcome. Cancelling ctx
// stops mutations that have not been issued yet; those are counted as
// skipped. Calls already in flight run to completion under their own
// timeout.
func (a *Applier) Apply(ctx context.Context, plan Plan) *Report {
	report := NewReport()

	for entity, set := range plan {
		if _, ok := a.graph[entity]; ok {
			continue
		}

		a.rejectUndeclared(report, entity, set)
	}

	inserted := make(map[models.EntityType]bool, len(a.graph))

	for _, layer := range a.layers {
		a.assertInsertOrder(layer, inserted)
		a.runPhase(ctx, report, OpInsert, collect(plan, layer, OpInsert))

		for _, kind := range layer {
			inserted[kind] = true
		}
	}

	a.runPhase(ctx, report, OpUpdate, collect(plan, slices.Concat(a.layers...), OpUpdate))

	deleted := make(map[models.EntityType]bool, len(a.graph))

	for i := len(a.layers) - 1; i >= 0; i-- {
		layer := a.layers[i]

		a.assertDeleteOrder(layer, deleted)
		a.runPhase(ctx, report, OpDelete, collect(plan, layer, OpDelete))

		for _, kind := range layer {
			deleted[kind] = true
		}
	}

	report.finish()

	a.logger.Info("apply complete",
		slog.Int("succeeded", report.Succeeded()),
		slog.Int("failed", report.Failed()),
		slog.Int("skipped", report.Skipped()),
	)

	return report
}

// assertInsertOrder panics when a layer is about to be inserted before
// one of the layers it references.
func (a *Applier) assertInsertOrder(layer []models.EntityType, inserted map[models.EntityType]bool) {
	for _, kind := range layer {
		for _, dep := range a.graph[kind] {
			if !inserted[dep] {
				panic(fmt.Errorf("%w: inserting %s before %s", apperrors.ErrOrderingPrecondition, kind, dep))
			}
		}
	}
}

// assertDeleteOrder panics when a layer is about to be deleted while a
// layer referencing it has not been deleted yet.
func (a *Applier) assertDeleteOrder(layer []models.EntityType, deleted map[models.EntityType]bool) {
	for _, kind := range layer {
		for _, dependent := range a.graph.Dependents(kind) {
			if !deleted[dependent] {
				panic(fmt.Errorf("%w: deleting %s before %s", apperrors.ErrOrderingPrecondition, kind, dependent))
			}
		}
	}
}

// rejectUndeclared records every mutation of an entity type missing from
// the graph as failed, since no safe order exists for it.
func (a *Applier) rejectUndeclared(report *Report, entity models.EntityType, set MutationSet) {
	err := fmt.Errorf("%w: %s is not in the dependency graph", apperrors.ErrOrderingPrecondition, entity)

	for _, m := range flatten(set) {
		report.record(m.op, m.rec, err)
	}

	a.logger.Error("plan holds undeclared entity type", slog.String("entity", string(entity)), slog.Int("mutations", set.Len()))
}

type mutation struct {
	op  Operation
	rec models.Record
}

func flatten(set MutationSet) []mutation {
	out := make([]mutation, 0, set.Len())

	for _, rec := range set.ToInsert {
		out = append(out, mutation{op: OpInsert, rec: rec})
	}

	for _, rec := range set.ToUpdate {
		out = append(out, mutation{op: OpUpdate, rec: rec})
	}

	for _, rec := range set.ToDelete {
		out = append(out, mutation{op: OpDelete, rec: rec})
	}

	return out
}

// collect gathers the records of the given operation for the entity types
// in kinds, in kinds order.
func collect(plan Plan, kinds []models.EntityType, op Operation) []models.Record {
	var out []models.Record

	for _, kind := range kinds {
		set := plan[kind]

		switch op {
		case OpInsert:
			out = append(out, set.ToInsert...)
		case OpUpdate:
			out = append(out, set.ToUpdate...)
		case OpDelete:
			out = append(out, set.ToDelete...)
		}
	}

	return out
}

// runPhase issues one call per record with bounded concurrency and waits
// for all of them.
func (a *Applier) runPhase(ctx context.Context, report *Report, op Operation, records []models.Record) {
	if len(records) == 0 {
		return
	}

	a.logger.Debug("apply phase starting", slog.String("op", string(op)), slog.Int("records", len(records)))

	// Not errgroup.WithContext: one failed call must not cancel siblings.
	var g errgroup.Group

	g.SetLimit(a.concurrency)

	for _, rec := range records {
		if ctx.Err() != nil {
			report.skip(rec.Entity())
			continue
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				report.skip(rec.Entity())
				return nil
			}

			err := a.call(ctx, op, rec)
			if err != nil {
				a.logger.Warn("remote call failed",
					slog.String("op", string(op)),
					slog.String("entity", string(rec.Entity())),
					slog.String("id", rec.RecordID()),
					slog.String("error", err.Error()),
				)
			}

			report.record(op, rec, err)

			return nil
		})
	}

	_ = g.Wait()
}

// call issues one remote call. Its context is detached from ctx's
// cancellation so a record is never left half written, but carries its
// own timeout.
func (a *Applier) call(ctx context.Context, op Operation, rec models.Record) error {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.callTimeout)
	defer cancel()

	var err error

	switch op {
	case OpInsert:
		err = a.remote.Insert(callCtx, rec)
	case OpUpdate:
		err = a.remote.Update(callCtx, rec.RecordID(), rec)
	case OpDelete:
		err = a.remote.Delete(callCtx, rec.Entity(), rec.RecordID())
	default:
		err = fmt.Errorf("unknown operation %q", op)
	}

	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrRemoteOperation, err)
	}

	return nil
}
