package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexjbarnes/retro-sync/internal/models"
	"github.com/alexjbarnes/retro-sync/internal/snapshot"
)

//go:generate mockgen -source=syncer.go -destination=mock_store_test.go -package=reconcile

// RemoteStore is the replica being kept in sync. Every call touches a
// single record; no multi-record atomicity is assumed.
type RemoteStore interface {
	Insert(ctx context.Context, rec models.Record) error
	Update(ctx context.Context, id string, rec models.Record) error
	Delete(ctx context.Context, entity models.EntityType, id string) error
	ListAll(ctx context.Context, entity models.EntityType) ([]models.Record, error)
}

// LocalStore is the authoritative local copy of the dataset.
type LocalStore interface {
	Dataset(ctx context.Context) (*models.Dataset, error)
	ReplaceDataset(ctx context.Context, ds *models.Dataset) error
	SetLastSync(ctx context.Context, at time.Time, summary string) error
}

// FetchRemote lists every synchronized collection of remote into a dataset.
func FetchRemote(ctx context.Context, remote RemoteStore) (*models.Dataset, error) {
	ds := &models.Dataset{}

	for _, entity := range models.EntityTypes {
		records, err := remote.ListAll(ctx, entity)
		if err != nil {
			return nil, fmt.Errorf("listing remote %s: %w", entity, err)
		}

		for _, rec := range records {
			if err := ds.Add(rec); err != nil {
				return nil, fmt.Errorf("listing remote %s: %w", entity, err)
			}
		}
	}

	return ds, nil
}

// Sync pushes local to remote: it lists the remote collections, diffs them
// against local and applies the resulting plan. The returned error is set
// only when the remote could not be listed; per-record failures are in
// the report.
func Sync(ctx context.Context, remote RemoteStore, local *models.Dataset, opts Options, logger *slog.Logger) (*Report, error) {
	applier, err := NewApplier(remote, opts, logger)
	if err != nil {
		return nil, err
	}

	remoteDS, err := FetchRemote(ctx, remote)
	if err != nil {
		return nil, err
	}

	return applier.Apply(ctx, BuildPlan(local, remoteDS)), nil
}

// Syncer ties a local store to a remote replica.
type Syncer struct {
	local   LocalStore
	remote  RemoteStore
	applier *Applier
	logger  *slog.Logger
}

// NewSyncer creates a syncer with the given dependencies. remote may be
// nil when only Import and Export are used.
func NewSyncer(local LocalStore, remote RemoteStore, opts Options, logger *slog.Logger) (*Syncer, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	applier, err := NewApplier(remote, opts, logger)
	if err != nil {
		return nil, err
	}

	return &Syncer{
		local:   local,
		remote:  remote,
		applier: applier,
		logger:  logger,
	}, nil
}

// Plan computes, without applying, what a push would do.
func (s *Syncer) Plan(ctx context.Context) (Plan, error) {
	local, err := s.local.Dataset(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading local dataset: %w", err)
	}

	remote, err := FetchRemote(ctx, s.remote)
	if err != nil {
		return nil, err
	}

	return BuildPlan(local, remote), nil
}

// Push makes the remote replica match the local store. The local store is
// read once; changes made while the push runs are picked up by the next
// push. The outcome is also recorded in the local store.
func (s *Syncer) Push(ctx context.Context) (*Report, error) {
	plan, err := s.Plan(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Info("push starting",
		slog.Int("places", plan[models.EntityPlace].Len()),
		slog.Int("entries", plan[models.EntityRevenueEntry].Len()),
		slog.Int("transfers", plan[models.EntityTransfer].Len()),
	)

	report := s.applier.Apply(ctx, plan)

	if err := s.local.SetLastSync(ctx, report.FinishedAt, report.Summary()); err != nil {
		s.logger.Warn("failed to record sync outcome", slog.String("error", err.Error()))
	}

	return report, nil
}

// Pull replaces the local dataset with the remote one. The remote copy
// must pass the same integrity check as an imported snapshot; when it
// does not, the local store is left untouched. Sibling collections that
// only exist locally are kept.
func (s *Syncer) Pull(ctx context.Context) (*models.Dataset, error) {
	remote, err := FetchRemote(ctx, s.remote)
	if err != nil {
		return nil, err
	}

	if err := snapshot.Validate(remote); err != nil {
		return nil, fmt.Errorf("remote dataset: %w", err)
	}

	local, err := s.local.Dataset(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading local dataset: %w", err)
	}

	remote.Consultations = local.Consultations
	remote.Acts = local.Acts

	if err := s.local.ReplaceDataset(ctx, remote); err != nil {
		return nil, fmt.Errorf("replacing local dataset: %w", err)
	}

	s.logger.Info("pull complete", slog.Int("records", remote.Len()))

	return remote, nil
}

// Import decodes a snapshot and, once it has passed validation, replaces
// the local dataset with it. Record ids are preserved, so a later push
// treats restored records as already known.
func (s *Syncer) Import(ctx context.Context, data []byte) (*models.Dataset, error) {
	ds, err := snapshot.Decode(data)
	if err != nil {
		return nil, err
	}

	if err := s.local.ReplaceDataset(ctx, ds); err != nil {
		return nil, fmt.Errorf("replacing local dataset: %w", err)
	}

	s.logger.Info("snapshot imported", slog.Int("records", ds.Len()))

	return ds, nil
}

// Export encodes the local dataset as a snapshot stamped with now.
func (s *Syncer) Export(ctx context.Context, now time.Time) ([]byte, error) {
	ds, err := s.local.Dataset(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading local dataset: %w", err)
	}

	return snapshot.Encode(ds, now)
}
