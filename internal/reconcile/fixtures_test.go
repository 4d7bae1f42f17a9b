package reconcile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	apperrors "github.com/alexjbarnes/retro-sync/internal/errors"
	"github.com/alexjbarnes/retro-sync/internal/models"
	"github.com/shopspring/decimal"
)

var (
	testNow     = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func place(id string, pct int64) models.Place {
	return models.Place{
		ID:         id,
		Name:       "Cabinet " + id,
		Percentage: decimal.NewFromInt(pct),
		CreatedAt:  testNow,
		UpdatedAt:  testNow,
	}
}

func entry(id, placeID string, day int, revenue int64) models.RevenueEntry {
	return models.RevenueEntry{
		ID:             id,
		Date:           models.NewDate(2024, time.March, day),
		PlaceID:        placeID,
		Revenue:        decimal.NewFromInt(revenue),
		TheoreticalFee: decimal.NewFromInt(revenue / 2),
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	}
}

func transfer(id, placeID string, amount int64) models.Transfer {
	return models.Transfer{
		ID:          id,
		PeriodStart: models.NewDate(2024, time.March, 1),
		PeriodEnd:   models.NewDate(2024, time.March, 31),
		PlaceID:     placeID,
		Amount:      decimal.NewFromInt(amount),
		Status:      models.TransferPending,
		CreatedAt:   testNow,
		UpdatedAt:   testNow,
	}
}

func ids(records []models.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.RecordID())
	}

	return out
}

// call is one mutation observed by fakeRemote.
type call struct {
	op Operation
	id string
}

// fakeRemote is an in-memory RemoteStore that enforces place references
// the way a relational backend does.
type fakeRemote struct {
	mu      sync.Mutex
	records map[models.EntityType]map[string]models.Record
	calls   []call

	// fail holds the error returned for "op:id".
	fail map[string]error

	// onCall runs before every mutation, outside the lock.
	onCall func(ctx context.Context, op Operation, id string) error
}

func newFakeRemote(recs ...models.Record) *fakeRemote {
	f := &fakeRemote{
		records: make(map[models.EntityType]map[string]models.Record),
		fail:    make(map[string]error),
	}

	for _, kind := range models.EntityTypes {
		f.records[kind] = make(map[string]models.Record)
	}

	for _, r := range recs {
		f.records[r.Entity()][r.RecordID()] = r
	}

	return f
}

func (f *fakeRemote) seed(ds *models.Dataset) {
	for _, kind := range models.EntityTypes {
		for _, r := range ds.Records(kind) {
			f.records[kind][r.RecordID()] = r
		}
	}
}

func (f *fakeRemote) before(ctx context.Context, op Operation, id string) error {
	if f.onCall != nil {
		if err := f.onCall(ctx, op, id); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, call{op: op, id: id})

	return f.fail[string(op)+":"+id]
}

func (f *fakeRemote) Insert(ctx context.Context, rec models.Record) error {
	if err := f.before(ctx, OpInsert, rec.RecordID()); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if dep, ok := rec.(models.Dependent); ok {
		if _, found := f.records[models.EntityPlace][dep.PlaceRef()]; !found {
			return fmt.Errorf("%w: place %s", apperrors.ErrNotFound, dep.PlaceRef())
		}
	}

	if _, exists := f.records[rec.Entity()][rec.RecordID()]; exists {
		return fmt.Errorf("%w: %s exists", apperrors.ErrConflict, rec.RecordID())
	}

	f.records[rec.Entity()][rec.RecordID()] = rec

	return nil
}

func (f *fakeRemote) Update(ctx context.Context, id string, rec models.Record) error {
	if err := f.before(ctx, OpUpdate, id); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.records[rec.Entity()][id]; !exists {
		return fmt.Errorf("%w: %s", apperrors.ErrNotFound, id)
	}

	f.records[rec.Entity()][id] = rec

	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, entity models.EntityType, id string) error {
	if err := f.before(ctx, OpDelete, id); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if entity == models.EntityPlace {
		for _, kind := range []models.EntityType{models.EntityRevenueEntry, models.EntityTransfer} {
			for _, r := range f.records[kind] {
				if r.(models.Dependent).PlaceRef() == id {
					return fmt.Errorf("%w: place %s referenced by %s", apperrors.ErrConflict, id, r.RecordID())
				}
			}
		}
	}

	delete(f.records[entity], id)

	return nil
}

func (f *fakeRemote) ListAll(_ context.Context, entity models.EntityType) ([]models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]models.Record, 0, len(f.records[entity]))
	for _, r := range f.records[entity] {
		out = append(out, r)
	}

	slices.SortFunc(out, func(a, b models.Record) int {
		return strings.Compare(a.RecordID(), b.RecordID())
	})

	return out, nil
}

func (f *fakeRemote) callLog() []call {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.calls)
}

func (f *fakeRemote) position(op Operation, id string) int {
	return slices.Index(f.callLog(), call{op: op, id: id})
}
