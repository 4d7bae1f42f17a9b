package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/alexjbarnes/retro-sync/internal/errors"
	"github.com/alexjbarnes/retro-sync/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func testDB(t *testing.T) *State {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := LoadAt(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func place(id string) models.Place {
	return models.Place{ID: id, Name: "Place " + id, Percentage: decimal.NewFromInt(50), CreatedAt: testNow, UpdatedAt: testNow}
}

func entry(id, placeID string) models.RevenueEntry {
	return models.RevenueEntry{
		ID:             id,
		Date:           models.NewDate(2024, time.March, 1),
		PlaceID:        placeID,
		Revenue:        decimal.NewFromInt(100),
		TheoreticalFee: decimal.NewFromInt(50),
	}
}

func transfer(id, placeID string) models.Transfer {
	return models.Transfer{
		ID:          id,
		PlaceID:     placeID,
		PeriodStart: models.NewDate(2024, time.March, 1),
		PeriodEnd:   models.NewDate(2024, time.March, 31),
		Amount:      decimal.NewFromInt(50),
		Status:      models.TransferPending,
	}
}

// --- LoadAt / Close ---

func TestLoadAt_CreatesDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "state.db")
	s, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	info, err := os.Stat(dbPath)
	require.NoError(t, err)
	assert.Equal(t, stateFilePerm, info.Mode().Perm())
}

func TestLoadAt_ReopensExistingDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	s1, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.Put(place("P1")))
	require.NoError(t, s1.Close())

	s2, err := LoadAt(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	p, err := s2.GetPlace("P1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Place P1", p.Name)
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	p, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/tester", ".retro-sync", "state.db"), p)
}

// --- Dataset ---

func TestDataset_EmptyByDefault(t *testing.T) {
	s := testDB(t)
	ds, err := s.Dataset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, ds.Len())
	assert.Empty(t, ds.Consultations)
}

func TestDataset_OrderedByID(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.Put(place("P2")))
	require.NoError(t, s.Put(place("P1")))
	require.NoError(t, s.Put(entry("E1", "P2")))
	require.NoError(t, s.Put(transfer("T1", "P1")))

	ds, err := s.Dataset(context.Background())
	require.NoError(t, err)
	require.Len(t, ds.Places, 2)
	assert.Equal(t, "P1", ds.Places[0].ID)
	assert.Equal(t, "P2", ds.Places[1].ID)
	assert.Equal(t, "P2", ds.Entries[0].PlaceID)
	assert.True(t, ds.Entries[0].Date.Equal(models.NewDate(2024, time.March, 1)))
	assert.True(t, ds.Transfers[0].Amount.Equal(decimal.NewFromInt(50)))
}

// --- Put / Delete ---

func TestPut_RejectsInvalidRecord(t *testing.T) {
	s := testDB(t)
	bad := place("P1")
	bad.Percentage = decimal.NewFromInt(120)

	err := s.Put(bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestPut_RejectsDanglingReference(t *testing.T) {
	s := testDB(t)

	err := s.Put(entry("E1", "P404"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	err = s.Put(transfer("T1", "P404"))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPut_Overwrite(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.Put(place("P1")))

	renamed := place("P1")
	renamed.Name = "Renamed"
	require.NoError(t, s.Put(renamed))

	p, err := s.GetPlace("P1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", p.Name)
}

func TestDelete_ReferencedPlaceRefused(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.Put(place("P1")))
	require.NoError(t, s.Put(transfer("T1", "P1")))

	err := s.Delete(models.EntityPlace, "P1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Contains(t, err.Error(), "T1")

	require.NoError(t, s.Delete(models.EntityTransfer, "T1"))
	require.NoError(t, s.Delete(models.EntityPlace, "P1"))

	p, err := s.GetPlace("P1")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestDelete_MissingIsNoop(t *testing.T) {
	s := testDB(t)
	assert.NoError(t, s.Delete(models.EntityRevenueEntry, "nope"))
	assert.Error(t, s.Delete("consultation", "nope"))
}

// --- ReplaceDataset ---

func TestReplaceDataset_SwapsEverything(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()
	require.NoError(t, s.Put(place("OLD")))

	ds := &models.Dataset{
		Places:        []models.Place{place("P1")},
		Entries:       []models.RevenueEntry{entry("E1", "P1")},
		Transfers:     []models.Transfer{transfer("T1", "P1")},
		Consultations: []json.RawMessage{json.RawMessage(`{"id":"C1","n":1}`), json.RawMessage(`{"n":2}`)},
		Acts:          []json.RawMessage{json.RawMessage(`{"id":"A1"}`)},
	}
	require.NoError(t, s.ReplaceDataset(ctx, ds))

	got, err := s.Dataset(ctx)
	require.NoError(t, err)
	require.Len(t, got.Places, 1)
	assert.Equal(t, "P1", got.Places[0].ID)
	assert.Len(t, got.Entries, 1)
	assert.Len(t, got.Transfers, 1)
	require.Len(t, got.Consultations, 2)
	assert.JSONEq(t, `{"id":"C1","n":1}`, string(got.Consultations[0]))
	assert.JSONEq(t, `{"n":2}`, string(got.Consultations[1]))
	assert.Len(t, got.Acts, 1)

	p, err := s.GetPlace("OLD")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestReplaceDataset_KeepsSiblingDocumentsInOrder(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()

	docs := []json.RawMessage{
		json.RawMessage(`{"id":"C9","n":1}`),
		json.RawMessage(`{"id":"C1","n":2}`),
		json.RawMessage(`{"id":"C9","n":3}`),
		json.RawMessage(`{"n":4}`),
	}
	require.NoError(t, s.ReplaceDataset(ctx, &models.Dataset{Consultations: docs}))

	got, err := s.Dataset(ctx)
	require.NoError(t, err)
	require.Len(t, got.Consultations, len(docs))

	for i, doc := range docs {
		assert.JSONEq(t, string(doc), string(got.Consultations[i]))
	}

	require.NoError(t, s.ReplaceDataset(ctx, &models.Dataset{Consultations: docs[:1]}))

	got, err = s.Dataset(ctx)
	require.NoError(t, err)
	require.Len(t, got.Consultations, 1)
	assert.JSONEq(t, `{"id":"C9","n":1}`, string(got.Consultations[0]))
}

func TestReplaceDataset_Empty(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()
	require.NoError(t, s.Put(place("P1")))

	require.NoError(t, s.ReplaceDataset(ctx, &models.Dataset{}))

	got, err := s.Dataset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
}

// --- LastSync ---

func TestLastSync_NilByDefault(t *testing.T) {
	s := testDB(t)
	rec, err := s.LastSync()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSetLastSync_RoundTrip(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.SetLastSync(context.Background(), testNow, "3 of 3 records synced"))

	rec, err := s.LastSync()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.At.Equal(testNow))
	assert.Equal(t, "3 of 3 records synced", rec.Summary)
}
