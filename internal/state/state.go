// Package state is the local, authoritative store of the bookkeeping
// collections, backed by a bbolt database.
package state

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/alexjbarnes/retro-sync/internal/errors"
	"github.com/alexjbarnes/retro-sync/internal/models"
	"github.com/tidwall/gjson"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.retro-sync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket           = []byte("app")
	lastSyncKey         = []byte("last_sync")
	placesBucket        = []byte("places")
	entriesBucket       = []byte("entries")
	transfersBucket     = []byte("transfers")
	consultationsBucket = []byte("consultations")
	actsBucket          = []byte("acts")
)

var recordBuckets = map[models.EntityType][]byte{
	models.EntityPlace:        placesBucket,
	models.EntityRevenueEntry: entriesBucket,
	models.EntityTransfer:     transfersBucket,
}

var dataBuckets = [][]byte{placesBucket, entriesBucket, transfersBucket, consultationsBucket, actsBucket}

// SyncRecord is the outcome of the last push, kept for status display.
type SyncRecord struct {
	At      time.Time `json:"at"`
	Summary string    `json:"summary"`
}

// State wraps a bbolt database holding the local dataset.
type State struct {
	db *bolt.DB
}

// DefaultPath returns ~/.retro-sync/state.db.
func DefaultPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".retro-sync", "state.db"), nil
}

// LoadAt opens a state database at the given path, creating it and its
// buckets if they do not exist.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(appBucket); err != nil {
			return err
		}

		for _, name := range dataBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Dataset reads every collection inside a single read transaction, so
// the result is a consistent snapshot even while writers are active.
// Records come back ordered by id.
func (s *State) Dataset(_ context.Context) (*models.Dataset, error) {
	ds := &models.Dataset{}

	err := s.db.View(func(tx *bolt.Tx) error {
		var err error

		if ds.Places, err = readAll[models.Place](tx, placesBucket); err != nil {
			return fmt.Errorf("reading places: %w", err)
		}

		if ds.Entries, err = readAll[models.RevenueEntry](tx, entriesBucket); err != nil {
			return fmt.Errorf("reading entries: %w", err)
		}

		if ds.Transfers, err = readAll[models.Transfer](tx, transfersBucket); err != nil {
			return fmt.Errorf("reading transfers: %w", err)
		}

		ds.Consultations = readRaw(tx, consultationsBucket)
		ds.Acts = readRaw(tx, actsBucket)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return ds, nil
}

func readAll[T any](tx *bolt.Tx, bucket []byte) ([]T, error) {
	var out []T

	err := tx.Bucket(bucket).ForEach(func(k, v []byte) error {
		var item T
		if err := json.Unmarshal(v, &item); err != nil {
			return fmt.Errorf("decoding %s: %w", k, err)
		}

		out = append(out, item)

		return nil
	})

	return out, err
}

func readRaw(tx *bolt.Tx, bucket []byte) []json.RawMessage {
	var out []json.RawMessage

	_ = tx.Bucket(bucket).ForEach(func(_, v []byte) error {
		// bbolt values are only valid for the life of the transaction.
		out = append(out, json.RawMessage(append([]byte(nil), v...)))
		return nil
	})

	return out
}

// ReplaceDataset atomically swaps the whole local dataset for ds. Either
// every collection is replaced or nothing changes.
func (s *State) ReplaceDataset(_ context.Context, ds *models.Dataset) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range dataBuckets {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("clearing %s: %w", name, err)
			}

			if _, err := tx.CreateBucket(name); err != nil {
				return fmt.Errorf("recreating %s: %w", name, err)
			}
		}

		for _, entity := range models.EntityTypes {
			b := tx.Bucket(recordBuckets[entity])

			for _, rec := range ds.Records(entity) {
				if err := putJSON(b, rec.RecordID(), rec); err != nil {
					return err
				}
			}
		}

		if err := putRaw(tx.Bucket(consultationsBucket), ds.Consultations); err != nil {
			return err
		}

		return putRaw(tx.Bucket(actsBucket), ds.Acts)
	})
}

// putRaw stores opaque documents under big-endian sequence keys, so they
// read back in their original order and documents sharing an id are all
// kept.
func putRaw(b *bolt.Bucket, docs []json.RawMessage) error {
	for _, doc := range docs {
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)

		if err := b.Put(key, doc); err != nil {
			return err
		}
	}

	return nil
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return b.Put([]byte(key), data)
}

// Put validates and stores a single record. Entries and transfers must
// reference a place already stored.
func (s *State) Put(rec models.Record) error {
	if v, ok := rec.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %w", apperrors.ErrValidation, err)
		}
	}

	bucket, ok := recordBuckets[rec.Entity()]
	if !ok {
		return fmt.Errorf("unsupported entity type %q", rec.Entity())
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if dep, ok := rec.(models.Dependent); ok {
			if tx.Bucket(placesBucket).Get([]byte(dep.PlaceRef())) == nil {
				return fmt.Errorf("%s %s references place %s: %w", rec.Entity(), rec.RecordID(), dep.PlaceRef(), apperrors.ErrNotFound)
			}
		}

		return putJSON(tx.Bucket(bucket), rec.RecordID(), rec)
	})
}

// Delete removes a record by id. A place still referenced by an entry or
// a transfer cannot be deleted. Deleting a missing record is not an error.
func (s *State) Delete(entity models.EntityType, id string) error {
	bucket, ok := recordBuckets[entity]
	if !ok {
		return fmt.Errorf("unsupported entity type %q", entity)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if entity == models.EntityPlace {
			if ref, err := firstReference(tx, id); err != nil {
				return err
			} else if ref != "" {
				return fmt.Errorf("place %s is referenced by %s: %w", id, ref, apperrors.ErrConflict)
			}
		}

		return tx.Bucket(bucket).Delete([]byte(id))
	})
}

// firstReference returns the id of a dependent record pointing at
// placeID, or "" when there is none.
func firstReference(tx *bolt.Tx, placeID string) (string, error) {
	for _, name := range [][]byte{entriesBucket, transfersBucket} {
		var found string

		err := tx.Bucket(name).ForEach(func(k, v []byte) error {
			if found == "" && gjson.GetBytes(v, "lieuId").String() == placeID {
				found = string(k)
			}

			return nil
		})
		if err != nil {
			return "", err
		}

		if found != "" {
			return found, nil
		}
	}

	return "", nil
}

// GetPlace returns the place with the given id, or nil if not found.
func (s *State) GetPlace(id string) (*models.Place, error) {
	var p *models.Place

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(placesBucket).Get([]byte(id))
		if v == nil {
			return nil
		}

		p = &models.Place{}

		return json.Unmarshal(v, p)
	})

	return p, err
}

// SetLastSync records the outcome of the latest push.
func (s *State) SetLastSync(_ context.Context, at time.Time, summary string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(appBucket), string(lastSyncKey), SyncRecord{At: at, Summary: summary})
	})
}

// LastSync returns the outcome of the latest push, or nil if none.
func (s *State) LastSync() (*SyncRecord, error) {
	var rec *SyncRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(lastSyncKey)
		if v == nil {
			return nil
		}

		rec = &SyncRecord{}

		return json.Unmarshal(v, rec)
	})

	return rec, err
}
