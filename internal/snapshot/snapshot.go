// Package snapshot encodes the full dataset to a portable, versioned JSON
// document and decodes it back, rejecting documents whose shape or
// foreign keys are inconsistent. Decoding preserves record identifiers.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/retro-sync/internal/models"
	"github.com/tidwall/gjson"
	"golang.org/x/mod/semver"
)

// CurrentVersion is the format version written by Encode.
const CurrentVersion = "1.0.0"

// supportedMajor is the only major format version Decode accepts.
const supportedMajor = "v1"

const (
	snapshotDirPerm  = fs.FileMode(0o700)
	snapshotFilePerm = fs.FileMode(0o600)
)

// Collection keys in the envelope. They keep the names used by files the
// application has always exported.
const (
	keyPlaces        = "lieux"
	keyEntries       = "journees"
	keyTransfers     = "virements"
	keyConsultations = "consultations"
	keyActs          = "actes"
)

type envelope struct {
	Version       string                `json:"version"`
	ExportedAt    time.Time             `json:"exportedAt"`
	Places        []models.Place        `json:"lieux"`
	Entries       []models.RevenueEntry `json:"journees"`
	Transfers     []models.Transfer     `json:"virements"`
	Consultations []json.RawMessage     `json:"consultations,omitempty"`
	Acts          []json.RawMessage     `json:"actes,omitempty"`
}

// Header is the metadata of a snapshot document.
type Header struct {
	Version    string
	ExportedAt time.Time
}

// Encode serializes ds into a snapshot document stamped with exportedAt.
func Encode(ds *models.Dataset, exportedAt time.Time) ([]byte, error) {
	env := envelope{
		Version:       CurrentVersion,
		ExportedAt:    exportedAt.UTC(),
		Places:        orEmpty(ds.Places),
		Entries:       orEmpty(ds.Entries),
		Transfers:     orEmpty(ds.Transfers),
		Consultations: ds.Consultations,
		Acts:          ds.Acts,
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}

	return data, nil
}

// Decode parses a snapshot document. It checks the top-level shape, parses
// dates and amounts, validates each record and finally checks that every
// place reference resolves within the document. Any failure is returned
// as a *ValidationError and no data is returned.
func Decode(data []byte) (*models.Dataset, error) {
	if err := checkShape(data); err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ValidationError{Problems: []string{fmt.Sprintf("decoding snapshot: %v", err)}}
	}

	ds := &models.Dataset{
		Places:        env.Places,
		Entries:       env.Entries,
		Transfers:     env.Transfers,
		Consultations: env.Consultations,
		Acts:          env.Acts,
	}

	if err := Validate(ds); err != nil {
		return nil, err
	}

	return ds, nil
}

// Validate applies the record checks and the integrity check of Decode to
// a dataset obtained some other way, such as a remote listing.
// Record problems and dangling references are reported together.
func Validate(ds *models.Dataset) error {
	var verr ValidationError

	if err := ds.Validate(); err != nil {
		verr.Problems = problemsOf(err)
	}

	var integrity *ValidationError
	if err := CheckIntegrity(ds); errors.As(err, &integrity) {
		verr.Missing = integrity.Missing
	}

	if len(verr.Problems) == 0 && len(verr.Missing) == 0 {
		return nil
	}

	return &verr
}

// ReadHeader returns the version and export time of a snapshot without
// decoding its collections.
func ReadHeader(data []byte) (Header, error) {
	if !gjson.ValidBytes(data) {
		return Header{}, &ValidationError{Problems: []string{"snapshot is not valid JSON"}}
	}

	res := gjson.GetManyBytes(data, "version", "exportedAt")

	h := Header{Version: res[0].String()}

	if res[1].Exists() {
		t, err := time.Parse(time.RFC3339Nano, res[1].String())
		if err != nil {
			return Header{}, &ValidationError{Problems: []string{fmt.Sprintf("exportedAt %q is not an ISO-8601 timestamp", res[1].String())}}
		}

		h.ExportedAt = t
	}

	return h, nil
}

// checkShape rejects documents whose top level does not look like a
// snapshot before any typed decoding happens.
func checkShape(data []byte) error {
	if !gjson.ValidBytes(data) {
		return &ValidationError{Problems: []string{"snapshot is not valid JSON"}}
	}

	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return &ValidationError{Problems: []string{"snapshot must be a JSON object"}}
	}

	var problems []string

	version := root.Get("version")

	switch {
	case !version.Exists():
		problems = append(problems, "missing version")
	case version.Type != gjson.String:
		problems = append(problems, fmt.Sprintf("version must be a string, got %s", version.Type))
	default:
		v := "v" + version.String()
		if !semver.IsValid(v) {
			problems = append(problems, fmt.Sprintf("version %q is not a semantic version", version.String()))
		} else if semver.Major(v) != supportedMajor {
			problems = append(problems, fmt.Sprintf("unsupported snapshot version %q (supported: %s.x)", version.String(), supportedMajor[1:]))
		}
	}

	exportedAt := root.Get("exportedAt")

	switch {
	case !exportedAt.Exists():
		problems = append(problems, "missing exportedAt")
	case exportedAt.Type != gjson.String:
		problems = append(problems, fmt.Sprintf("exportedAt must be a string, got %s", exportedAt.Type))
	default:
		if _, err := time.Parse(time.RFC3339Nano, exportedAt.String()); err != nil {
			problems = append(problems, fmt.Sprintf("exportedAt %q is not an ISO-8601 timestamp", exportedAt.String()))
		}
	}

	for _, key := range []string{keyPlaces, keyEntries, keyTransfers} {
		arr := root.Get(key)

		switch {
		case !arr.Exists():
			problems = append(problems, fmt.Sprintf("missing %s array", key))
		case !arr.IsArray():
			problems = append(problems, fmt.Sprintf("%s must be an array", key))
		}
	}

	for _, key := range []string{keyConsultations, keyActs} {
		if arr := root.Get(key); arr.Exists() && !arr.IsArray() {
			problems = append(problems, fmt.Sprintf("%s must be an array", key))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}

	return nil
}

// problemsOf flattens a joined error into one message per problem.
func problemsOf(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}

		return out
	}

	return []string{err.Error()}
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}

	return items
}

// ReadFile reads and decodes the snapshot at path.
func ReadFile(path string) (*models.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	return Decode(data)
}

// WriteFile encodes ds and writes it to path. The document is written to
// a temporary file in the same directory and renamed into place, so a
// crash never leaves a truncated snapshot behind.
func WriteFile(path string, ds *models.Dataset, exportedAt time.Time) error {
	data, err := Encode(ds, exportedAt)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, snapshotDirPerm); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing snapshot: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing snapshot: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing snapshot: %w", err)
	}

	if err := os.Chmod(tmpName, snapshotFilePerm); err != nil {
		return fmt.Errorf("setting snapshot permissions: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming snapshot into place: %w", err)
	}

	return nil
}
