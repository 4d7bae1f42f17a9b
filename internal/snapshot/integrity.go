package snapshot

import (
	"fmt"
	"slices"
	"strings"

	apperrors "github.com/alexjbarnes/retro-sync/internal/errors"
	"github.com/alexjbarnes/retro-sync/internal/models"
)

// ValidationError reports why a snapshot was rejected. It matches
// errors.Is(err, ErrValidation).
type ValidationError struct {
	// Problems lists shape and record level problems.
	Problems []string

	// Missing lists, per referencing entity type, the place ids that do
	// not resolve within the dataset, in order of first reference.
	Missing map[models.EntityType][]string
}

func (e *ValidationError) Error() string {
	parts := slices.Clone(e.Problems)

	kinds := make([]models.EntityType, 0, len(e.Missing))
	for kind := range e.Missing {
		kinds = append(kinds, kind)
	}

	slices.Sort(kinds)

	for _, kind := range kinds {
		parts = append(parts, fmt.Sprintf("%s references missing places: %s", kind, strings.Join(e.Missing[kind], ", ")))
	}

	return "invalid snapshot: " + strings.Join(parts, "; ")
}

// Is makes ValidationError match the ErrValidation sentinel.
func (e *ValidationError) Is(target error) bool {
	return target == apperrors.ErrValidation
}

// MissingPlaceIDs returns every dangling place id, sorted and deduplicated
// across entity types.
func (e *ValidationError) MissingPlaceIDs() []string {
	var out []string
	for _, ids := range e.Missing {
		out = append(out, ids...)
	}

	slices.Sort(out)

	return slices.Compact(out)
}

// CheckIntegrity verifies that every revenue entry and transfer references
// a place present in ds. It returns a *ValidationError listing every
// missing place id grouped by referencing entity type.
func CheckIntegrity(ds *models.Dataset) error {
	places := ds.PlaceIDs()
	missing := make(map[models.EntityType][]string)

	if ids := danglingRefs(ds.Entries, places); len(ids) > 0 {
		missing[models.EntityRevenueEntry] = ids
	}

	if ids := danglingRefs(ds.Transfers, places); len(ids) > 0 {
		missing[models.EntityTransfer] = ids
	}

	if len(missing) == 0 {
		return nil
	}

	return &ValidationError{Missing: missing}
}

func danglingRefs[T models.Dependent](items []T, places map[string]struct{}) []string {
	var out []string

	seen := make(map[string]struct{})

	for _, it := range items {
		ref := it.PlaceRef()
		if _, ok := places[ref]; ok {
			continue
		}

		if _, dup := seen[ref]; dup {
			continue
		}

		seen[ref] = struct{}{}
		out = append(out, ref)
	}

	return out
}
