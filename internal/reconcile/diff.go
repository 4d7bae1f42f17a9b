package reconcile

import "github.com/alexjbarnes/retro-sync/internal/models"

// MutationSet holds the changes needed to make the remote collection of
// one entity type match the local one. An id appears in at most one of
// ToInsert, ToUpdate and ToDelete.
type MutationSet struct {
	Entity models.EntityType

	// ToInsert holds local records missing remotely.
	ToInsert []models.Record

	// ToUpdate holds the local copy of records present on both sides
	// that are not equivalent. Local wins.
	ToUpdate []models.Record

	// Replaced holds the remote copies of ToUpdate, index for index.
	Replaced []models.Record

	// ToDelete holds remote records missing locally.
	ToDelete []models.Record
}

// Len returns the number of mutations in the set.
func (m MutationSet) Len() int {
	return len(m.ToInsert) + len(m.ToUpdate) + len(m.ToDelete)
}

// Empty reports whether the set holds no mutation.
func (m MutationSet) Empty() bool { return m.Len() == 0 }

// Diff compares a local and a remote collection by id. Output order
// follows local input order for inserts and updates and remote input
// order for deletes. An empty local collection deletes everything
// remote. When local holds the same id twice, the first copy wins.
func Diff[T models.Record](entity models.EntityType, local, remote []T, eq func(local, remote T) bool) MutationSet {
	set := MutationSet{Entity: entity}

	remoteByID := make(map[string]T, len(remote))
	for _, r := range remote {
		remoteByID[r.RecordID()] = r
	}

	visited := make(map[string]struct{}, len(local))

	for _, l := range local {
		id := l.RecordID()
		if _, dup := visited[id]; dup {
			continue
		}

		visited[id] = struct{}{}

		r, ok := remoteByID[id]
		if !ok {
			set.ToInsert = append(set.ToInsert, l)
			continue
		}

		if !eq(l, r) {
			set.ToUpdate = append(set.ToUpdate, l)
			set.Replaced = append(set.Replaced, r)
		}
	}

	for _, r := range remote {
		if _, ok := visited[r.RecordID()]; ok {
			continue
		}

		// Guard against a remote listing with duplicate ids.
		visited[r.RecordID()] = struct{}{}
		set.ToDelete = append(set.ToDelete, r)
	}

	return set
}

// Plan holds one mutation set per entity type.
type Plan map[models.EntityType]MutationSet

// BuildPlan diffs every synchronized collection of local against remote.
func BuildPlan(local, remote *models.Dataset) Plan {
	return Plan{
		models.EntityPlace:        Diff(models.EntityPlace, local.Places, remote.Places, PlacesEquivalent),
		models.EntityRevenueEntry: Diff(models.EntityRevenueEntry, local.Entries, remote.Entries, EntriesEquivalent),
		models.EntityTransfer:     Diff(models.EntityTransfer, local.Transfers, remote.Transfers, TransfersEquivalent),
	}
}

// Len returns the total number of mutations across entity types.
func (p Plan) Len() int {
	n := 0
	for _, set := range p {
		n += set.Len()
	}

	return n
}

// Empty reports whether the plan holds no mutation for any entity type.
func (p Plan) Empty() bool { return p.Len() == 0 }
