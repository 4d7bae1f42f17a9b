package models

import (
	"encoding/json"
	"fmt"
)

// Dataset is one generation of the full bookkeeping data. Consultations
// and Acts belong to a sibling feature and are carried as opaque JSON.
type Dataset struct {
	Places        []Place
	Entries       []RevenueEntry
	Transfers     []Transfer
	Consultations []json.RawMessage
	Acts          []json.RawMessage
}

// Records returns the collection for entity as generic records, in
// stored order.
func (d *Dataset) Records(entity EntityType) []Record {
	switch entity {
	case EntityPlace:
		return toRecords(d.Places)
	case EntityRevenueEntry:
		return toRecords(d.Entries)
	case EntityTransfer:
		return toRecords(d.Transfers)
	}

	return nil
}

func toRecords[T Record](items []T) []Record {
	out := make([]Record, len(items))
	for i, it := range items {
		out[i] = it
	}

	return out
}

// Add appends rec to the matching collection.
func (d *Dataset) Add(rec Record) error {
	switch r := rec.(type) {
	case Place:
		d.Places = append(d.Places, r)
	case RevenueEntry:
		d.Entries = append(d.Entries, r)
	case Transfer:
		d.Transfers = append(d.Transfers, r)
	default:
		return fmt.Errorf("unsupported record type %T", rec)
	}

	return nil
}

// Len returns the number of synchronized records.
func (d *Dataset) Len() int {
	return len(d.Places) + len(d.Entries) + len(d.Transfers)
}

// PlaceIDs returns the set of place identifiers in the dataset.
func (d *Dataset) PlaceIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(d.Places))
	for _, p := range d.Places {
		ids[p.ID] = struct{}{}
	}

	return ids
}

// TransferViews derives the theoretical amount and difference of every
// transfer from the dataset's entries.
func (d *Dataset) TransferViews() []TransferView {
	views := make([]TransferView, len(d.Transfers))
	for i, t := range d.Transfers {
		views[i] = NewTransferView(t, d.Entries)
	}

	return views
}
