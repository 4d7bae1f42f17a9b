// Package models defines the records exchanged between the local store,
// the remote replica and snapshot files.
package models

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// EntityType names one of the synchronized collections.
type EntityType string

const (
	EntityPlace        EntityType = "place"
	EntityRevenueEntry EntityType = "revenue_entry"
	EntityTransfer     EntityType = "transfer"
)

// EntityTypes lists every synchronized collection.
var EntityTypes = []EntityType{EntityPlace, EntityRevenueEntry, EntityTransfer}

// Valid reports whether e is one of the known entity types.
func (e EntityType) Valid() bool {
	switch e {
	case EntityPlace, EntityRevenueEntry, EntityTransfer:
		return true
	}

	return false
}

// Record is implemented by every persisted entity.
type Record interface {
	RecordID() string
	Entity() EntityType
}

// Dependent is a record holding a foreign key to a Place.
type Dependent interface {
	Record
	PlaceRef() string
}

// NewID returns a fresh random record identifier.
func NewID() string {
	return uuid.NewString()
}

// DecodeRecord unmarshals a JSON document into the record type of entity.
func DecodeRecord(entity EntityType, data []byte) (Record, error) {
	switch entity {
	case EntityPlace:
		return decodeAs[Place](data)
	case EntityRevenueEntry:
		return decodeAs[RevenueEntry](data)
	case EntityTransfer:
		return decodeAs[Transfer](data)
	}

	return nil, fmt.Errorf("unknown entity type %q", entity)
}

func decodeAs[T Record](data []byte) (Record, error) {
	var rec T
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}

	return rec, nil
}
