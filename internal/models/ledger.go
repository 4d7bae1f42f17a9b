package models

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Contact holds the optional contact details of a Place.
type Contact struct {
	Phone   string `json:"phone,omitempty" yaml:"phone,omitempty"`
	Email   string `json:"email,omitempty" yaml:"email,omitempty" validate:"omitempty,email"`
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
}

// Place is a work location with a revenue retrocession percentage.
// Places are referenced, never owned, by entries and transfers.
type Place struct {
	ID         string          `json:"id" validate:"required"`
	Name       string          `json:"name" validate:"required"`
	Percentage decimal.Decimal `json:"percentage"`
	Color      string          `json:"color,omitempty" validate:"omitempty,hexcolor"`
	Contact    *Contact        `json:"contact,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

func (p Place) RecordID() string   { return p.ID }
func (p Place) Entity() EntityType { return EntityPlace }

// RevenueEntry is one day's declared revenue at a Place. TheoreticalFee
// is fixed when the entry is written and is not recomputed when the
// place percentage later changes.
type RevenueEntry struct {
	ID             string          `json:"id" validate:"required"`
	Date           Date            `json:"date"`
	PlaceID        string          `json:"lieuId" validate:"required"`
	Revenue        decimal.Decimal `json:"revenue"`
	TheoreticalFee decimal.Decimal `json:"theoreticalFee"`
	Notes          string          `json:"notes,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func (e RevenueEntry) RecordID() string   { return e.ID }
func (e RevenueEntry) Entity() EntityType { return EntityRevenueEntry }
func (e RevenueEntry) PlaceRef() string   { return e.PlaceID }

// NewRevenueEntry builds an entry for place, computing its theoretical fee
// from the place's current percentage.
func NewRevenueEntry(id string, date Date, place Place, revenue decimal.Decimal, notes string, now time.Time) RevenueEntry {
	return RevenueEntry{
		ID:             id,
		Date:           date,
		PlaceID:        place.ID,
		Revenue:        revenue,
		TheoreticalFee: TheoreticalFee(revenue, place.Percentage),
		Notes:          notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// TheoreticalFee returns revenue × percentage / 100 rounded to cents.
func TheoreticalFee(revenue, percentage decimal.Decimal) decimal.Decimal {
	return revenue.Mul(percentage).Div(hundred).Round(2)
}

// TransferStatus is the reception state of a Transfer.
type TransferStatus string

const (
	TransferReceived TransferStatus = "received"
	TransferPending  TransferStatus = "pending"
	TransferPartial  TransferStatus = "partial"
	TransferMissing  TransferStatus = "missing"
)

// Transfer is a payment received from a Place for a period.
type Transfer struct {
	ID          string          `json:"id" validate:"required"`
	PeriodStart Date            `json:"periodStart"`
	PeriodEnd   Date            `json:"periodEnd"`
	PlaceID     string          `json:"lieuId" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	ReceivedOn  *Date           `json:"receivedOn,omitempty"`
	Status      TransferStatus  `json:"status" validate:"required,oneof=received pending partial missing"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func (t Transfer) RecordID() string   { return t.ID }
func (t Transfer) Entity() EntityType { return EntityTransfer }
func (t Transfer) PlaceRef() string   { return t.PlaceID }

// TransferView is a Transfer with the amounts derived from revenue
// entries. It is computed on read and is not a Record, so it cannot be
// handed to a store.
type TransferView struct {
	Transfer    Transfer
	Theoretical decimal.Decimal
	Difference  decimal.Decimal
}

// NewTransferView sums the theoretical fees of the entries for the
// transfer's place dated within its period (bounds included).
func NewTransferView(t Transfer, entries []RevenueEntry) TransferView {
	theoretical := decimal.Zero

	for _, e := range entries {
		if e.PlaceID != t.PlaceID || !e.Date.Within(t.PeriodStart, t.PeriodEnd) {
			continue
		}

		theoretical = theoretical.Add(e.TheoreticalFee)
	}

	return TransferView{
		Transfer:    t,
		Theoretical: theoretical,
		Difference:  t.Amount.Sub(theoretical),
	}
}
