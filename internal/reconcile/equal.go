// Package reconcile keeps the local bookkeeping collections and a remote
// replica consistent. It computes per-collection mutation sets, applies
// them in foreign-key safe order and reports per-record outcomes.
package reconcile

import (
	"github.com/alexjbarnes/retro-sync/internal/models"
	"golang.org/x/text/unicode/norm"
)

// Equivalent reports whether a local and a remote copy of the same record
// carry the same user data. Audit timestamps and derived amounts never
// take part. Records of different types are never equivalent.
func Equivalent(local, remote models.Record) bool {
	switch l := local.(type) {
	case models.Place:
		r, ok := remote.(models.Place)
		return ok && PlacesEquivalent(l, r)
	case models.RevenueEntry:
		r, ok := remote.(models.RevenueEntry)
		return ok && EntriesEquivalent(l, r)
	case models.Transfer:
		r, ok := remote.(models.Transfer)
		return ok && TransfersEquivalent(l, r)
	}

	return false
}

// PlacesEquivalent compares every Place field except CreatedAt and UpdatedAt.
func PlacesEquivalent(a, b models.Place) bool {
	return a.ID == b.ID &&
		sameText(a.Name, b.Name) &&
		a.Percentage.Equal(b.Percentage) &&
		a.Color == b.Color &&
		contactsEqual(a.Contact, b.Contact)
}

// EntriesEquivalent compares every RevenueEntry field except the audit
// timestamps and TheoreticalFee, which is derived from Revenue.
func EntriesEquivalent(a, b models.RevenueEntry) bool {
	return a.ID == b.ID &&
		a.Date.Equal(b.Date) &&
		a.PlaceID == b.PlaceID &&
		a.Revenue.Equal(b.Revenue) &&
		sameText(a.Notes, b.Notes)
}

// TransfersEquivalent compares every Transfer field except the audit
// timestamps.
func TransfersEquivalent(a, b models.Transfer) bool {
	return a.ID == b.ID &&
		a.PeriodStart.Equal(b.PeriodStart) &&
		a.PeriodEnd.Equal(b.PeriodEnd) &&
		a.PlaceID == b.PlaceID &&
		a.Amount.Equal(b.Amount) &&
		models.OptionalDatesEqual(a.ReceivedOn, b.ReceivedOn) &&
		a.Status == b.Status &&
		sameText(a.Notes, b.Notes)
}

func contactsEqual(a, b *models.Contact) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return sameText(a.Phone, b.Phone) &&
		sameText(a.Email, b.Email) &&
		sameText(a.Address, b.Address)
}

// sameText compares user-entered text in NFC so that the same accented
// name typed on two devices compares equal.
func sameText(a, b string) bool {
	if a == b {
		return true
	}

	return norm.NFC.String(a) == norm.NFC.String(b)
}
