package models

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// Validate checks the place's fields and its percentage range.
func (p Place) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("place %q: %w", p.ID, err)
	}

	if p.Percentage.LessThan(decimal.Zero) || p.Percentage.GreaterThan(hundred) {
		return fmt.Errorf("place %q: percentage %s outside [0,100]", p.ID, p.Percentage)
	}

	return nil
}

// Validate checks the entry's required fields.
func (e RevenueEntry) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("revenue entry %q: %w", e.ID, err)
	}

	if e.Date.IsZero() {
		return fmt.Errorf("revenue entry %q: date is required", e.ID)
	}

	return nil
}

// Validate checks the transfer's required fields and period bounds.
func (t Transfer) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("transfer %q: %w", t.ID, err)
	}

	if t.PeriodStart.IsZero() || t.PeriodEnd.IsZero() {
		return fmt.Errorf("transfer %q: period start and end are required", t.ID)
	}

	if t.PeriodEnd.Before(t.PeriodStart) {
		return fmt.Errorf("transfer %q: period ends %s before it starts %s", t.ID, t.PeriodEnd, t.PeriodStart)
	}

	return nil
}

// Validate checks every record and rejects duplicate identifiers within a
// collection. All problems are joined into the returned error. Foreign
// keys are not checked here.
func (d *Dataset) Validate() error {
	var errs []error

	errs = append(errs, validateAll(EntityPlace, d.Places)...)
	errs = append(errs, validateAll(EntityRevenueEntry, d.Entries)...)
	errs = append(errs, validateAll(EntityTransfer, d.Transfers)...)

	return errors.Join(errs...)
}

type validatable interface {
	Record
	Validate() error
}

func validateAll[T validatable](entity EntityType, items []T) []error {
	var errs []error

	seen := make(map[string]struct{}, len(items))

	for _, it := range items {
		if err := it.Validate(); err != nil {
			errs = append(errs, err)
		}

		id := it.RecordID()
		if _, dup := seen[id]; dup && id != "" {
			errs = append(errs, fmt.Errorf("%s %q: duplicate id", entity, id))
		}

		seen[id] = struct{}{}
	}

	return errs
}
