package scraper

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/fiscusdev/grocery-price-scraper/internal/models"
)

// Validator applies schema and business rules to raw records before they
// reach reconciliation. It is pure: constructed with the set of known
// stores for the run, it performs no I/O.
type Validator struct {
	validate *validator.Validate
	// stores maps external store id to the Store it belongs to.
	stores map[string]models.Store
}

// ValidationResult is the per-batch outcome: the accepted subset plus a
// reason per rejected record. A batch with rejects still proceeds.
type ValidationResult struct {
	Accepted []models.RawRecord
	Rejected []RejectedRecord
}

type RejectedRecord struct {
	Record models.RawRecord
	Reason string
}

// NewValidator builds a validator bound to the stores known at run start.
func NewValidator(stores []models.Store) *Validator {
	byExternalID := make(map[string]models.Store, len(stores))
	for _, s := range stores {
		byExternalID[s.ExternalStoreID] = s
	}
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		stores:   byExternalID,
	}
}

// Validate checks one record. It never returns an infrastructure error:
// any failed rule comes back as a rejection reason.
func (v *Validator) Validate(rec models.RawRecord) (models.RawRecord, string) {
	rec.Name = strings.TrimSpace(rec.Name)

	if err := v.validate.Struct(rec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return rec, fieldReason(verrs[0])
		}
		return rec, err.Error()
	}

	store, ok := v.stores[rec.ExternalStoreID]
	if !ok {
		return rec, fmt.Sprintf("unknown store %q", rec.ExternalStoreID)
	}
	if store.ChainName != rec.ChainName {
		return rec, fmt.Sprintf("chain mismatch: record says %q, store %q belongs to %q",
			rec.ChainName, rec.ExternalStoreID, store.ChainName)
	}

	return rec, ""
}

// ValidateBatch splits records into accepted and rejected sets.
func (v *Validator) ValidateBatch(records []models.RawRecord) ValidationResult {
	var result ValidationResult
	for _, rec := range records {
		cleaned, reason := v.Validate(rec)
		if reason == "" {
			result.Accepted = append(result.Accepted, cleaned)
			continue
		}
		result.Rejected = append(result.Rejected, RejectedRecord{Record: rec, Reason: reason})
	}
	return result
}

// StoreFor resolves the Store a validated record belongs to.
func (v *Validator) StoreFor(rec models.RawRecord) (models.Store, bool) {
	s, ok := v.stores[rec.ExternalStoreID]
	return s, ok
}

func fieldReason(fe validator.FieldError) string {
	switch fe.Field() {
	case "Price":
		return fmt.Sprintf("price must be strictly positive, got %v", fe.Value())
	case "Name":
		return "name empty or shorter than 3 characters after trimming"
	case "ExternalStoreID":
		return "missing external store id"
	case "ChainName":
		return "missing chain name"
	default:
		return fmt.Sprintf("field %s failed rule %s", fe.Field(), fe.Tag())
	}
}
