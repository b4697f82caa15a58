package scraper

import (
	"errors"
	"fmt"

	"github.com/fiscusdev/grocery-price-scraper/internal/models"
)

// ErrMalformedPrice marks a single listing whose price text could not be
// normalized. Malformed listings are excluded from a page, never fatal.
var ErrMalformedPrice = errors.New("malformed price")

// StoreResolutionError means the target location could not be selected on
// the retailer's site. Permanent for this run: the store is skipped
// without retries so operators can tell "location selection broke" apart
// from "listing page changed".
type StoreResolutionError struct {
	ChainName       string
	ExternalStoreID string
	Err             error
}

func (e *StoreResolutionError) Error() string {
	return fmt.Sprintf("store %q not resolvable on %s: %v", e.ExternalStoreID, e.ChainName, e.Err)
}

func (e *StoreResolutionError) Unwrap() error { return e.Err }

// TransientError covers timeouts, network blips and stale UI elements in
// the context or extraction phase. Eligible for retry.
type TransientError struct {
	Phase string
	Err   error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s phase: %v", e.Phase, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable, tagged with the phase it occurred in.
func Transient(phase string, err error) error {
	return &TransientError{Phase: phase, Err: err}
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// UnsupportedChainError means no scraper strategy is registered for a
// store's chain. The store is skipped and reported once per run.
type UnsupportedChainError struct {
	ChainName string
}

func (e *UnsupportedChainError) Error() string {
	return fmt.Sprintf("no scraper registered for chain %q", e.ChainName)
}

// ConflictError marks an ambiguous product resolution during
// reconciliation. The record is skipped, the run continues. It matches
// errors.Is(err, models.ErrProductConflict).
type ConflictError struct {
	ProductName string
	Err         error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("reconciliation conflict for %q: %v", e.ProductName, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

func (e *ConflictError) Is(target error) bool { return target == models.ErrProductConflict }
