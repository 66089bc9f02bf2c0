package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidPayload indicates a malformed or empty cart or address payload.
	ErrInvalidPayload = errors.New("checkout: invalid payload")
	// ErrCatalogUnavailable indicates the supplier catalog or warehouse could not be reached at all.
	ErrCatalogUnavailable = errors.New("checkout: catalog unavailable")
	// ErrNoPurchasableItems indicates every line was unknown to the catalog or out of stock.
	ErrNoPurchasableItems = errors.New("checkout: no purchasable items")
	// ErrAddressInvalid indicates the verification service rejected the address.
	ErrAddressInvalid = errors.New("checkout: address invalid")
	// ErrAddressUnverifiable indicates the address could not be verified well enough to ship.
	ErrAddressUnverifiable = errors.New("checkout: address unverifiable")
	// ErrAddressVerificationUnavailable indicates the verification service itself failed.
	ErrAddressVerificationUnavailable = errors.New("checkout: address verification unavailable")
	// ErrCountryNotServed indicates the destination country is not on the shipping allow-list.
	ErrCountryNotServed = errors.New("checkout: country not served")
	// ErrEstimationFailed indicates cost or shipping rate estimation failed or returned nothing.
	ErrEstimationFailed = errors.New("checkout: estimation failed")
	// ErrSessionCreationFailed indicates the payment provider session could not be created.
	ErrSessionCreationFailed = errors.New("checkout: session creation failed")
	// ErrCheckoutUnavailable indicates checkout dependencies are missing or the request was cancelled.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
)

// Stage names a step of the cart validation pipeline.
type Stage string

const (
	StageParse   Stage = "parse"
	StageCatalog Stage = "catalog"
	StageStock   Stage = "stock"
	StageAddress Stage = "address"
	StageCosts   Stage = "costs"
	StageRates   Stage = "rates"
	StageSession Stage = "session"
)

// StageError annotates a checkout error kind with the stage that produced it and the underlying cause.
// errors.Is matches both the kind and the cause.
type StageError struct {
	Stage Stage
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if e == nil {
		return "checkout: stage error"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s (stage %s)", e.Kind, e.Stage)
	}
	return fmt.Sprintf("%s (stage %s): %v", e.Kind, e.Stage, e.Err)
}

func (e *StageError) Unwrap() []error {
	if e == nil {
		return nil
	}
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func stageError(stage Stage, kind, cause error) error {
	return &StageError{Stage: stage, Kind: kind, Err: cause}
}

// StageOf reports the pipeline stage recorded on err, if any.
func StageOf(err error) (Stage, bool) {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage, true
	}
	return "", false
}

// FieldViolation describes one rejected field of a request payload.
type FieldViolation struct {
	Field   string
	Message string
}

// PayloadError lists every shape violation found in a payload.
type PayloadError struct {
	Violations []FieldViolation
}

func (e *PayloadError) Error() string {
	if e == nil || len(e.Violations) == 0 {
		return "invalid payload"
	}
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}
	return strings.Join(parts, "; ")
}

func (e *PayloadError) add(field, message string) {
	e.Violations = append(e.Violations, FieldViolation{Field: field, Message: message})
}

func (e *PayloadError) empty() bool {
	return e == nil || len(e.Violations) == 0
}
