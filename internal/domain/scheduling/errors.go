package scheduling

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound               = errors.New("appointment not found")
	ErrSlotTakenPractitioner  = errors.New("practitioner already has an appointment in this slot")
	ErrSlotTakenPatient       = errors.New("patient already has an appointment in this slot")
	ErrBundleExhausted        = errors.New("bundle has no remaining sessions")
	ErrPractitionerMismatch   = errors.New("patient is assigned to a different practitioner")
	ErrAlreadyCanceled        = errors.New("appointment is already canceled")
	ErrBundlePatientMismatch  = errors.New("bundle belongs to a different patient")
)

// ValidationError carries a per-field breakdown so handlers can return a
// structured 400.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, msg))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func newValidationError(fields map[string]string) error {
	return &ValidationError{Fields: fields}
}
