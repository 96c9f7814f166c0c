package resolver

import (
	"errors"
	"fmt"

	"github.com/anvil-platform/loadspace/internal/capability"
)

var (
	// ErrConflict indicates two units in one space export the same package.
	ErrConflict = errors.New("export conflict")
	// ErrInconsistent indicates two requirements in one space disagree on versions.
	ErrInconsistent = errors.New("inconsistent requirements")
	// ErrUnresolved indicates a blocking requirement has no satisfying capability.
	ErrUnresolved = errors.New("unresolved requirement")
	// ErrInvariantViolation indicates corrupted space indices. It is a bug signal.
	ErrInvariantViolation = errors.New("space invariant violation")

	ErrNotFound      = errors.New("not found")
	ErrNotResolved   = errors.New("unit is not resolved")
	ErrUnknownDomain = errors.New("unknown domain")
	ErrDomainExists  = errors.New("domain already exists")
	ErrUnitExists    = errors.New("unit already installed")
	ErrUninstalled   = errors.New("unit is uninstalled")
	ErrInvalidSpec   = errors.New("invalid unit spec")
)

// ConflictError reports an export clash between two units.
type ConflictError struct {
	Unit        string
	Conflicting string
	Package     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("unit %q exports package %q already exported by %q", e.Unit, e.Package, e.Conflicting)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// InconsistencyError reports two requirements whose version ranges cannot
// both hold.
type InconsistencyError struct {
	Unit        string
	Conflicting string
	Requirement capability.Requirement
	Other       capability.Requirement
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("unit %q requirement %s is inconsistent with %s of %q", e.Unit, e.Requirement, e.Other, e.Conflicting)
}

func (e *InconsistencyError) Unwrap() error { return ErrInconsistent }

// UnresolvedRequirementError reports a blocking requirement that could not be
// satisfied. Cause carries the last candidate rejection, if any.
type UnresolvedRequirementError struct {
	Unit        string
	Requirement capability.Requirement
	Cause       error
}

func (e *UnresolvedRequirementError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("unit %q: no provider for %s: %v", e.Unit, e.Requirement, e.Cause)
	}
	return fmt.Sprintf("unit %q: no provider for %s", e.Unit, e.Requirement)
}

func (e *UnresolvedRequirementError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrUnresolved, e.Cause}
	}
	return []error{ErrUnresolved}
}

// InvariantViolationError reports that a space's package index disagrees with
// its membership.
type InvariantViolationError struct {
	Space    SpaceID
	Package  string
	Expected string
	Actual   string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("space %d: package %q indexed to %q, expected %q", e.Space, e.Package, e.Actual, e.Expected)
}

func (e *InvariantViolationError) Unwrap() error { return ErrInvariantViolation }
