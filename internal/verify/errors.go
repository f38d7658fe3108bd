package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/listproof/internal/api"
	"github.com/roach88/listproof/internal/auth"
	"github.com/roach88/listproof/internal/oracle"
)

// Class categorizes a check outcome.
type Class string

const (
	// ClassFatal is an environment failure: unreachable collaborator,
	// malformed body, store error, failed fixture write.
	ClassFatal Class = "FATAL"

	// ClassDefect is a mismatch between surface and store.
	ClassDefect Class = "DEFECT"

	// ClassSkip is a vacuous case: no matching rows or too little data.
	ClassSkip Class = "SKIP"

	// ClassUnsupported is a check the resource does not declare.
	ClassUnsupported Class = "UNSUPPORTED"

	// ClassSchemaDrift is a surface attribute with no backing column.
	ClassSchemaDrift Class = "SCHEMA_DRIFT"
)

// Failure is the error every check returns. Expected and Actual carry the
// diff shown to the user.
type Failure struct {
	Class      Class
	Resource   string
	Operation  string
	ID         string
	Message    string
	Expected   any
	Actual     any
	Screenshot string
	Err        error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s/%s", f.Class, f.Resource, f.Operation)
	if f.ID != "" {
		fmt.Fprintf(&b, " id=%s", f.ID)
	}
	if f.Message != "" {
		b.WriteString(": ")
		b.WriteString(f.Message)
	}
	if f.Expected != nil || f.Actual != nil {
		fmt.Fprintf(&b, " (expected %v, actual %v)", f.Expected, f.Actual)
	}
	if f.Screenshot != "" {
		fmt.Fprintf(&b, " [screenshot %s]", f.Screenshot)
	}
	if f.Err != nil {
		fmt.Fprintf(&b, ": %v", f.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Classify returns the class of err. Errors that are not a *Failure are
// classified by their collaborator type: API status errors and missing
// store records are defects, everything else is fatal. nil has no class.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Class
	}
	var se *api.StatusError
	if errors.As(err, &se) {
		return ClassDefect
	}
	if errors.Is(err, oracle.ErrNoRecord) {
		return ClassDefect
	}
	return ClassFatal
}

// IsFatal returns true if err aborts the scenario.
func IsFatal(err error) bool { return Classify(err) == ClassFatal }

// IsDefect returns true if err is a surface/store mismatch.
func IsDefect(err error) bool { return Classify(err) == ClassDefect }

// IsSkip returns true if err marks a vacuous case.
func IsSkip(err error) bool { return Classify(err) == ClassSkip }

// IsUnsupported returns true if err names an undeclared check.
func IsUnsupported(err error) bool { return Classify(err) == ClassUnsupported }

// IsSchemaDrift returns true if err reports an unbacked attribute.
func IsSchemaDrift(err error) bool { return Classify(err) == ClassSchemaDrift }

// Defect creates a mismatch failure.
func Defect(resource, op, id, message string, expected, actual any) *Failure {
	return &Failure{Class: ClassDefect, Resource: resource, Operation: op, ID: id, Message: message, Expected: expected, Actual: actual}
}

// Skip creates a vacuous-case failure.
func Skip(resource, op, format string, args ...any) *Failure {
	return &Failure{Class: ClassSkip, Resource: resource, Operation: op, Message: fmt.Sprintf(format, args...)}
}

// Unsupported creates an unsupported-check failure.
func Unsupported(resource, op, format string, args ...any) *Failure {
	return &Failure{Class: ClassUnsupported, Resource: resource, Operation: op, Message: fmt.Sprintf(format, args...)}
}

// Fatal wraps err as a fatal failure of op. Errors that already carry a
// class keep it.
func Fatal(resource, op string, err error) error {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return err
	}
	return &Failure{Class: ClassFatal, Resource: resource, Operation: op, Err: err}
}

// wrap attaches resource and operation to a collaborator error, preserving
// its classification.
func wrap(resource, op string, err error) error {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return err
	}
	class := Classify(err)
	var se *api.StatusError
	if errors.As(err, &se) {
		return &Failure{Class: class, Resource: resource, Operation: op,
			Message: "unexpected response status", Expected: 200, Actual: se.Response.Status, Err: err}
	}
	return &Failure{Class: class, Resource: resource, Operation: op, Err: err}
}

// Cause names the collaborator behind a fatal error for log output.
func Cause(err error) string {
	var (
		qe *oracle.QueryError
		te *api.TransportError
		de *api.DecodeError
		ae *auth.TokenError
	)
	switch {
	case errors.As(err, &qe):
		return "store"
	case errors.As(err, &te):
		return "transport"
	case errors.As(err, &de):
		return "decode"
	case errors.As(err, &ae):
		return "auth"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "unknown"
}
