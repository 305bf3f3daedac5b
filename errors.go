// Package relvar compiles relational schema definitions into physical
// table layouts and dialect specific SQL.
package relvar

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors matched by the typed errors below through errors.Is.
var (
	// ErrInvalidSchema is returned when a schema definition is malformed.
	ErrInvalidSchema = errors.New("relvar: invalid schema")

	// ErrSchemaClosed is returned when a closed schema is mutated.
	ErrSchemaClosed = errors.New("relvar: schema is closed")

	ErrUnsupportedType           = errors.New("relvar: unsupported type")
	ErrTypeConflict              = errors.New("relvar: type conflict")
	ErrNameCollision             = errors.New("relvar: name collision")
	ErrUnresolvedReference       = errors.New("relvar: unresolved reference")
	ErrTypeMismatch              = errors.New("relvar: type mismatch")
	ErrCyclicDerivation          = errors.New("relvar: cyclic derivation")
	ErrUnsupportedDialectFeature = errors.New("relvar: unsupported dialect feature")
)

// Location is the logical position of a definition: schema.entity.attribute.
// Trailing parts are empty when the error is not attribute specific.
type Location struct {
	Schema    string
	Entity    string
	Attribute string
}

// String returns the dotted form of the location.
func (l Location) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{l.Schema, l.Entity, l.Attribute} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// At returns a copy of the location pointing at the given attribute.
func (l Location) At(attr string) Location {
	l.Attribute = attr
	return l
}

func prefix(b *strings.Builder, what string, loc Location) {
	b.WriteString("relvar: ")
	b.WriteString(what)
	if s := loc.String(); s != "" {
		b.WriteString(" at ")
		b.WriteString(s)
	}
}

// SchemaError represents a malformed schema definition.
type SchemaError struct {
	Location
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	var b strings.Builder
	prefix(&b, "schema error", e.Location)
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *SchemaError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches ErrInvalidSchema.
func (e *SchemaError) Is(target error) bool {
	return target == ErrInvalidSchema
}

// NewSchemaError creates a new SchemaError.
func NewSchemaError(loc Location, format string, args ...any) *SchemaError {
	return &SchemaError{Location: loc, Message: fmt.Sprintf(format, args...)}
}

// UnsupportedTypeError is returned by the type manager when a type has no
// physical mapping for the active dialect.
type UnsupportedTypeError struct {
	Location
	Type    string
	Dialect string
	Reason  string
}

// Error implements the error interface.
func (e *UnsupportedTypeError) Error() string {
	var b strings.Builder
	prefix(&b, "unsupported type", e.Location)
	fmt.Fprintf(&b, ": %s", e.Type)
	if e.Dialect != "" {
		fmt.Fprintf(&b, " (dialect %s)", e.Dialect)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

// Is reports whether the target matches ErrUnsupportedType.
func (e *UnsupportedTypeError) Is(target error) bool {
	return target == ErrUnsupportedType
}

// TypeConflictError is returned when a named constrained type is registered
// twice with incompatible base types.
type TypeConflictError struct {
	Location
	Name      string
	Existing  string
	Requested string
}

// Error implements the error interface.
func (e *TypeConflictError) Error() string {
	var b strings.Builder
	prefix(&b, "type conflict", e.Location)
	fmt.Fprintf(&b, ": %q registered as %s, got %s", e.Name, e.Existing, e.Requested)
	return b.String()
}

// Is reports whether the target matches ErrTypeConflict.
func (e *TypeConflictError) Is(target error) bool {
	return target == ErrTypeConflict
}

// NameCollisionError is returned when two logical definitions produce the
// same physical name. Both logical names are reported.
type NameCollisionError struct {
	Kind   string // table, column or index
	Name   string // physical name
	First  string // logical origin already holding the name
	Second string // logical origin that collided
}

// Error implements the error interface.
func (e *NameCollisionError) Error() string {
	return fmt.Sprintf("relvar: %s name %q generated by both %s and %s", e.Kind, e.Name, e.First, e.Second)
}

// Is reports whether the target matches ErrNameCollision.
func (e *NameCollisionError) Is(target error) bool {
	return target == ErrNameCollision
}

// UnresolvedReferenceError is returned when a name does not resolve within
// its scope.
type UnresolvedReferenceError struct {
	Location
	Name  string
	Scope string
}

// Error implements the error interface.
func (e *UnresolvedReferenceError) Error() string {
	var b strings.Builder
	prefix(&b, "unresolved reference", e.Location)
	fmt.Fprintf(&b, ": %q", e.Name)
	if e.Scope != "" {
		fmt.Fprintf(&b, " in scope %s", e.Scope)
	}
	return b.String()
}

// Is reports whether the target matches ErrUnresolvedReference.
func (e *UnresolvedReferenceError) Is(target error) bool {
	return target == ErrUnresolvedReference
}

// TypeMismatchError is returned when an operator is applied to operands of
// incompatible types.
type TypeMismatchError struct {
	Location
	Op      string
	Left    string
	Right   string
	Message string
}

// Error implements the error interface.
func (e *TypeMismatchError) Error() string {
	var b strings.Builder
	prefix(&b, "type mismatch", e.Location)
	fmt.Fprintf(&b, ": operator %s", e.Op)
	switch {
	case e.Left != "" && e.Right != "":
		fmt.Fprintf(&b, " on %s and %s", e.Left, e.Right)
	case e.Left != "":
		fmt.Fprintf(&b, " on %s", e.Left)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Is reports whether the target matches ErrTypeMismatch.
func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}

// CyclicDerivationError is returned when a derived attribute depends on
// itself. Cycle lists the entity.attribute chain, starting and ending with
// the same attribute.
type CyclicDerivationError struct {
	Location
	Cycle []string
}

// Error implements the error interface.
func (e *CyclicDerivationError) Error() string {
	var b strings.Builder
	prefix(&b, "cyclic derivation", e.Location)
	if len(e.Cycle) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Cycle, " -> "))
	}
	return b.String()
}

// Is reports whether the target matches ErrCyclicDerivation.
func (e *CyclicDerivationError) Is(target error) bool {
	return target == ErrCyclicDerivation
}

// UnsupportedDialectFeatureError is returned when a plan node has no lowering
// for the active dialect. Unlike the model errors it only fails the formula
// being lowered.
type UnsupportedDialectFeatureError struct {
	Location
	Dialect string
	Feature string
}

// Error implements the error interface.
func (e *UnsupportedDialectFeatureError) Error() string {
	var b strings.Builder
	prefix(&b, "unsupported dialect feature", e.Location)
	fmt.Fprintf(&b, ": %s is not supported by %s", e.Feature, e.Dialect)
	return b.String()
}

// Is reports whether the target matches ErrUnsupportedDialectFeature.
func (e *UnsupportedDialectFeatureError) Is(target error) bool {
	return target == ErrUnsupportedDialectFeature
}

// IsDialectError reports whether err is a dialect capability error.
func IsDialectError(err error) bool {
	if err == nil {
		return false
	}
	var e *UnsupportedDialectFeatureError
	return errors.As(err, &e)
}

// IsModelError reports whether err is one of the model errors that abort
// a whole compilation.
func IsModelError(err error) bool {
	for _, target := range []error{
		ErrInvalidSchema,
		ErrSchemaClosed,
		ErrUnsupportedType,
		ErrTypeConflict,
		ErrNameCollision,
		ErrUnresolvedReference,
		ErrTypeMismatch,
		ErrCyclicDerivation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNameCollision reports whether err is a NameCollisionError.
func IsNameCollision(err error) bool {
	var e *NameCollisionError
	return errors.As(err, &e)
}

// IsCyclicDerivation reports whether err is a CyclicDerivationError.
func IsCyclicDerivation(err error) bool {
	var e *CyclicDerivationError
	return errors.As(err, &e)
}

// AggregateError represents multiple errors collected during an operation.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "relvar: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("relvar: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil. Nested aggregates are flattened.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		switch e := err.(type) {
		case nil:
		case *AggregateError:
			filtered = append(filtered, e.Errors...)
		default:
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}
