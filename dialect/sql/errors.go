package sql

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ExecError is returned when the database rejects a statement.
type ExecError struct {
	Statement string
	Err       error
}

func (e *ExecError) Error() string {
	return "dialect/sql: exec " + abbrev(e.Statement) + ": " + e.Err.Error()
}

func (e *ExecError) Unwrap() error { return e.Err }

func abbrev(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}

// Constraint names the kind of constraint a database error violated.
type Constraint string

// Constraint kinds.
const (
	NoConstraint   Constraint = ""
	Unique         Constraint = "unique"
	ForeignKey     Constraint = "foreign key"
	CheckViolation Constraint = "check"
	NotNull        Constraint = "not null"
)

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgNotNullViolation    = "23502"
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlNotNull                = 1048
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
)

// ConstraintOf classifies a database error by the constraint it violated.
func ConstraintOf(err error) Constraint {
	if err == nil {
		return NoConstraint
	}
	if e, ok := asError[*pq.Error](err); ok {
		switch e.SQLState() {
		case pgUniqueViolation:
			return Unique
		case pgForeignKeyViolation:
			return ForeignKey
		case pgCheckViolation:
			return CheckViolation
		case pgNotNullViolation:
			return NotNull
		}
		return NoConstraint
	}
	if e, ok := asError[*mysql.MySQLError](err); ok {
		switch e.Number {
		case mysqlDuplicateEntry:
			return Unique
		case mysqlForeignKeyParent, mysqlForeignKeyChild:
			return ForeignKey
		case mysqlCheckConstraintViolate:
			return CheckViolation
		case mysqlNotNull:
			return NotNull
		}
		return NoConstraint
	}
	if e, ok := asError[*sqlite.Error](err); ok {
		switch e.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return Unique
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return ForeignKey
		case sqlite3.SQLITE_CONSTRAINT_CHECK:
			return CheckViolation
		case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
			return NotNull
		}
	}
	// Fallback to string matching for drivers without typed errors.
	msg := err.Error()
	switch {
	case containsAny(msg, "Error 1062", "violates unique constraint", "UNIQUE constraint failed"):
		return Unique
	case containsAny(msg, "Error 1451", "Error 1452", "violates foreign key constraint", "FOREIGN KEY constraint failed"):
		return ForeignKey
	case containsAny(msg, "Error 3819", "violates check constraint", "CHECK constraint failed"):
		return CheckViolation
	case containsAny(msg, "Error 1048", "violates not-null constraint", "NOT NULL constraint failed"):
		return NotNull
	}
	return NoConstraint
}

// IsConstraintError returns true if the error resulted from a database constraint violation.
func IsConstraintError(err error) bool { return ConstraintOf(err) != NoConstraint }

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness constraint violation.
func IsUniqueConstraintError(err error) bool { return ConstraintOf(err) == Unique }

// IsForeignKeyConstraintError reports if the error resulted from a database foreign-key constraint violation.
func IsForeignKeyConstraintError(err error) bool { return ConstraintOf(err) == ForeignKey }

// IsCheckConstraintError reports if the error resulted from a database check constraint violation.
func IsCheckConstraintError(err error) bool { return ConstraintOf(err) == CheckViolation }

// asError attempts to extract an error of type T from the error chain.
func asError[T error](err error) (T, bool) {
	var target T
	ok := errors.As(err, &target)
	return target, ok
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
