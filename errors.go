package migrator

import (
	"errors"
	"fmt"
)

// Sentinel errors for the fallible operations named in §7. Callers
// should use errors.Is against these, and errors.As against the
// carrying struct types below where a payload is attached.
var (
	ErrSnapshotNotFound           = errors.New("migrator: snapshot not found")
	ErrSnapshotUnsupportedVersion = errors.New("migrator: snapshot version is newer than this build supports")
	ErrSnapshotCorrupt            = errors.New("migrator: snapshot is corrupt")
	ErrNoChanges                  = errors.New("migrator: no changes to generate")
	ErrPlanningInvariantViolated  = errors.New("migrator: planning invariant violated")
	ErrMigrationNotFound          = errors.New("migrator: migration not found")
	ErrDownScriptMissing          = errors.New("migrator: down script missing")
)

// IntrospectionError wraps a failure from the Introspector contract.
type IntrospectionError struct {
	Op  string
	Err error
}

func (e *IntrospectionError) Error() string {
	return fmt.Sprintf("introspection failed during %s: %v", e.Op, e.Err)
}

func (e *IntrospectionError) Unwrap() error { return e.Err }

// ScriptExecutionError reports that a batch within a script failed; the
// enclosing transaction has already been rolled back by the Applier.
type ScriptExecutionError struct {
	Batch int
	SQL   string
	Err   error
}

func (e *ScriptExecutionError) Error() string {
	return fmt.Sprintf("script execution failed at batch %d: %v", e.Batch, e.Err)
}

func (e *ScriptExecutionError) Unwrap() error { return e.Err }

// SchemaMismatchError is returned by Claim when the live schema does not
// match the target migration's snapshot and force was not requested.
type SchemaMismatchError struct {
	MigrationName string
	Diff          *SchemaDiff
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("live schema does not match snapshot for migration %q", e.MigrationName)
}

// MigrationError wraps a failure tied to a specific named migration,
// carrying the wrapped cause via Unwrap rather than string
// concatenation.
type MigrationError struct {
	Migration string
	Operation string
	Err       error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %s: %s failed: %v", e.Migration, e.Operation, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

func newMigrationError(name, op string, err error) *MigrationError {
	return &MigrationError{Migration: name, Operation: op, Err: err}
}
