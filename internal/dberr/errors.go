// Package dberr defines the error taxonomy shared by every driftdb package.
//
// Errors carry a Code so callers can branch with errors.As (or the Is*
// helpers) without matching on message text:
//   - CONFIGURATION: malformed schema or migration definitions, fatal at startup
//   - INVALID_OPERATION: misuse of the database API, fails the current action
//   - PROTOCOL: a remote change set violated the sync contract
//   - ADAPTER: the storage backend failed; the backend error stays reachable via Unwrap
package dberr

import (
	"errors"
	"fmt"
)

// Code categorizes driftdb errors.
type Code string

const (
	// CodeConfiguration indicates a malformed schema or migration definition.
	CodeConfiguration Code = "CONFIGURATION"

	// CodeInvalidOperation indicates an API call that is not allowed in the
	// current state (unprepared record in a batch, batch outside an action).
	CodeInvalidOperation Code = "INVALID_OPERATION"

	// CodeProtocol indicates a remote change set that breaks the sync contract.
	CodeProtocol Code = "PROTOCOL"

	// CodeAdapter indicates a failure reported by the storage adapter.
	CodeAdapter Code = "ADAPTER"
)

// Error is the structured error returned by driftdb packages.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Table is the affected table, if any.
	Table string

	// RecordID is the affected record, if any.
	RecordID string

	// Err is the underlying cause (always set for CodeAdapter).
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Table != "" && e.RecordID != "":
		msg = fmt.Sprintf("%s (%s#%s)", msg, e.Table, e.RecordID)
	case e.Table != "":
		msg = fmt.Sprintf("%s (table=%s)", msg, e.Table)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Configuration creates a CONFIGURATION error.
func Configuration(format string, args ...any) *Error {
	return &Error{Code: CodeConfiguration, Message: fmt.Sprintf(format, args...)}
}

// InvalidOperation creates an INVALID_OPERATION error.
func InvalidOperation(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidOperation, Message: fmt.Sprintf(format, args...)}
}

// Protocol creates a PROTOCOL error scoped to a table.
func Protocol(table, format string, args ...any) *Error {
	return &Error{Code: CodeProtocol, Message: fmt.Sprintf(format, args...), Table: table}
}

// Adapter wraps a storage backend failure. op names the adapter method.
// Returns nil when err is nil so call sites can wrap unconditionally.
func Adapter(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) && de.Code == CodeAdapter {
		return err
	}
	return &Error{Code: CodeAdapter, Message: op + " failed", Err: err}
}

// WithRecord returns a copy of e scoped to a record.
func (e *Error) WithRecord(table, id string) *Error {
	c := *e
	c.Table = table
	c.RecordID = id
	return &c
}

func hasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// IsConfiguration reports whether err is a CONFIGURATION error.
func IsConfiguration(err error) bool { return hasCode(err, CodeConfiguration) }

// IsInvalidOperation reports whether err is an INVALID_OPERATION error.
func IsInvalidOperation(err error) bool { return hasCode(err, CodeInvalidOperation) }

// IsProtocol reports whether err is a PROTOCOL error.
func IsProtocol(err error) bool { return hasCode(err, CodeProtocol) }

// IsAdapter reports whether err is an ADAPTER error.
func IsAdapter(err error) bool { return hasCode(err, CodeAdapter) }
