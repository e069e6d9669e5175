package directory

import "errors"

// StoreError represents a domain error from directory operations.
//
// These are business logic errors (entry not found, attribute missing,
// duplicate value, etc.) as opposed to infrastructure errors (network
// failure, disk error).
//
// Protocol handlers translate StoreError codes to wire status codes;
// the REST facade translates them to HTTP statuses. Store-specific error
// text never crosses either boundary.
type StoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the directory path related to the error (if applicable)
	Path string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

// ErrorCode represents the category of a directory store error.
type ErrorCode int

const (
	// ErrNotFound indicates the requested entry or revision doesn't exist
	ErrNotFound ErrorCode = iota

	// ErrNoSuchAttribute indicates the entry exists but the attribute doesn't
	ErrNoSuchAttribute

	// ErrNoSuchValue indicates the attribute exists but the value doesn't
	ErrNoSuchValue

	// ErrValueExists indicates an add collided with an existing value
	ErrValueExists

	// ErrNotEditable indicates a write was attempted on an archived revision
	ErrNotEditable

	// ErrInvalidArgument indicates invalid parameters were provided
	// Examples: empty attribute name, URI with no path separator
	ErrInvalidArgument

	// ErrTimeout indicates the directory store did not answer in time
	ErrTimeout

	// ErrIO indicates an I/O error talking to the directory store
	ErrIO
)

// NotFound builds an ErrNotFound error for a path.
func NotFound(path Path) *StoreError {
	return &StoreError{Code: ErrNotFound, Message: "no such entry", Path: path.String()}
}

// NoSuchAttribute builds an ErrNoSuchAttribute error.
func NoSuchAttribute(path Path, name string) *StoreError {
	return &StoreError{Code: ErrNoSuchAttribute, Message: "no such attribute " + name, Path: path.String()}
}

// NoSuchValue builds an ErrNoSuchValue error.
func NoSuchValue(path Path, name string) *StoreError {
	return &StoreError{Code: ErrNoSuchValue, Message: "no such value for attribute " + name, Path: path.String()}
}

// ValueExists builds an ErrValueExists error.
func ValueExists(path Path, name string) *StoreError {
	return &StoreError{Code: ErrValueExists, Message: "attribute or value exists: " + name, Path: path.String()}
}

// CodeOf extracts the ErrorCode from an error chain.
//
// Returns the code and true if err wraps a StoreError, false otherwise.
func CodeOf(err error) (ErrorCode, bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}

// IsCode reports whether err carries the given store error code.
func IsCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
