package services

import "errors"

type ErrorCode string

const (
	ErrorInvalid      ErrorCode = "invalid"
	ErrorNotFound     ErrorCode = "not_found"
	ErrorConflict     ErrorCode = "conflict"
	ErrorUnauthorized ErrorCode = "unauthorized"
	ErrorBadGateway   ErrorCode = "bad_gateway"
	ErrorFetch        ErrorCode = "fetch_failed"
	ErrorStoreRead    ErrorCode = "store_read_failed"
	ErrorPersistence  ErrorCode = "persistence_failed"
)

// ServiceError carries a code the transport layer maps to a status, plus the
// underlying cause when there is one.
type ServiceError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.Err }

func NewInvalidError(msg string) error  { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewNotFoundError(msg string) error { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewConflictError(msg string) error { return &ServiceError{Code: ErrorConflict, Message: msg} }
func NewUnauthorizedError(msg string) error {
	return &ServiceError{Code: ErrorUnauthorized, Message: msg}
}

// NewFetchError wraps a failed form, model or config retrieval.
func NewFetchError(msg string, err error) error {
	return &ServiceError{Code: ErrorFetch, Message: msg, Err: err}
}

// NewStoreReadError wraps a failed key-value, consent or message-store read.
func NewStoreReadError(msg string, err error) error {
	return &ServiceError{Code: ErrorStoreRead, Message: msg, Err: err}
}

// NewPersistenceError wraps a failed write. The caller must treat the data as not saved.
func NewPersistenceError(msg string, err error) error {
	return &ServiceError{Code: ErrorPersistence, Message: msg, Err: err}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

var (
	// ErrSessionNotInitialized is returned when a form is used before Init has loaded it.
	ErrSessionNotInitialized = NewConflictError("survey session not initialized")
	// ErrSessionNotDisplayed is returned when validation is requested before a form was instantiated.
	ErrSessionNotDisplayed = NewConflictError("survey form not displayed")
	// ErrSessionSuperseded is returned when a newer Init replaced the session mid-operation.
	ErrSessionSuperseded = NewConflictError("survey session superseded by a newer init")
)
