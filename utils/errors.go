package utils

import "fmt"

// Exception codes reported to clients. The validation codes are
// always raised before any store access; the store codes map to
// failures of the backing feature store.
const (
	ExcUnknownOperation       = "UnknownOperation"
	ExcInvalidParameter       = "InvalidParameter"
	ExcConflictingQuery       = "ConflictingQuerySpecification"
	ExcUnsupportedFieldPath   = "UnsupportedFieldPath"
	ExcInvalidGeometry        = "InvalidGeometry"
	ExcUnknownStoredQuery     = "UnknownStoredQuery"
	ExcMissingParameter       = "MissingParameter"
	ExcParameterTypeMismatch  = "ParameterTypeMismatch"
	ExcSchemaUnavailable      = "SchemaUnavailable"
	ExcUnsupportedFormat      = "UnsupportedFormat"
	ExcStoreUnavailable       = "StoreUnavailable"
	ExcQueryTimeout           = "QueryTimeout"
)

// OWSError is a client-facing service exception. Locator names the
// offending request parameter where one applies.
type OWSError struct {
	Code    string
	Locator string
	Message string
}

func (e *OWSError) Error() string {
	if len(e.Locator) > 0 {
		return fmt.Sprintf("%s (locator=%s): %s", e.Code, e.Locator, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus maps an exception code to the HTTP status of its
// exception report.
func (e *OWSError) HTTPStatus() int {
	switch e.Code {
	case ExcStoreUnavailable:
		return 500
	case ExcQueryTimeout:
		return 504
	default:
		return 400
	}
}

func NewOWSError(code, locator, format string, args ...interface{}) *OWSError {
	return &OWSError{Code: code, Locator: locator, Message: fmt.Sprintf(format, args...)}
}

// AsOWSError coerces any error into an OWSError, defaulting to the
// supplied code for plain errors.
func AsOWSError(err error, defaultCode, locator string) *OWSError {
	if owsErr, ok := err.(*OWSError); ok {
		return owsErr
	}
	return &OWSError{Code: defaultCode, Locator: locator, Message: err.Error()}
}
