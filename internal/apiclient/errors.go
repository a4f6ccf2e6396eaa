package apiclient

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ErrorKind classifies a failed request.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNetwork
	KindAuthentication
	KindValidation
	KindServer
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuthentication:
		return "authentication"
	case KindValidation:
		return "validation"
	case KindServer:
		return "server"
	case KindUnknown:
	}
	return "unknown"
}

// Default error codes used when the response body does not carry one.
const (
	CodeNetworkError        = "NETWORK_ERROR"
	CodeAuthenticationError = "AUTHENTICATION_ERROR"
	CodeValidationError     = "VALIDATION_ERROR"
	CodeServerError         = "SERVER_ERROR"
	CodeUnknownError        = "UNKNOWN_ERROR"
)

// APIError is the normalized form of every failed request.
type APIError struct {
	StatusCode int            `json:"statusCode"`
	Message    string         `json:"message"`
	ErrorCode  string         `json:"errorCode"`
	Details    map[string]any `json:"details,omitempty"`
	Kind       ErrorKind      `json:"-"`

	cause error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.ErrorCode, e.StatusCode, e.Message)
}

// Unwrap returns the underlying transport error, if any.
func (e *APIError) Unwrap() error {
	return e.cause
}

// Retryable reports whether the failure is transient.
func (e *APIError) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindServer
}

// KindForStatus maps an HTTP status code to an error kind. Zero means no
// response was received.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == 0:
		return KindNetwork
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuthentication
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return KindValidation
	case status >= 500 && status <= 599:
		return KindServer
	}
	return KindUnknown
}

func defaultCode(kind ErrorKind) string {
	switch kind {
	case KindNetwork:
		return CodeNetworkError
	case KindAuthentication:
		return CodeAuthenticationError
	case KindValidation:
		return CodeValidationError
	case KindServer:
		return CodeServerError
	case KindUnknown:
	}
	return CodeUnknownError
}

// NewError builds an APIError for status, filling in the kind and the
// default error code.
func NewError(status int, message, code string) *APIError {
	kind := KindForStatus(status)
	if code == "" {
		code = defaultCode(kind)
	}
	if message == "" {
		message = http.StatusText(status)
		if message == "" {
			message = "request failed"
		}
	}
	return &APIError{StatusCode: status, Message: message, ErrorCode: code, Kind: kind}
}

func networkError(message string, cause error) *APIError {
	return &APIError{
		StatusCode: 0,
		Message:    message,
		ErrorCode:  CodeNetworkError,
		Kind:       KindNetwork,
		cause:      cause,
	}
}

// ValidationError converts a validator error into a client-side validation
// failure. No request is sent for these, so StatusCode is 0.
func ValidationError(err error) *APIError {
	apiErr := &APIError{
		Message:   err.Error(),
		ErrorCode: CodeValidationError,
		Kind:      KindValidation,
		cause:     err,
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		apiErr.Details = make(map[string]any, len(verrs))
		for _, fe := range verrs {
			apiErr.Details[fe.Field()] = fe.Tag()
		}
		if len(verrs) == 1 {
			apiErr.Message = fmt.Sprintf("%s failed %q validation", verrs[0].Field(), verrs[0].Tag())
		}
	}

	return apiErr
}

// AsAPIError extracts an APIError from err.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsKind reports whether err is an APIError of kind.
func IsKind(err error, kind ErrorKind) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Kind == kind
}

// normalize turns any error leaving the chain into an APIError.
func normalize(err error) *APIError {
	if err == nil {
		return nil
	}
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr
	}
	return networkError(err.Error(), err)
}
