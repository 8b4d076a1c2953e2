package shared

import (
	"errors"
	"fmt"
)

// RequestError is used when we want a specific error message and StatusCode.
// Sane defaults are listed below. Routes that need custom error messages can
// build their own RequestError; the responder returns the exact message
// inside the request error to the client.
//
// Error codes should be bubbled where the RequestError msg is expected to be
// returned to the user. If the user should see a generic message but the
// error chain should carry more detail for logging, wrap the RequestError
// with the extra context instead.
type RequestError struct {
	StatusCode int
	Condition  string
	Err        error
}

func (r *RequestError) Error() string {
	return fmt.Sprintf("status %d: err %v", r.StatusCode, r.Err)
}

func (r *RequestError) Unwrap() error {
	return r.Err
}

// The gateway failure taxonomy. Conditions are named in error payloads so
// clients can tell a routing failure from a backend failure.
var (
	ErrRetrievalUnavailable = &RequestError{StatusCode: 503, Condition: "RetrievalUnavailable", Err: errors.New("knowledge store unreachable")}
	ErrUnknownModel         = &RequestError{StatusCode: 400, Condition: "UnknownModel", Err: errors.New("no provider mapping for model")}
	ErrUnsupportedParameter = &RequestError{StatusCode: 400, Condition: "UnsupportedParameter", Err: errors.New("sampling parameter has no backend equivalent")}
	ErrProviderAuth         = &RequestError{StatusCode: 401, Condition: "ProviderAuthError", Err: errors.New("backend rejected credentials")}
	ErrProviderUnavailable  = &RequestError{StatusCode: 502, Condition: "ProviderUnavailable", Err: errors.New("backend unavailable")}
	ErrProviderProtocol     = &RequestError{StatusCode: 502, Condition: "ProviderProtocolError", Err: errors.New("malformed backend response")}

	ErrInvalidRequest      = &RequestError{StatusCode: 400, Condition: "BadRequest", Err: errors.New("invalid request body")}
	ErrInternalServerError = &RequestError{StatusCode: 500, Condition: "InternalError", Err: errors.New("internal server error")}
)

// AsRequestError unwraps err to a *RequestError, falling back to a 500 so
// every failure path still produces a well-formed error payload.
func AsRequestError(err error) *RequestError {
	var rerr *RequestError
	if errors.As(err, &rerr) {
		return rerr
	}
	return &RequestError{StatusCode: 500, Condition: "InternalError", Err: err}
}
