package directory

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-crowdauth/core"
	goerrors "github.com/goliatone/go-errors"
)

var (
	ErrMalformedResponse = errors.New("directory: malformed response")
	ErrUnexpectedStatus  = errors.New("directory: unexpected status")
)

// Error reports a directory call that could not produce a typed outcome:
// a transport fault, an unexpected status or a malformed payload.
type Error struct {
	Operation  string
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	if e == nil {
		return "directory: request failed"
	}
	msg := "directory: " + strings.TrimSpace(e.Operation) + " failed"
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *Error) ToServiceError() *goerrors.Error {
	if e == nil {
		return nil
	}
	metadata := map[string]any{"operation": e.Operation}
	if e.StatusCode > 0 {
		metadata["status_code"] = e.StatusCode
	}
	return goerrors.New(e.Error(), goerrors.CategoryExternal).
		WithCode(http.StatusBadGateway).
		WithTextCode(core.ErrorDirectoryUnavailable).
		WithMetadata(metadata)
}

func IsMalformedResponse(err error) bool {
	return errors.Is(err, ErrMalformedResponse)
}

func malformedField(field string) error {
	return fmt.Errorf("%w: missing %s", ErrMalformedResponse, field)
}

func operationError(operation string, status int, cause error) error {
	return &Error{Operation: operation, StatusCode: status, Cause: cause}
}
