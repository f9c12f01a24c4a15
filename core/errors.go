package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadCredentials       = "CROWD_BAD_CREDENTIALS"
	ErrorIdentityUnavailable  = "CROWD_IDENTITY_UNAVAILABLE"
	ErrorIdentityMismatch     = "CROWD_IDENTITY_MISMATCH"
	ErrorDirectoryUnavailable = "CROWD_DIRECTORY_UNAVAILABLE"
	ErrorPersistenceFailure   = "CROWD_PERSISTENCE_FAILURE"
	ErrorNotPermitted         = "CROWD_NOT_PERMITTED"
	ErrorBadInput             = "CROWD_BAD_INPUT"
	ErrorInternal             = "CROWD_INTERNAL_ERROR"
)

var (
	ErrIdentityKeyRequired      = errors.New("core: remote identity key is required")
	ErrIdentityUsernameRequired = errors.New("core: remote identity username is required")
	ErrCredentialsRequired      = errors.New("core: username and password are required")
	ErrUsernamePadded           = errors.New("core: username has surrounding whitespace")
	ErrUserNotFound             = errors.New("core: local user not found")
)

type RejectReason string

const (
	RejectBadCredentials       RejectReason = "bad_credentials"
	RejectIdentityUnavailable  RejectReason = "identity_unavailable"
	RejectIdentityMismatch     RejectReason = "identity_mismatch"
	RejectDirectoryUnavailable RejectReason = "directory_unavailable"
	RejectPersistenceFailure   RejectReason = "persistence_failure"
	RejectNotPermitted         RejectReason = "not_permitted"
)

type LoginState string

const (
	StateStart                LoginState = "start"
	StateCredentialsSubmitted LoginState = "credentials_submitted"
	StateTokenIssued          LoginState = "token_issued"
	StateIdentityFetched      LoginState = "identity_fetched"
	StateReconciled           LoginState = "reconciled"
	StateAuthenticated        LoginState = "authenticated"
)

// RejectedError is the only error shape SessionValidator returns for a failed
// login or lookup. Directory and persistence faults travel as Cause.
type RejectedError struct {
	Reason RejectReason
	State  LoginState
	Cause  error
}

func (e *RejectedError) Error() string {
	if e == nil {
		return "core: rejected"
	}
	msg := "core: rejected (" + string(e.Reason) + ")"
	if e.State != "" {
		msg += " at " + string(e.State)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *RejectedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Transient reports whether retrying later could succeed.
func (e *RejectedError) Transient() bool {
	if e == nil {
		return false
	}
	return e.Reason == RejectDirectoryUnavailable || e.Reason == RejectPersistenceFailure
}

func (e *RejectedError) ToServiceError() *goerrors.Error {
	if e == nil {
		return nil
	}
	category, code, textCode, message := rejectEnvelope(e.Reason)
	return goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode).
		WithMetadata(map[string]any{
			"reason": string(e.Reason),
			"state":  string(e.State),
		})
}

func rejectEnvelope(reason RejectReason) (goerrors.Category, int, string, string) {
	switch reason {
	case RejectBadCredentials:
		return goerrors.CategoryAuth, http.StatusUnauthorized, ErrorBadCredentials, "login failed"
	case RejectIdentityUnavailable:
		return goerrors.CategoryAuth, http.StatusUnauthorized, ErrorIdentityUnavailable, "login failed"
	case RejectIdentityMismatch:
		return goerrors.CategoryAuth, http.StatusUnauthorized, ErrorIdentityMismatch, "login failed"
	case RejectNotPermitted:
		return goerrors.CategoryAuthz, http.StatusForbidden, ErrorNotPermitted, "user may not access this application"
	case RejectDirectoryUnavailable:
		return goerrors.CategoryExternal, http.StatusServiceUnavailable, ErrorDirectoryUnavailable, "directory service unavailable"
	default:
		return goerrors.CategoryInternal, http.StatusInternalServerError, ErrorPersistenceFailure, "An unexpected error occurred"
	}
}

func rejected(reason RejectReason, state LoginState, cause error) error {
	return &RejectedError{Reason: reason, State: state, Cause: cause}
}

func asRejected(err error) (*RejectedError, bool) {
	var rejectedErr *RejectedError
	if errors.As(err, &rejectedErr) && rejectedErr != nil {
		return rejectedErr, true
	}
	return nil, false
}

// RejectReasonOf returns the reason carried by err, if any.
func RejectReasonOf(err error) (RejectReason, bool) {
	if rejectedErr, ok := asRejected(err); ok {
		return rejectedErr.Reason, true
	}
	return "", false
}

func IsRejected(err error, reason RejectReason) bool {
	got, ok := RejectReasonOf(err)
	return ok && got == reason
}

// ReconciliationError reports a reconcile that was rolled back.
type ReconciliationError struct {
	CrowdKey string
	Step     string
	Cause    error
}

func (e *ReconciliationError) Error() string {
	if e == nil {
		return "core: reconciliation failed"
	}
	msg := "core: reconciliation failed"
	if key := strings.TrimSpace(e.CrowdKey); key != "" {
		msg += " for " + key
	}
	if step := strings.TrimSpace(e.Step); step != "" {
		msg += " (" + step + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ReconciliationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// MapError converts any error into a go-errors envelope for hosts that
// render errors uniformly.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rejectedErr *RejectedError
	if errors.As(err, &rejectedErr) && rejectedErr != nil {
		return rejectedErr.ToServiceError()
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}
	var reconcileErr *ReconciliationError
	if errors.As(err, &reconcileErr) {
		return ensureErrorEnvelope(goerrors.New(err.Error(), goerrors.CategoryInternal).
			WithTextCode(ErrorPersistenceFailure))
	}
	return ensureErrorEnvelope(goerrors.MapToError(err, goerrors.DefaultErrorMappers()))
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatusForCategory(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryAuth:
		return ErrorBadCredentials
	case goerrors.CategoryAuthz:
		return ErrorNotPermitted
	case goerrors.CategoryExternal:
		return ErrorDirectoryUnavailable
	default:
		return ErrorInternal
	}
}

func httpStatusForCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
