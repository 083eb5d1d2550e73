package apperror

import (
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping and retry policy.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindConflict       Kind = "conflict"
	KindNotFound       Kind = "not_found"
	KindUnavailable    Kind = "unavailable"
	KindInternal       Kind = "internal"
)

// AppError is a structured error that maps to HTTP responses and A2A error parts.
type AppError struct {
	Kind       Kind   `json:"kind"`
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to callers)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(kind Kind, code string, message string, httpStatus int) *AppError {
	return &AppError{
		Kind:       kind,
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError. The wrapped error stays
// out of the client-facing message; it is for logs only.
func Wrap(kind Kind, code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Kind:       kind,
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// opaqueAuth is the only message external callers see for any verification
// failure. Which field failed stays in internal logs.
const opaqueAuth = "authorization failed"

// ---- Validation (VAL) ----

func ErrMalformedMandate(detail string) *AppError {
	return New(KindValidation, "VAL_001", detail, http.StatusBadRequest)
}

func ErrCanonicalization(err error) *AppError {
	return Wrap(KindValidation, "VAL_002", "payload cannot be canonicalized", http.StatusBadRequest, err)
}

func ErrInvalidAmount() *AppError {
	return New(KindValidation, "VAL_003", "Invalid amount", http.StatusBadRequest)
}

func ErrMissingField(field string) *AppError {
	return New(KindValidation, "VAL_004", fmt.Sprintf("missing required field %s", field), http.StatusBadRequest)
}

// ---- Authentication (AUTHN) — all opaque externally ----

func ErrSignatureInvalid(err error) *AppError {
	return Wrap(KindAuthentication, "AUTHN_001", opaqueAuth, http.StatusUnauthorized, err)
}

func ErrJWTInvalid(err error) *AppError {
	return Wrap(KindAuthentication, "AUTHN_002", opaqueAuth, http.StatusUnauthorized, err)
}

func ErrChallengeMismatch() *AppError {
	return New(KindAuthentication, "AUTHN_003", opaqueAuth, http.StatusUnauthorized)
}

func ErrCounterRegression() *AppError {
	return New(KindAuthentication, "AUTHN_004", opaqueAuth, http.StatusUnauthorized)
}

func ErrAttestationInvalid(err error) *AppError {
	return Wrap(KindAuthentication, "AUTHN_005", opaqueAuth, http.StatusUnauthorized, err)
}

// ---- Authorization (AUTHZ) — all opaque externally ----

func ErrHashMismatch() *AppError {
	return New(KindAuthorization, "AUTHZ_001", opaqueAuth, http.StatusForbidden)
}

func ErrMandateChainBroken(err error) *AppError {
	return Wrap(KindAuthorization, "AUTHZ_002", opaqueAuth, http.StatusForbidden, err)
}

func ErrJWTExpired() *AppError {
	return New(KindAuthorization, "AUTHZ_003", opaqueAuth, http.StatusForbidden)
}

func ErrCartExpired() *AppError {
	return New(KindAuthorization, "AUTHZ_004", "cart has expired", http.StatusForbidden)
}

func ErrRiskDeclined() *AppError {
	return New(KindAuthorization, "AUTHZ_005", "High risk", http.StatusForbidden)
}

func ErrInvalidMerchant() *AppError {
	return New(KindAuthorization, "AUTHZ_006", "cart does not belong to this merchant", http.StatusForbidden)
}

// ---- Conflict (CONF) ----

func ErrJTIReplay() *AppError {
	return New(KindConflict, "CONF_001", opaqueAuth, http.StatusConflict)
}

func ErrMessageReplay() *AppError {
	return New(KindConflict, "CONF_002", "message already processed", http.StatusConflict)
}

func ErrTerminalState(state string) *AppError {
	return New(KindConflict, "CONF_003", fmt.Sprintf("cart already in terminal state %s", state), http.StatusConflict)
}

func ErrAlreadyRefunded() *AppError {
	return New(KindConflict, "CONF_004", "transaction already refunded", http.StatusConflict)
}

// ---- Not found (NF) ----

func ErrNotFound(entity string) *AppError {
	return New(KindNotFound, "NF_001", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrKeyNotFound(kid string) *AppError {
	return New(KindNotFound, "NF_002", fmt.Sprintf("no key for %s", kid), http.StatusNotFound)
}

// ---- Unavailable (UNAV) ----

func ErrDownstreamTimeout(service string, err error) *AppError {
	return Wrap(KindUnavailable, "UNAV_001", fmt.Sprintf("%s did not respond in time", service), http.StatusGatewayTimeout, err)
}

func ErrCredentialVerificationFailed(err error) *AppError {
	return Wrap(KindUnavailable, "UNAV_002", "credential verification failed", http.StatusGatewayTimeout, err)
}

// ---- Internal (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap(KindInternal, "SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrKeyStoreFailure(err error) *AppError {
	return Wrap(KindInternal, "SYS_002", "key store failure", http.StatusInternalServerError, err)
}

func ErrWrongPassphrase(err error) *AppError {
	return Wrap(KindInternal, "SYS_003", "key decryption failed", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(KindInternal, "SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a VAL_001-style validation error with a custom message.
func Validation(message string) *AppError {
	return New(KindValidation, "VAL_001", message, http.StatusBadRequest)
}
