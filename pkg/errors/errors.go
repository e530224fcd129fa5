package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError carrying the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Common error codes
const (
	CodeNotFound ErrorCode = iota + 1000
	CodeBadRequest
	CodeUnauthorized
	CodeForbidden
	CodeInternal
	CodeDuplicateRole
	CodeAlreadyAssigned
	CodeAssignmentNotFound
	CodeUnknownPermission
	CodeDenied
	CodeStoreUnavailable
	CodeConflict
)

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound           = &AppError{Code: CodeNotFound, Message: "not found"}
	ErrBadRequest         = &AppError{Code: CodeBadRequest, Message: "bad request"}
	ErrUnauthorized       = &AppError{Code: CodeUnauthorized, Message: "unauthorized"}
	ErrInternal           = &AppError{Code: CodeInternal, Message: "internal server error"}
	ErrDuplicateRole      = &AppError{Code: CodeDuplicateRole, Message: "role already exists"}
	ErrAlreadyAssigned    = &AppError{Code: CodeAlreadyAssigned, Message: "role already assigned"}
	ErrAssignmentNotFound = &AppError{Code: CodeAssignmentNotFound, Message: "assignment not found"}
	ErrUnknownPermission  = &AppError{Code: CodeUnknownPermission, Message: "unknown permission"}
	ErrDenied             = &AppError{Code: CodeDenied, Message: "permission denied"}
	ErrStoreUnavailable   = &AppError{Code: CodeStoreUnavailable, Message: "store unavailable"}
	ErrConflict           = &AppError{Code: CodeConflict, Message: "conflict"}
)

// Error constructors
func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

// RoleNotFound is the NotFound variant reported by role lookups and assignment.
func RoleNotFound(ref string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("role %s not found", ref),
	}
}

func DuplicateRole(name string) *AppError {
	return &AppError{
		Code:    CodeDuplicateRole,
		Message: fmt.Sprintf("role %s already exists", name),
	}
}

func AlreadyAssigned(role string) *AppError {
	return &AppError{
		Code:    CodeAlreadyAssigned,
		Message: fmt.Sprintf("role %s already assigned", role),
	}
}

func AssignmentNotFound(role string) *AppError {
	return &AppError{
		Code:    CodeAssignmentNotFound,
		Message: fmt.Sprintf("no active assignment for role %s", role),
	}
}

func UnknownPermission(detail string) *AppError {
	return &AppError{
		Code:    CodeUnknownPermission,
		Message: fmt.Sprintf("unknown permission: %s", detail),
	}
}

func Denied(reason string, err error) *AppError {
	msg := "permission denied"
	if reason != "" {
		msg = fmt.Sprintf("permission denied: %s", reason)
	}
	return &AppError{
		Code:    CodeDenied,
		Message: msg,
		Err:     err,
	}
}

func StoreUnavailable(err error) *AppError {
	return &AppError{
		Code:    CodeStoreUnavailable,
		Message: "store unavailable",
		Err:     err,
	}
}

func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Err:     err,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "internal server error",
		Err:     err,
	}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

// CodeOf returns the code of the outermost AppError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code, true
	}
	return 0, false
}

// HTTPStatus maps an error onto the response status callers should see.
func HTTPStatus(err error) int {
	code, ok := CodeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch code {
	case CodeDenied, CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound, CodeAssignmentNotFound:
		return http.StatusNotFound
	case CodeDuplicateRole, CodeAlreadyAssigned, CodeConflict:
		return http.StatusConflict
	case CodeUnknownPermission, CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the message safe to return to an API caller.
func PublicMessage(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}
