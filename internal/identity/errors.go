package identity

import (
	"context"
	"errors"
)

// Code is a provider error code. Backends translate their native failures
// into one of these so the forms can show a fixed set of messages.
type Code string

const (
	CodeInvalidEmail      Code = "auth/invalid-email"
	CodeInvalidCredential Code = "auth/invalid-credential"
	CodeEmailInUse        Code = "auth/email-already-in-use"
	CodeWeakPassword      Code = "auth/weak-password"
	CodeUserDisabled      Code = "auth/user-disabled"
	CodeTooManyRequests   Code = "auth/too-many-requests"
	CodeOAuthCancelled    Code = "auth/popup-closed-by-user"
	CodeInvalidCode       Code = "auth/invalid-verification-code"
	CodeExpiredCode       Code = "auth/code-expired"
	CodeUnknown           Code = "auth/unknown"
)

// Error is a provider failure carrying a Code.
type Error struct {
	Code Code
	Err  error // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, &Error{Code: c}) match on code alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError builds an Error with an optional cause.
func NewError(code Code, cause error) *Error {
	return &Error{Code: code, Err: cause}
}

// CodeOf extracts the provider code from err, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// Fallback is shown for any failure outside the taxonomy.
const Fallback = "An unexpected error occurred. Please try again."

var messages = map[Code]string{
	CodeInvalidEmail:      "The email address is badly formatted.",
	CodeInvalidCredential: "Invalid email or password. Please try again.",
	CodeEmailInUse:        "An account with this email already exists.",
	CodeWeakPassword:      "The password is too weak. Must be at least 6 characters.",
	CodeUserDisabled:      "This account has been disabled.",
	CodeTooManyRequests:   "Too many failed attempts. Please try again later.",
	CodeOAuthCancelled:    "Google sign-in was cancelled.",
	CodeInvalidCode:       "The verification code is invalid or has expired.",
	CodeExpiredCode:       "The verification code is invalid or has expired.",
}

// Message maps err to the user-facing string shown next to a form.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "The request timed out. Please try again."
	}
	if msg, ok := messages[CodeOf(err)]; ok {
		return msg
	}
	return Fallback
}
