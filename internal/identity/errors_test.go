package identity

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"invalid email", NewError(CodeInvalidEmail, nil), "The email address is badly formatted."},
		{"bad credentials", NewError(CodeInvalidCredential, nil), "Invalid email or password. Please try again."},
		{"email in use", NewError(CodeEmailInUse, nil), "An account with this email already exists."},
		{"weak password", NewError(CodeWeakPassword, nil), "The password is too weak. Must be at least 6 characters."},
		{"disabled", NewError(CodeUserDisabled, nil), "This account has been disabled."},
		{"rate limited", NewError(CodeTooManyRequests, nil), "Too many failed attempts. Please try again later."},
		{"oauth cancelled", NewError(CodeOAuthCancelled, nil), "Google sign-in was cancelled."},
		{"expired code", NewError(CodeExpiredCode, nil), "The verification code is invalid or has expired."},
		{"wrapped code", fmt.Errorf("service: %w", NewError(CodeUserDisabled, nil)), "This account has been disabled."},
		{"timeout", fmt.Errorf("login: %w", context.DeadlineExceeded), "The request timed out. Please try again."},
		{"unknown code", NewError(CodeUnknown, errors.New("boom")), Fallback},
		{"plain error", errors.New("socket closed"), Fallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Message(tt.err))
		})
	}
}

func TestErrorIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewError(CodeEmailInUse, errors.New("unique")))

	assert.True(t, errors.Is(err, &Error{Code: CodeEmailInUse}))
	assert.False(t, errors.Is(err, &Error{Code: CodeWeakPassword}))
	assert.Equal(t, CodeEmailInUse, CodeOf(err))
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("x")))
}
