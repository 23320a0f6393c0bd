// Package forms validates auth form input before any identity gateway
// call is made. Each form's Validate returns nil or *Errors.
package forms

import (
	"maps"
	"net/mail"
	"slices"
	"strings"

	"github.com/sakif/smartbot/internal/apperror"
)

// Field names, matching the HTML input names.
const (
	FieldFullName        = "fullName"
	FieldEmail           = "email"
	FieldPassword        = "password"
	FieldConfirmPassword = "confirmPassword"
	FieldCode            = "code"
)

const (
	loginPasswordMin    = 6
	registerPasswordMin = 8
	codeLength          = 6
)

// Errors maps a field name to its message. It unwraps to
// apperror.ErrValidation.
type Errors map[string]string

func (e Errors) Error() string {
	fields := slices.Sorted(maps.Keys(e))
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f + ": " + e[f]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e Errors) Unwrap() error { return apperror.ErrValidation }

// Get returns the message for field, or "".
func (e Errors) Get(field string) string { return e[field] }

// set records msg unless field already has one; the first failing rule wins.
func (e Errors) set(field, msg string) {
	if _, ok := e[field]; !ok {
		e[field] = msg
	}
}

func (e Errors) err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

func checkEmail(errs Errors, email string) {
	email = strings.TrimSpace(email)
	if email == "" {
		errs.set(FieldEmail, "Email is required")
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		errs.set(FieldEmail, "Invalid email")
	}
}

// Login is the sign-in form.
type Login struct {
	Email    string
	Password string
}

func (f Login) Validate() error {
	errs := Errors{}
	checkEmail(errs, f.Email)
	switch {
	case f.Password == "":
		errs.set(FieldPassword, "Password is required")
	case len(f.Password) < loginPasswordMin:
		errs.set(FieldPassword, "Too short!")
	}
	return errs.err()
}

// Register is the sign-up form.
type Register struct {
	FullName        string
	Email           string
	Password        string
	ConfirmPassword string
}

func (f Register) Validate() error {
	errs := Errors{}
	if strings.TrimSpace(f.FullName) == "" {
		errs.set(FieldFullName, "Full name is required")
	}
	checkEmail(errs, f.Email)
	checkNewPassword(errs, f.Password, f.ConfirmPassword)
	return errs.err()
}

func checkNewPassword(errs Errors, password, confirm string) {
	switch {
	case password == "":
		errs.set(FieldPassword, "Required")
	case len(password) < registerPasswordMin:
		errs.set(FieldPassword, "Password must be at least 8 chars")
	}
	switch {
	case confirm == "":
		errs.set(FieldConfirmPassword, "Required")
	case confirm != password:
		errs.set(FieldConfirmPassword, "Passwords must match")
	}
}

// ForgotPassword requests a reset code.
type ForgotPassword struct {
	Email string
}

func (f ForgotPassword) Validate() error {
	errs := Errors{}
	checkEmail(errs, f.Email)
	return errs.err()
}

// Verification checks the emailed reset code.
type Verification struct {
	Code string
}

func (f Verification) Validate() error {
	errs := Errors{}
	switch {
	case f.Code == "":
		errs.set(FieldCode, "Verification code is required")
	case !isDigits(f.Code, codeLength):
		errs.set(FieldCode, "Must be exactly 6 digits")
	}
	return errs.err()
}

// ResetPassword sets the new password after a verified code.
type ResetPassword struct {
	Password        string
	ConfirmPassword string
}

func (f ResetPassword) Validate() error {
	errs := Errors{}
	checkNewPassword(errs, f.Password, f.ConfirmPassword)
	return errs.err()
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
