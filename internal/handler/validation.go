package handler

import (
	"unicode"

	"github.com/apikit-go/apikit/internal/crud"
)

// Field-level validation kinds produced by the HTTP layer, on top of the
// persistence-level ones.
const (
	kindRequired = "required"
	kindMismatch = "mismatch"
	kindTooShort = "tooShort"
	kindWeak     = "weak"
)

const minPasswordLen = 8

// checkPasswordStrength records a violation unless the password is at
// least eight characters and mixes upper case, lower case, a digit and a
// special character.
func checkPasswordStrength(password string, errs *crud.MultiFieldError) {
	if len(password) < minPasswordLen {
		errs.Add("password", kindTooShort)
		return
	}
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	if !upper || !lower || !digit || !special {
		errs.Add("password", kindWeak)
	}
}
