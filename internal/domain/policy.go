package domain

import (
	"fmt"
	"unicode"
)

// PasswordPolicy is checked before any secret reaches the hashing port.
type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireNumber    bool
	RequireSymbol    bool
}

// Validate returns ErrWeakSecret when the secret fails the policy.
func (p PasswordPolicy) Validate(secret string) error {
	min := p.MinLength
	if min <= 0 {
		min = 8
	}
	if len(secret) < min {
		return fmt.Errorf("%w: shorter than %d characters", ErrWeakSecret, min)
	}
	var hasUpper, hasNumber, hasSymbol bool
	for _, r := range secret {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasNumber = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	if p.RequireUppercase && !hasUpper {
		return fmt.Errorf("%w: missing uppercase character", ErrWeakSecret)
	}
	if p.RequireNumber && !hasNumber {
		return fmt.Errorf("%w: missing numeric character", ErrWeakSecret)
	}
	if p.RequireSymbol && !hasSymbol {
		return fmt.Errorf("%w: missing symbol character", ErrWeakSecret)
	}
	return nil
}
