package auth

import (
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// hashCost is the bcrypt cost used for operator console credentials.
const hashCost = 12

// minPasswordLen is the floor of the operator password policy.
const minPasswordLen = 8

// HashPassword derives the bcrypt hash stored in the operators table.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored operator hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePasswordStrength enforces the operator password policy: at least
// minPasswordLen characters, mixing upper case, lower case and digits.
func ValidatePasswordStrength(password string) bool {
	if len(password) < minPasswordLen {
		return false
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasUpper && hasLower && hasDigit
}
