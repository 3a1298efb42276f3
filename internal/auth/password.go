package auth

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is the bcrypt work factor for new credentials.
const PasswordCost = 10

// HashPassword returns a salted bcrypt hash. Equal inputs never produce equal outputs.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks password against a stored credential. Credentials created before
// hashing was introduced are stored in plaintext and compared directly.
func VerifyPassword(password, stored string) bool {
	if NeedsRehash(stored) {
		return subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

// NeedsRehash reports whether stored is a legacy plaintext credential.
func NeedsRehash(stored string) bool {
	return !strings.HasPrefix(stored, "$2")
}
