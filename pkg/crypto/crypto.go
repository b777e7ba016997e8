package crypto

import (
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// VerifyPassword verifies a password against a hash
func VerifyPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// GenerateRandomBytes generates random bytes
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// GenerateRandomString generates a random string
func GenerateRandomString(n int) (string, error) {
	bytes, err := GenerateRandomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// GenerateAPIKey generates a rig agent API key. The plaintext is returned
// once at issuance; only its bcrypt hash is stored.
func GenerateAPIKey() (plaintext, hash string, err error) {
	plaintext, err = GenerateRandomString(32)
	if err != nil {
		return "", "", err
	}
	plaintext = "rig_" + plaintext

	hash, err = HashPassword(plaintext)
	if err != nil {
		return "", "", err
	}

	return plaintext, hash, nil
}

// VerifyAPIKey verifies an API key against its stored hash
func VerifyAPIKey(key, hash string) bool {
	return VerifyPassword(key, hash)
}
