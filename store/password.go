package store

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// RAGFlow checks passwords with werkzeug's check_password_hash over the
// base64 of the plaintext. These parameters match werkzeug's scrypt default.
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 64
	saltLen      = 16
)

const saltChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// HashPassword returns "scrypt:N:r:p$salt$hex" for base64(password).
func HashPassword(password string) (string, error) {
	salt, err := randomSalt(saltLen)
	if err != nil {
		return "", err
	}
	return hashWithSalt(password, salt, scryptN, scryptR, scryptP)
}

// checkPassword verifies password against a hash produced by HashPassword
// or by RAGFlow itself. Only the scrypt method is understood.
func checkPassword(hash, password string) bool {
	method, salt, ok := strings.Cut(hash, "$")
	if !ok {
		return false
	}
	salt, _, ok = strings.Cut(salt, "$")
	if !ok {
		return false
	}
	parts := strings.Split(method, ":")
	if len(parts) != 4 || parts[0] != "scrypt" {
		return false
	}
	var params [3]int
	for i, p := range parts[1:] {
		n, err := strconv.Atoi(p)
		if err != nil {
			return false
		}
		params[i] = n
	}
	got, err := hashWithSalt(password, salt, params[0], params[1], params[2])
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(hash)) == 1
}

func hashWithSalt(password, salt string, n, r, p int) (string, error) {
	encoded := base64.StdEncoding.EncodeToString([]byte(password))
	key, err := scrypt.Key([]byte(encoded), []byte(salt), n, r, p, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return fmt.Sprintf("scrypt:%d:%d:%d$%s$%s", n, r, p, salt, hex.EncodeToString(key)), nil
}

func randomSalt(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	for i, b := range buf {
		buf[i] = saltChars[int(b)%len(saltChars)]
	}
	return string(buf), nil
}
