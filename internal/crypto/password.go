// Package crypto implements C1 (password hashing) and C6 (the symmetric
// JWT manager). Shape grounded on auth/crypto/crypto.go's PasswordHasher and
// JWTManager; Argon2id parameters and JWT algorithm follow SPEC_FULL.md §6
// rather than the teacher's own constants.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/agent-iam/iam/internal/errs"
	"golang.org/x/crypto/argon2"
)

// Argon2id parameters pinned by the specification (§6): memory 19 MiB,
// iterations 2, parallelism 1, output 32 bytes.
const (
	argon2Memory  = 19 * 1024 // KiB
	argon2Time    = 2
	argon2Threads = 1
	argon2KeyLen  = 32
	saltLen       = 16
)

// PasswordHasher implements core.PasswordHasher with Argon2id, encoded as a
// standard PHC string.
type PasswordHasher struct{}

// NewPasswordHasher creates a PasswordHasher.
func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{}
}

// Hash returns a PHC-formatted Argon2id hash of password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", errs.Wrap(errs.Cryptographic, "generate salt", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// Verify reports whether password matches encodedHash, in constant time.
func (h *PasswordHasher) Verify(password, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return false, errs.New(errs.Cryptographic, "invalid password hash format")
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, errs.Wrap(errs.Cryptographic, "parse password hash parameters", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errs.Wrap(errs.Cryptographic, "decode salt", err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, errs.Wrap(errs.Cryptographic, "decode hash", err)
	}

	actual := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(actual, expected) == 1, nil
}
