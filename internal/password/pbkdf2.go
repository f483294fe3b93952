package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// DefaultPBKDF2Rounds matches passlib's pbkdf2_sha256 default.
const DefaultPBKDF2Rounds = 29000

// MaxPBKDF2Rounds bounds the work a stored hash can demand from Verify.
const MaxPBKDF2Rounds = 10_000_000

const (
	pbkdf2Prefix  = "$pbkdf2-sha256$"
	pbkdf2SaltLen = 16
	pbkdf2KeyLen  = 32
)

// passlib "adapted base64": standard alphabet with '.' for '+', no padding.
var ab64 = base64.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789./").WithPadding(base64.NoPadding)

func hashPBKDF2(plain string, rounds int) (string, error) {
	salt := make([]byte, pbkdf2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(plain), salt, rounds, pbkdf2KeyLen, sha256.New)
	return fmt.Sprintf("%s%d$%s$%s", pbkdf2Prefix, rounds, ab64.EncodeToString(salt), ab64.EncodeToString(key)), nil
}

// verifyPBKDF2 checks "$pbkdf2-sha256$<rounds>$<salt>$<checksum>".
func verifyPBKDF2(plain, encoded string) bool {
	parts := strings.Split(strings.TrimPrefix(encoded, pbkdf2Prefix), "$")
	if len(parts) != 3 {
		return false
	}

	rounds, err := strconv.Atoi(parts[0])
	if err != nil || rounds <= 0 || rounds > MaxPBKDF2Rounds {
		return false
	}
	salt, err := ab64.DecodeString(parts[1])
	if err != nil {
		return false
	}
	want, err := ab64.DecodeString(parts[2])
	if err != nil || len(want) == 0 {
		return false
	}

	got := pbkdf2.Key([]byte(plain), salt, rounds, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
