package application

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

// JoinCodeLength is the number of characters in a join code.
const JoinCodeLength = 8

// joinCodeAlphabet omits characters that are easy to confuse when read aloud.
const joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Argon2idParams tunes the join code digest.
type Argon2idParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
}

// DefaultArgon2idParams keeps lookups cheap while making offline guessing costly.
var DefaultArgon2idParams = Argon2idParams{
	Memory:      16 * 1024,
	Iterations:  1,
	Parallelism: 1,
	KeyLength:   32,
}

// JoinCodes issues join codes and derives the digests that are stored in
// their place. Digests are deterministic for a given secret so they can be
// looked up directly.
type JoinCodes struct {
	salt   []byte
	params Argon2idParams
	random io.Reader
}

// NewJoinCodes constructs a JoinCodes keyed by secret.
func NewJoinCodes(secret string, params Argon2idParams) *JoinCodes {
	sum := sha256.Sum256([]byte("join-code:" + secret))
	return &JoinCodes{salt: sum[:16], params: params, random: rand.Reader}
}

// Generate returns a new plain code and its digest.
func (j *JoinCodes) Generate() (code, digest string, err error) {
	buf := make([]byte, JoinCodeLength)
	if _, err = io.ReadFull(j.random, buf); err != nil {
		return "", "", fmt.Errorf("generate join code: %w", err)
	}
	var b strings.Builder
	b.Grow(JoinCodeLength)
	for _, v := range buf {
		// len(joinCodeAlphabet) divides 256, so the modulo is unbiased.
		b.WriteByte(joinCodeAlphabet[int(v)%len(joinCodeAlphabet)])
	}
	code = b.String()
	digest, err = j.Digest(code)
	return code, digest, err
}

// Digest normalises code and returns its hex digest.
func (j *JoinCodes) Digest(code string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if len(normalized) != JoinCodeLength {
		return "", ErrInvalidJoinCode
	}
	for _, r := range normalized {
		if !strings.ContainsRune(joinCodeAlphabet, r) {
			return "", ErrInvalidJoinCode
		}
	}
	key := argon2.IDKey([]byte(normalized), j.salt, j.params.Iterations, j.params.Memory, j.params.Parallelism, j.params.KeyLength)
	return hex.EncodeToString(key), nil
}
