// Package password hashes login secrets with argon2id. The cost parameters
// and salt travel inside the encoded digest, so stored credentials survive
// future parameter changes.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Algorithm identifies the scheme recorded on stored credentials.
const Algorithm = "argon2id"

const saltLen = 16

var errInvalidHash = errors.New("invalid password hash")

// defaultParams are the write-side costs. Verification always uses the
// parameters encoded in the digest being checked.
var defaultParams = params{memory: 64 * 1024, time: 3, threads: 2, keyLen: 32}

type params struct {
	memory  uint32
	time    uint32
	threads uint8
	keyLen  uint32
}

// Argon2 satisfies the hashing port. The zero value is ready to use.
type Argon2 struct{}

func (Argon2) Hash(secret string) (string, error) {
	return Hash(secret)
}

func (Argon2) Verify(secret, digest string) (bool, error) {
	return Verify(secret, digest)
}

// Hash derives an argon2id digest of the password under fresh random salt and
// returns it in the standard encoded form.
func Hash(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	p := defaultParams
	key := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, p.keyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.memory, p.time, p.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify re-derives the key from the password using the digest's own
// parameters and compares in constant time.
func Verify(password, digest string) (bool, error) {
	p, salt, want, err := decode(digest)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func decode(digest string) (params, []byte, []byte, error) {
	fields := strings.Split(digest, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return params{}, nil, nil, errInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return params{}, nil, nil, errInvalidHash
	}

	var p params
	var threads uint32
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &threads); err != nil || threads == 0 || threads > 255 {
		return params{}, nil, nil, errInvalidHash
	}
	p.threads = uint8(threads)

	salt, err := base64.RawStdEncoding.DecodeString(fields[4])
	if err != nil {
		return params{}, nil, nil, errInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(fields[5])
	if err != nil {
		return params{}, nil, nil, errInvalidHash
	}
	return p, salt, key, nil
}
