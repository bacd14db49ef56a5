// Package secret generates, hashes and compares portal credentials.
//
// A Secret is kept as an opaque byte string from generation through comparison.
// Only Reveal yields the plaintext, and it is meant to be called exactly once,
// when the value is handed to the delivery channel.
package secret

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrEntropyUnavailable reports that the secure random source could not be read.
var ErrEntropyUnavailable = errors.New("secret: entropy unavailable")

// Digits is the default one-time passcode alphabet.
const Digits = "0123456789"

const redacted = "[redacted]"

// reader is swapped in tests to simulate a failing random source.
var reader io.Reader = rand.Reader

// Secret is an opaque credential. The zero value is empty.
type Secret struct {
	b []byte
}

// Digest is the hex encoded SHA-256 of a Secret, the only form ever persisted.
type Digest string

// Parse wraps a candidate credential received from a caller.
func Parse(s string) Secret {
	return Secret{b: []byte(s)}
}

// Generate returns a random secret carrying byteLength bytes of entropy,
// encoded as unpadded base64url so it survives URLs and headers unchanged.
func Generate(byteLength int) (Secret, error) {
	if byteLength <= 0 {
		return Secret{}, fmt.Errorf("secret: invalid length %d", byteLength)
	}
	raw := make([]byte, byteLength)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return Secret{}, fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	out := make([]byte, base64.RawURLEncoding.EncodedLen(len(raw)))
	base64.RawURLEncoding.Encode(out, raw)
	return Secret{b: out}, nil
}

// GenerateCode returns a code of the given length drawn uniformly from alphabet.
func GenerateCode(length int, alphabet string) (Secret, error) {
	if length <= 0 {
		return Secret{}, fmt.Errorf("secret: invalid code length %d", length)
	}
	if len(alphabet) < 2 || len(alphabet) > 256 {
		return Secret{}, fmt.Errorf("secret: invalid alphabet size %d", len(alphabet))
	}
	// Bytes at or above limit are rejected so every symbol is equally likely.
	limit := 256 - (256 % len(alphabet))
	out := make([]byte, 0, length)
	buf := make([]byte, length*2)
	for len(out) < length {
		if _, err := io.ReadFull(reader, buf); err != nil {
			return Secret{}, fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
		}
		for _, c := range buf {
			if int(c) >= limit {
				continue
			}
			out = append(out, alphabet[int(c)%len(alphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return Secret{b: out}, nil
}

// Hash returns the one-way digest of s.
func Hash(s Secret) Digest {
	sum := sha256.Sum256(s.b)
	return Digest(hex.EncodeToString(sum[:]))
}

// Compare reports whether candidate hashes to stored, in constant time.
func Compare(candidate Secret, stored Digest) bool {
	if stored == "" || candidate.IsZero() {
		return false
	}
	actual := Hash(candidate)
	if len(actual) != len(stored) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(actual), []byte(stored)) == 1
}

// Prefixed returns a secret made of a public prefix followed by s.
func Prefixed(prefix string, s Secret) Secret {
	out := make([]byte, 0, len(prefix)+len(s.b))
	out = append(out, prefix...)
	out = append(out, s.b...)
	return Secret{b: out}
}

// Cut splits s around the last sep. The part before sep is public routing
// data; the part after stays opaque.
func Cut(s Secret, sep byte) (prefix string, rest Secret, ok bool) {
	i := bytes.LastIndexByte(s.b, sep)
	if i < 0 {
		return "", Secret{}, false
	}
	return string(s.b[:i]), Secret{b: s.b[i+1:]}, true
}

// IsZero reports whether s carries no bytes.
func (s Secret) IsZero() bool { return len(s.b) == 0 }

// Len returns the length of the encoded secret.
func (s Secret) Len() int { return len(s.b) }

// Reveal returns the plaintext for out-of-band delivery.
func (s Secret) Reveal() string { return string(s.b) }

func (s Secret) String() string   { return redacted }
func (s Secret) GoString() string { return redacted }

// MarshalJSON keeps secrets out of accidental JSON encodes.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}
