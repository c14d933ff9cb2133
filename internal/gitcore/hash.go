package gitcore

import (
	"crypto/sha1" //nolint:gosec // Git object identity uses SHA-1 by design
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"strings"
)

// Algorithm selects the content-hash function for a repository. It is fixed
// at init time, stored in config, and never changes for the repository's
// lifetime.
type Algorithm string

const (
	// SHA1 produces 20-byte (40 hex character) object ids.
	SHA1 Algorithm = "sha1"
	// SHA256 produces 32-byte (64 hex character) object ids.
	SHA256 Algorithm = "sha256"
)

// ParseAlgorithm validates a config value for core.hashAlgorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case SHA1, SHA256:
		return Algorithm(s), nil
	default:
		return "", fmt.Errorf("%w: unsupported hash algorithm %q", ErrInvalidName, s)
	}
}

// RawLen returns the digest width in bytes.
func (a Algorithm) RawLen() int {
	if a == SHA256 {
		return sha256.Size
	}
	return sha1.Size
}

// HexLen returns the length of the lowercase hex rendering.
func (a Algorithm) HexLen() int { return a.RawLen() * 2 }

// New returns a fresh incremental accumulator for this algorithm.
func (a Algorithm) New() hash.Hash {
	if a == SHA256 {
		return sha256.New()
	}
	return sha1.New() //nolint:gosec // Git object identity uses SHA-1 by design
}

// Zero returns the zero hash of this algorithm, denoting absence.
func (a Algorithm) Zero() Hash {
	return Hash(strings.Repeat("0", a.HexLen()))
}

// Hash is a lowercase hex-encoded object identifier: 40 characters for
// SHA-1, 64 for SHA-256. The empty string and the all-zeros hash both
// denote absence.
type Hash string

// NewHash validates a hex string as a Hash of either supported width.
func NewHash(s string) (Hash, error) {
	if len(s) != 40 && len(s) != 64 {
		return "", fmt.Errorf("%w: bad length %d", ErrInvalidHash, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, s)
	}
	return Hash(strings.ToLower(s)), nil
}

// NewHashFromBytes converts a raw digest to its hex Hash form.
func NewHashFromBytes(b []byte) (Hash, error) {
	if len(b) != sha1.Size && len(b) != sha256.Size {
		return "", fmt.Errorf("%w: bad raw length %d", ErrInvalidHash, len(b))
	}
	return Hash(hex.EncodeToString(b)), nil
}

// Raw returns the hash's raw digest bytes.
func (h Hash) Raw() ([]byte, error) {
	b, err := hex.DecodeString(string(h))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHash, h)
	}
	return b, nil
}

// IsZero reports whether the hash denotes absence.
func (h Hash) IsZero() bool {
	if h == "" {
		return true
	}
	for i := 0; i < len(h); i++ {
		if h[i] != '0' {
			return false
		}
	}
	return true
}

// Short returns the first 7 characters of the hash, or the full hash if shorter.
func (h Hash) Short() string {
	if len(h) < 7 {
		return string(h)
	}
	return string(h)[:7]
}

// Hasher computes object identities for a single repository algorithm.
type Hasher struct {
	algo Algorithm
}

// NewHasher creates a Hasher for the given algorithm.
func NewHasher(algo Algorithm) Hasher { return Hasher{algo: algo} }

// Algorithm returns the configured algorithm.
func (hs Hasher) Algorithm() Algorithm { return hs.algo }

// Sum computes the one-shot hash of data.
func (hs Hasher) Sum(data []byte) Hash {
	h := hs.algo.New()
	h.Write(data)
	return Hash(hex.EncodeToString(h.Sum(nil)))
}

// New returns an incremental accumulator; finish with hex-encoding Sum(nil).
func (hs Hasher) New() hash.Hash { return hs.algo.New() }

// HashObject computes the identity of a Git object by streaming the
// "<type> <size>\0" frame followed by the payload, without materializing
// the concatenation.
func (hs Hasher) HashObject(objType ObjectType, payload []byte) Hash {
	h := hs.algo.New()
	h.Write([]byte(objType.String()))
	h.Write([]byte{' '})
	h.Write([]byte(strconv.Itoa(len(payload))))
	h.Write([]byte{0})
	h.Write(payload)
	return Hash(hex.EncodeToString(h.Sum(nil)))
}
