package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// DigestSize is the width of every hash used for routing and identifiers.
const DigestSize = sha256.Size

var ErrInvalidDigest = errors.New("invalid digest")

// Digest is a fixed-width hash. It doubles as a coordinate in the XOR metric
// space used for replica selection.
type Digest [DigestSize]byte

// Hash returns the SHA-256 digest of data.
func Hash(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// HashString hashes the bytes of s.
func HashString(s string) Digest {
	return Hash([]byte(s))
}

// String hex-encodes the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest decodes a hex-encoded digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("%w: invalid hex encoding", ErrInvalidDigest)
	}
	if len(decoded) != DigestSize {
		return d, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidDigest, DigestSize, len(decoded))
	}
	copy(d[:], decoded)
	return d, nil
}

// NewUniqueID builds a node identifier from a nanosecond timestamp and 64
// random bytes, hashed and hex-encoded.
func NewUniqueID() string {
	random := make([]byte, 64)
	if _, err := rand.Read(random); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}

	seed := make([]byte, 0, 20+1+len(random))
	seed = strconv.AppendInt(seed, time.Now().UnixNano(), 10)
	seed = append(seed, '_')
	seed = append(seed, random...)
	return Hash(seed).String()
}
