package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// EncodedLen is the length of a hex-encoded digest.
const EncodedLen = sha256.Size * 2

// prefixLen is how many leading hex characters are safe to put in logs
// and API responses. The full digest never leaves the process in
// diagnostics.
const prefixLen = 8

// Digest is a content fingerprint: the lowercase hex encoding of the
// SHA-256 hash of the raw content bytes. It is opaque everywhere else
// in the system and compared only by exact equality.
type Digest string

// Compute returns the digest of the given content bytes.
func Compute(content []byte) Digest {
	sum := sha256.Sum256(content)

	return Digest(hex.EncodeToString(sum[:]))
}

// FromReader computes the digest of everything readable from r without
// buffering the content in memory.
func FromReader(r io.Reader) (Digest, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}

	return Digest(hex.EncodeToString(h.Sum(nil))), nil
}

// Parse validates an externally supplied digest string.
func Parse(s string) (Digest, error) {
	s = strings.ToLower(s)

	if len(s) != EncodedLen {
		return "", fmt.Errorf("fingerprint must be %d hex characters, got %d", EncodedLen, len(s))
	}

	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("fingerprint is not valid hex: %w", err)
	}

	return Digest(s), nil
}

func (d Digest) String() string {
	return string(d)
}

// Prefix returns a truncated form of the digest suitable for logging.
func (d Digest) Prefix() string {
	if len(d) < prefixLen {
		return string(d)
	}

	return string(d[:prefixLen])
}
