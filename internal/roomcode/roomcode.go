// Package roomcode generates the short human-typed tokens players use to
// find a session. Codes are 6 uppercase alphanumeric characters and are
// matched case-insensitively.
package roomcode

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/hootlabs/hoot/internal/domain"
)

const (
	Length = 6

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// New returns a fresh room code. Uniqueness is enforced by the store's
// unique constraint, not here; callers retry on collision.
func New() (string, error) {
	code, err := fromReader(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("roomcode: read random: %w", err)
	}
	return code, nil
}

// fromReader draws code characters by rejection sampling: bytes at or above
// the largest multiple of the alphabet size are discarded, so every character
// is equally likely.
func fromReader(r io.Reader) (string, error) {
	const limit = byte(256 - 256%len(alphabet))

	out := make([]byte, 0, Length)
	buf := make([]byte, Length)
	for len(out) < Length {
		n, err := r.Read(buf)
		if err != nil {
			return "", err
		}

		for _, b := range buf[:n] {
			if b >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == Length {
				break
			}
		}
	}

	return string(out), nil
}

// Valid reports whether code is a well-formed room code after normalization.
func Valid(code string) bool {
	code = domain.NormalizeRoomCode(code)
	if len(code) != Length {
		return false
	}

	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}

	return true
}
