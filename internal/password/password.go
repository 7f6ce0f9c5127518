package password

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Hasher wraps bcrypt with a fixed cost factor.
type Hasher struct {
	cost int
}

// NewHasher builds a Hasher. A non-positive cost selects the library default.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash computes a salted one-way hash of the plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if len(plaintext) == 0 {
		return "", errors.New("password: empty plaintext")
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches the stored digest. Malformed
// digests count as a mismatch, never an error.
func (h *Hasher) Verify(plaintext, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

// DummyVerify burns a bcrypt comparison against a fixed digest. Called on
// the unknown-email path so authentication latency does not reveal whether
// the email exists.
func (h *Hasher) DummyVerify() {
	_ = bcrypt.CompareHashAndPassword(dummyDigest, []byte("mismatch"))
}

// A syntactically valid bcrypt digest. The plaintext compared against it
// never matches; only the comparison cost matters.
var dummyDigest = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")
