package accounts

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher applies a salted, deliberately slow one-way function with a
// tunable work factor. Two calls with the same plaintext produce different
// digests (bcrypt embeds a random salt); equality is only observable through
// Compare.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher returns a hasher with the given bcrypt cost. Costs
// outside bcrypt's supported range fall back to the package default.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = passwordHashCost()
	}
	return &PasswordHasher{cost: cost}
}

// Cost exposes the configured work factor.
func (h *PasswordHasher) Cost() int {
	return h.cost
}

// Hash will generate a password hash
func (h *PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}
	return string(digest), nil
}

// Compare validates the given cleartext password against the stored digest.
// bcrypt's comparison runs over the full digest regardless of where a
// mismatch occurs. A digest that cannot be parsed surfaces as
// ErrCorruptCredential, never a silent mismatch.
func (h *PasswordHasher) Compare(password, digest string) error {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(password))
	if err == nil {
		return nil
	}

	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrMismatchedHashAndPassword
	}

	return goerrors.Wrap(err, ErrCorruptCredential.Category, ErrCorruptCredential.Message).
		WithTextCode(ErrCorruptCredential.TextCode)
}

// HashPassword will generate a password hash using the default work factor.
func HashPassword(password string) (string, error) {
	return NewPasswordHasher(passwordHashCost()).Hash(password)
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	return NewPasswordHasher(passwordHashCost()).Compare(password, hash)
}

// RandomPasswordHash is a temporary password
func RandomPasswordHash() string {
	pwd := uuid.New()

	h, err := HashPassword(pwd.String())
	if err != nil {
		return RandomPasswordHash()
	}

	return h
}
