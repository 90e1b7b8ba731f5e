package service

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
)

// AccessCodeGenerator implements admin.CodeGenerator with crypto/rand.
type AccessCodeGenerator struct{}

// NewAccessCodeGenerator creates a new AccessCodeGenerator.
func NewAccessCodeGenerator() *AccessCodeGenerator {
	return &AccessCodeGenerator{}
}

// NewCode returns a URL-safe random code.
func (g *AccessCodeGenerator) NewCode() (string, error) {
	buf := make([]byte, admin.CodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// BcryptCodeHasher implements admin.CodeHasher with bcrypt. Codes are
// short-lived and single-use, so the default cost is plenty.
type BcryptCodeHasher struct {
	cost int
}

// NewBcryptCodeHasher creates a new BcryptCodeHasher. An out-of-range cost
// falls back to the bcrypt default.
func NewBcryptCodeHasher(cost int) *BcryptCodeHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptCodeHasher{cost: cost}
}

// Hash returns the bcrypt hash of the code.
func (h *BcryptCodeHasher) Hash(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash code: %w", err)
	}
	return string(hash), nil
}

// Compare checks the code against the stored hash.
func (h *BcryptCodeHasher) Compare(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
