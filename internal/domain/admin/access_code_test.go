package admin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCode(t *testing.T) *AccessCode {
	t.Helper()

	c, err := NewAccessCode(NewAccessCodeParams{
		CodeHash:  "$2a$10$stubhashstubhashstubhashstubha",
		CreatedBy: 999,
	})
	require.NoError(t, err)
	return c
}

func TestNewAccessCode(t *testing.T) {
	c := newTestCode(t)

	assert.True(t, c.IsActive)
	assert.False(t, c.IsUsed())
	assert.Equal(t, DefaultCodeTTL, c.ExpiresAt.Sub(c.CreatedAt))
	assert.True(t, c.IsRedeemableAt(c.CreatedAt))

	_, err := NewAccessCode(NewAccessCodeParams{CreatedBy: 999})
	assert.Error(t, err)

	_, err = NewAccessCode(NewAccessCodeParams{CodeHash: "h"})
	assert.Error(t, err)
}

func TestNewAccessCode_CustomTTL(t *testing.T) {
	c, err := NewAccessCode(NewAccessCodeParams{
		CodeHash:  "h",
		CreatedBy: 999,
		TTL:       time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, c.ExpiresAt.Sub(c.CreatedAt))
}

func TestRedeem(t *testing.T) {
	c := newTestCode(t)
	at := c.CreatedAt.Add(time.Hour)

	err := c.Redeem(200, at)
	require.NoError(t, err)

	assert.True(t, c.IsUsed())
	assert.Equal(t, at, c.UsedAt)
	assert.False(t, c.IsRedeemableAt(at))

	// Код одноразовый.
	err = c.Redeem(300, at.Add(time.Minute))
	assert.ErrorIs(t, err, ErrCodeUsed)
}

func TestRedeem_Expired(t *testing.T) {
	c := newTestCode(t)

	err := c.Redeem(200, c.ExpiresAt)
	assert.ErrorIs(t, err, ErrCodeExpired)
	assert.False(t, c.IsUsed())
}

func TestRedeem_Revoked(t *testing.T) {
	c := newTestCode(t)
	require.NoError(t, c.Revoke())

	err := c.Redeem(200, c.CreatedAt.Add(time.Minute))
	assert.ErrorIs(t, err, ErrCodeRevoked)
}

func TestRevoke_Twice(t *testing.T) {
	c := newTestCode(t)

	require.NoError(t, c.Revoke())
	assert.ErrorIs(t, c.Revoke(), ErrCodeRevoked)
}

func TestIsExpiredAt_Boundary(t *testing.T) {
	c := newTestCode(t)

	assert.False(t, c.IsExpiredAt(c.ExpiresAt.Add(-time.Second)))
	assert.True(t, c.IsExpiredAt(c.ExpiresAt))
}
