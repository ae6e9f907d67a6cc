package signing

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	sig := s.Sign("PUT", "parts/file123", 1700000000)
	require.NotEmpty(t, sig)

	assert.True(t, s.Validate("PUT", "parts/file123", "1700000000", sig))
	// Validate is strict about every parameter.
	assert.False(t, s.Validate("GET", "parts/file123", "1700000000", sig))
	assert.False(t, s.Validate("PUT", "parts/wrong", "1700000000", sig))
	assert.False(t, s.Validate("PUT", "parts/file123", "42", sig))
	assert.False(t, s.Validate("PUT", "parts/file123", "not-a-number", sig))
}

func TestSignerVerifyExpiry(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }

	future := strconv.FormatInt(now.Add(time.Minute).Unix(), 10)
	past := strconv.FormatInt(now.Add(-time.Minute).Unix(), 10)

	require.NoError(t, s.Verify("GET", "k", future, s.Sign("GET", "k", now.Add(time.Minute).Unix())))
	assert.ErrorIs(t, s.Verify("GET", "k", past, s.Sign("GET", "k", now.Add(-time.Minute).Unix())), ErrExpired)
	assert.ErrorIs(t, s.Verify("GET", "k", future, "deadbeef"), ErrInvalid)
}
