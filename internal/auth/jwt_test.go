package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(now time.Time) *TokenManager {
	tm := NewTokenManager("access-secret", "refresh-secret", "point-ledger", 15*time.Minute, 24*time.Hour)
	tm.now = func() time.Time { return now }
	return tm
}

func TestGeneratePairRoundTrip(t *testing.T) {
	now := time.Now()
	tm := newTestManager(now)

	access, refresh, exp, err := tm.GeneratePair("42", RoleUser)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(15*time.Minute), exp, time.Second)

	c, isRefresh, err := tm.ParseAny(access)
	require.NoError(t, err)
	assert.False(t, isRefresh)
	assert.Equal(t, "42", c.UserID)
	assert.Equal(t, RoleUser, c.Role)
	assert.Equal(t, "point-ledger", c.Issuer)

	c, isRefresh, err = tm.ParseAny(refresh)
	require.NoError(t, err)
	assert.True(t, isRefresh)
	assert.Equal(t, "42", c.UserID)
}

func TestParseAnyRejectsExpired(t *testing.T) {
	issued := time.Now()
	tm := newTestManager(issued)
	access, _, _, err := tm.GeneratePair("1", RoleAdmin)
	require.NoError(t, err)

	tm.now = func() time.Time { return issued.Add(time.Hour) }
	_, _, err = tm.ParseAny(access)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseAnyRejectsForeignSecretAndIssuer(t *testing.T) {
	now := time.Now()
	other := NewTokenManager("other", "other-refresh", "point-ledger", time.Minute, time.Hour)
	other.now = func() time.Time { return now }
	token, _, _, err := other.GeneratePair("1", RoleUser)
	require.NoError(t, err)

	_, _, err = newTestManager(now).ParseAny(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := NewTokenManager("access-secret", "refresh-secret", "someone-else", time.Minute, time.Hour)
	wrongIssuer.now = func() time.Time { return now }
	token, _, _, err = wrongIssuer.GeneratePair("1", RoleUser)
	require.NoError(t, err)

	_, _, err = newTestManager(now).ParseAny(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseAnyRejectsGarbage(t *testing.T) {
	_, _, err := newTestManager(time.Now()).ParseAny("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
