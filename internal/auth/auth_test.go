package auth

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/gophmsg/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse_Success(t *testing.T) {
	t.Parallel()

	p := NewProvider([]byte("super-secret"), time.Hour)

	s, err := p.Issue("user-123")
	require.NoError(t, err)
	assert.NotEmpty(t, s.Token)

	got, err := p.Parse(s.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", got.UserID)
	assert.Equal(t, s.Token, got.Token)
	assert.WithinDuration(t, s.ExpiresAt, got.ExpiresAt, time.Second)
}

func TestIssue_TokensDifferPerLogin(t *testing.T) {
	t.Parallel()

	p := NewProvider([]byte("k"), time.Hour)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	p.now = func() time.Time { return base }
	s1, err := p.Issue("u1")
	require.NoError(t, err)

	p.now = func() time.Time { return base.Add(time.Minute) }
	s2, err := p.Issue("u1")
	require.NoError(t, err)

	assert.NotEqual(t, s1.Token, s2.Token)
	assert.Equal(t, s1.UserID, s2.UserID)
}

func TestIssue_RejectsUnusableUserIDs(t *testing.T) {
	t.Parallel()

	p := NewProvider([]byte("k"), time.Hour)
	for _, id := range []string{"", "*", ">", "alice.bob", "al ice"} {
		_, err := p.Issue(id)
		assert.ErrorIs(t, err, common.ErrInvalidToken, id)
		assert.ErrorIs(t, err, common.ErrInvalidUserID, id)
	}
}

func TestParse_RejectsWildcardUserID(t *testing.T) {
	t.Parallel()

	secret := []byte("k")
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		UserID:           "*",
	}).SignedString(secret)
	require.NoError(t, err)

	_, err = NewProvider(secret, time.Hour).Parse(signed)
	assert.ErrorIs(t, err, common.ErrInvalidUserID)
}

func TestParse_Expired(t *testing.T) {
	t.Parallel()

	p := NewProvider([]byte("secret"), -1*time.Second)
	s, err := p.Issue("u1")
	require.NoError(t, err)

	_, err = p.Parse(s.Token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestParse_WrongSecret(t *testing.T) {
	t.Parallel()

	s, err := NewProvider([]byte("right-secret"), time.Hour).Issue("u2")
	require.NoError(t, err)

	_, err = NewProvider([]byte("wrong-secret"), time.Hour).Parse(s.Token)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()

	_, err := NewProvider([]byte("k"), time.Hour).Parse("not.a.jwt")
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}
