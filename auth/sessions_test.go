package auth

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragadmin "github.com/tedhappy/ragflow-admin"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSessions() (*Sessions, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewSessions(ragadmin.AdminConfig{Username: "admin", Password: "secret"}, WithClock(clock.now))
	return s, clock
}

func TestLogin(t *testing.T) {
	s, clock := newTestSessions()

	sess, err := s.Login(" admin ", "secret")
	require.NoError(t, err)
	assert.Equal(t, "admin", sess.Username)
	assert.Equal(t, 86400, sess.ExpiresIn(clock.now()))

	raw, err := base64.RawURLEncoding.DecodeString(sess.Token)
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	_, err = s.Login("admin", "wrong")
	assert.ErrorIs(t, err, ragadmin.ErrUnauthorized)
	_, err = s.Login("root", "secret")
	assert.ErrorIs(t, err, ragadmin.ErrUnauthorized)

	_, err = s.Login("", "secret")
	assert.Equal(t, ragadmin.KindValidation, ragadmin.KindOf(err))
	_, err = s.Login("admin", "")
	assert.Equal(t, ragadmin.KindValidation, ragadmin.KindOf(err))
}

func TestValidateExpires(t *testing.T) {
	s, clock := newTestSessions()
	sess, err := s.Login("admin", "secret")
	require.NoError(t, err)

	got, err := s.Validate(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "admin", got.Username)

	clock.advance(DefaultTTL + time.Second)
	_, err = s.Validate(sess.Token)
	assert.ErrorIs(t, err, ragadmin.ErrUnauthorized)
	assert.Zero(t, s.Len(), "expired token should be dropped on validate")

	_, err = s.Validate("")
	assert.ErrorIs(t, err, ragadmin.ErrUnauthorized)
}

func TestRefreshRevokesOldToken(t *testing.T) {
	s, clock := newTestSessions()
	old, err := s.Login("admin", "secret")
	require.NoError(t, err)

	clock.advance(time.Hour)
	fresh, err := s.Refresh(old.Token)
	require.NoError(t, err)
	assert.NotEqual(t, old.Token, fresh.Token)
	assert.Equal(t, clock.now().Add(DefaultTTL), fresh.ExpiresAt)

	_, err = s.Validate(old.Token)
	assert.ErrorIs(t, err, ragadmin.ErrUnauthorized)
	_, err = s.Refresh(old.Token)
	assert.ErrorIs(t, err, ragadmin.ErrUnauthorized)
}

func TestLogoutAndSweep(t *testing.T) {
	s, clock := newTestSessions()
	a, _ := s.Login("admin", "secret")
	clock.advance(12 * time.Hour)
	b, _ := s.Login("admin", "secret")
	c, _ := s.Login("admin", "secret")

	assert.True(t, s.Logout(c.Token))
	assert.False(t, s.Logout(c.Token))

	clock.advance(13 * time.Hour)
	assert.Equal(t, 1, s.Sweep())
	_, err := s.Validate(a.Token)
	assert.ErrorIs(t, err, ragadmin.ErrUnauthorized)
	_, err = s.Validate(b.Token)
	assert.NoError(t, err)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken(""))
}

func TestLimiter(t *testing.T) {
	l := NewLimiter(3, time.Hour, 3)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "attempt %d", i+1)
	}
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"), "limits are per client")

	l.Reset("10.0.0.1")
	assert.True(t, l.Allow("10.0.0.1"))
}

func TestLimiterPrune(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewLimiter(1, time.Hour, 1)
	l.now = clock.now

	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	clock.advance(30 * time.Minute)
	assert.True(t, l.Allow("10.0.0.2"))

	clock.advance(45 * time.Minute)
	assert.Equal(t, 1, l.Prune(time.Hour))
	assert.Len(t, l.limits, 1)
	assert.Contains(t, l.limits, "10.0.0.2")

	clock.advance(time.Hour)
	assert.Equal(t, 1, l.Prune(time.Hour))
	assert.Empty(t, l.limits)
}
