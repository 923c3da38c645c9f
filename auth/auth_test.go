package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/rushteam/oralcare/core"
	"github.com/rushteam/oralcare/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	repo := store.NewKVRecordStore(store.NewMemoryStore())
	t.Cleanup(func() { repo.Close() })
	return NewService(repo, NewTokenManager("secret", time.Hour), WithBcryptCost(bcrypt.MinCost))
}

func TestTokenManager(t *testing.T) {
	m := NewTokenManager("short", time.Hour)
	assert.Len(t, m.key, 32, "短密钥应补齐到 32 字节")

	token, err := m.Issue("u-1")
	require.NoError(t, err)

	for _, header := range []string{"Bearer " + token, "bearer " + token, token} {
		id, err := m.Parse(ExtractToken(header))
		require.NoError(t, err, header)
		assert.Equal(t, "u-1", id)
	}

	_, err = m.Parse("")
	assert.ErrorIs(t, err, ErrTokenMissing)
	_, err = m.Parse("not-a-token")
	assert.True(t, core.IsUnauthorized(err))

	other := NewTokenManager("another", time.Hour)
	_, err = other.Parse(token)
	assert.True(t, core.IsUnauthorized(err), "不同密钥签发的令牌应无效")

	expired := NewTokenManager("short", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Issue("u-1")
	require.NoError(t, err)
	_, err = m.Parse(old)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestPasswordRules(t *testing.T) {
	assert.True(t, StrongPassword("abcd1234"))
	assert.False(t, StrongPassword("abcdefgh"))
	assert.False(t, StrongPassword("12345678"))
	assert.False(t, StrongPassword("ab12"))
	assert.True(t, ValidEmail("a.b+c@example.co"))
	assert.False(t, ValidEmail("a@b"))
}

func TestService_RegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	u, err := s.Register(ctx, RegisterInput{Name: " Asha ", Email: "Asha@Example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, "asha@example.com", u.Email)
	assert.Equal(t, "Asha", u.Name)

	_, err = s.Register(ctx, RegisterInput{Name: "A", Email: "asha@example.com", Password: "secret123"})
	assert.ErrorIs(t, err, ErrUserExists)

	_, err = s.Register(ctx, RegisterInput{Name: "A", Email: "bad", Password: "secret123"})
	assert.True(t, core.IsInvalidInput(err))
	_, err = s.Register(ctx, RegisterInput{Name: "A", Email: "b@example.com", Password: "weak"})
	assert.True(t, core.IsInvalidInput(err))

	token, got, err := s.Login(ctx, "ASHA@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	me, err := s.Authenticate(ctx, "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, me.ID)

	_, _, err = s.Login(ctx, "asha@example.com", "wrong1234")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = s.Login(ctx, "nobody@example.com", "secret123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	ghost, err := s.Tokens().Issue("ghost")
	require.NoError(t, err)
	_, err = s.Authenticate(ctx, ghost)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestService_UpdateProfile(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	a, err := s.Register(ctx, RegisterInput{Name: "A", Email: "a@example.com", Password: "secret123"})
	require.NoError(t, err)
	_, err = s.Register(ctx, RegisterInput{Name: "B", Email: "b@example.com", Password: "secret123"})
	require.NoError(t, err)

	name := "Alice"
	updated, err := s.UpdateProfile(ctx, a, ProfileUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Alice", updated.Name)

	taken := "B@example.com"
	_, err = s.UpdateProfile(ctx, updated, ProfileUpdate{Email: &taken})
	assert.ErrorIs(t, err, ErrEmailInUse)

	_, err = s.UpdateProfile(ctx, updated, ProfileUpdate{})
	assert.True(t, core.IsInvalidInput(err))

	fresh := "alice@example.com"
	updated, err = s.UpdateProfile(ctx, updated, ProfileUpdate{Email: &fresh})
	require.NoError(t, err)
	_, _, err = s.Login(ctx, "alice@example.com", "secret123")
	assert.NoError(t, err, "更新邮箱后应能用新邮箱登录")
}

func TestService_GoogleLogin(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"at","token_type":"Bearer","expires_in":3600}`))
		case "/userinfo":
			if r.Header.Get("Authorization") != "Bearer at" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(GoogleProfile{ID: "g-1", Email: "g@example.com", Name: "G User"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewGoogleProvider("cid", "csecret", "http://backend/api/auth/google/callback").
		WithEndpoints(oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"}, srv.URL+"/userinfo")

	authURL, err := url.Parse(p.AuthCodeURL("st"))
	require.NoError(t, err)
	assert.Equal(t, "st", authURL.Query().Get("state"))
	assert.True(t, strings.Contains(authURL.Query().Get("scope"), "email"))

	profile, err := p.Exchange(ctx, "code")
	require.NoError(t, err)
	assert.Equal(t, "g@example.com", profile.Email)

	token, err := s.LoginWithGoogle(ctx, profile)
	require.NoError(t, err)
	u, err := s.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.True(t, u.EmailVerified)
	assert.Equal(t, "g-1", u.GoogleID)

	_, _, err = s.Login(ctx, "g@example.com", "whatever1")
	assert.ErrorIs(t, err, ErrGoogleOnly)

	again, err := s.LoginWithGoogle(ctx, profile)
	require.NoError(t, err)
	u2, err := s.Authenticate(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, u.ID, u2.ID, "再次登录不应创建新用户")
}
