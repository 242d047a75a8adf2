package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/gatesync/internal/crypto"
	"github.com/kimhsiao/gatesync/internal/errors"
	"github.com/kimhsiao/gatesync/internal/models"
	"github.com/kimhsiao/gatesync/internal/storage"
)

var defaults = Defaults{BaseURL: "https://events.example.com", Tenant: "demo"}

// failingStore rejects every write.
type failingStore struct{ *storage.MemoryStore }

func (failingStore) Set(context.Context, string, []byte) error {
	return errors.Persistence("disk full", nil)
}

func TestLoad_seedsDefaults(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	s := New(store, nil)

	require.NoError(t, s.Load(ctx, defaults))
	assert.Equal(t, "https://events.example.com", s.BaseURL())
	assert.Equal(t, "demo", s.Tenant())
	assert.Empty(t, s.AccessToken())

	stored, err := store.Get(ctx, storage.KeyBaseURL)
	require.NoError(t, err)
	assert.Equal(t, "https://events.example.com", string(stored), "seeded value must be persisted")
}

func TestLoad_prefersStoredValues(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	store.Set(ctx, storage.KeyBaseURL, []byte("https://other.example.com/"))
	store.Set(ctx, storage.KeyTenant, []byte("acme"))
	store.Set(ctx, storage.KeyAccessToken, []byte("a1"))
	store.Set(ctx, storage.KeyRefreshToken, []byte("r1"))

	s := New(store, nil)
	require.NoError(t, s.Load(ctx, defaults))

	assert.Equal(t, Snapshot{
		BaseURL:      "https://other.example.com",
		Tenant:       "acme",
		AccessToken:  "a1",
		RefreshToken: "r1",
	}, s.Snapshot())
}

func TestLoad_replacesLoopbackBaseURL(t *testing.T) {
	for _, stored := range []string{"http://127.0.0.1:8000", "http://localhost:3000"} {
		t.Run(stored, func(t *testing.T) {
			ctx := context.Background()
			store := storage.NewMemoryStore()
			store.Set(ctx, storage.KeyBaseURL, []byte(stored))

			s := New(store, nil)
			require.NoError(t, s.Load(ctx, defaults))

			assert.Equal(t, defaults.BaseURL, s.BaseURL())
			persisted, _ := store.Get(ctx, storage.KeyBaseURL)
			assert.Equal(t, defaults.BaseURL, string(persisted))
		})
	}
}

func TestLoad_keepsHTTPSLocalhost(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	store.Set(ctx, storage.KeyBaseURL, []byte("https://localhost:8443"))

	s := New(store, nil)
	require.NoError(t, s.Load(ctx, defaults))
	assert.Equal(t, "https://localhost:8443", s.BaseURL())
}

func TestLoad_storeFailure(t *testing.T) {
	s := New(failingStore{storage.NewMemoryStore()}, nil)
	err := s.Load(context.Background(), defaults)
	assert.True(t, errors.Is(err, errors.ErrPersistence), "got %v", err)
}

func TestURL(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemoryStore(), nil)
	require.NoError(t, s.Load(ctx, defaults))

	u, err := s.URL("/gate/scan")
	require.NoError(t, err)
	assert.Equal(t, "https://events.example.com/api/v1/demo/gate/scan", u)

	u, err = s.URL("auth/login")
	require.NoError(t, err)
	assert.Equal(t, "https://events.example.com/api/v1/demo/auth/login", u)
}

func TestURL_requiresTenant(t *testing.T) {
	s := New(storage.NewMemoryStore(), nil)
	require.NoError(t, s.Load(context.Background(), Defaults{BaseURL: "https://x.example.com"}))

	_, err := s.URL("/gate/scan")
	assert.True(t, errors.Is(err, errors.ErrInvalid), "got %v", err)
}

func TestSetEndpoint(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	s := New(store, nil)
	require.NoError(t, s.Load(ctx, defaults))

	require.NoError(t, s.SetEndpoint(ctx, " https://new.example.com/ ", "/acme/"))
	assert.Equal(t, "https://new.example.com", s.BaseURL())
	assert.Equal(t, "acme", s.Tenant())

	tenant, _ := store.Get(ctx, storage.KeyTenant)
	assert.Equal(t, "acme", string(tenant))

	require.NoError(t, s.SetEndpoint(ctx, "", "other"))
	assert.Equal(t, "https://new.example.com", s.BaseURL(), "empty base url keeps current")

	for _, bad := range []string{"ftp://x", "http://bad host", "https://", "http://[::1"} {
		err := s.SetEndpoint(ctx, bad, "")
		assert.True(t, errors.Is(err, errors.ErrInvalid), "%q: got %v", bad, err)
	}
	assert.Equal(t, "https://new.example.com", s.BaseURL(), "rejected base urls are not applied")
	stored, _ := store.Get(ctx, storage.KeyBaseURL)
	assert.Equal(t, "https://new.example.com", string(stored))
}

func TestSetTokens_writeThrough(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	s := New(store, nil)
	require.NoError(t, s.Load(ctx, defaults))

	require.NoError(t, s.SetTokens(ctx, models.Tokens{AccessToken: "a1", RefreshToken: "r1"}))
	require.NoError(t, s.SetTokens(ctx, models.Tokens{AccessToken: "a2"}))

	assert.Equal(t, "a2", s.AccessToken())
	assert.Equal(t, "r1", s.RefreshToken(), "unrotated refresh token is kept")

	// A fresh session sees what the first one acknowledged.
	reloaded := New(store, nil)
	require.NoError(t, reloaded.Load(ctx, defaults))
	assert.Equal(t, "a2", reloaded.AccessToken())
	assert.Equal(t, "r1", reloaded.RefreshToken())
}

func TestSetTokens_failureKeepsMemory(t *testing.T) {
	ctx := context.Background()
	s := New(failingStore{storage.NewMemoryStore()}, nil)

	err := s.SetTokens(ctx, models.Tokens{AccessToken: "a1", RefreshToken: "r1"})
	assert.True(t, errors.Is(err, errors.ErrPersistence))
	assert.Empty(t, s.AccessToken(), "memory must not get ahead of the store")
}

func TestSetTokens_sealed(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	sealer, err := crypto.NewSealer("station-secret")
	require.NoError(t, err)

	s := New(store, sealer)
	require.NoError(t, s.Load(ctx, defaults))
	require.NoError(t, s.SetTokens(ctx, models.Tokens{AccessToken: "a1", RefreshToken: "r1"}))

	raw, _ := store.Get(ctx, storage.KeyAccessToken)
	assert.True(t, crypto.IsSealed(string(raw)))
	assert.NotContains(t, string(raw), "a1")

	reloaded := New(store, sealer)
	require.NoError(t, reloaded.Load(ctx, defaults))
	assert.Equal(t, "a1", reloaded.AccessToken())

	// Without the secret the sealed tokens read as logged out.
	noSecret := New(store, nil)
	require.NoError(t, noSecret.Load(ctx, defaults))
	assert.Empty(t, noSecret.AccessToken())
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	s := New(store, nil)
	require.NoError(t, s.Load(ctx, defaults))
	require.NoError(t, s.SetTokens(ctx, models.Tokens{AccessToken: "a1", RefreshToken: "r1"}))

	require.NoError(t, s.Logout(ctx))
	assert.Empty(t, s.AccessToken())
	assert.Empty(t, s.RefreshToken())
	_, err := store.Get(ctx, storage.KeyAccessToken)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ana",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("server-key"))
	require.NoError(t, err)

	ctx := context.Background()
	s := New(storage.NewMemoryStore(), nil)
	require.NoError(t, s.Load(ctx, defaults))
	require.NoError(t, s.SetTokens(ctx, models.Tokens{AccessToken: token}))

	c, ok := s.Claims()
	require.True(t, ok)
	assert.Equal(t, "ana", c.Subject)
	assert.True(t, c.ExpiresAt.Equal(exp))
	assert.False(t, c.Expired(time.Now()))
	assert.True(t, c.Expired(exp.Add(time.Second)))
}

func TestParseClaims_opaque(t *testing.T) {
	_, ok := ParseClaims("opaque-token")
	assert.False(t, ok)
	_, ok = ParseClaims("")
	assert.False(t, ok)
}

func TestReplaceTokens_dropsOldRefresh(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	s := New(store, nil)
	require.NoError(t, s.Load(ctx, defaults))
	require.NoError(t, s.SetTokens(ctx, models.Tokens{AccessToken: "a1", RefreshToken: "r1"}))

	require.NoError(t, s.ReplaceTokens(ctx, models.Tokens{AccessToken: "a2"}))
	assert.Equal(t, "a2", s.AccessToken())
	assert.Empty(t, s.RefreshToken())
	_, err := store.Get(ctx, storage.KeyRefreshToken)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
