// Package session holds the Session Config: backend endpoint, tenant and credentials.
//
// Every mutation is written to the store before the in-memory copy changes, so a
// request that reads the session after a refresh sees the new token, and a restart
// reloads exactly what was last acknowledged by the store.
package session

import (
	"context"
	stderrors "errors"
	"net/url"
	"strings"
	"sync"

	"github.com/kimhsiao/gatesync/internal/crypto"
	"github.com/kimhsiao/gatesync/internal/errors"
	"github.com/kimhsiao/gatesync/internal/logging"
	"github.com/kimhsiao/gatesync/internal/models"
	"github.com/kimhsiao/gatesync/internal/storage"
)

// APIPrefix sits between the base URL and the tenant in every request URL.
const APIPrefix = "/api/v1/"

// Defaults seed the session on first run and replace loopback endpoints left over
// from development builds.
type Defaults struct {
	BaseURL string
	Tenant  string
}

// Snapshot is a point-in-time copy of the session.
type Snapshot struct {
	BaseURL      string
	Tenant       string
	AccessToken  string
	RefreshToken string
}

// Session is the mutable session config shared by the executor and the refresher.
type Session struct {
	store  storage.Store
	sealer *crypto.Sealer

	mu           sync.RWMutex
	baseURL      string
	tenant       string
	accessToken  string
	refreshToken string
}

// New creates an empty session backed by store. sealer may be nil (tokens stored as plain text).
func New(store storage.Store, sealer *crypto.Sealer) *Session {
	return &Session{store: store, sealer: sealer}
}

// Load reads the session from the store. Missing endpoint fields are seeded from
// defaults and persisted. A stored loopback base URL is replaced by defaults.BaseURL.
func (s *Session) Load(ctx context.Context, defaults Defaults) error {
	baseURL, err := s.loadOrSeed(ctx, storage.KeyBaseURL, defaults.BaseURL)
	if err != nil {
		return err
	}
	if isLoopback(baseURL) && defaults.BaseURL != "" && baseURL != defaults.BaseURL {
		logging.Info("replacing loopback base url", map[string]interface{}{
			"stored":  baseURL,
			"default": defaults.BaseURL,
		})
		if err := s.store.Set(ctx, storage.KeyBaseURL, []byte(defaults.BaseURL)); err != nil {
			return err
		}
		baseURL = defaults.BaseURL
	}

	tenant, err := s.loadOrSeed(ctx, storage.KeyTenant, defaults.Tenant)
	if err != nil {
		return err
	}

	access, err := s.loadToken(ctx, storage.KeyAccessToken)
	if err != nil {
		return err
	}
	refresh, err := s.loadToken(ctx, storage.KeyRefreshToken)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.baseURL = strings.TrimRight(baseURL, "/")
	s.tenant = tenant
	s.accessToken = access
	s.refreshToken = refresh
	s.mu.Unlock()
	return nil
}

func (s *Session) loadOrSeed(ctx context.Context, key, fallback string) (string, error) {
	v, err := s.store.Get(ctx, key)
	switch {
	case err == nil && len(v) > 0:
		return string(v), nil
	case err != nil && !stderrors.Is(err, storage.ErrNotFound):
		return "", err
	}
	if fallback != "" {
		if err := s.store.Set(ctx, key, []byte(fallback)); err != nil {
			return "", err
		}
	}
	return fallback, nil
}

func (s *Session) loadToken(ctx context.Context, key string) (string, error) {
	raw, err := storage.GetString(ctx, s.store, key, "")
	if err != nil {
		return "", err
	}
	token, err := s.sealer.Open(raw)
	if err != nil {
		// An unreadable token is treated as logged out rather than blocking startup.
		logging.Warn("stored token cannot be opened, ignoring it", map[string]interface{}{
			"key": key,
		})
		return "", nil
	}
	return token, nil
}

func isLoopback(baseURL string) bool {
	return strings.HasPrefix(baseURL, "http://127.0.0.1") || strings.HasPrefix(baseURL, "http://localhost")
}

// URL composes {baseUrl}/api/v1/{tenant}{path}.
func (s *Session) URL(path string) (string, error) {
	s.mu.RLock()
	baseURL, tenant := s.baseURL, s.tenant
	s.mu.RUnlock()

	if baseURL == "" {
		return "", errors.New(errors.ErrInvalid, "base url is not configured")
	}
	if tenant == "" {
		return "", errors.New(errors.ErrInvalid, "tenant is not configured")
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return baseURL + APIPrefix + tenant + path, nil
}

// BaseURL returns the current base URL.
func (s *Session) BaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseURL
}

// Tenant returns the current tenant.
func (s *Session) Tenant() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tenant
}

// AccessToken returns the current access token, or "".
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// RefreshToken returns the current refresh token, or "".
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// Snapshot returns a copy of every field.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		BaseURL:      s.baseURL,
		Tenant:       s.tenant,
		AccessToken:  s.accessToken,
		RefreshToken: s.refreshToken,
	}
}

// SetEndpoint changes the backend and tenant. Empty arguments keep the current value.
func (s *Session) SetEndpoint(ctx context.Context, baseURL, tenant string) error {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	tenant = strings.Trim(strings.TrimSpace(tenant), "/")

	if baseURL != "" {
		if err := validateBaseURL(baseURL); err != nil {
			return err
		}
		if err := s.store.Set(ctx, storage.KeyBaseURL, []byte(baseURL)); err != nil {
			return err
		}
		s.mu.Lock()
		s.baseURL = baseURL
		s.mu.Unlock()
	}
	if tenant != "" {
		if err := s.store.Set(ctx, storage.KeyTenant, []byte(tenant)); err != nil {
			return err
		}
		s.mu.Lock()
		s.tenant = tenant
		s.mu.Unlock()
	}
	return nil
}

func validateBaseURL(baseURL string) error {
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return errors.New(errors.ErrInvalid, "base url must start with http:// or https://")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "invalid base url", err)
	}
	if u.Host == "" {
		return errors.New(errors.ErrInvalid, "base url has no host")
	}
	return nil
}

// SetTokens stores a new credential pair. An empty RefreshToken keeps the current one.
func (s *Session) SetTokens(ctx context.Context, tokens models.Tokens) error {
	if err := s.writeToken(ctx, storage.KeyAccessToken, tokens.AccessToken); err != nil {
		return err
	}
	s.mu.Lock()
	s.accessToken = tokens.AccessToken
	s.mu.Unlock()

	if tokens.RefreshToken == "" {
		return nil
	}
	if err := s.writeToken(ctx, storage.KeyRefreshToken, tokens.RefreshToken); err != nil {
		return err
	}
	s.mu.Lock()
	s.refreshToken = tokens.RefreshToken
	s.mu.Unlock()
	return nil
}

// ReplaceTokens stores a fresh login. Unlike SetTokens an empty RefreshToken removes
// the stored one, so a previous operator's refresh token is never reused.
func (s *Session) ReplaceTokens(ctx context.Context, tokens models.Tokens) error {
	if tokens.RefreshToken == "" {
		if err := s.store.Delete(ctx, storage.KeyRefreshToken); err != nil {
			return err
		}
		s.mu.Lock()
		s.refreshToken = ""
		s.mu.Unlock()
	}
	return s.SetTokens(ctx, tokens)
}

func (s *Session) writeToken(ctx context.Context, key, token string) error {
	sealed, err := s.sealer.Seal(token)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "seal "+key, err)
	}
	return s.store.Set(ctx, key, []byte(sealed))
}

// Logout forgets both tokens.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.store.Delete(ctx, storage.KeyAccessToken); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, storage.KeyRefreshToken); err != nil {
		return err
	}
	s.mu.Lock()
	s.accessToken = ""
	s.refreshToken = ""
	s.mu.Unlock()
	return nil
}
