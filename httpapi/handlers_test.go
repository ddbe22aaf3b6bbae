package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authcore "github.com/visaflow/authcore"
	"github.com/visaflow/authcore/password"
	"github.com/visaflow/authcore/rate"
)

const trustedOrigin = "https://apply.example.gov"

type memAccounts struct {
	mu      sync.Mutex
	byID    map[string]*authcore.Account
	byEmail map[string]string
}

func newMemAccounts() *memAccounts {
	return &memAccounts{
		byID:    make(map[string]*authcore.Account),
		byEmail: make(map[string]string),
	}
}

func (m *memAccounts) add(a authcore.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := a
	m.byID[a.ID] = &cp
	m.byEmail[strings.ToLower(a.Email)] = a.ID
}

func (m *memAccounts) FindByEmail(_ context.Context, email string) (*authcore.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, authcore.ErrAccountNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *memAccounts) FindByID(_ context.Context, id string) (*authcore.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, authcore.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAccounts) RecordLoginFailure(_ context.Context, id string, threshold int, lockedUntil time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return 0, authcore.ErrAccountNotFound
	}
	a.FailedLogins++
	if a.FailedLogins >= threshold {
		a.LockedUntil = lockedUntil
	}
	return a.FailedLogins, nil
}

func (m *memAccounts) SaveLoginSuccess(_ context.Context, id string, at time.Time, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.byID[id]; ok {
		a.FailedLogins = 0
		a.LockedUntil = time.Time{}
		a.LastLoginAt = at
		a.LastLoginIP = ip
	}
	return nil
}

func (m *memAccounts) UpdatePasswordHash(_ context.Context, id string, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.byID[id]; ok {
		a.PasswordHash = hash
	}
	return nil
}

func testPasswordConfig() password.Config {
	return password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func testRouter(t *testing.T, mutate func(*authcore.Config)) (*gin.Engine, *memAccounts, *authcore.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := authcore.DefaultConfig()
	cfg.Token.AccessSecret = []byte("access-secret-0123456789abcdefgh")
	cfg.Token.RefreshSecret = []byte("refresh-secret-0123456789abcdefg")
	cfg.Password = testPasswordConfig()
	cfg.CSRF.TrustedOrigins = []string{trustedOrigin}
	if mutate != nil {
		mutate(&cfg)
	}

	accounts := newMemAccounts()
	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithAccountStore(accounts).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	router := gin.New()
	NewServer(engine, Config{}).Register(router)
	return router, accounts, engine
}

func seedAccount(t *testing.T, accounts *memAccounts, email, pass string) string {
	t.Helper()
	hasher, err := password.NewHasher(testPasswordConfig())
	require.NoError(t, err)
	hash, err := hasher.Hash(pass)
	require.NoError(t, err)
	id := "acct-" + email
	accounts.add(authcore.Account{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		Role:         authcore.RoleApplicant,
	})
	return id
}

func doJSON(router *gin.Engine, method, path string, body any, prep func(*http.Request)) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	// Browsers send Origin on cross-site-capable requests; tests that need
	// a hostile or absent origin override it in prep.
	r.Header.Set("Origin", trustedOrigin)
	if prep != nil {
		prep(r)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func cookieValue(w *httptest.ResponseRecorder, name string) string {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func TestLoginEndpoint(t *testing.T) {
	router, accounts, _ := testRouter(t, nil)
	seedAccount(t, accounts, "a@example.com", "correct horse battery")

	w := doJSON(router, http.MethodPost, "/auth/login", gin.H{
		"email": "a@example.com", "password": "correct horse battery",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res authResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.CSRFToken)
	assert.Equal(t, authcore.RoleApplicant, res.Role)
	assert.NotEmpty(t, cookieValue(w, refreshCookie))
	assert.NotEmpty(t, cookieValue(w, sessionCookie))
}

func TestLoginOpaqueFailures(t *testing.T) {
	router, accounts, _ := testRouter(t, nil)
	seedAccount(t, accounts, "a@example.com", "correct horse battery")

	unknown := doJSON(router, http.MethodPost, "/auth/login", gin.H{
		"email": "nobody@example.com", "password": "correct horse battery",
	}, nil)
	wrong := doJSON(router, http.MethodPost, "/auth/login", gin.H{
		"email": "a@example.com", "password": "wrong horse battery",
	}, nil)

	require.Equal(t, http.StatusUnauthorized, unknown.Code)
	require.Equal(t, http.StatusUnauthorized, wrong.Code)
	// Indistinguishable bodies.
	assert.JSONEq(t, unknown.Body.String(), wrong.Body.String())
}

func TestLoginLockoutResponse(t *testing.T) {
	router, accounts, _ := testRouter(t, func(cfg *authcore.Config) {
		cfg.Lockout.MaxFailures = 2
		cfg.RateLimit.Auth = rate.Limit{MaxRequests: 100, Window: time.Minute}
	})
	seedAccount(t, accounts, "a@example.com", "correct horse battery")

	for i := 0; i < 2; i++ {
		doJSON(router, http.MethodPost, "/auth/login", gin.H{
			"email": "a@example.com", "password": "wrong horse battery",
		}, nil)
	}

	w := doJSON(router, http.MethodPost, "/auth/login", gin.H{
		"email": "a@example.com", "password": "correct horse battery",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRefreshEndpointRotates(t *testing.T) {
	router, accounts, _ := testRouter(t, nil)
	seedAccount(t, accounts, "a@example.com", "correct horse battery")

	login := doJSON(router, http.MethodPost, "/auth/login", gin.H{
		"email": "a@example.com", "password": "correct horse battery",
	}, nil)
	require.Equal(t, http.StatusOK, login.Code)
	firstRefresh := cookieValue(login, refreshCookie)
	require.NotEmpty(t, firstRefresh)

	w := doJSON(router, http.MethodPost, "/auth/refresh", nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: refreshCookie, Value: firstRefresh})
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	secondRefresh := cookieValue(w, refreshCookie)
	require.NotEmpty(t, secondRefresh)
	assert.NotEqual(t, firstRefresh, secondRefresh)

	// Replaying the consumed token is a generic 401 and kills the session
	// family.
	replay := doJSON(router, http.MethodPost, "/auth/refresh", nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: refreshCookie, Value: firstRefresh})
	})
	require.Equal(t, http.StatusUnauthorized, replay.Code)

	// The legitimate successor died with it.
	after := doJSON(router, http.MethodPost, "/auth/refresh", nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: refreshCookie, Value: secondRefresh})
	})
	require.Equal(t, http.StatusUnauthorized, after.Code)
}

func TestRateLimitOnAuthEndpoints(t *testing.T) {
	router, accounts, _ := testRouter(t, func(cfg *authcore.Config) {
		cfg.RateLimit.Auth = rate.Limit{MaxRequests: 3, Window: time.Minute}
	})
	seedAccount(t, accounts, "a@example.com", "correct horse battery")

	var w *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		w = doJSON(router, http.MethodPost, "/auth/login", gin.H{
			"email": "a@example.com", "password": "wrong horse battery",
		}, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = doJSON(router, http.MethodPost, "/auth/login", gin.H{
		"email": "a@example.com", "password": "wrong horse battery",
	}, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestRejectedOriginsSpendRateBudget(t *testing.T) {
	router, accounts, _ := testRouter(t, func(cfg *authcore.Config) {
		cfg.RateLimit.Auth = rate.Limit{MaxRequests: 3, Window: time.Minute}
	})
	seedAccount(t, accounts, "a@example.com", "correct horse battery")

	w := doJSON(router, http.MethodGet, "/auth/csrf", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	sessionID := cookieValue(w, sessionCookie)
	require.NotEmpty(t, sessionID)

	// Forged cross-origin requests are blocked, but each one still counts
	// against the budget.
	for _, remaining := range []string{"1", "0"} {
		w = doJSON(router, http.MethodPost, "/auth/logout", nil, func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: sessionCookie, Value: sessionID})
			r.Header.Set("Origin", "https://evil.example.com")
		})
		require.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, remaining, w.Header().Get("X-RateLimit-Remaining"))
	}

	w = doJSON(router, http.MethodPost, "/auth/logout", nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: sessionCookie, Value: sessionID})
		r.Header.Set("Origin", "https://evil.example.com")
	})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestLogoutAllRequiresAuth(t *testing.T) {
	router, accounts, _ := testRouter(t, nil)
	seedAccount(t, accounts, "a@example.com", "correct horse battery")

	w := doJSON(router, http.MethodPost, "/auth/logout-all", nil, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	login := doJSON(router, http.MethodPost, "/auth/login", gin.H{
		"email": "a@example.com", "password": "correct horse battery",
	}, nil)
	require.Equal(t, http.StatusOK, login.Code)
	var res authResponse
	require.NoError(t, json.Unmarshal(login.Body.Bytes(), &res))

	w = doJSON(router, http.MethodPost, "/auth/logout-all", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+res.AccessToken)
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The refresh token issued at login is dead now.
	refresh := cookieValue(login, refreshCookie)
	after := doJSON(router, http.MethodPost, "/auth/refresh", nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: refreshCookie, Value: refresh})
	})
	require.Equal(t, http.StatusUnauthorized, after.Code)
}

func TestChangePasswordEndpoint(t *testing.T) {
	router, accounts, _ := testRouter(t, nil)
	seedAccount(t, accounts, "a@example.com", "correct horse battery")

	login := doJSON(router, http.MethodPost, "/auth/login", gin.H{
		"email": "a@example.com", "password": "correct horse battery",
	}, nil)
	require.Equal(t, http.StatusOK, login.Code)
	var res authResponse
	require.NoError(t, json.Unmarshal(login.Body.Bytes(), &res))

	w := doJSON(router, http.MethodPost, "/auth/password", gin.H{
		"currentPassword": "wrong horse battery",
		"newPassword":     "brand new passphrase",
	}, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+res.AccessToken)
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(router, http.MethodPost, "/auth/password", gin.H{
		"currentPassword": "correct horse battery",
		"newPassword":     "brand new passphrase",
	}, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+res.AccessToken)
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Old password is dead, new one works.
	old := doJSON(router, http.MethodPost, "/auth/login", gin.H{
		"email": "a@example.com", "password": "correct horse battery",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, old.Code)

	fresh := doJSON(router, http.MethodPost, "/auth/login", gin.H{
		"email": "a@example.com", "password": "brand new passphrase",
	}, nil)
	require.Equal(t, http.StatusOK, fresh.Code)
}

func TestCSRFTokenEndpointAndGuard(t *testing.T) {
	router, accounts, _ := testRouter(t, nil)
	seedAccount(t, accounts, "a@example.com", "correct horse battery")

	w := doJSON(router, http.MethodGet, "/auth/csrf", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	sessionID := cookieValue(w, sessionCookie)
	require.NotEmpty(t, sessionID)
	var body struct {
		CSRFToken string `json:"csrfToken"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.CSRFToken)

	// Cookie session with a foreign origin and no token: blocked.
	blocked := doJSON(router, http.MethodPost, "/auth/logout", nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: sessionCookie, Value: sessionID})
		r.Header.Set("Origin", "https://evil.example.com")
	})
	require.Equal(t, http.StatusForbidden, blocked.Code)

	// Same request with the token sails through.
	allowed := doJSON(router, http.MethodPost, "/auth/logout", nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: sessionCookie, Value: sessionID})
		r.Header.Set("Origin", "https://evil.example.com")
		r.Header.Set("X-CSRF-Token", body.CSRFToken)
	})
	require.Equal(t, http.StatusOK, allowed.Code)
}
