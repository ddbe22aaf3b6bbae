package authcore

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/visaflow/authcore/internal/audit"
	"github.com/visaflow/authcore/password"
)

type memAccountStore struct {
	mu      sync.Mutex
	byID    map[string]*Account
	byEmail map[string]string

	failFinds bool
}

func newMemAccountStore() *memAccountStore {
	return &memAccountStore{
		byID:    make(map[string]*Account),
		byEmail: make(map[string]string),
	}
}

func (m *memAccountStore) add(a Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := a
	m.byID[a.ID] = &cp
	m.byEmail[strings.ToLower(a.Email)] = a.ID
}

func (m *memAccountStore) get(id string) Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.byID[id]
}

func (m *memAccountStore) FindByEmail(_ context.Context, email string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFinds {
		return nil, context.DeadlineExceeded
	}
	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *memAccountStore) FindByID(_ context.Context, id string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFinds {
		return nil, context.DeadlineExceeded
	}
	a, ok := m.byID[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAccountStore) RecordLoginFailure(_ context.Context, id string, threshold int, lockedUntil time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFinds {
		return 0, context.DeadlineExceeded
	}
	a, ok := m.byID[id]
	if !ok {
		return 0, ErrAccountNotFound
	}
	a.FailedLogins++
	if a.FailedLogins >= threshold {
		a.LockedUntil = lockedUntil
	}
	return a.FailedLogins, nil
}

func (m *memAccountStore) SaveLoginSuccess(_ context.Context, id string, at time.Time, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.FailedLogins = 0
	a.LockedUntil = time.Time{}
	a.LastLoginAt = at
	a.LastLoginIP = ip
	return nil
}

func (m *memAccountStore) UpdatePasswordHash(_ context.Context, id string, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.PasswordHash = hash
	return nil
}

func fastPasswordConfig() password.Config {
	return password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.AccessSecret = []byte("access-secret-0123456789abcdefgh")
	cfg.Token.RefreshSecret = []byte("refresh-secret-0123456789abcdefg")
	cfg.Password = fastPasswordConfig()
	return cfg
}

type testHarness struct {
	engine   *Engine
	accounts *memAccountStore
	redis    *miniredis.Miniredis
	sink     *audit.ChannelSink
}

func newTestHarness(t *testing.T, mutate func(*Config)) *testHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	accounts := newMemAccountStore()
	sink := NewChannelAuditSink(256)

	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithAccountStore(accounts).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	return &testHarness{
		engine:   engine,
		accounts: accounts,
		redis:    mr,
		sink:     sink,
	}
}

// waitEvent blocks until an event of the given type arrives or the deadline
// passes. Events of other types are discarded.
func (h *testHarness) waitEvent(t *testing.T, eventType string) AuditEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.sink.Events():
			if ev.EventType == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %q audit event", eventType)
			return AuditEvent{}
		}
	}
}

func (h *testHarness) seed(t *testing.T, email, pass string) string {
	t.Helper()
	hasher, err := password.NewHasher(fastPasswordConfig())
	if err != nil {
		t.Fatal(err)
	}
	hash, err := hasher.Hash(pass)
	if err != nil {
		t.Fatal(err)
	}
	id := "acct-" + email
	h.accounts.add(Account{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		Role:         RoleApplicant,
	})
	return id
}
