// Command authd serves the visa intake platform's authentication endpoints.
// It is a thin shell: configuration from AUTHCORE_* env vars, a Redis
// connection, an account backend, and the httpapi routes on a Gin router.
//
// With no REDIS_ADDR an embedded miniredis is started, which makes the
// binary self-contained for local development. The demo account store is
// in-memory and seeded from AUTHD_SEED_* vars; real deployments supply a
// database-backed authcore.AccountStore instead.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	authcore "github.com/visaflow/authcore"
	"github.com/visaflow/authcore/httpapi"
	"github.com/visaflow/authcore/password"
)

func main() {
	var (
		listenAddr = flag.String("listen", ":8443", "listen address")
		envFile    = flag.String("env-file", "", "dotenv file to load before reading AUTHCORE_* vars")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "authd: ", log.LstdFlags|log.LUTC)

	cfg, err := authcore.LoadEnvConfig(*envFile)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	client, cleanup, err := connectRedis(logger)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer cleanup()

	accounts, err := seedAccounts(cfg)
	if err != nil {
		logger.Fatalf("seed accounts: %v", err)
	}

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithAccountStore(accounts).
		WithAuditSink(authcore.NewJSONAuditSink(os.Stdout)).
		Build()
	if err != nil {
		logger.Fatalf("engine: %v", err)
	}
	defer engine.Close()

	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	httpapi.NewServer(engine, httpapi.Config{
		Production:     cfg.Production,
		TrustedProxies: splitList(os.Getenv("AUTHD_TRUSTED_PROXIES")),
	}).Register(router)

	router.GET("/healthz", func(c *gin.Context) {
		if err := client.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{
		Addr:              *listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", *listenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
	logger.Printf("audit events dropped: %d", engine.AuditDropped())
}

func connectRedis(logger *log.Logger) (redis.UniversalClient, func(), error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, err
		}
		logger.Printf("REDIS_ADDR unset, using embedded miniredis at %s", mr.Addr())
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    strings.Split(addr, ","),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	return client, func() { _ = client.Close() }, nil
}

// seedAccounts builds the in-memory demo store. AUTHD_SEED_EMAIL and
// AUTHD_SEED_PASSWORD create one applicant account for smoke testing.
func seedAccounts(cfg authcore.Config) (*memoryAccounts, error) {
	accounts := newMemoryAccounts()

	email := os.Getenv("AUTHD_SEED_EMAIL")
	pass := os.Getenv("AUTHD_SEED_PASSWORD")
	if email == "" || pass == "" {
		return accounts, nil
	}

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}
	hash, err := hasher.Hash(pass)
	if err != nil {
		return nil, err
	}

	role := os.Getenv("AUTHD_SEED_ROLE")
	if role == "" {
		role = authcore.RoleApplicant
	}

	accounts.add(authcore.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
	})
	return accounts, nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// memoryAccounts is the demo AccountStore. Per-account mutations hold one
// lock, which satisfies the interface's atomicity contract trivially.
type memoryAccounts struct {
	mu      sync.Mutex
	byID    map[string]*authcore.Account
	byEmail map[string]string
}

func newMemoryAccounts() *memoryAccounts {
	return &memoryAccounts{
		byID:    make(map[string]*authcore.Account),
		byEmail: make(map[string]string),
	}
}

func (m *memoryAccounts) add(a authcore.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := a
	m.byID[a.ID] = &cp
	m.byEmail[strings.ToLower(a.Email)] = a.ID
}

func (m *memoryAccounts) FindByEmail(_ context.Context, email string) (*authcore.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, authcore.ErrAccountNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *memoryAccounts) FindByID(_ context.Context, id string) (*authcore.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, authcore.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memoryAccounts) RecordLoginFailure(_ context.Context, id string, threshold int, lockedUntil time.Time) (int, error) {
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

func (m *memoryAccounts) SaveLoginSuccess(_ context.Context, id string, at time.Time, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return authcore.ErrAccountNotFound
	}
	a.FailedLogins = 0
	a.LockedUntil = time.Time{}
	a.LastLoginAt = at
	a.LastLoginIP = ip
	return nil
}

func (m *memoryAccounts) UpdatePasswordHash(_ context.Context, id string, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return authcore.ErrAccountNotFound
	}
	a.PasswordHash = hash
	return nil
}
