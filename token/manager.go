package token

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Class selects which signing secret and TTL a token is bound to.
type Class string

const (
	// ClassAccess marks short-lived tokens presented on every request.
	ClassAccess Class = "access"
	// ClassRefresh marks long-lived tokens exchanged for new pairs.
	ClassRefresh Class = "refresh"
)

const minSecretBytes = 32

var (
	// ErrExpired is returned when a token verified correctly but its
	// lifetime has passed.
	ErrExpired = errors.New("token expired")
	// ErrInvalid is returned for any other verification failure, including
	// a token presented under the wrong class.
	ErrInvalid = errors.New("token invalid")
)

// Claims is the payload carried by both token classes. The class claim is
// checked on top of the per-class secret so a confused caller gets a clear
// rejection even if the secrets were misconfigured to match.
type Claims struct {
	AccountID string `json:"aid"`
	Email     string `json:"eml,omitempty"`
	Role      string `json:"rol,omitempty"`
	Class     Class  `json:"tcl"`
	jwt.RegisteredClaims
}

// Config holds the signing material and lifetimes for both classes.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	Leeway        time.Duration
}

// Manager signs and verifies tokens. Immutable after construction and safe
// for concurrent use.
type Manager struct {
	config Config
}

// NewManager validates cfg and returns a ready Manager. Both secrets must be
// at least 32 bytes and must differ.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("refresh TTL must exceed access TTL")
	}
	if len(cfg.AccessSecret) < minSecretBytes {
		return nil, fmt.Errorf("access secret must be at least %d bytes", minSecretBytes)
	}
	if len(cfg.RefreshSecret) < minSecretBytes {
		return nil, fmt.Errorf("refresh secret must be at least %d bytes", minSecretBytes)
	}
	if len(cfg.AccessSecret) == len(cfg.RefreshSecret) &&
		subtle.ConstantTimeCompare(cfg.AccessSecret, cfg.RefreshSecret) == 1 {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	return &Manager{config: cfg}, nil
}

// IssueAccess signs a new access token for the account.
func (m *Manager) IssueAccess(accountID, email, role string) (string, error) {
	return m.issue(ClassAccess, accountID, email, role, m.config.AccessTTL)
}

// IssueRefresh signs a new refresh token for the account. The jti is a fresh
// UUID so two refresh tokens minted in the same second still differ.
func (m *Manager) IssueRefresh(accountID, email, role string) (string, error) {
	return m.issue(ClassRefresh, accountID, email, role, m.config.RefreshTTL)
}

func (m *Manager) issue(class Class, accountID, email, role string, ttl time.Duration) (string, error) {
	if accountID == "" {
		return "", errors.New("empty account id")
	}

	now := time.Now()
	claims := Claims{
		AccountID: accountID,
		Email:     email,
		Role:      role,
		Class:     class,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   accountID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(m.secretFor(class))
}

// Verify parses tokenStr under the secret for class and returns its claims.
// Expiry maps to ErrExpired; every other failure, including a class
// mismatch, maps to ErrInvalid.
func (m *Manager) Verify(tokenStr string, class Class) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.secretFor(class), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrInvalid
	}
	if claims.Class != class {
		return nil, ErrInvalid
	}
	if claims.AccountID == "" || claims.ID == "" {
		return nil, ErrInvalid
	}

	return claims, nil
}

// AccessTTL reports the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

func (m *Manager) secretFor(class Class) []byte {
	if class == ClassRefresh {
		return m.config.RefreshSecret
	}
	return m.config.AccessSecret
}
