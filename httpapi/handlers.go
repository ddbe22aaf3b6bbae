package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	authcore "github.com/visaflow/authcore"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

type authResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Role        string    `json:"role"`
	Email       string    `json:"email"`
	CSRFToken   string    `json:"csrfToken,omitempty"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	res, err := s.engine.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.writeAuthError(c, err)
		return
	}

	// Each login gets a fresh browser session with its own CSRF token.
	sessionID := uuid.NewString()
	csrfToken, err := s.engine.IssueCSRFToken(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
		return
	}

	s.setSessionCookies(c, sessionID, res.Tokens)
	c.JSON(http.StatusOK, authResponse{
		AccessToken: res.Tokens.AccessToken,
		ExpiresAt:   res.Tokens.AccessExpiresAt,
		Role:        res.Role,
		Email:       res.Email,
		CSRFToken:   csrfToken,
	})
}

func (s *Server) handleRefresh(c *gin.Context) {
	token := s.refreshTokenFrom(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	res, err := s.engine.Refresh(c.Request.Context(), token)
	if err != nil {
		s.clearSessionCookies(c)
		s.writeAuthError(c, err)
		return
	}

	s.setRefreshCookie(c, res.Tokens.RefreshToken, res.Tokens.RefreshExpiresAt)
	c.JSON(http.StatusOK, authResponse{
		AccessToken: res.Tokens.AccessToken,
		ExpiresAt:   res.Tokens.AccessExpiresAt,
		Role:        res.Role,
		Email:       res.Email,
	})
}

func (s *Server) handleLogout(c *gin.Context) {
	if token := s.refreshTokenFrom(c); token != "" {
		// Best effort: a dead token still logs the browser out.
		_ = s.engine.Logout(c.Request.Context(), token)
	}
	if sessionID, err := c.Cookie(sessionCookie); err == nil && sessionID != "" {
		_ = s.engine.DropCSRFToken(c.Request.Context(), sessionID)
	}

	s.clearSessionCookies(c)
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

func (s *Server) handleLogoutAll(c *gin.Context) {
	identity := authcore.IdentityFrom(c.Request.Context())
	if identity == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	revoked, err := s.engine.LogoutAll(c.Request.Context(), identity.AccountID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
		return
	}

	s.clearSessionCookies(c)
	c.JSON(http.StatusOK, gin.H{"status": "logged_out", "revoked": revoked})
}

func (s *Server) handleChangePassword(c *gin.Context) {
	identity := authcore.IdentityFrom(c.Request.Context())
	if identity == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	err := s.engine.ChangePassword(c.Request.Context(), identity.AccountID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		if errors.Is(err, authcore.ErrInvalidCredentials) || errors.Is(err, authcore.ErrAccountLocked) {
			s.writeAuthError(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "password rejected"})
		return
	}

	s.clearSessionCookies(c)
	c.JSON(http.StatusOK, gin.H{"status": "password_changed"})
}

// handleCSRFToken returns the CSRF token for the current browser session,
// minting a session when none exists yet.
func (s *Server) handleCSRFToken(c *gin.Context) {
	sessionID, err := c.Cookie(sessionCookie)
	if err != nil || sessionID == "" {
		sessionID = uuid.NewString()
		s.setCookie(c, sessionCookie, sessionID, int((24 * time.Hour).Seconds()))
	}

	token, err := s.engine.IssueCSRFToken(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"csrfToken": token})
}

// writeAuthError maps engine errors to responses. Credential and token
// failures all collapse to a generic 401; only retry hints leak through, as
// headers.
func (s *Server) writeAuthError(c *gin.Context, err error) {
	var lockout *authcore.LockoutError
	if errors.As(err, &lockout) {
		c.Header("Retry-After", strconvSeconds(lockout.RetryAfter))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account temporarily locked"})
		return
	}

	switch {
	case errors.Is(err, authcore.ErrInvalidCredentials),
		errors.Is(err, authcore.ErrTokenExpired),
		errors.Is(err, authcore.ErrTokenInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, authcore.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) refreshTokenFrom(c *gin.Context) string {
	if token, err := c.Cookie(refreshCookie); err == nil && token != "" {
		return token
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err == nil {
		return req.RefreshToken
	}
	return ""
}

func (s *Server) setSessionCookies(c *gin.Context, sessionID string, pair authcore.TokenPair) {
	s.setRefreshCookie(c, pair.RefreshToken, pair.RefreshExpiresAt)
	s.setCookie(c, sessionCookie, sessionID, int(time.Until(pair.RefreshExpiresAt).Seconds()))
}

func (s *Server) setRefreshCookie(c *gin.Context, token string, expiresAt time.Time) {
	s.setCookie(c, refreshCookie, token, int(time.Until(expiresAt).Seconds()))
}

func (s *Server) setCookie(c *gin.Context, name, value string, maxAge int) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(name, value, maxAge, "/auth", s.cfg.CookieDomain, s.cfg.Production, true)
}

func (s *Server) clearSessionCookies(c *gin.Context) {
	s.setCookie(c, refreshCookie, "", -1)
	s.setCookie(c, sessionCookie, "", -1)
}

func strconvSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
