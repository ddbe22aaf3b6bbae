package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	authcore "github.com/visaflow/authcore"
	"github.com/visaflow/authcore/middleware"
)

const (
	refreshCookie = "refreshToken"
	sessionCookie = "sessionId"
)

// Config controls the HTTP surface. Production turns on the Secure cookie
// attribute.
type Config struct {
	Production     bool
	CookieDomain   string
	TrustedProxies []string
}

// Server binds an Engine to Gin routes.
type Server struct {
	engine *authcore.Engine
	cfg    Config
}

func NewServer(engine *authcore.Engine, cfg Config) *Server {
	return &Server{engine: engine, cfg: cfg}
}

// Register mounts the auth endpoints on r.
func (s *Server) Register(r gin.IRouter) {
	auth := r.Group("/auth")
	// Rate limiting runs before the CSRF guard so rejected origins still
	// spend request budget.
	auth.Use(s.clientIP(), s.rateLimit(authcore.RateClassAuth), s.csrfGuard())

	auth.POST("/login", s.handleLogin)
	auth.POST("/refresh", s.handleRefresh)
	auth.POST("/logout", s.handleLogout)
	auth.GET("/csrf", s.handleCSRFToken)

	authed := auth.Group("")
	authed.Use(s.requireAccess())
	authed.POST("/logout-all", s.handleLogoutAll)
	authed.POST("/password", s.handleChangePassword)
}

// clientIP resolves the caller's IP through the trusted proxy chain and
// attaches it for audit events and rate keys.
func (s *Server) clientIP() gin.HandlerFunc {
	cfg := middleware.ClientIPConfig{TrustedProxies: s.cfg.TrustedProxies}
	return func(c *gin.Context) {
		ip := middleware.ResolveClientIP(c.Request, cfg)
		c.Request = c.Request.WithContext(authcore.WithClientIP(c.Request.Context(), ip))
		c.Next()
	}
}

func (s *Server) rateLimit(class authcore.RateClass) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := ""
		if id := authcore.IdentityFrom(c.Request.Context()); id != nil {
			accountID = id.AccountID
		}

		res, err := s.engine.CheckRate(c.Request.Context(), class, accountID)
		if res != nil {
			c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
		}
		if err != nil {
			var rl *authcore.RateLimitError
			if errors.As(err, &rl) {
				secs := int(rl.RetryAfter.Seconds())
				if secs < 1 {
					secs = 1
				}
				c.Header("Retry-After", strconv.Itoa(secs))
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
				return
			}
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
			return
		}

		c.Next()
	}
}

func (s *Server) csrfGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.engine.ProtectRequest(c.Request.Context(), c.Request); err != nil {
			if errors.Is(err, authcore.ErrCSRFRejected) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
				return
			}
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
			return
		}
		c.Next()
	}
}

func (s *Server) requireAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		const bearer = "Bearer "
		header := c.GetHeader("Authorization")
		if len(header) <= len(bearer) || header[:len(bearer)] != bearer {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		identity, err := s.engine.ValidateAccess(c.Request.Context(), header[len(bearer):])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Request = c.Request.WithContext(authcore.WithIdentity(c.Request.Context(), identity))
		c.Next()
	}
}
