package csrf

import (
	"context"
	"crypto/subtle"
	"net/http"
	"net/url"
	"strings"
)

// Rejection reasons carried on a Verdict. These feed audit events, not
// client responses; clients only ever see a generic rejection.
const (
	ReasonTokenMismatch = "token_mismatch"
	ReasonNoStoredToken = "no_stored_token"
	ReasonBadOrigin     = "bad_origin"
	ReasonMissingBoth   = "no_token_no_origin"
	ReasonStoreFailure  = "store_failure"
)

// Verdict is the outcome of a Protect call.
type Verdict struct {
	Allowed   bool
	Reason    string
	SessionID string
	Origin    string
}

// Guard evaluates requests against the token store and a trusted origin set.
type Guard struct {
	store          *Store
	trustedOrigins map[string]struct{}
	headerName     string
	formField      string
	cookieNames    []string
}

// GuardConfig configures a Guard. TrustedOrigins entries are scheme://host
// strings, compared case-insensitively.
type GuardConfig struct {
	TrustedOrigins []string
	HeaderName     string
	FormField      string
	CookieNames    []string
}

func NewGuard(store *Store, cfg GuardConfig) *Guard {
	g := &Guard{
		store:          store,
		trustedOrigins: make(map[string]struct{}, len(cfg.TrustedOrigins)),
		headerName:     cfg.HeaderName,
		formField:      cfg.FormField,
		cookieNames:    cfg.CookieNames,
	}
	if g.headerName == "" {
		g.headerName = "X-CSRF-Token"
	}
	if g.formField == "" {
		g.formField = "_csrf"
	}
	if len(g.cookieNames) == 0 {
		g.cookieNames = []string{"sessionId", "refreshToken"}
	}
	for _, o := range cfg.TrustedOrigins {
		g.trustedOrigins[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return g
}

// Protect evaluates one request. Safe methods always pass. Bearer requests
// pass. Requests with no cookie session pass, there is nothing to forge.
// Otherwise a presented token must match the stored one exactly; only when
// no token is presented at all does the origin check apply.
func (g *Guard) Protect(ctx context.Context, r *http.Request) Verdict {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return Verdict{Allowed: true}
	}

	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return Verdict{Allowed: true}
	}

	sessionID := g.sessionID(r)
	if sessionID == "" {
		return Verdict{Allowed: true}
	}

	origin := requestOrigin(r)
	presented := g.presentedToken(r)

	if presented != "" {
		stored, err := g.store.Get(ctx, sessionID)
		if err == ErrNoToken {
			return Verdict{Reason: ReasonNoStoredToken, SessionID: sessionID, Origin: origin}
		}
		if err != nil {
			return Verdict{Reason: ReasonStoreFailure, SessionID: sessionID, Origin: origin}
		}
		if len(presented) == len(stored) &&
			subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) == 1 {
			return Verdict{Allowed: true, SessionID: sessionID, Origin: origin}
		}
		return Verdict{Reason: ReasonTokenMismatch, SessionID: sessionID, Origin: origin}
	}

	if origin == "" {
		return Verdict{Reason: ReasonMissingBoth, SessionID: sessionID}
	}
	if _, ok := g.trustedOrigins[strings.ToLower(origin)]; ok {
		return Verdict{Allowed: true, SessionID: sessionID, Origin: origin}
	}
	return Verdict{Reason: ReasonBadOrigin, SessionID: sessionID, Origin: origin}
}

func (g *Guard) sessionID(r *http.Request) string {
	for _, name := range g.cookieNames {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return c.Value
		}
	}
	return r.Header.Get("X-Session-Id")
}

func (g *Guard) presentedToken(r *http.Request) string {
	if tok := r.Header.Get(g.headerName); tok != "" {
		return tok
	}
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(ct, "multipart/form-data") {
		_ = r.ParseMultipartForm(1 << 20)
		return r.PostFormValue(g.formField)
	}
	return ""
}

// requestOrigin normalizes Origin, falling back to the Referer's
// scheme://host when Origin is absent.
func requestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" && origin != "null" {
		return strings.TrimRight(origin, "/")
	}
	ref := r.Header.Get("Referer")
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
