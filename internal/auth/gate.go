package auth

import (
	"net/http"
	"strings"

	"redis-chat/internal/models"
	"redis-chat/pkg/logger"
)

// TokenCookie carries the session token for browser clients.
const TokenCookie = "token"

// Gate answers "who is on the other end of this request", the capability
// check every real-time operation goes through.
type Gate struct {
	auth *Service
}

func NewGate(auth *Service) *Gate {
	return &Gate{auth: auth}
}

// CurrentIdentity looks for a token in the cookie, the Authorization header
// and the token query parameter, in that order.
func (g *Gate) CurrentIdentity(r *http.Request) (*models.User, bool) {
	token := tokenFromRequest(r)
	if token == "" {
		return nil, false
	}

	user, err := g.auth.GetUserFromToken(r.Context(), token)
	if err != nil {
		logger.Debug("[auth] Rejected token: %v", err)
		return nil, false
	}
	return user, true
}

func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(TokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}
