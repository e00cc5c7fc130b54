// Package auth checks the dashboard's shared secret.
//
// The secret is accepted from the X-Dashboard-Token header, from an
// "Authorization: Bearer" header, or (for browsers, which cannot set headers
// on a WebSocket upgrade) from the first frame of the connection. It is never
// read from the URL, where it would end up in proxy and access logs.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderToken is the dedicated header carrying the secret.
const HeaderToken = "X-Dashboard-Token"

var (
	// ErrMissingToken is returned when no secret was presented.
	ErrMissingToken = errors.New("authentication required")

	// ErrInvalidToken is returned when the presented secret does not match.
	ErrInvalidToken = errors.New("invalid token")
)

// Gate compares presented secrets against the configured one.
type Gate struct {
	token []byte
}

// NewGate creates a Gate for token. An empty token rejects everything.
func NewGate(token string) *Gate {
	return &Gate{token: []byte(token)}
}

// Check returns nil when presented matches the configured secret. The
// comparison takes the same time wherever the first difference is.
func (g *Gate) Check(presented string) error {
	if presented == "" {
		return ErrMissingToken
	}
	if len(g.token) == 0 || subtle.ConstantTimeCompare([]byte(presented), g.token) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// StatusCode maps a Check error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMissingToken):
		return http.StatusUnauthorized
	default:
		return http.StatusForbidden
	}
}

// TokenFromRequest returns the secret carried in the request headers, or ""
// when there is none. Query parameters are ignored.
func TokenFromRequest(r *http.Request) string {
	if t := strings.TrimSpace(r.Header.Get(HeaderToken)); t != "" {
		return t
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "bearer "
	if len(authz) > len(prefix) && strings.EqualFold(authz[:len(prefix)], prefix) {
		return strings.TrimSpace(authz[len(prefix):])
	}
	return ""
}

// Middleware rejects requests that do not carry the secret in a header.
// onReject builds the response body for the given status and error.
func (g *Gate) Middleware(onReject func(c *gin.Context, status int, err error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := g.Check(TokenFromRequest(c.Request)); err != nil {
			onReject(c, StatusCode(err), err)
			c.Abort()
			return
		}
		c.Next()
	}
}
