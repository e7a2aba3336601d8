// Package bridge implements the loopback HTTP+WebSocket surface through
// which workflow engines register async operations and external callers
// submit answers for them.
package bridge

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

// Credential header and env names shared with launched engines.
const (
	HeaderToken        = "X-Evolve-Run-Bridge-Token"
	HeaderTokenShort   = "X-Evolve-Token"
	HeaderSession      = "X-Evolve-Run-Bridge-Session"
	HeaderSessionShort = "X-Evolve-Session"

	EnvAddr    = "EVOLVE_RUN_BRIDGE_ADDR"
	EnvToken   = "EVOLVE_RUN_BRIDGE_TOKEN"
	EnvSession = "EVOLVE_RUN_BRIDGE_SESSION"
)

// Credentials are the per-bridge bearer token and session id. Both are
// freshly generated each time a bridge comes up and are handed to launched
// engines via environment variables.
type Credentials struct {
	Token     string
	SessionID string
}

// NewCredentials generates a fresh token (16 random bytes) and session id
// (8 random bytes), both hex-encoded.
func NewCredentials() (Credentials, error) {
	token, err := randomHex(16)
	if err != nil {
		return Credentials{}, fmt.Errorf("generate token: %w", err)
	}
	session, err := randomHex(8)
	if err != nil {
		return Credentials{}, fmt.Errorf("generate session id: %w", err)
	}
	return Credentials{Token: token, SessionID: session}, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Env returns the environment entries a launched engine needs to reach the
// bridge at addr.
func (c Credentials) Env(addr string) []string {
	return []string{
		EnvAddr + "=ws://" + addr + "/",
		EnvToken + "=" + c.Token,
		EnvSession + "=" + c.SessionID,
	}
}

// TokenMatches compares a presented token in constant time.
func (c Credentials) TokenMatches(presented string) bool {
	return presented != "" &&
		subtle.ConstantTimeCompare([]byte(presented), []byte(c.Token)) == 1
}

// SessionMatches compares a presented session id in constant time.
func (c Credentials) SessionMatches(presented string) bool {
	return presented != "" &&
		subtle.ConstantTimeCompare([]byte(presented), []byte(c.SessionID)) == 1
}

// requestToken extracts the bearer token from a submit request: dedicated
// headers first, then Authorization: Bearer.
func requestToken(r *http.Request) string {
	if v := r.Header.Get(HeaderToken); v != "" {
		return v
	}
	if v := r.Header.Get(HeaderTokenShort); v != "" {
		return v
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// requestSession extracts the session id from a submit request: headers,
// then query parameter, then body fields. First present wins.
func requestSession(r *http.Request, body map[string]any) string {
	if v := r.Header.Get(HeaderSession); v != "" {
		return v
	}
	if v := r.Header.Get(HeaderSessionShort); v != "" {
		return v
	}
	if v := r.URL.Query().Get("session"); v != "" {
		return v
	}
	for _, key := range []string{"sessionId", "session"} {
		if v, ok := body[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
