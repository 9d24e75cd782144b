package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type contextKey string

const userKey contextKey = "user"

// auth checks the bearer token against the configured API tokens. The
// user identity for rate limiting and record ownership is the token's
// digest, so logs and storage never carry the token itself.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token", "unauthorized")
			return
		}

		if !s.tokenValid(token) {
			writeError(w, http.StatusUnauthorized, "invalid token", "unauthorized")
			return
		}

		digest := sha256.Sum256([]byte(token))
		user := fmt.Sprintf("%x", digest[:8])
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func (s *Server) tokenValid(token string) bool {
	for _, t := range s.opts.APITokens {
		if subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			return true
		}
	}
	return false
}

// userFrom returns the authenticated user identity set by auth.
func userFrom(ctx context.Context) string {
	user, _ := ctx.Value(userKey).(string)
	return user
}

// importRateLimit applies the per-user fixed-window limiter to the
// import endpoint. Allowed requests carry X-RateLimit-Remaining;
// rejections carry Retry-After and a retryAfter field.
func (s *Server) importRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userFrom(r.Context())
		ok, retryIn := s.limiter.Allow(user)
		if !ok {
			writeRateLimited(w, retryIn)
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(s.limiter.Remaining(user)))
		next.ServeHTTP(w, r)
	})
}

func writeRateLimited(w http.ResponseWriter, retryIn time.Duration) {
	secs := int(retryIn.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":      "rate limit exceeded",
		"errorCode":  "rate_limited",
		"retryAfter": secs,
	})
}
