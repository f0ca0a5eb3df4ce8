package api

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/greenops/greenops/internal/server/auth"
)

type contextKey string

const (
	ctxMachineID contextKey = "machine_id"
	ctxClaims    contextKey = "operator_claims"
)

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// requireAgent authenticates the agent bearer token and stores the resolved
// machine id in the request context. Failures are logged without revealing
// which part of the credential was wrong.
func (h *Handlers) requireAgent(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "agent token required")
			return
		}

		machineID, err := h.registry.AuthenticateAgent(token)
		if err != nil {
			h.logger.Warn().Str("remote", r.RemoteAddr).Msg("Agent authentication failed")
			writeError(w, http.StatusUnauthorized, "invalid agent token")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), ctxMachineID, machineID)))
	}
}

// requireOperator validates the operator session token.
func (h *Handlers) requireOperator(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "authorization required")
			return
		}

		claims, err := h.jwt.Verify(token)
		if err != nil {
			h.logger.Warn().Str("remote", r.RemoteAddr).Msg("Operator authentication failed")
			writeError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), ctxClaims, claims)))
	}
}

// rateLimitLogin throttles login attempts per client IP.
func (h *Handlers) rateLimitLogin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.loginLimiter.Allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "too many login attempts, try again later")
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func machineIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(ctxMachineID).(string)
	return id
}

func claimsFrom(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(ctxClaims).(*auth.Claims)
	return claims
}
