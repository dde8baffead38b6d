package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/graph-memory-service/internal/memerr"
)

type contextKey string

const userIDContextKey contextKey = "user_id"

// identityMiddleware enforces the deployment's user identity
// convention. Mode "explicit" trusts the user_id carried by each
// request body or query. Mode "token" requires a bearer JWT and pins
// the user to its subject claim.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	if s.auth.Mode != "token" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.userFromToken(r)
		if err != nil {
			s.logger.Debug("rejected token", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		ctx := context.WithValue(r.Context(), userIDContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) userFromToken(r *http.Request) (string, error) {
	raw := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		raw = strings.TrimPrefix(h, "Bearer ")
	} else if q := r.URL.Query().Get("token"); q != "" {
		// Browser WebSocket clients cannot set headers.
		raw = q
	}
	if raw == "" {
		return "", fmt.Errorf("no bearer token")
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.auth.JWTSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected claims type")
	}

	if sub, _ := claims["sub"].(string); sub != "" {
		return sub, nil
	}
	if uid, _ := claims["user_id"].(string); uid != "" {
		return uid, nil
	}
	return "", fmt.Errorf("token carries no subject")
}

// resolveUserID maps the request's identity fields onto one user ID.
// In token mode the authenticated subject wins; a mismatched explicit
// user_id is rejected rather than silently overridden.
func (s *Server) resolveUserID(r *http.Request, explicit string) (string, error) {
	if s.auth.Mode != "token" {
		if strings.TrimSpace(explicit) == "" {
			return "", memerr.NewValidation("user_id", "must not be empty")
		}
		return explicit, nil
	}
	authenticated, _ := r.Context().Value(userIDContextKey).(string)
	if authenticated == "" {
		return "", memerr.NewValidation("user_id", "no authenticated user")
	}
	if explicit != "" && explicit != authenticated {
		return "", memerr.NewValidation("user_id", "does not match the authenticated user")
	}
	return authenticated, nil
}
