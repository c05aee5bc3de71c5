package server

import (
	"context"
	"net/http"
	"strings"

	"PaceShift/core/pipeline"
	"PaceShift/logger"
)

type callerKey struct{}

// AuthMiddleware checks the Bearer token and stores the caller in the request context.
func (s *Server) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}

		claims, err := s.tokens.ParseToken(parts[1])
		if err != nil {
			logger.Debug("令牌校验失败", logger.ErrorField(err))
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		caller := pipeline.Caller{UserID: claims.UserID, Role: claims.PlanRole()}
		ctx := context.WithValue(r.Context(), callerKey{}, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// CallerFromContext extracts the caller set by AuthMiddleware.
func CallerFromContext(ctx context.Context) (pipeline.Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(pipeline.Caller)
	return caller, ok
}
