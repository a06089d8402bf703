package middleware

import (
	"net/http"

	"digishop-be/internal/auth"
	"digishop-be/internal/logger"
	"digishop-be/internal/utils"

	"go.uber.org/zap"
)

// TokenParser is satisfied by *auth.Tokens.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// Auth attaches the caller's identity to the request context when a valid
// access token is present. Anonymous requests pass through unchanged.
func Auth(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := auth.ExtractAccessToken(r)
			if tokenStr == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := tokens.Parse(tokenStr)
			if err != nil {
				logger.FromCtx(r.Context()).Debug("ignoring invalid access token", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			ctx := utils.SetUserContext(r.Context(), claims.UserID, claims.Mobile)
			ctx = logger.WithUserID(ctx, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser rejects requests that Auth did not authenticate.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := utils.GetUserIDFromContext(r.Context()); !ok {
			logger.FromCtx(r.Context()).Info("[CLIENT_ERROR] Unauthorized request",
				zap.String("path", r.URL.Path))
			utils.WriteJSONError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
