package myMiddleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"go-chat-sync/internal/logger"
)

type contextKey string

const (
	UserKey     contextKey = "user_id"
	UsernameKey contextKey = "username"
)

// TokenValidator is what the middleware needs from the user service.
type TokenValidator interface {
	ValidateToken(tokenString string) (int64, string, error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// Handle accepts "Authorization: Bearer <token>" or, for websocket upgrades
// where browsers cannot set headers, ?token=<token>.
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			if scheme, token, ok := strings.Cut(authHeader, " "); ok && strings.EqualFold(scheme, "Bearer") {
				tokenString = strings.TrimSpace(token)
			}
		}
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}
		if tokenString == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		userID, username, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			logger.Log.Debug("rejected token", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserKey, userID)
		ctx = context.WithValue(ctx, UsernameKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(UserKey).(int64)
	return id, ok && id != 0
}

func Username(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(UsernameKey).(string)
	return name, ok
}
