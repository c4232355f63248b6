package middleware

import (
	"context"
	"net/http"
	"strings"
)

// UserIDHeader - заголовок с идентификатором пользователя.
// Аутентификацию выполняет шлюз перед сервисом; здесь заголовку доверяют.
const UserIDHeader = "X-User-ID"

type ctxKey int

const userIDKey ctxKey = iota

// Identity кладет X-User-ID в контекст запроса
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID := strings.TrimSpace(r.Header.Get(UserIDHeader)); userID != "" {
			r = r.WithContext(WithUserID(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

// WithUserID возвращает контекст с пользователем
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext возвращает пользователя запроса ("" если не задан)
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}
