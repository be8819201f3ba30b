package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/mealdesk/authsession/internal/authserver/internal/respond"
)

type TokenChecker interface {
	Check(token string) (userID string, issuedAt, expiresAt time.Time, err error)
}

// Principal is the authenticated caller extracted from the bearer token.
type Principal struct {
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type AuthMW struct {
	checker TokenChecker
}

var ctxKeyPrincipal struct{}

func NewAuthMW(checker TokenChecker) *AuthMW {
	return &AuthMW{checker: checker}
}

const bearerPrefix = "Bearer "

func (mw *AuthMW) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			respond.ErrorWithCode(w,
				http.StatusUnauthorized,
				respond.CODE_AUTH_HEADER_MISSING,
			)
			return
		}
		token := authHeader[len(bearerPrefix):]
		userID, issuedAt, expiresAt, err := mw.checker.Check(token)
		if err != nil {
			respond.ErrorWithCode(w,
				http.StatusUnauthorized,
				respond.CODE_AUTH_TOKEN_INVALID,
			)
			return
		}
		principal := Principal{UserID: userID, IssuedAt: issuedAt, ExpiresAt: expiresAt}
		ctx := context.WithValue(r.Context(), ctxKeyPrincipal, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetPrincipal(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(ctxKeyPrincipal).(Principal)
	return principal, ok
}
