package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type userIDKey struct{}

// UserID returns the authenticated user ID stored in ctx by the auth
// middleware, or "" on unauthenticated requests.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// withUserID returns a context carrying the authenticated user ID. Exported
// behaviour is via [UserID]; tests inject identities through the middleware.
func withUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey{}, id)
}

// authenticate verifies the Authorization bearer token and stores the token
// subject as the user ID. HS256 only; expiry and not-before are enforced by
// the JWT library.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			s.writeErrorCode(w, r, http.StatusUnauthorized, "unauthorized",
				"missing bearer token", nil)
			return
		}

		token, err := jwt.Parse(raw,
			func(t *jwt.Token) (any, error) { return s.jwtSecret, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		)
		if err != nil || !token.Valid {
			s.writeErrorCode(w, r, http.StatusUnauthorized, "unauthorized",
				"invalid or expired token", err)
			return
		}

		sub, err := token.Claims.GetSubject()
		if err != nil || sub == "" {
			s.writeErrorCode(w, r, http.StatusUnauthorized, "unauthorized",
				"token has no subject", err)
			return
		}

		next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), sub)))
	})
}
