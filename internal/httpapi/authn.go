package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"maktab.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/auth/mfa/verify",
	"/v1/auth/mfa/recovery",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// withAuth authenticates every non-public request. Only live access tokens
// pass: the verifier rejects MFA temp tokens by token type, which is what
// keeps a half-authenticated user off every gated route.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.auth.VerifyAccessToken(token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrTokenExpired):
				writeError(w, r, http.StatusUnauthorized, "token expired")
			default:
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			}
			return
		}

		ctx := auth.ContextWithClaims(r.Context(), claims)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ensurePermissions is the fast authorization path: it checks the claims
// snapshot only, no store round trip. Any one of the listed permissions
// suffices. The check is pure set membership: hierarchy floors are a
// separate predicate (ensureRole) that call sites compose when they need
// one, so a named grant is never implied by a role level.
func (a *API) ensurePermissions(w http.ResponseWriter, r *http.Request, perms ...string) bool {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	if claims.HasAnyPermission(perms...) {
		return true
	}
	writeError(w, r, http.StatusForbidden, auth.ErrPermissionDenied.Error())
	return false
}

// ensureStoredPermission is the consistency path: it re-derives grants from
// the store for operations that must not honor a stale claims snapshot.
// Like ensurePermissions it is set membership only.
func (a *API) ensureStoredPermission(w http.ResponseWriter, r *http.Request, perm string) bool {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	names, err := a.auth.PermissionsForUser(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return false
	}
	for _, n := range names {
		if n == perm {
			return true
		}
	}
	writeError(w, r, http.StatusForbidden, auth.ErrPermissionDenied.Error())
	return false
}

// ensureRole gates on the coarse hierarchy level.
func (a *API) ensureRole(w http.ResponseWriter, r *http.Request, min auth.RoleLevel) bool {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	if !claims.Level().AtLeast(min) {
		writeError(w, r, http.StatusForbidden, auth.ErrPermissionDenied.Error())
		return false
	}
	return true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
