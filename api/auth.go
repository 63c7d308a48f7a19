package api

import (
	"net/http"
	"strings"

	"ara/authz"
	"ara/config"
	"ara/core"
)

// authCookieName is the httpOnly cookie set by the login handler
const authCookieName = "auth_token"

// anonymousPrincipal is installed when authentication is disabled
func anonymousPrincipal() authz.Principal {
	return authz.Principal{
		Login:        "anonymous",
		ProviderName: config.LocalProviderName,
		Profile:      core.ProfileSuperAdmin,
		Authorities:  authz.NewAuthorities(authz.ProfileAuthority(core.ProfileSuperAdmin)),
	}
}

// jwtAuthMiddleware authenticates the request from a Bearer token or the auth cookie and
// stores the principal of the token's user, recomputed from storage, in the request context
func (a *API) jwtAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.config.Auth.Enabled {
			ctx := authz.WithPrincipal(r.Context(), anonymousPrincipal())
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		tokenString := bearerToken(r)
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Authorization required", nil, a.logger)
			return
		}

		claims, err := a.validateJWT(r.Context(), tokenString)
		if err != nil {
			a.logger.Infow("Invalid JWT token", "error", sanitizeLogMessage(err.Error()))
			writeError(w, http.StatusUnauthorized, "Invalid token", nil, a.logger)
			return
		}

		principal, err := a.services.Users.ResolvePrincipal(r.Context(), claims.Login, claims.Provider)
		if err != nil {
			if core.IsKind(err, core.KindNotFound) || core.IsKind(err, core.KindBadRequest) {
				a.logger.Infow("Token of an unknown user", "username", claims.Login, "provider", claims.Provider)
				writeError(w, http.StatusUnauthorized, "Invalid token", nil, a.logger)
				return
			}
			writeError(w, http.StatusInternalServerError, "Failed to load user", err, a.logger)
			return
		}

		ctx := authz.WithPrincipal(r.Context(), principal)
		ctx = WithClaims(ctx, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if cookie, err := r.Cookie(authCookieName); err == nil {
		return cookie.Value
	}
	return ""
}
