package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"ara/authz"
	"ara/config"
	"ara/service"

	"golang.org/x/crypto/bcrypt"
)

// LoginRequest holds the credentials of a local provider account
type LoginRequest struct {
	Login    string `json:"login" validate:"required,min=1,max=100"`
	Password string `json:"password" validate:"required,min=1,max=128"`
}

// SessionResponse is returned whenever a token is issued
type SessionResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Principal authz.Principal `json:"principal"`
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// compareWithDummyHash spends the time of a real comparison for unknown logins, so the
// response time does not tell which logins exist
func compareWithDummyHash(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("ara-unknown-login"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// login godoc
//
//	@Summary		Log in with a local account
//	@Description	Authenticates a user of the local provider. The user is created on first login, from the provider templates when one matches.
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			credentials	body		LoginRequest	true	"Credentials"
//	@Success		200			{object}	SessionResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		401			{object}	ErrorResponse
//	@Failure		429			{object}	ErrorResponse
//	@Router			/auth/login [post]
func (a *API) login(w http.ResponseWriter, r *http.Request) {
	ip := getRealIP(r, a.config.API.TrustProxy, a.config.API.TrustedProxyNetworks)

	var req LoginRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	account, found := a.config.FindLocalUser(req.Login)
	if !found {
		compareWithDummyHash(req.Password)
		a.auditLoginFailure(req.Login, ip, "user_not_found")
		writeError(w, http.StatusUnauthorized, "Invalid credentials", nil, nil)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)); err != nil {
		a.auditLoginFailure(req.Login, ip, "invalid_credentials")
		writeError(w, http.StatusUnauthorized, "Invalid credentials", nil, nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	identity := service.LoginIdentity{
		Login: account.Login,
		Attributes: map[string]any{
			service.ClaimEmail:      account.Email,
			service.ClaimGivenName:  account.FirstName,
			service.ClaimFamilyName: account.LastName,
		},
	}
	principal, err := a.services.Users.ManageUserAtLogin(ctx, identity, config.LocalProviderName)
	if err != nil {
		a.writeAppError(w, err)
		return
	}

	a.logger.Infow("AUDIT: Login successful",
		"action", "login",
		"outcome", "success",
		"username", principal.Login,
		"provider", principal.ProviderName,
		"source_ip", ip,
		"timestamp", time.Now().UTC())

	a.issueSession(w, r, principal, http.StatusOK)
}

func (a *API) auditLoginFailure(login, ip, reason string) {
	a.logger.Infow("AUDIT: Login attempt failed",
		"action", "login",
		"outcome", "failure",
		"username", sanitizeLogMessage(login),
		"source_ip", ip,
		"reason", reason,
		"timestamp", time.Now().UTC())
}

// logout godoc
//
//	@Summary		Log out
//	@Description	Revokes the current token until it expires
//	@Tags			auth
//	@Security		ApiKeyAuth
//	@Success		204
//	@Router			/auth/logout [post]
func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	if claims, ok := GetClaims(r.Context()); ok {
		a.revokeClaims(r.Context(), claims)
		a.logger.Infow("AUDIT: Logout", "action", "logout", "outcome", "success", "username", claims.Login)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.config.API.TLS,
		SameSite: http.SameSiteStrictMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// issueSession signs a token for principal and returns it both in the body and as the
// auth cookie. When auth is disabled the principal is returned without a token.
func (a *API) issueSession(w http.ResponseWriter, r *http.Request, principal authz.Principal, status int) {
	if !a.config.Auth.Enabled {
		a.respondJSON(w, SessionResponse{Principal: principal}, status)
		return
	}

	token, claims, err := a.generateJWT(principal)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token", err, a.logger)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		Expires:  claims.ExpiresAt.Time,
		HttpOnly: true,
		Secure:   a.config.API.TLS,
		SameSite: http.SameSiteStrictMode,
	})
	a.respondJSON(w, SessionResponse{Token: token, ExpiresAt: claims.ExpiresAt.Time, Principal: principal}, status)
}

// reissueSession rotates the caller's token after its own authorities changed and
// returns the new principal with it. The previous token is revoked.
func (a *API) reissueSession(w http.ResponseWriter, r *http.Request, principal authz.Principal) {
	if claims, ok := GetClaims(r.Context()); ok {
		a.revokeClaims(r.Context(), claims)
	}
	a.issueSession(w, r, principal, http.StatusOK)
}
