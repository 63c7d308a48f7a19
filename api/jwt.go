package api

import (
	"context"
	"errors"
	"time"

	"ara/authz"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims represents JWT claims. The token only carries the identity: authorities are
// recomputed from the stored user on every request, so a profile or scope change made by
// anyone applies to live sessions at once.
type Claims struct {
	UserID   int64  `json:"uid"`
	Login    string `json:"login"`
	Provider string `json:"provider"`
	jwt.RegisteredClaims
}

// generateJWT signs a token for principal with a fresh JTI
func (a *API) generateJWT(principal authz.Principal) (string, *Claims, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   principal.UserID,
		Login:    principal.Login,
		Provider: principal.ProviderName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.Auth.JWTExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    a.config.Auth.Issuer,
			Subject:   principal.ProviderName + ":" + principal.Login,
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.config.Auth.JWTSecret))
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// validateJWT validates a JWT token, including its revocation status, and returns the claims
func (a *API) validateJWT(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.config.Auth.JWTSecret), nil
	}, jwt.WithIssuer(a.config.Auth.Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.ID == "" {
		return nil, errors.New("token has no id")
	}

	revoked, err := a.revocation.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, errors.New("token has been revoked")
	}

	return claims, nil
}

// revokeClaims revokes the token described by claims until it would have expired anyway
func (a *API) revokeClaims(ctx context.Context, claims *Claims) {
	if claims == nil || claims.ID == "" {
		return
	}
	expiresAt := time.Now().Add(a.config.Auth.JWTExpiry)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if err := a.revocation.Revoke(ctx, claims.ID, expiresAt); err != nil {
		a.logger.Errorw("Failed to revoke token", "jti", claims.ID, "username", claims.Login, "error", err)
	}
}
