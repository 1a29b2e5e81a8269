// Package auth implements the authentication boundary (C2): it verifies
// inbound credentials under one of several modes and produces an
// authenticated principal context that is immutable after verification.
package auth

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aethara/fabric-gateway/fabricerr"
)

// Mode identifies the authentication scheme used to produce a Context.
type Mode string

const (
	ModePreSharedKey Mode = "pre-shared-key"
	ModePassport     Mode = "passport"
	ModeMutualTLS    Mode = "mutual-tls"
	ModeNone         Mode = "none"
)

// Context is the immutable authenticated-principal context produced by a
// successful verification.
type Context struct {
	Mode        Mode
	PrincipalID string

	// KeyID identifies the pre-shared key used, when Mode is ModePreSharedKey.
	KeyID string
	// PassportID identifies the passport used, when Mode is ModePassport.
	PassportID string
}

// Gate verifies inbound credentials. A single Gate may support several
// modes simultaneously (e.g. both shared-key and passport).
type Gate struct {
	// SharedKey is the baseline bearer token compared in constant time.
	// Empty disables pre-shared-key verification.
	SharedKey string
	// SharedKeyID is the key id reported for successful pre-shared-key auth.
	SharedKeyID string

	// PassportKeys maps a key id to the HMAC secret used to verify a
	// passport's signature. Passports name their signing key via KeyID.
	PassportKeys map[string]string
}

// New constructs a Gate with no verification modes enabled. Populate the
// fields directly to enable modes.
func New() *Gate {
	return &Gate{PassportKeys: make(map[string]string)}
}

// VerifyBearer verifies the baseline pre-shared-key mode given the token
// extracted from an `Authorization: Bearer <token>` header. An empty token
// yields AUTH_DENIED; a non-matching token yields AUTH_INVALID.
func (g *Gate) VerifyBearer(token string) (Context, error) {
	if token == "" {
		return Context{}, fabricerr.New(fabricerr.CodeAuthDenied, "missing bearer token")
	}
	if g.SharedKey == "" {
		return Context{}, fabricerr.New(fabricerr.CodeAuthDenied, "pre-shared-key auth not configured")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(g.SharedKey)) != 1 {
		return Context{}, fabricerr.New(fabricerr.CodeAuthInvalid, "invalid bearer token")
	}
	return Context{Mode: ModePreSharedKey, KeyID: g.SharedKeyID}, nil
}

// PassportClaims is the signed structure carried by passport-mode tokens:
// {principal_id, passport_id, key_id, signature, expiry}. The signature
// itself is the JWT's own signing mechanism; KeyID names the verification
// key within Gate.PassportKeys.
type PassportClaims struct {
	jwt.RegisteredClaims
	PrincipalID string `json:"principal_id"`
	PassportID  string `json:"passport_id"`
	KeyID       string `json:"key_id"`
}

// VerifyPassport verifies a passport-mode token (a JWT whose claims match
// PassportClaims). Expiry failures surface as AUTH_EXPIRED; any other
// signature or structural failure surfaces as AUTH_INVALID.
func (g *Gate) VerifyPassport(token string) (Context, error) {
	if token == "" {
		return Context{}, fabricerr.New(fabricerr.CodeAuthDenied, "missing passport token")
	}
	claims := &PassportClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			kid = claims.KeyID
		}
		secret, ok := g.PassportKeys[kid]
		if !ok {
			return nil, fabricerr.New(fabricerr.CodeAuthInvalid, "unknown passport key id")
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Context{}, fabricerr.New(fabricerr.CodeAuthExpired, "passport expired")
		}
		return Context{}, fabricerr.New(fabricerr.CodeAuthInvalid, "passport verification failed: "+err.Error())
	}
	if !parsed.Valid {
		return Context{}, fabricerr.New(fabricerr.CodeAuthInvalid, "passport invalid")
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return Context{}, fabricerr.New(fabricerr.CodeAuthExpired, "passport expired")
	}
	return Context{
		Mode:        ModePassport,
		PrincipalID: claims.PrincipalID,
		PassportID:  claims.PassportID,
		KeyID:       claims.KeyID,
	}, nil
}

// VerifyMutualTLS accepts a certificate subject's common name, already
// verified by the HTTP surface's TLS listener, and maps it to a principal.
func (g *Gate) VerifyMutualTLS(commonName string) (Context, error) {
	if commonName == "" {
		return Context{}, fabricerr.New(fabricerr.CodeAuthDenied, "missing client certificate")
	}
	return Context{Mode: ModeMutualTLS, PrincipalID: commonName}, nil
}

// None returns the no-authentication context, used when the gateway is
// configured without any auth requirement.
func None() Context {
	return Context{Mode: ModeNone}
}
