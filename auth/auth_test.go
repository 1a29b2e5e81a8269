package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethara/fabric-gateway/auth"
	"github.com/aethara/fabric-gateway/fabricerr"
)

func TestVerifyBearerMissingToken(t *testing.T) {
	g := auth.New()
	g.SharedKey = "secret"
	_, err := g.VerifyBearer("")
	fe, ok := fabricerr.As(err)
	require.True(t, ok)
	assert.Equal(t, fabricerr.CodeAuthDenied, fe.Code)
}

func TestVerifyBearerWrongToken(t *testing.T) {
	g := auth.New()
	g.SharedKey = "secret"
	_, err := g.VerifyBearer("wrong")
	fe, ok := fabricerr.As(err)
	require.True(t, ok)
	assert.Equal(t, fabricerr.CodeAuthInvalid, fe.Code)
}

func TestVerifyBearerSuccess(t *testing.T) {
	g := auth.New()
	g.SharedKey = "secret"
	g.SharedKeyID = "key-1"
	ctx, err := g.VerifyBearer("secret")
	require.NoError(t, err)
	assert.Equal(t, auth.ModePreSharedKey, ctx.Mode)
	assert.Equal(t, "key-1", ctx.KeyID)
}

func signPassport(t *testing.T, secret string, kid string, claims auth.PassportClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestVerifyPassportSuccess(t *testing.T) {
	g := auth.New()
	g.PassportKeys["k1"] = "shh"
	claims := auth.PassportClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		PrincipalID: "agent-a",
		PassportID:  "pp-1",
		KeyID:       "k1",
	}
	tok := signPassport(t, "shh", "k1", claims)

	ctx, err := g.VerifyPassport(tok)
	require.NoError(t, err)
	assert.Equal(t, auth.ModePassport, ctx.Mode)
	assert.Equal(t, "agent-a", ctx.PrincipalID)
	assert.Equal(t, "pp-1", ctx.PassportID)
}

func TestVerifyPassportExpired(t *testing.T) {
	g := auth.New()
	g.PassportKeys["k1"] = "shh"
	claims := auth.PassportClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		PrincipalID: "agent-a",
		PassportID:  "pp-1",
		KeyID:       "k1",
	}
	tok := signPassport(t, "shh", "k1", claims)

	_, err := g.VerifyPassport(tok)
	fe, ok := fabricerr.As(err)
	require.True(t, ok)
	assert.Equal(t, fabricerr.CodeAuthExpired, fe.Code)
}

func TestVerifyPassportUnknownKey(t *testing.T) {
	g := auth.New()
	g.PassportKeys["k1"] = "shh"
	claims := auth.PassportClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		PrincipalID: "agent-a",
		PassportID:  "pp-1",
		KeyID:       "k2",
	}
	tok := signPassport(t, "other-secret", "k2", claims)

	_, err := g.VerifyPassport(tok)
	fe, ok := fabricerr.As(err)
	require.True(t, ok)
	assert.Equal(t, fabricerr.CodeAuthInvalid, fe.Code)
}

func TestVerifyMutualTLSMissingCert(t *testing.T) {
	g := auth.New()
	_, err := g.VerifyMutualTLS("")
	fe, ok := fabricerr.As(err)
	require.True(t, ok)
	assert.Equal(t, fabricerr.CodeAuthDenied, fe.Code)
}

func TestVerifyMutualTLSSuccess(t *testing.T) {
	g := auth.New()
	ctx, err := g.VerifyMutualTLS("agent-b.fabric.internal")
	require.NoError(t, err)
	assert.Equal(t, auth.ModeMutualTLS, ctx.Mode)
	assert.Equal(t, "agent-b.fabric.internal", ctx.PrincipalID)
}

func TestNoneMode(t *testing.T) {
	ctx := auth.None()
	assert.Equal(t, auth.ModeNone, ctx.Mode)
}
