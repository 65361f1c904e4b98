package util

import (
	"exam_platform_backend/internal/config"
	"exam_platform_backend/internal/model"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jwtCfg = config.JWTConfig{
	Secret:     "util-test-secret",
	ExpireTime: time.Hour,
	Issuer:     "exam-platform",
	Audience:   "exam-platform-api",
}

func testUser() *model.User {
	u := &model.User{Email: "ivy@example.com", Role: model.Student}
	u.ID = 42
	return u
}

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT(testUser(), jwtCfg)
	require.NoError(t, err)

	claims, err := ParseJWT(token, jwtCfg)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, model.Student, claims.Role)
	assert.Equal(t, "42", claims.Subject)
	assert.Equal(t, "exam-platform", claims.Issuer)
	assert.Equal(t, jwt.ClaimStrings{"exam-platform-api"}, claims.Audience)
}

func TestJWTRejectsForeignIssuerAndAudience(t *testing.T) {
	other := jwtCfg
	other.Issuer = "someone-else"
	token, err := GenerateJWT(testUser(), other)
	require.NoError(t, err)
	_, err = ParseJWT(token, jwtCfg)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)

	other = jwtCfg
	other.Audience = "admin-console"
	token, err = GenerateJWT(testUser(), other)
	require.NoError(t, err)
	_, err = ParseJWT(token, jwtCfg)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidAudience)
}

func TestJWTRejectsExpiredAndWrongSecret(t *testing.T) {
	expired := jwtCfg
	expired.ExpireTime = -time.Minute
	token, err := GenerateJWT(testUser(), expired)
	require.NoError(t, err)
	_, err = ParseJWT(token, jwtCfg)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	token, err = GenerateJWT(testUser(), jwtCfg)
	require.NoError(t, err)
	wrong := jwtCfg
	wrong.Secret = "another-secret"
	_, err = ParseJWT(token, wrong)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestJWTRejectsMismatchedSubject(t *testing.T) {
	claims := &Claims{
		UserID: 1,
		Role:   model.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "2",
			Issuer:    jwtCfg.Issuer,
			Audience:  jwt.ClaimStrings{jwtCfg.Audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtCfg.Secret))
	require.NoError(t, err)

	_, err = ParseJWT(token, jwtCfg)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidSubject)
}
