package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func signHS256(t *testing.T, c jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return raw
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "firebase-uid-1",
		"email": " Front.Desk@Clinic.test ",
		"name":  "Front Desk",
		"iss":   "https://securetoken.google.com/clinic",
		"aud":   "clinic",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

func TestNewVerifierRequiresKeyMaterial(t *testing.T) {
	_, err := NewVerifier(VerifierConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestVerifyHS256(t *testing.T) {
	v, err := NewVerifier(VerifierConfig{
		Secret:   testSecret,
		Issuer:   "https://securetoken.google.com/clinic",
		Audience: "clinic",
	})
	require.NoError(t, err)

	sub, err := v.Verify(context.Background(), signHS256(t, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "firebase-uid-1", sub.ID)
	assert.Equal(t, "front.desk@clinic.test", sub.Email)
	assert.Equal(t, "Front Desk", sub.DisplayName)
}

func TestVerifyRejects(t *testing.T) {
	v, err := NewVerifier(VerifierConfig{
		Secret:   testSecret,
		Issuer:   "https://securetoken.google.com/clinic",
		Audience: "clinic",
	})
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
	}{
		{"expired", func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Minute).Unix() }},
		{"missing exp", func(c jwt.MapClaims) { delete(c, "exp") }},
		{"wrong issuer", func(c jwt.MapClaims) { c["iss"] = "https://evil.test" }},
		{"wrong audience", func(c jwt.MapClaims) { c["aud"] = "other" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validClaims()
			tt.mutate(c)
			_, err := v.Verify(context.Background(), signHS256(t, c))
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	t.Run("bad signature", func(t *testing.T) {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims()).SignedString([]byte("other"))
		require.NoError(t, err)
		_, err = v.Verify(context.Background(), raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := v.Verify(context.Background(), "  ")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("no subject", func(t *testing.T) {
		c := validClaims()
		delete(c, "sub")
		_, err := v.Verify(context.Background(), signHS256(t, c))
		assert.ErrorIs(t, err, ErrMissingSubject)
	})
}

func jwksServer(t *testing.T, kid string, key *rsa.PublicKey) *httptest.Server {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": kid,
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVerifyRS256FromJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := jwksServer(t, "key-1", &key.PublicKey)

	v, err := NewVerifier(VerifierConfig{JWKSURL: srv.URL, Audience: "clinic"})
	require.NoError(t, err)

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims())
	tok.Header["kid"] = "key-1"
	raw, err := tok.SignedString(key)
	require.NoError(t, err)

	sub, err := v.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "firebase-uid-1", sub.ID)

	t.Run("unknown kid", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims())
		tok.Header["kid"] = "rotated"
		raw, err := tok.SignedString(key)
		require.NoError(t, err)
		_, err = v.Verify(context.Background(), raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("hs256 not accepted without secret", func(t *testing.T) {
		_, err := v.Verify(context.Background(), signHS256(t, validClaims()))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
