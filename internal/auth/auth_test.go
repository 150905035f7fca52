package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/healthconnect/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	require.NotEqual(t, "s3cret", hash)
	require.True(t, CheckPassword(hash, "s3cret"))
	require.False(t, CheckPassword(hash, "wrong"))
	require.False(t, CheckPassword("not-a-hash", "s3cret"))
}

func TestRandomPasswordIsUnique(t *testing.T) {
	a, err := RandomPassword()
	require.NoError(t, err)
	b, err := RandomPassword()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.Len(t, a, 48)
}

func TestTokenIssueAndParse(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", 30*time.Minute)
	token, err := issuer.Issue(&domain.User{ID: 42, Email: "doc@example.com", Role: domain.RoleDoctor})
	require.NoError(t, err)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "doc@example.com", claims.Email)
	require.Equal(t, domain.RoleDoctor, claims.Role)
	id, err := claims.UserID()
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
}

func TestTokenRejectsExpiredAndForeign(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Minute)
	issuer.now = func() time.Time { return time.Now().Add(-time.Hour) }
	stale, err := issuer.Issue(&domain.User{ID: 1})
	require.NoError(t, err)

	issuer.now = time.Now
	_, err = issuer.Parse(stale)
	require.ErrorIs(t, err, ErrInvalidToken)

	other := NewTokenIssuer("other-secret", time.Minute)
	foreign, err := other.Issue(&domain.User{ID: 1})
	require.NoError(t, err)
	_, err = issuer.Parse(foreign)
	require.ErrorIs(t, err, ErrInvalidToken)
}

type googleFixture struct {
	key      *rsa.PrivateKey
	server   *httptest.Server
	fetches  atomic.Int32
	verifier *GoogleVerifier
}

func newGoogleFixture(t *testing.T) *googleFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	certPEM := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))

	f := &googleFixture{key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/certs", func(w http.ResponseWriter, _ *http.Request) {
		f.fetches.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"kid-1": certPEM})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") != "good-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"picture": "https://img.example/p.png"})
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	f.verifier = NewGoogleVerifier("client-123", f.server.Client(), nil).
		WithEndpoints(f.server.URL+"/certs", f.server.URL+"/userinfo")
	return f
}

func (f *googleFixture) sign(t *testing.T, kid string, claims googleClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

func validGoogleClaims() googleClaims {
	return googleClaims{
		Email:         "pat@example.com",
		EmailVerified: true,
		Name:          "Pat",
		Picture:       "https://img.example/pat.png",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://accounts.google.com",
			Subject:   "google-sub",
			Audience:  jwt.ClaimStrings{"client-123"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestGoogleVerifierAcceptsValidToken(t *testing.T) {
	f := newGoogleFixture(t)

	id, err := f.verifier.Verify(context.Background(), f.sign(t, "kid-1", validGoogleClaims()))
	require.NoError(t, err)
	require.Equal(t, "pat@example.com", id.Email)
	require.Equal(t, "Pat", id.Name)

	_, err = f.verifier.Verify(context.Background(), f.sign(t, "kid-1", validGoogleClaims()))
	require.NoError(t, err)
	require.Equal(t, int32(1), f.fetches.Load(), "key set should be served from cache")
}

func TestGoogleVerifierRejects(t *testing.T) {
	f := newGoogleFixture(t)

	wrongAud := validGoogleClaims()
	wrongAud.Audience = jwt.ClaimStrings{"someone-else"}

	wrongIss := validGoogleClaims()
	wrongIss.Issuer = "https://evil.example"

	expired := validGoogleClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	cases := map[string]string{
		"audience": f.sign(t, "kid-1", wrongAud),
		"issuer":   f.sign(t, "kid-1", wrongIss),
		"expired":  f.sign(t, "kid-1", expired),
		"kid":      f.sign(t, "kid-unknown", validGoogleClaims()),
		"garbage":  "not.a.jwt",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.verifier.Verify(context.Background(), token)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestGoogleVerifierDisabled(t *testing.T) {
	v := NewGoogleVerifier("", nil, nil)
	require.False(t, v.Enabled())
	_, err := v.Verify(context.Background(), "anything")
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestFetchPicture(t *testing.T) {
	f := newGoogleFixture(t)

	pic, err := f.verifier.FetchPicture(context.Background(), "Bearer good-access")
	require.NoError(t, err)
	require.Equal(t, "https://img.example/p.png", pic)

	_, err = f.verifier.FetchPicture(context.Background(), "bad-access")
	require.Error(t, err)

	pic, err = f.verifier.FetchPicture(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, pic)
}
