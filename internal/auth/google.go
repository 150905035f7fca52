package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"
)

const (
	// GoogleCertsURL serves Google's current ID-token signing certificates keyed by kid.
	GoogleCertsURL = "https://www.googleapis.com/oauth2/v1/certs"
	// GoogleUserInfoURL returns profile data for an OAuth access token.
	GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v1/userinfo"

	keySetCacheKey = "google-keys"
	keySetTTL      = time.Hour
)

var (
	// ErrUnknownKey is returned when a token names a kid missing from the key set.
	ErrUnknownKey = errors.New("unknown signing key")
	// ErrNotConfigured is returned when no client ID is set for verification.
	ErrNotConfigured = errors.New("google sign-in not configured")

	googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}
)

// GoogleIdentity is the identity extracted from a verified Google ID token.
type GoogleIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

type googleClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	jwt.RegisteredClaims
}

// GoogleVerifier validates Google ID tokens against the published key set.
type GoogleVerifier struct {
	clientID    string
	certsURL    string
	userInfoURL string
	client      *http.Client
	cache       *gocache.Cache
	logger      *slog.Logger
}

// NewGoogleVerifier creates a verifier for tokens issued to clientID.
func NewGoogleVerifier(clientID string, client *http.Client, logger *slog.Logger) *GoogleVerifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GoogleVerifier{
		clientID:    clientID,
		certsURL:    GoogleCertsURL,
		userInfoURL: GoogleUserInfoURL,
		client:      client,
		cache:       gocache.New(keySetTTL, 10*time.Minute),
		logger:      logger,
	}
}

// WithEndpoints overrides the certificate and userinfo URLs.
func (v *GoogleVerifier) WithEndpoints(certsURL, userInfoURL string) *GoogleVerifier {
	v.certsURL = certsURL
	v.userInfoURL = userInfoURL
	return v
}

// Enabled reports whether a client ID has been configured.
func (v *GoogleVerifier) Enabled() bool {
	return v != nil && v.clientID != ""
}

// Verify checks the token signature, audience, issuer and expiry and returns
// the identity it carries.
func (v *GoogleVerifier) Verify(ctx context.Context, token string) (*GoogleIdentity, error) {
	if !v.Enabled() {
		return nil, ErrNotConfigured
	}

	claims := &googleClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return v.key(ctx, kid)
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithAudience(v.clientID), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	issuerOK := false
	for _, iss := range googleIssuers {
		if claims.Issuer == iss {
			issuerOK = true
			break
		}
	}
	if !issuerOK {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, claims.Issuer)
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("%w: missing email claim", ErrInvalidToken)
	}

	return &GoogleIdentity{
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		Picture:       claims.Picture,
	}, nil
}

// key resolves kid from the cached key set, refetching once on a miss so
// rotated keys are picked up before the cache expires.
func (v *GoogleVerifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if cached, ok := v.cache.Get(keySetCacheKey); ok {
		if k, ok := cached.(map[string]*rsa.PublicKey)[kid]; ok {
			return k, nil
		}
	}

	keys, err := v.fetchKeys(ctx)
	if err != nil {
		return nil, err
	}
	v.cache.SetDefault(keySetCacheKey, keys)

	k, ok := keys[kid]
	if !ok {
		return nil, ErrUnknownKey
	}
	return k, nil
}

func (v *GoogleVerifier) fetchKeys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.certsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build certs request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch google certs: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			v.logger.Debug("Failed to close certs response", "error", closeErr)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch google certs: status %d", resp.StatusCode)
	}

	var raw map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode google certs: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(raw))
	for kid, certPEM := range raw {
		key, err := parseRSACert(certPEM)
		if err != nil {
			v.logger.Warn("Skipping unparseable Google certificate", "kid", kid, "error", err)
			continue
		}
		keys[kid] = key
	}
	v.logger.Debug("Fetched Google key set", "keys", len(keys))
	return keys, nil
}

func parseRSACert(certPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, errors.New("no PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("certificate key is not RSA")
	}
	return key, nil
}

// FetchPicture looks up the profile picture for an OAuth access token. An
// empty string with a nil error means the profile has no picture.
func (v *GoogleVerifier) FetchPicture(ctx context.Context, accessToken string) (string, error) {
	accessToken = strings.TrimSpace(strings.TrimPrefix(accessToken, "Bearer "))
	if accessToken == "" {
		return "", nil
	}

	u := v.userInfoURL + "?alt=json&access_token=" + url.QueryEscape(accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("build userinfo request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch userinfo: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			v.logger.Debug("Failed to close userinfo response", "error", closeErr)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch userinfo: status %d", resp.StatusCode)
	}

	var info struct {
		Picture string `json:"picture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode userinfo: %w", err)
	}
	return info.Picture, nil
}
