package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/healthconnect/internal/auth"
	"github.com/ashureev/healthconnect/internal/domain"
)

func TestMiddlewareInjectsIdentity(t *testing.T) {
	tokens := auth.NewTokenIssuer("secret", time.Minute)
	token, err := tokens.Issue(&domain.User{ID: 7, Email: "p@example.com", Role: domain.RolePatient})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	var gotID int64
	var gotRole string
	h := Middleware(tokens)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotID = UserIDFromContext(r.Context())
		gotRole = RoleFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if gotID != 7 {
		t.Errorf("Expected user 7, got %d", gotID)
	}
	if gotRole != domain.RolePatient {
		t.Errorf("Expected role patient, got %q", gotRole)
	}
}

func TestMiddlewareIgnoresBadToken(t *testing.T) {
	tokens := auth.NewTokenIssuer("secret", time.Minute)

	called := false
	h := Middleware(tokens)(Require(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if called {
		t.Error("Expected handler not to run without a valid session")
	}
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rr.Code)
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := BearerToken(req); got != "" {
		t.Errorf("Expected empty token, got %q", got)
	}
	req.Header.Set("Authorization", "bearer abc ")
	if got := BearerToken(req); got != "abc" {
		t.Errorf("Expected abc, got %q", got)
	}
	req.Header.Set("Authorization", "Basic abc")
	if got := BearerToken(req); got != "" {
		t.Errorf("Expected empty token for basic auth, got %q", got)
	}
}
