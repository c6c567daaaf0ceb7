package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestRequireAuth_AllowsValidToken(t *testing.T) {
	authn, err := NewAuthenticator(testSecret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tokenStr := signToken(t, jwt.MapClaims{
		"sub":   "cust-123",
		"iss":   "bottega-market",
		"role":  "customer",
		"email": "buyer@example.com",
		"name":  "Ada",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	handlerCalled := false
	handler := authn.RequireAuth(RoleCustomer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true

		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.ID != "cust-123" {
			t.Fatalf("unexpected id: %s", identity.ID)
		}
		if !identity.HasRole(RoleCustomer) {
			t.Fatalf("expected customer role, got %s", identity.Role)
		}
		if identity.Email != "buyer@example.com" {
			t.Fatalf("unexpected email: %s", identity.Email)
		}

		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if !handlerCalled {
		t.Fatalf("expected handler to be called")
	}
}

func TestRequireAuth_ExpiredToken(t *testing.T) {
	authn, err := NewAuthenticator(testSecret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tokenStr := signToken(t, jwt.MapClaims{
		"sub":  "cust-123",
		"iss":  "bottega-market",
		"role": "customer",
		"exp":  time.Now().Add(-time.Hour).Unix(),
	})

	handler := authn.RequireAuth(RoleCustomer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute on expired token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestRequireAuth_WrongRole(t *testing.T) {
	authn, err := NewAuthenticator(testSecret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tokenStr := signToken(t, jwt.MapClaims{
		"sub":  "cust-123",
		"iss":  "bottega-market",
		"role": "customer",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	handler := authn.RequireAuth(RoleArtisan)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute for insufficient role")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestRequireAuth_MissingHeader(t *testing.T) {
	authn, err := NewAuthenticator(testSecret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	handler := authn.RequireAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute without credentials")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestVerify_RejectsBadIssuer(t *testing.T) {
	authn, err := NewAuthenticator(testSecret, WithIssuer("bottega-market"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tokenStr := signToken(t, jwt.MapClaims{
		"sub":  "cust-123",
		"iss":  "someone-else",
		"role": "customer",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	if _, err := authn.Verify(tokenStr); err == nil {
		t.Fatalf("expected issuer rejection")
	}
}
