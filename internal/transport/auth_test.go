package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/swiftcheck/qcflow/internal/config"
)

const testSecretEnv = "QCFLOW_TEST_JWT_SECRET"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authHarness(t *testing.T) http.Handler {
	t.Helper()
	t.Setenv(testSecretEnv, "test-secret")

	mw := JWTAuthenticator(config.IdentityConfig{SecretEnv: testSecretEnv})
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFrom(r.Context())
		if claims["sub"] != "user-1" {
			t.Errorf("sub claim = %v", claims["sub"])
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestJWTAuthenticatorAcceptsValidToken(t *testing.T) {
	h := authHarness(t)

	token := signToken(t, "test-secret", jwt.MapClaims{
		"sub":       "user-1",
		"tenant_id": "tenant-a",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200; body = %s", rec.Code, rec.Body)
	}
}

func TestJWTAuthenticatorRejections(t *testing.T) {
	h := authHarness(t)

	expired := signToken(t, "test-secret", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	wrongKey := signToken(t, "other-secret", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	noExpiry := signToken(t, "test-secret", jwt.MapClaims{"sub": "user-1"})

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not.a.jwt"},
		{"expired", "Bearer " + expired},
		{"wrong signature", "Bearer " + wrongKey},
		{"missing expiry", "Bearer " + noExpiry},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", tc.name, rec.Code)
		}
	}
}

// Rejection messages come from the parser's sentinel errors, not from
// matching error text.
func TestJWTAuthenticatorErrorMessages(t *testing.T) {
	h := authHarness(t)

	expired := signToken(t, "test-secret", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	wrongKey := signToken(t, "other-secret", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	noExpiry := signToken(t, "test-secret", jwt.MapClaims{"sub": "user-1"})

	cases := []struct {
		name    string
		token   string
		message string
	}{
		{"expired", expired, "Token expired"},
		{"wrong signature", wrongKey, "Invalid token signature"},
		{"missing expiry", noExpiry, "Token missing required claim"},
		{"garbage", "not.a.jwt", "Malformed token"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tc.token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		body := decodeJSON[map[string]map[string]any](t, rec)
		if got, _ := body["error"]["message"].(string); got != tc.message {
			t.Errorf("%s: message = %q, want %q", tc.name, got, tc.message)
		}
	}
}
