package auth_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fleetmon/fleet-engine/internal/auth"
)

const testSecret = "test123"

func issueToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestVerifyCredential(t *testing.T) {
	verifier := auth.NewVerifier(testSecret)

	token := issueToken(t, testSecret, jwt.MapClaims{
		"userId": 42,
		"email":  "admin@test.com",
	})

	claims, err := verifier.VerifyCredential(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != 42 {
		t.Errorf("expected userId 42, got %d", claims.UserID)
	}
	if claims.Email != "admin@test.com" {
		t.Errorf("expected email to round-trip, got %q", claims.Email)
	}
}

func TestVerifyCredential_Rejections(t *testing.T) {
	verifier := auth.NewVerifier(testSecret)

	cases := []struct {
		name  string
		token string
	}{
		{"wrong secret", issueToken(t, "other-secret", jwt.MapClaims{"userId": 1})},
		{"expired", issueToken(t, testSecret, jwt.MapClaims{
			"userId": 1,
			"exp":    time.Now().Add(-time.Hour).Unix(),
		})},
		{"garbage", "not.a.token"},
		{"empty", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := verifier.VerifyCredential(tc.token)
			if !errors.Is(err, auth.ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestVerifyCredential_RejectsUnsignedToken(t *testing.T) {
	verifier := auth.NewVerifier(testSecret)

	// alg=none must never pass, regardless of payload.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"userId": 1})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := verifier.VerifyCredential(signed); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for alg=none, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	verifier := auth.NewVerifier(testSecret)

	var seen *auth.Claims
	handler := verifier.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Token abc")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+issueToken(t, "other-secret", jwt.MapClaims{"userId": 1}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		seen = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+issueToken(t, testSecret, jwt.MapClaims{
			"userId": 7,
			"email":  "ops@test.com",
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if seen == nil || seen.UserID != 7 || seen.Email != "ops@test.com" {
			t.Errorf("claims not attached to context: %+v", seen)
		}
	})
}
