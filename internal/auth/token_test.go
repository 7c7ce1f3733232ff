package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func TestParseSessionToken(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{
		"user_id":  float64(42),
		"username": "ada",
		"exp":      float64(time.Now().Add(time.Hour).Unix()),
	})

	claims, err := ParseSessionToken(token)
	if err != nil {
		t.Fatalf("ParseSessionToken failed: %v", err)
	}
	if claims.UserID != 42 {
		t.Errorf("expected user id 42, got %d", claims.UserID)
	}
	if claims.Username != "ada" {
		t.Errorf("expected username ada, got %q", claims.Username)
	}
	if claims.Expired() {
		t.Error("token should not be expired")
	}
}

func TestParseSessionTokenStringUserID(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{"user_id": "7"})

	claims, err := ParseSessionToken(token)
	if err != nil {
		t.Fatalf("ParseSessionToken failed: %v", err)
	}
	if claims.UserID != 7 {
		t.Errorf("expected user id 7, got %d", claims.UserID)
	}
}

func TestExpiredToken(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{
		"user_id": float64(1),
		"exp":     float64(time.Now().Add(-time.Hour).Unix()),
	})

	claims, err := ParseSessionToken(token)
	if err != nil {
		t.Fatalf("ParseSessionToken failed: %v", err)
	}
	if err := claims.Check(); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestMalformedToken(t *testing.T) {
	if _, err := ParseSessionToken("not-a-token"); !errors.Is(err, ErrMalformedToken) {
		t.Errorf("expected ErrMalformedToken, got %v", err)
	}

	missing := signedToken(t, jwt.MapClaims{"username": "ada"})
	if _, err := ParseSessionToken(missing); !errors.Is(err, ErrMalformedToken) {
		t.Errorf("expected ErrMalformedToken for missing user_id, got %v", err)
	}
}
