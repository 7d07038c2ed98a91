package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
)

func signedToken(t *testing.T, userID uint) string {
	t.Helper()

	claims := &Claims{
		UserID: userID,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestUserIDFromToken(t *testing.T) {
	token := signedToken(t, 42)

	userID, err := UserIDFromToken(token)
	if err != nil {
		t.Fatalf("UserIDFromToken: %v", err)
	}
	if userID != 42 {
		t.Errorf("userID = %d, want 42", userID)
	}
}

func TestUserIDFromTokenErrors(t *testing.T) {
	if _, err := UserIDFromToken(""); err == nil {
		t.Error("expected error for empty token")
	}
	if _, err := UserIDFromToken("not-a-jwt"); err == nil {
		t.Error("expected error for malformed token")
	}
	if _, err := UserIDFromToken(signedToken(t, 0)); err == nil {
		t.Error("expected error for token without user_id")
	}
}
