package auth_test

import (
	"testing"
	"time"

	"livetalk-economy/internal/auth"
)

func TestGenerateAndValidateToken(t *testing.T) {
	svc := auth.NewJWTService("test-secret", time.Hour)

	token, err := svc.GenerateToken("user_1", "Alice")
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}

	if claims.UserID != "user_1" {
		t.Errorf("Expected user_1, got %s", claims.UserID)
	}
	if claims.SessionID == "" {
		t.Error("Expected a session id")
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, _ := auth.NewJWTService("secret-a", time.Hour).GenerateToken("user_1", "")

	if _, err := auth.NewJWTService("secret-b", time.Hour).ValidateToken(token); err == nil {
		t.Error("Expected validation to fail with a different secret")
	}
}

func TestValidateTokenExpired(t *testing.T) {
	svc := auth.NewJWTService("secret", time.Nanosecond)
	token, _ := svc.GenerateToken("user_1", "")
	time.Sleep(time.Second + 10*time.Millisecond)

	if _, err := svc.ValidateToken(token); err == nil {
		t.Error("Expected expired token to be rejected")
	}
}
