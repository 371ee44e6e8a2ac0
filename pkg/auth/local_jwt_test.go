package auth

import (
	"testing"
	"time"
)

func newTestAuth(t *testing.T) *LocalJWTAuth {
	t.Helper()
	a, err := NewLocalJWTAuth("test-secret-key-for-unit-tests", 0, 0)
	if err != nil {
		t.Fatalf("NewLocalJWTAuth: %v", err)
	}
	return a
}

func TestNewLocalJWTAuthDefaults(t *testing.T) {
	if _, err := NewLocalJWTAuth("", 0, 0); err == nil {
		t.Error("empty secret should be rejected")
	}

	a := newTestAuth(t)
	if a.AccessTokenExpiry != 15*time.Minute {
		t.Errorf("AccessTokenExpiry = %v, want 15m", a.AccessTokenExpiry)
	}
	if a.RefreshTokenExpiry != 7*24*time.Hour {
		t.Errorf("RefreshTokenExpiry = %v, want 168h", a.RefreshTokenExpiry)
	}
}

func TestGenerateAndVerifyTokens(t *testing.T) {
	a := newTestAuth(t)

	access, refresh, err := a.GenerateTokens("staff-1", "dr.chen@hospital.test", "doctor")
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}
	if access == "" || refresh == "" {
		t.Fatal("tokens should not be empty")
	}

	user, err := a.VerifyAccessToken(access)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if user.ID != "staff-1" || user.Email != "dr.chen@hospital.test" || user.Role != "doctor" {
		t.Errorf("verified user = %+v", user)
	}

	claims, err := a.VerifyRefreshToken(refresh)
	if err != nil {
		t.Fatalf("VerifyRefreshToken: %v", err)
	}
	if claims.UserID != "staff-1" {
		t.Errorf("refresh claims UserID = %q", claims.UserID)
	}
	if claims.TokenID == "" {
		t.Error("refresh token should carry a token ID")
	}
}

func TestTokenTypesAreNotInterchangeable(t *testing.T) {
	a := newTestAuth(t)

	access, refresh, err := a.GenerateTokens("staff-1", "dr.chen@hospital.test", "doctor")
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}

	if _, err := a.VerifyAccessToken(refresh); err == nil {
		t.Error("refresh token should not verify as an access token")
	}
	if _, err := a.VerifyRefreshToken(access); err == nil {
		t.Error("access token should not verify as a refresh token")
	}
}

func TestVerifyAccessTokenRejectsTampering(t *testing.T) {
	a := newTestAuth(t)

	access, _, err := a.GenerateTokens("staff-1", "dr.chen@hospital.test", "doctor")
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}

	if _, err := a.VerifyAccessToken(access + "x"); err == nil {
		t.Error("tampered token should be rejected")
	}

	other, _ := NewLocalJWTAuth("a-different-secret-key", 0, 0)
	if _, err := other.VerifyAccessToken(access); err == nil {
		t.Error("token signed with another secret should be rejected")
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	a := newTestAuth(t)

	hash, err := a.HashPassword("Sup3r$ecret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	ok, err := a.VerifyPassword(hash, "Sup3r$ecret")
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if !ok {
		t.Error("correct password should verify")
	}

	ok, err = a.VerifyPassword(hash, "WrongPass1!")
	if err != nil {
		t.Fatalf("VerifyPassword wrong: %v", err)
	}
	if ok {
		t.Error("wrong password should not verify")
	}

	if _, err := a.VerifyPassword("bcrypt$nope", "x"); err == nil {
		t.Error("non-argon2id hash should be rejected")
	}
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc123", "abc123", false},
		{"bearer abc123", "abc123", false},
		{"", "", true},
		{"abc123", "", true},
		{"Basic abc123", "", true},
		{"Bearer ", "", true},
	}

	for _, tt := range tests {
		got, err := ExtractToken(tt.header)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ExtractToken(%q) should fail", tt.header)
			}
			continue
		}
		if err != nil {
			t.Errorf("ExtractToken(%q): %v", tt.header, err)
		}
		if got != tt.want {
			t.Errorf("ExtractToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("Good$Pass1"); err != nil {
		t.Errorf("valid password rejected: %v", err)
	}

	weak := []string{"short1!", "alllowercase1!", "ALLUPPERCASE1!", "NoNumbers!", "NoSpecial1"}
	for _, p := range weak {
		if err := ValidatePassword(p); err == nil {
			t.Errorf("ValidatePassword(%q) should fail", p)
		}
	}
}
