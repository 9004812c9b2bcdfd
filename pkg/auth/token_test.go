package auth

import (
	"errors"
	"testing"
)

// TestGenerateToken tests secure token generation
func TestGenerateToken(t *testing.T) {
	t.Run("generate token with default length", func(t *testing.T) {
		token, err := GenerateToken(0)
		if err != nil {
			t.Errorf("GenerateToken returned error: %v", err)
		}
		if len(token) != 43 {
			t.Errorf("Token length = %d, want 43", len(token))
		}
	})

	t.Run("generated tokens parse", func(t *testing.T) {
		token, _ := GenerateToken(16)
		if err := ParseToken(token); err != nil {
			t.Errorf("ParseToken(%q) = %v", token, err)
		}
	})

	t.Run("tokens are unique", func(t *testing.T) {
		token1, _ := GenerateToken(32)
		token2, _ := GenerateToken(32)
		if token1 == token2 {
			t.Error("Expected unique tokens")
		}
	})
}

// TestValidateToken tests token validation
func TestValidateToken(t *testing.T) {
	token1, _ := GenerateToken(32)
	token2, _ := GenerateToken(32)

	if !ValidateToken(token1, token1) {
		t.Error("Expected validation to pass for same token")
	}
	if ValidateToken(token1, token2) {
		t.Error("Expected validation to fail for different tokens")
	}
	if ValidateToken("", "") {
		t.Error("Expected validation to fail against an empty token")
	}
}

// TestParseToken tests token parsing
func TestParseToken(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", "abcdefghijklmnop-_", false},
		{"empty", "", true},
		{"short", "abc", true},
		{"invalid characters", "invalid<token>!invalid", true},
		{"padding", "abcdefghijklmnopqr==", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseToken(tt.token)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseToken(%q) error = %v, wantErr %v", tt.token, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTokenFormat) {
				t.Errorf("ParseToken(%q) error = %v, want ErrInvalidTokenFormat", tt.token, err)
			}
		})
	}
}

// TestMaskToken tests token masking
func TestMaskToken(t *testing.T) {
	if got := MaskToken("abcdefghijklmnopqrstuvwxyz"); got != "abcd...wxyz" {
		t.Errorf("MaskToken = %s, want abcd...wxyz", got)
	}
	if got := MaskToken("abc"); got != "****" {
		t.Errorf("MaskToken = %s, want ****", got)
	}
}
