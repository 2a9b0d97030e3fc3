package crypto

import (
	"testing"

	"github.com/kimhsiao/slotboard/internal/models"
)

func TestHashSecret_Verify(t *testing.T) {
	hash, err := HashSecret("admin123")
	if err != nil {
		t.Fatalf("HashSecret() error = %v", err)
	}
	if !VerifySecret(hash, "admin123") {
		t.Error("VerifySecret() = false for the right secret")
	}
	if VerifySecret(hash, "wrong") {
		t.Error("VerifySecret() = true for a wrong secret")
	}
}

func TestHashSecret_Empty(t *testing.T) {
	if _, err := HashSecret(""); err != ErrEmptySecret {
		t.Errorf("HashSecret(\"\") error = %v, want ErrEmptySecret", err)
	}
}

// TestVerifySecret_Placeholder verifies the remote-admin placeholder never authenticates.
func TestVerifySecret_Placeholder(t *testing.T) {
	for _, guess := range []string{"", models.PlaceholderSecret, "admin123"} {
		if VerifySecret(models.PlaceholderSecret, guess) {
			t.Errorf("VerifySecret(placeholder, %q) = true", guess)
		}
	}
}
