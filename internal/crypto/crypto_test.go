package crypto

import (
	"bytes"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := DeriveKey("dev_0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	return key
}

// TestEncryptDecrypt_roundtrip verifies basic encryption and decryption.
func TestEncryptDecrypt_roundtrip(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("ghp_exampletoken")

	ciphertext, err := Encrypt(plaintext, key)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if ciphertext == "" {
		t.Fatal("Encrypt() returned empty string")
	}

	decrypted, err := Decrypt(ciphertext, key)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("Decrypt() = %q, want %q", decrypted, plaintext)
	}
}

// TestEncrypt_nonceRandomized verifies two encryptions of the same input differ.
func TestEncrypt_nonceRandomized(t *testing.T) {
	key := testKey(t)
	a, _ := Encrypt([]byte("same"), key)
	b, _ := Encrypt([]byte("same"), key)
	if a == b {
		t.Error("Encrypt() produced identical ciphertexts")
	}
}

func TestDecrypt_wrongKey(t *testing.T) {
	key := testKey(t)
	other, err := DeriveKey("dev_ffffffffffffffffffffffffffffffff")
	if err != nil {
		t.Fatal(err)
	}

	ciphertext, _ := Encrypt([]byte("secret"), key)
	if _, err := Decrypt(ciphertext, other); err != ErrInvalidCiphertext {
		t.Errorf("Decrypt() with wrong key error = %v, want ErrInvalidCiphertext", err)
	}
}

func TestDecrypt_invalidInput(t *testing.T) {
	key := testKey(t)
	tests := []struct {
		name       string
		ciphertext string
	}{
		{"not base64", "!!!"},
		{"too short", "YWJj"},
	}
	for _, tt := range tests {
		if _, err := Decrypt(tt.ciphertext, key); err != ErrInvalidCiphertext {
			t.Errorf("%s: Decrypt() error = %v, want ErrInvalidCiphertext", tt.name, err)
		}
	}
}

func TestInvalidKey(t *testing.T) {
	if _, err := DeriveKey(""); err != ErrInvalidKey {
		t.Errorf("DeriveKey(\"\") error = %v, want ErrInvalidKey", err)
	}
	if _, err := Encrypt([]byte("x"), []byte("short")); err != ErrInvalidKey {
		t.Errorf("Encrypt() with short key error = %v, want ErrInvalidKey", err)
	}
}

// TestDeriveKey_stable verifies the derived key only depends on the device id.
func TestDeriveKey_stable(t *testing.T) {
	a, _ := DeriveKey("dev_a")
	b, _ := DeriveKey("dev_a")
	c, _ := DeriveKey("dev_b")
	if !bytes.Equal(a, b) {
		t.Error("DeriveKey() is not deterministic")
	}
	if bytes.Equal(a, c) {
		t.Error("DeriveKey() returned the same key for different devices")
	}
	if len(a) != KeySize {
		t.Errorf("len(key) = %d, want %d", len(a), KeySize)
	}
}
