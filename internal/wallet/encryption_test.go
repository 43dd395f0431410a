package wallet

import (
	"bytes"
	"errors"
	"testing"
)

// fastParams returns low-cost Argon2 params for fast tests.
func fastParams() EncryptionParams {
	return EncryptionParams{
		Memory:      64, // 64 KiB (minimal)
		Iterations:  1,
		Parallelism: 1,
	}
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	plaintext := []byte("seed material")
	password := []byte("strong-password-123")

	encrypted, err := Encrypt(plaintext, password, fastParams())
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	decrypted, err := Decrypt(encrypted, password)
	if err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("decrypted = %q, want %q", decrypted, plaintext)
	}
}

func TestEncrypt_HeaderCarriesParams(t *testing.T) {
	params := EncryptionParams{Memory: 128, Iterations: 2, Parallelism: 3}
	encrypted, err := Encrypt([]byte("x"), []byte("p"), params)
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if encrypted[SaltSize] != 128 || encrypted[SaltSize+4] != 2 || encrypted[SaltSize+8] != 3 {
		t.Errorf("header does not encode params: % x", encrypted[SaltSize:headerSize])
	}
	// Decrypt must read the params back from the header.
	if _, err := Decrypt(encrypted, []byte("p")); err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
}

func TestEncrypt_RandomizedOutput(t *testing.T) {
	a, _ := Encrypt([]byte("same"), []byte("pass"), fastParams())
	b, _ := Encrypt([]byte("same"), []byte("pass"), fastParams())
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same data should differ (salt/nonce)")
	}
}

func TestEncrypt_RejectsZeroParams(t *testing.T) {
	if _, err := Encrypt([]byte("x"), []byte("p"), EncryptionParams{}); err == nil {
		t.Fatal("expected error for zero argon2 params")
	}
}

func TestDecrypt_WrongPassword(t *testing.T) {
	encrypted, _ := Encrypt([]byte("secret"), []byte("right"), fastParams())
	_, err := Decrypt(encrypted, []byte("wrong"))
	if !errors.Is(err, ErrDecrypt) {
		t.Fatalf("Decrypt() error = %v, want ErrDecrypt", err)
	}
}

func TestDecrypt_Tampered(t *testing.T) {
	encrypted, _ := Encrypt([]byte("secret"), []byte("pass"), fastParams())
	encrypted[len(encrypted)-1] ^= 0xff
	if _, err := Decrypt(encrypted, []byte("pass")); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("Decrypt() error = %v, want ErrDecrypt", err)
	}
}

func TestDecrypt_TooShort(t *testing.T) {
	_, err := Decrypt(make([]byte, 10), []byte("pass"))
	if err == nil {
		t.Fatal("expected error for short input")
	}
	if errors.Is(err, ErrDecrypt) {
		t.Error("a truncated blob is corrupt input, not a passphrase failure")
	}
}

func TestZero(t *testing.T) {
	b := []byte{1, 2, 3}
	zero(b)
	if !bytes.Equal(b, []byte{0, 0, 0}) {
		t.Errorf("zero left %v", b)
	}
}
