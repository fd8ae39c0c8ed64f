package crypto

import (
	"strings"
	"testing"

	"mailbridge/pkg/apperr"
)

func testVault(t *testing.T) *Vault {
	t.Helper()
	v, err := NewVault(strings.Repeat("x", 32))
	if err != nil {
		t.Fatalf("NewVault() error = %v", err)
	}
	return v
}

func TestNewVault_KeyLength(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"empty", "", true},
		{"short", "too-short", true},
		{"31 chars", strings.Repeat("k", 31), true},
		{"32 chars", strings.Repeat("k", 32), false},
		{"long", strings.Repeat("k", 64), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewVault(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewVault(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	v := testVault(t)

	plaintexts := []string{
		"hello:world",
		"",
		"app-password-1234",
		"päss wörd with ünïcode ✉",
		strings.Repeat("long", 1000),
	}

	for _, pt := range plaintexts {
		ct, err := v.Encrypt(pt)
		if err != nil {
			t.Fatalf("Encrypt(%q) error = %v", pt, err)
		}
		if strings.Count(ct, ":") != 3 {
			t.Errorf("ciphertext %q: want 4 segments", ct)
		}
		got, err := v.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if got != pt {
			t.Errorf("roundtrip = %q, want %q", got, pt)
		}
	}
}

func TestEncrypt_FreshSaltAndIV(t *testing.T) {
	v := testVault(t)

	a, err := v.Encrypt("same input")
	if err != nil {
		t.Fatal(err)
	}
	b, err := v.Encrypt("same input")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical ciphertexts")
	}
}

func TestDecrypt_Tampered(t *testing.T) {
	v := testVault(t)

	ct, err := v.Encrypt("hello:world")
	if err != nil {
		t.Fatal(err)
	}

	// Flip one byte in every segment in turn; each mutation must be caught.
	parts := strings.Split(ct, ":")
	for i := range parts {
		mutated := make([]string, len(parts))
		copy(mutated, parts)
		seg := []byte(mutated[i])
		if seg[0] == 'A' {
			seg[0] = 'B'
		} else {
			seg[0] = 'A'
		}
		mutated[i] = string(seg)

		_, err := v.Decrypt(strings.Join(mutated, ":"))
		if err == nil {
			t.Errorf("segment %d: tampered ciphertext decrypted successfully", i)
			continue
		}
		if !apperr.Is(err, apperr.CodeCredentialTampered) {
			t.Errorf("segment %d: error = %v, want CREDENTIAL_TAMPERED", i, err)
		}
	}
}

func TestDecrypt_Malformed(t *testing.T) {
	v := testVault(t)

	for _, ct := range []string{
		"",
		"not-a-ciphertext",
		"a:b:c",
		"a:b:c:d:e",
		"!!!:???:###:$$$",
	} {
		if _, err := v.Decrypt(ct); !apperr.Is(err, apperr.CodeCredentialTampered) {
			t.Errorf("Decrypt(%q) error = %v, want CREDENTIAL_TAMPERED", ct, err)
		}
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	v1 := testVault(t)
	v2, err := NewVault(strings.Repeat("y", 32))
	if err != nil {
		t.Fatal(err)
	}

	ct, err := v1.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v2.Decrypt(ct); !apperr.Is(err, apperr.CodeCredentialTampered) {
		t.Errorf("Decrypt with wrong key error = %v, want CREDENTIAL_TAMPERED", err)
	}
}
