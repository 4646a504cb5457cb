package crypto

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"tradeguard/pkg/errs"
)

// тесты используют сниженное число итераций, иначе 1000 циклов PBKDF2 занимают минуты
const testIterations = 1000

func newTestVault(t *testing.T, secret string) *Vault {
	t.Helper()
	v, err := NewVault(secret, WithIterations(testIterations))
	if err != nil {
		t.Fatalf("NewVault failed: %v", err)
	}
	return v
}

func TestNewVault_EmptySecret(t *testing.T) {
	_, err := NewVault("")

	var cfgErr *errs.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if cfgErr.Key != "MASTER_ENCRYPTION_SECRET" {
		t.Errorf("unexpected key %q", cfgErr.Key)
	}
}

func TestVault_DefaultIterations(t *testing.T) {
	v, err := NewVault("master-secret")
	if err != nil {
		t.Fatalf("NewVault failed: %v", err)
	}
	if v.iterations != DefaultIterations {
		t.Errorf("iterations = %d, want %d", v.iterations, DefaultIterations)
	}

	sealed, err := v.Encrypt("api-secret")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	got, err := v.Decrypt(sealed.Ciphertext, sealed.IV, sealed.Salt)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if got != "api-secret" {
		t.Errorf("got %q", got)
	}
}

func TestVault_RoundTripRandomStrings(t *testing.T) {
	v := newTestVault(t, "master-secret")
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 1000; i++ {
		plaintext := randomString(rng, rng.Intn(128))

		sealed, err := v.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt #%d failed: %v", i, err)
		}

		got, err := v.Decrypt(sealed.Ciphertext, sealed.IV, sealed.Salt)
		if err != nil {
			t.Fatalf("Decrypt #%d failed: %v", i, err)
		}
		if got != plaintext {
			t.Fatalf("round trip #%d mismatch: got %q, want %q", i, got, plaintext)
		}
	}
}

func TestVault_EncryptTwiceDiffers(t *testing.T) {
	v := newTestVault(t, "master-secret")

	a, err := v.Encrypt("same plaintext")
	if err != nil {
		t.Fatal(err)
	}
	b, err := v.Encrypt("same plaintext")
	if err != nil {
		t.Fatal(err)
	}

	if a.Ciphertext == b.Ciphertext {
		t.Error("ciphertexts collide")
	}
	if a.IV == b.IV {
		t.Error("iv reused")
	}
	if a.Salt == b.Salt {
		t.Error("salt reused")
	}
}

func TestVault_DecryptFailures(t *testing.T) {
	v := newTestVault(t, "master-secret")
	other := newTestVault(t, "another-secret")

	sealed, err := v.Encrypt("top secret")
	if err != nil {
		t.Fatal(err)
	}
	fresh, err := v.Encrypt("another")
	if err != nil {
		t.Fatal(err)
	}

	tampered := []byte(sealed.Ciphertext)
	if tampered[0] == 'A' {
		tampered[0] = 'B'
	} else {
		tampered[0] = 'A'
	}

	tests := []struct {
		name       string
		vault      *Vault
		ciphertext string
		iv         string
		salt       string
	}{
		{"wrong master key", other, sealed.Ciphertext, sealed.IV, sealed.Salt},
		{"wrong iv", v, sealed.Ciphertext, fresh.IV, sealed.Salt},
		{"wrong salt", v, sealed.Ciphertext, sealed.IV, fresh.Salt},
		{"tampered ciphertext", v, string(tampered), sealed.IV, sealed.Salt},
		{"invalid base64", v, "%%%", sealed.IV, sealed.Salt},
		{"short iv", v, sealed.Ciphertext, "AAAA", sealed.Salt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.vault.Decrypt(tt.ciphertext, tt.iv, tt.salt)

			var decErr *errs.DecryptionError
			if !errors.As(err, &decErr) {
				t.Fatalf("expected DecryptionError, got %v", err)
			}
			if got != "" {
				t.Errorf("plaintext leaked on failure: %q", got)
			}
		})
	}
}

func TestVault_Credentials(t *testing.T) {
	v := newTestVault(t, "master-secret")

	tests := []struct {
		name  string
		creds CredentialSet
	}{
		{"with passphrase", CredentialSet{APIKey: "key-1", APISecret: "secret-1", Passphrase: "pass-1"}},
		{"without passphrase", CredentialSet{APIKey: "key-2", APISecret: "secret-2"}},
		{"identical fields", CredentialSet{APIKey: "same", APISecret: "same", Passphrase: "same"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := v.EncryptCredentials(tt.creds)
			if err != nil {
				t.Fatalf("EncryptCredentials failed: %v", err)
			}

			if strings.Contains(sealed.APIKeyEncrypted, tt.creds.APIKey) {
				t.Error("api key stored in plaintext")
			}
			if tt.creds.Passphrase == "" && sealed.PassphraseEncrypted != "" {
				t.Error("empty passphrase should stay empty")
			}
			if tt.creds.APIKey == tt.creds.APISecret && sealed.APIKeyEncrypted == sealed.APISecretEncrypted {
				t.Error("identical fields produced identical ciphertexts: nonce reused")
			}

			got, err := v.DecryptCredentials(sealed)
			if err != nil {
				t.Fatalf("DecryptCredentials failed: %v", err)
			}
			if *got != tt.creds {
				t.Errorf("got %+v, want %+v", *got, tt.creds)
			}
		})
	}
}

func TestVault_CredentialFieldsNotSwappable(t *testing.T) {
	v := newTestVault(t, "master-secret")

	sealed, err := v.EncryptCredentials(CredentialSet{APIKey: "key", APISecret: "secret"})
	if err != nil {
		t.Fatal(err)
	}
	sealed.APIKeyEncrypted, sealed.APISecretEncrypted = sealed.APISecretEncrypted, sealed.APIKeyEncrypted

	_, err = v.DecryptCredentials(sealed)
	var decErr *errs.DecryptionError
	if !errors.As(err, &decErr) {
		t.Fatalf("expected DecryptionError for swapped fields, got %v", err)
	}
	if decErr.Field != "api_key" {
		t.Errorf("field = %q, want api_key", decErr.Field)
	}
}

func TestVault_DecryptCredentialsWrongKey(t *testing.T) {
	sealed, err := newTestVault(t, "master-secret").EncryptCredentials(CredentialSet{APIKey: "k", APISecret: "s"})
	if err != nil {
		t.Fatal(err)
	}

	_, err = newTestVault(t, "rotated-secret").DecryptCredentials(sealed)
	var decErr *errs.DecryptionError
	if !errors.As(err, &decErr) {
		t.Fatalf("expected DecryptionError, got %v", err)
	}

	if _, err := newTestVault(t, "x").DecryptCredentials(nil); err == nil {
		t.Error("expected error for nil credentials")
	}
}

func randomString(rng *rand.Rand, n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*()-_=+ Привет你好"
	runes := []rune(alphabet)
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteRune(runes[rng.Intn(len(runes))])
	}
	return sb.String()
}
