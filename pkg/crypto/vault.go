// Package crypto отвечает за хранение секретов бирж в зашифрованном виде.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"tradeguard/pkg/errs"
)

const (
	// DefaultIterations - число итераций PBKDF2-HMAC-SHA256
	DefaultIterations = 100000

	keyLength  = 32 // AES-256
	saltLength = 16
	ivLength   = 12 // стандартный nonce GCM
)

// Поля учетных данных; индекс участвует в выводе nonce, имя - в associated data
const (
	fieldAPIKey = iota
	fieldAPISecret
	fieldPassphrase
)

var fieldNames = [...]string{"api_key", "api_secret", "passphrase"}

var (
	ErrEmptyMasterSecret = errors.New("master encryption secret is empty")
	errInvalidEncoding   = errors.New("invalid base64 encoding")
	errInvalidLength     = errors.New("invalid iv or salt length")
)

// Sealed - результат шифрования одного значения (все поля в base64)
type Sealed struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	Salt       string `json:"salt"`
}

// CredentialSet - расшифрованные ключи API. Никогда не сохраняется.
type CredentialSet struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// SealedCredentials - зашифрованные ключи API в формате хранения
type SealedCredentials struct {
	APIKeyEncrypted     string
	APISecretEncrypted  string
	PassphraseEncrypted string
	IV                  string
	Salt                string
}

// Vault шифрует секреты AES-256-GCM с ключом, выведенным из мастер-секрета процесса
type Vault struct {
	master     []byte
	iterations int
	rand       io.Reader
}

// VaultOption настраивает Vault
type VaultOption func(*Vault)

// WithIterations меняет число итераций PBKDF2 (только для тестов)
func WithIterations(n int) VaultOption {
	return func(v *Vault) {
		if n > 0 {
			v.iterations = n
		}
	}
}

// WithRandom подменяет источник случайности
func WithRandom(r io.Reader) VaultOption {
	return func(v *Vault) {
		v.rand = r
	}
}

// NewVault создает хранилище. Пустой мастер-секрет - фатальная ошибка конфигурации.
func NewVault(masterSecret string, opts ...VaultOption) (*Vault, error) {
	if masterSecret == "" {
		return nil, &errs.ConfigurationError{Key: "MASTER_ENCRYPTION_SECRET", Message: ErrEmptyMasterSecret.Error()}
	}

	v := &Vault{
		master:     []byte(masterSecret),
		iterations: DefaultIterations,
		rand:       rand.Reader,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Encrypt шифрует одно значение со свежими salt и iv
func (v *Vault) Encrypt(plaintext string) (*Sealed, error) {
	salt, iv, err := v.freshSaltIV()
	if err != nil {
		return nil, err
	}

	gcm, err := v.cipherFor(salt)
	if err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, iv, []byte(plaintext), nil)

	return &Sealed{
		Ciphertext: encode(ciphertext),
		IV:         encode(iv),
		Salt:       encode(salt),
	}, nil
}

// Decrypt расшифровывает значение. Любое несоответствие возвращает DecryptionError.
func (v *Vault) Decrypt(ciphertext, iv, salt string) (string, error) {
	ct, ivBytes, saltBytes, err := decodeTriple(ciphertext, iv, salt)
	if err != nil {
		return "", &errs.DecryptionError{Original: err}
	}

	gcm, err := v.cipherFor(saltBytes)
	if err != nil {
		return "", &errs.DecryptionError{Original: err}
	}

	plaintext, err := gcm.Open(nil, ivBytes, ct, nil)
	if err != nil {
		return "", &errs.DecryptionError{Original: err}
	}
	return string(plaintext), nil
}

// EncryptCredentials шифрует apiKey, apiSecret и passphrase одной записью.
//
// Salt и базовый iv общие для записи, но каждое поле запечатывается собственным
// nonce (iv XOR индекс поля) с именем поля в associated data.
// Пустой passphrase хранится пустой строкой.
func (v *Vault) EncryptCredentials(creds CredentialSet) (*SealedCredentials, error) {
	salt, iv, err := v.freshSaltIV()
	if err != nil {
		return nil, err
	}

	gcm, err := v.cipherFor(salt)
	if err != nil {
		return nil, err
	}

	seal := func(field int, value string) string {
		return encode(gcm.Seal(nil, fieldNonce(iv, field), []byte(value), []byte(fieldNames[field])))
	}

	out := &SealedCredentials{
		APIKeyEncrypted:    seal(fieldAPIKey, creds.APIKey),
		APISecretEncrypted: seal(fieldAPISecret, creds.APISecret),
		IV:                 encode(iv),
		Salt:               encode(salt),
	}
	if creds.Passphrase != "" {
		out.PassphraseEncrypted = seal(fieldPassphrase, creds.Passphrase)
	}
	return out, nil
}

// DecryptCredentials расшифровывает запись, созданную EncryptCredentials
func (v *Vault) DecryptCredentials(sealed *SealedCredentials) (*CredentialSet, error) {
	if sealed == nil {
		return nil, &errs.DecryptionError{Original: errors.New("no credentials")}
	}

	ivBytes, err := decode(sealed.IV)
	if err != nil {
		return nil, &errs.DecryptionError{Field: "iv", Original: err}
	}
	saltBytes, err := decode(sealed.Salt)
	if err != nil {
		return nil, &errs.DecryptionError{Field: "salt", Original: err}
	}
	if len(ivBytes) != ivLength || len(saltBytes) != saltLength {
		return nil, &errs.DecryptionError{Original: errInvalidLength}
	}

	gcm, err := v.cipherFor(saltBytes)
	if err != nil {
		return nil, &errs.DecryptionError{Original: err}
	}

	open := func(field int, value string) (string, error) {
		ct, err := decode(value)
		if err != nil {
			return "", &errs.DecryptionError{Field: fieldNames[field], Original: err}
		}
		plain, err := gcm.Open(nil, fieldNonce(ivBytes, field), ct, []byte(fieldNames[field]))
		if err != nil {
			return "", &errs.DecryptionError{Field: fieldNames[field], Original: err}
		}
		return string(plain), nil
	}

	out := &CredentialSet{}
	if out.APIKey, err = open(fieldAPIKey, sealed.APIKeyEncrypted); err != nil {
		return nil, err
	}
	if out.APISecret, err = open(fieldAPISecret, sealed.APISecretEncrypted); err != nil {
		return nil, err
	}
	if sealed.PassphraseEncrypted != "" {
		if out.Passphrase, err = open(fieldPassphrase, sealed.PassphraseEncrypted); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (v *Vault) freshSaltIV() (salt, iv []byte, err error) {
	salt = make([]byte, saltLength)
	if _, err = io.ReadFull(v.rand, salt); err != nil {
		return nil, nil, err
	}
	iv = make([]byte, ivLength)
	if _, err = io.ReadFull(v.rand, iv); err != nil {
		return nil, nil, err
	}
	return salt, iv, nil
}

// cipherFor выводит ключ PBKDF2 для salt и создает AEAD
func (v *Vault) cipherFor(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(v.master, salt, v.iterations, keyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// fieldNonce: последний байт базового iv XOR индекс поля
func fieldNonce(iv []byte, field int) []byte {
	nonce := make([]byte, len(iv))
	copy(nonce, iv)
	nonce[len(nonce)-1] ^= byte(field)
	return nonce
}

func decodeTriple(ciphertext, iv, salt string) (ct, ivBytes, saltBytes []byte, err error) {
	if ct, err = decode(ciphertext); err != nil {
		return nil, nil, nil, err
	}
	if ivBytes, err = decode(iv); err != nil {
		return nil, nil, nil, err
	}
	if saltBytes, err = decode(salt); err != nil {
		return nil, nil, nil, err
	}
	if len(ivBytes) != ivLength || len(saltBytes) != saltLength {
		return nil, nil, nil, errInvalidLength
	}
	return ct, ivBytes, saltBytes, nil
}

func encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func decode(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errInvalidEncoding
	}
	return b, nil
}
