package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Vault encrypts and decrypts individual secret fields at rest.
//
// Scheme: AES-256-GCM with a fresh random IV per encryption. The data key is
// derived with HKDF-SHA256 from the master key and a context-specific salt.
// The salt is per-context, not per-value; see DESIGN.md for the tradeoff.
type Vault struct {
	master []byte
}

const (
	ivSize  = 12
	tagSize = 16
	keySize = 32

	saltPrefix = "field-secrets:"
)

// EncryptedSecret is the versioned at-rest form of an encrypted field.
// All three parts are hex-encoded and must be present together; any partial
// combination is corrupt, not a usable state.
type EncryptedSecret struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"auth_tag"`
}

// IsZero reports whether no encrypted value is stored at all.
func (s EncryptedSecret) IsZero() bool {
	return s.Ciphertext == "" && s.IV == "" && s.AuthTag == ""
}

// Complete reports whether all metadata required for decryption is present.
func (s EncryptedSecret) Complete() bool {
	return s.Ciphertext != "" && s.IV != "" && s.AuthTag != ""
}

// EncryptionError reports a failure to encrypt a field.
type EncryptionError struct {
	Reason string
}

func (e *EncryptionError) Error() string {
	return "encryption failed: " + e.Reason
}

// DecryptionError reports a failure to decrypt a field. Kind distinguishes
// corrupt/missing metadata from an authentication failure so callers can give
// tenants an actionable message instead of a raw cryptographic error.
type DecryptionError struct {
	Kind   DecryptionFailure
	Reason string
}

type DecryptionFailure string

const (
	// DecryptionMissingMetadata: one or more of ciphertext/iv/authTag absent or malformed.
	DecryptionMissingMetadata DecryptionFailure = "missing_metadata"
	// DecryptionAuthFailed: tag mismatch, wrong master key, or tampered data.
	DecryptionAuthFailed DecryptionFailure = "auth_failed"
)

func (e *DecryptionError) Error() string {
	return "decryption failed (" + string(e.Kind) + "): " + e.Reason
}

// New builds a Vault. The master key is mandatory; enforcing it here keeps a
// misconfigured process from starting at all.
func New(masterKey string) (*Vault, error) {
	if masterKey == "" {
		return nil, &EncryptionError{Reason: "master encryption key is not configured"}
	}
	return &Vault{master: []byte(masterKey)}, nil
}

// EncryptField encrypts value under a derivation context (e.g. "sip_password").
// The same context must be supplied to DecryptField.
func (v *Vault) EncryptField(value, context string) (EncryptedSecret, error) {
	if v == nil || len(v.master) == 0 {
		return EncryptedSecret{}, &EncryptionError{Reason: "master encryption key is not configured"}
	}
	if value == "" {
		return EncryptedSecret{}, &EncryptionError{Reason: "value must be a non-empty string"}
	}

	gcm, err := v.cipherFor(context)
	if err != nil {
		return EncryptedSecret{}, &EncryptionError{Reason: err.Error()}
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return EncryptedSecret{}, &EncryptionError{Reason: "iv generation failed: " + err.Error()}
	}

	sealed := gcm.Seal(nil, iv, []byte(value), []byte(context))
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return EncryptedSecret{
		Ciphertext: hex.EncodeToString(ct),
		IV:         hex.EncodeToString(iv),
		AuthTag:    hex.EncodeToString(tag),
	}, nil
}

// DecryptField reverses EncryptField under the same context.
func (v *Vault) DecryptField(sec EncryptedSecret, context string) (string, error) {
	if v == nil || len(v.master) == 0 {
		return "", &DecryptionError{Kind: DecryptionAuthFailed, Reason: "master encryption key is not configured"}
	}
	if !sec.Complete() {
		return "", &DecryptionError{
			Kind:   DecryptionMissingMetadata,
			Reason: "missing encryption metadata; the stored credential is incomplete, please reconfigure credentials",
		}
	}

	ct, err := hex.DecodeString(sec.Ciphertext)
	if err != nil {
		return "", &DecryptionError{Kind: DecryptionMissingMetadata, Reason: "ciphertext is not valid hex"}
	}
	iv, err := hex.DecodeString(sec.IV)
	if err != nil || len(iv) != ivSize {
		return "", &DecryptionError{Kind: DecryptionMissingMetadata, Reason: "iv is malformed"}
	}
	tag, err := hex.DecodeString(sec.AuthTag)
	if err != nil || len(tag) != tagSize {
		return "", &DecryptionError{Kind: DecryptionMissingMetadata, Reason: "auth tag is malformed"}
	}

	gcm, err := v.cipherFor(context)
	if err != nil {
		return "", &DecryptionError{Kind: DecryptionAuthFailed, Reason: err.Error()}
	}

	plain, err := gcm.Open(nil, iv, append(ct, tag...), []byte(context))
	if err != nil {
		return "", &DecryptionError{
			Kind:   DecryptionAuthFailed,
			Reason: "authentication failed; the key changed or the data was altered, please reconfigure credentials",
		}
	}
	return string(plain), nil
}

func (v *Vault) cipherFor(context string) (cipher.AEAD, error) {
	key := make([]byte, keySize)
	kdf := hkdf.New(sha256.New, v.master, []byte(saltPrefix+context), nil)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
