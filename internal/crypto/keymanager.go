// Package crypto resolves and protects the signing key of the swap executor
// wallet. The key reaches the process either as raw hex (usually through
// SENTINEL_WALLET_PRIVATE_KEY) or as a password-protected keyfile on disk.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	// walletKeyLen is the secp256k1 private key length the executor signs with.
	walletKeyLen = 32
	// keyfileVersion is the keyfile schema version.
	keyfileVersion = 1
)

// walletKeyfile is the on-disk shape of an encrypted wallet key. All binary
// fields are base64 standard encoding.
type walletKeyfile struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource carries the configured locations a wallet key may come from.
// Populated from the [wallet] config section and its SENTINEL_WALLET_* overrides.
type KeySource struct {
	// RawPrivateKey is the hex-encoded signing key, with or without 0x prefix.
	// When set it wins over the keyfile.
	RawPrivateKey string

	// KeyfilePath points at a file written by EncryptWalletKey.
	KeyfilePath string

	// KeyfilePassword decrypts the file at KeyfilePath.
	KeyfilePassword string
}

// deriveKey stretches the keyfile password into an AES-256 key.
func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
}

func newGCM(derivedKey []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: wallet cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: wallet GCM: %w", err)
	}
	return gcm, nil
}

// normalizeKeyHex strips an optional 0x prefix and validates that the hex
// decodes to a full-length signing key.
func normalizeKeyHex(privateKeyHex string) ([]byte, string, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, "", fmt.Errorf("crypto: wallet key is not valid hex: %w", err)
	}
	if len(keyBytes) != walletKeyLen {
		return nil, "", fmt.Errorf("crypto: wallet key must be %d bytes, got %d", walletKeyLen, len(keyBytes))
	}
	return keyBytes, keyHex, nil
}

// EncryptWalletKey seals a hex-encoded wallet key under a password using
// PBKDF2-HMAC-SHA256 derivation and AES-256-GCM, returning the keyfile JSON.
func EncryptWalletKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: keyfile password must not be empty")
	}
	keyBytes, _, err := normalizeKeyHex(privateKeyHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := newGCM(deriveKey(password, salt))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	out := walletKeyfile{
		Version:    keyfileVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// DecryptWalletKey opens a keyfile produced by EncryptWalletKey and returns
// the hex-encoded wallet key without 0x prefix.
func DecryptWalletKey(keyfileJSON []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: keyfile password must not be empty")
	}

	var stored walletKeyfile
	if err := json.Unmarshal(keyfileJSON, &stored); err != nil {
		return "", fmt.Errorf("crypto: parsing wallet keyfile: %w", err)
	}
	if stored.Version != keyfileVersion {
		return "", fmt.Errorf("crypto: unsupported keyfile version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding keyfile salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding keyfile nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding keyfile ciphertext: %w", err)
	}

	gcm, err := newGCM(deriveKey(password, salt))
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: wallet keyfile decryption failed (wrong password?): %w", err)
	}

	return hex.EncodeToString(plaintext), nil
}

// LoadWalletKey resolves the executor's signing key: raw hex first, then the
// encrypted keyfile.
func LoadWalletKey(src KeySource) (string, error) {
	if src.RawPrivateKey != "" {
		_, keyHex, err := normalizeKeyHex(src.RawPrivateKey)
		if err != nil {
			return "", err
		}
		return keyHex, nil
	}

	if src.KeyfilePath != "" {
		data, err := os.ReadFile(src.KeyfilePath)
		if err != nil {
			return "", fmt.Errorf("crypto: reading wallet keyfile: %w", err)
		}
		return DecryptWalletKey(data, src.KeyfilePassword)
	}

	return "", errors.New("crypto: no wallet key configured (set wallet.private_key or wallet.encrypted_key_path)")
}
