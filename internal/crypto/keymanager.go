// Package crypto provides key management, EIP-712 agent signing, and
// ed25519 request authentication for the venue adapters.
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
	// pbkdf2Iterations follows the OWASP minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyFileVersion   = 1
)

// keyFile is the on-disk envelope for an encrypted private key. All binary
// fields are standard base64.
type keyFile struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig names the places LoadKey looks for a signing key. A plaintext
// PrivateKey wins over an encrypted key file when both are set.
type KeyConfig struct {
	// PrivateKey is a hex-encoded key, with or without the 0x prefix.
	PrivateKey string

	// EncryptedKeyPath points at a file written by EncryptKey.
	EncryptedKeyPath string

	// KeyPassword decrypts the file at EncryptedKeyPath.
	KeyPassword string
}

// normalizeHexKey strips an optional 0x prefix and checks the key is 32
// bytes of valid hex.
func normalizeHexKey(privateKeyHex string) (string, error) {
	k := strings.TrimPrefix(privateKeyHex, "0x")
	raw, err := hex.DecodeString(k)
	if err != nil {
		return "", fmt.Errorf("crypto: private key is not hex: %w", err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("crypto: private key must be 32 bytes, got %d", len(raw))
	}
	return k, nil
}

// aeadFor derives an AES-256 key from the password and salt and returns the
// GCM cipher built on it.
func aeadFor(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm init: %w", err)
	}
	return gcm, nil
}

// EncryptKey seals a hex private key under a password using PBKDF2 key
// derivation and AES-256-GCM, returning the JSON envelope to write to disk.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	keyHex, err := normalizeHexKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	keyBytes, _ := hex.DecodeString(keyHex)

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	gcm, err := aeadFor(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	enc := base64.StdEncoding
	return json.MarshalIndent(keyFile{
		Version:    keyFileVersion,
		Salt:       enc.EncodeToString(salt),
		Nonce:      enc.EncodeToString(nonce),
		Ciphertext: enc.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}, "", "  ")
}

// DecryptKey opens an envelope produced by EncryptKey and returns the hex
// private key without the 0x prefix.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("crypto: parse key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}

	fields := map[string]string{"salt": kf.Salt, "nonce": kf.Nonce, "ciphertext": kf.Ciphertext}
	decoded := make(map[string][]byte, len(fields))
	for name, val := range fields {
		b, err := base64.StdEncoding.DecodeString(val)
		if err != nil {
			return "", fmt.Errorf("crypto: decode %s: %w", name, err)
		}
		decoded[name] = b
	}

	gcm, err := aeadFor(password, decoded["salt"])
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, decoded["nonce"], decoded["ciphertext"], nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt key (wrong password?): %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

// LoadKey resolves a private key from the config: a plaintext PrivateKey
// first, then an encrypted key file, else an error.
func LoadKey(cfg KeyConfig) (string, error) {
	if cfg.PrivateKey != "" {
		return normalizeHexKey(cfg.PrivateKey)
	}
	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read encrypted key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}
	return "", errors.New("crypto: no key configured (set private_key or encrypted_key_path)")
}
