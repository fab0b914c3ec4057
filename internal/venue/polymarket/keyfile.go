package polymarket

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
	// keyfileIterations is the OWASP-recommended minimum for PBKDF2-HMAC-SHA256.
	keyfileIterations = 480_000
	keyfileSaltLen    = 16
	keyfileAESKeyLen  = 32
	keyfileVersion    = 1
)

// keyfileJSON is the on-disk format of an encrypted signing key.
type keyfileJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource tells ResolveKey where to find the CLOB signing key. Either a
// raw hex key or an encrypted key file plus password.
type KeySource struct {
	RawHex      string
	KeyfilePath string
	KeyfilePass string
}

// EncryptKeyfile encrypts a hex-encoded secp256k1 private key with a
// password. The key is derived with PBKDF2-HMAC-SHA256 and the payload
// sealed with AES-256-GCM. The returned JSON is what ResolveKey expects on
// disk.
func EncryptKeyfile(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("polymarket: keyfile password must not be empty")
	}

	keyBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("polymarket: invalid private key hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("polymarket: expected 32-byte key, got %d bytes", len(keyBytes))
	}

	salt := make([]byte, keyfileSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("polymarket: generating salt: %w", err)
	}

	gcm, err := keyfileGCM(password, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("polymarket: generating nonce: %w", err)
	}

	out := keyfileJSON{
		Version:    keyfileVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// DecryptKeyfile reverses EncryptKeyfile, returning the hex-encoded private
// key without a 0x prefix.
func DecryptKeyfile(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("polymarket: keyfile password must not be empty")
	}

	var stored keyfileJSON
	if err := json.Unmarshal(data, &stored); err != nil {
		return "", fmt.Errorf("polymarket: parsing keyfile: %w", err)
	}
	if stored.Version != keyfileVersion {
		return "", fmt.Errorf("polymarket: unsupported keyfile version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("polymarket: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("polymarket: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("polymarket: decoding ciphertext: %w", err)
	}

	gcm, err := keyfileGCM(password, salt)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("polymarket: keyfile decryption failed (wrong password?): %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

// ResolveKey resolves the signing key from src. A raw hex key takes
// precedence; otherwise the encrypted key file is read and decrypted.
func ResolveKey(src KeySource) (string, error) {
	if src.RawHex != "" {
		k := strings.TrimPrefix(src.RawHex, "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("polymarket: private key is not valid hex: %w", err)
		}
		return k, nil
	}

	if src.KeyfilePath != "" {
		data, err := os.ReadFile(src.KeyfilePath)
		if err != nil {
			return "", fmt.Errorf("polymarket: reading keyfile: %w", err)
		}
		return DecryptKeyfile(data, src.KeyfilePass)
	}

	return "", errors.New("polymarket: no signing key configured")
}

func keyfileGCM(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, keyfileIterations, keyfileAESKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("polymarket: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("polymarket: creating GCM: %w", err)
	}
	return gcm, nil
}
