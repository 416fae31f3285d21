package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrDecryptFailed is returned when a stored payload cannot be decrypted
var ErrDecryptFailed = errors.New("credential decryption failed")

// Cipher encrypts and decrypts credential payloads with AES-256-CBC.
// The key is derived from the configured passphrase via SHA-256. Stored
// form is "hex(iv):hex(ciphertext)"; a payload without the separator is
// treated as legacy plaintext.
type Cipher struct {
	key []byte
}

// NewCipher derives a cipher from the passphrase. An empty passphrase
// yields a nil cipher, meaning payloads are stored as plaintext.
func NewCipher(passphrase string) *Cipher {
	if passphrase == "" {
		return nil
	}
	key := sha256.Sum256([]byte(passphrase))
	return &Cipher{key: key[:]}
}

// Encrypt encrypts plaintext into the "hex(iv):hex(ct)" form
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generating iv: %w", err)
	}

	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt reverses Encrypt. Payloads without the iv separator are
// returned unchanged so plaintext rows written before a key was
// configured keep working.
func (c *Cipher) Decrypt(stored string) (string, error) {
	if !strings.Contains(stored, ":") {
		return stored, nil
	}

	parts := strings.SplitN(stored, ":", 2)
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != aes.BlockSize {
		return "", ErrDecryptFailed
	}
	ct, err := hex.DecodeString(parts[1])
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", ErrDecryptFailed
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}

	padded := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ct)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	pad := make([]byte, padLen)
	for i := range pad {
		pad[i] = byte(padLen)
	}
	return append(data, pad...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}
