// Package credentials encrypts and decrypts stored transport passwords.
//
// Current payloads are AES-256-GCM, serialized as
// "hex(nonce):hex(tag):hex(ciphertext)". Payloads written by older releases
// use AES-256-CBC with PKCS#7 padding as "hex(iv):hex(ciphertext)" and can
// still be decrypted with the same key.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

var (
	ErrInvalidKey    = errors.New("credentials: encryption key must be exactly 32 bytes")
	ErrInvalidFormat = errors.New("credentials: malformed payload")
	ErrIntegrity     = errors.New("credentials: integrity check failed")
)

// Cipher is safe for concurrent use.
type Cipher struct {
	aead  cipher.AEAD
	block cipher.Block
}

// NewCipher builds a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidKey, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credentials: init block cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("credentials: init gcm: %w", err)
	}
	return &Cipher{aead: aead, block: block}, nil
}

// Encrypt seals plaintext with a fresh random nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("credentials: read nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt opens a payload produced by Encrypt or by the legacy CBC scheme.
func (c *Cipher) Decrypt(payload string) (string, error) {
	parts := strings.Split(payload, ":")
	switch len(parts) {
	case 3:
		return c.decryptGCM(parts)
	case 2:
		return c.decryptLegacy(parts)
	default:
		return "", fmt.Errorf("%w: expected 2 or 3 segments, got %d", ErrInvalidFormat, len(parts))
	}
}

func (c *Cipher) decryptGCM(parts []string) (string, error) {
	nonce, err := decodeSegment(parts[0], "nonce")
	if err != nil {
		return "", err
	}
	tag, err := decodeSegment(parts[1], "tag")
	if err != nil {
		return "", err
	}
	ct, err := decodeSegment(parts[2], "ciphertext")
	if err != nil {
		return "", err
	}
	if len(nonce) != NonceSize || len(tag) != TagSize {
		return "", fmt.Errorf("%w: nonce or tag length", ErrInvalidFormat)
	}
	plain, err := c.aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", ErrIntegrity
	}
	return string(plain), nil
}

func (c *Cipher) decryptLegacy(parts []string) (string, error) {
	iv, err := decodeSegment(parts[0], "iv")
	if err != nil {
		return "", err
	}
	ct, err := decodeSegment(parts[1], "ciphertext")
	if err != nil {
		return "", err
	}
	if len(iv) != aes.BlockSize || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: legacy iv or block length", ErrInvalidFormat)
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plain, ct)
	return unpad(plain)
}

func unpad(b []byte) (string, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return "", ErrIntegrity
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return "", ErrIntegrity
		}
	}
	return string(b[:len(b)-n]), nil
}

func decodeSegment(s, what string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not hex", ErrInvalidFormat, what)
	}
	return b, nil
}
