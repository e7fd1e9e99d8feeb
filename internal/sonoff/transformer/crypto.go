package transformer

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5" //nolint:gosec // Key derivation mandated by the device protocol
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// ivSize is the AES block and IV size in bytes.
const ivSize = aes.BlockSize

var (
	// ErrDecrypt is returned when a payload cannot be decrypted.
	ErrDecrypt = errors.New("transformer: decryption failed")

	// ErrEncrypt is returned when a payload cannot be encrypted.
	ErrEncrypt = errors.New("transformer: encryption failed")
)

// deriveKey returns the 16 byte AES key for a device key.
func deriveKey(key string) []byte {
	sum := md5.Sum([]byte(key)) //nolint:gosec // See import
	return sum[:]
}

// Decrypt decrypts a base64 ciphertext with the device key and base64 IV.
func Decrypt(cipherB64, key, ivB64 string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(cipherB64)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext: %w", ErrDecrypt, err)
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return "", fmt.Errorf("%w: iv: %w", ErrDecrypt, err)
	}
	if len(iv) != ivSize {
		return "", fmt.Errorf("%w: iv length %d", ErrDecrypt, len(iv))
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d", ErrDecrypt, len(data))
	}

	block, err := aes.NewCipher(deriveKey(key))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecrypt, err)
	}

	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, data)

	plain, err = unpad(plain)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Encrypt encrypts plaintext with the device key and base64 IV and
// returns base64 ciphertext.
func Encrypt(plain, key, ivB64 string) (string, error) {
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return "", fmt.Errorf("%w: iv: %w", ErrEncrypt, err)
	}
	if len(iv) != ivSize {
		return "", fmt.Errorf("%w: iv length %d", ErrEncrypt, len(iv))
	}

	block, err := aes.NewCipher(deriveKey(key))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncrypt, err)
	}

	data := pad([]byte(plain))
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)

	return base64.StdEncoding.EncodeToString(out), nil
}

// RandomIV returns a fresh base64 encoded 16 byte IV.
func RandomIV() (string, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generating iv: %w", err)
	}
	return base64.StdEncoding.EncodeToString(iv), nil
}

// pad applies PKCS#7 padding.
func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

// unpad strips PKCS#7 padding.
func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrDecrypt)
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", ErrDecrypt)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrDecrypt)
		}
	}
	return b[:len(b)-n], nil
}
