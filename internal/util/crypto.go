package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Decrypt recovers the plaintext wallet private key previously sealed
// with AES-256-GCM under key (any length, stretched via SHA-256 into a
// 32-byte key). encrypted is hex-encoded nonce||ciphertext, the format
// the deployment tooling writes into ENC_PK.
func Decrypt(key []byte, encrypted string) (string, error) {
	sealed, err := hex.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("decode encrypted payload: %w", err)
	}

	sum := sha256.Sum256(key)
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("init gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return "", fmt.Errorf("encrypted payload shorter than nonce size")
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt payload: %w", err)
	}

	return string(plain), nil
}
