// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ssskey

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// KeySize is the size in bytes of a secret storage key.
const KeySize = 32

// DefaultPassphraseBits is the derived key length when the key
// description does not specify one.
const DefaultPassphraseBits = 256

// Recovery keys are base58 of prefix || key || parity, where parity is
// the XOR of every preceding byte.
var recoveryKeyPrefix = [2]byte{0x8B, 0x01}

const recoveryKeyLength = len(recoveryKeyPrefix) + KeySize + 1

// DecodeRecoveryKey parses a recovery key as shown to users. Spaces
// and other whitespace are ignored.
func DecodeRecoveryKey(recoveryKey string) ([]byte, error) {
	compact := strings.Join(strings.Fields(recoveryKey), "")
	if compact == "" {
		return nil, fmt.Errorf("ssskey: empty recovery key")
	}
	decoded, err := base58.Decode(compact)
	if err != nil {
		return nil, fmt.Errorf("ssskey: recovery key is not base58: %w", err)
	}
	if len(decoded) != recoveryKeyLength {
		return nil, fmt.Errorf("ssskey: recovery key decodes to %d bytes, want %d", len(decoded), recoveryKeyLength)
	}
	if decoded[0] != recoveryKeyPrefix[0] || decoded[1] != recoveryKeyPrefix[1] {
		return nil, fmt.Errorf("ssskey: recovery key has wrong prefix")
	}
	var parity byte
	for _, b := range decoded {
		parity ^= b
	}
	if parity != 0 {
		return nil, fmt.Errorf("ssskey: recovery key parity check failed")
	}

	key := make([]byte, KeySize)
	copy(key, decoded[len(recoveryKeyPrefix):len(recoveryKeyPrefix)+KeySize])
	return key, nil
}

// EncodeRecoveryKey formats key as a recovery key in groups of four
// characters.
func EncodeRecoveryKey(key []byte) (string, error) {
	if len(key) != KeySize {
		return "", fmt.Errorf("ssskey: key is %d bytes, want %d", len(key), KeySize)
	}
	raw := make([]byte, 0, recoveryKeyLength)
	raw = append(raw, recoveryKeyPrefix[:]...)
	raw = append(raw, key...)
	var parity byte
	for _, b := range raw {
		parity ^= b
	}
	raw = append(raw, parity)

	encoded := base58.Encode(raw)
	var builder strings.Builder
	for i := 0; i < len(encoded); i += 4 {
		if i > 0 {
			builder.WriteByte(' ')
		}
		builder.WriteString(encoded[i:min(i+4, len(encoded))])
	}
	return builder.String(), nil
}

// DeriveFromPassphrase derives a key with PBKDF2-HMAC-SHA-512, the
// m.pbkdf2 algorithm. bits of zero means DefaultPassphraseBits.
func DeriveFromPassphrase(passphrase, salt string, iterations, bits int) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("ssskey: empty passphrase")
	}
	if iterations <= 0 {
		return nil, fmt.Errorf("ssskey: iterations must be positive, got %d", iterations)
	}
	if bits == 0 {
		bits = DefaultPassphraseBits
	}
	if bits < 0 || bits%8 != 0 {
		return nil, fmt.Errorf("ssskey: bits must be a positive multiple of 8, got %d", bits)
	}
	return pbkdf2.Key([]byte(passphrase), []byte(salt), iterations, bits/8, sha512.New), nil
}

// deriveKeys splits the HKDF-SHA-256 output for secret name into the
// AES and HMAC keys.
func deriveKeys(key []byte, name string) (aesKey, macKey []byte, err error) {
	zeroSalt := make([]byte, sha256.Size)
	reader := hkdf.New(sha256.New, key, zeroSalt, []byte(name))
	derived := make([]byte, 64)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, nil, fmt.Errorf("ssskey: reading from HKDF: %w", err)
	}
	return derived[:32], derived[32:], nil
}

// computeMAC encrypts 32 zero bytes under the empty secret name and
// returns the HMAC of the ciphertext.
func computeMAC(key, iv []byte) ([]byte, error) {
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("ssskey: iv is %d bytes, want %d", len(iv), aes.BlockSize)
	}
	aesKey, macKey, err := deriveKeys(key, "")
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("ssskey: %w", err)
	}
	ciphertext := make([]byte, 32)
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, ciphertext)

	mac := hmac.New(sha256.New, macKey)
	mac.Write(ciphertext)
	return mac.Sum(nil), nil
}

// KeyCheck returns a fresh iv and the matching mac for key, encoded as
// a key description publishes them.
func KeyCheck(key []byte) (iv, mac string, err error) {
	ivBytes := make([]byte, aes.BlockSize)
	if _, err := rand.Read(ivBytes); err != nil {
		return "", "", fmt.Errorf("ssskey: generating iv: %w", err)
	}
	// Clear bit 63 so the CTR counter cannot wrap.
	ivBytes[8] &= 0x7f

	macBytes, err := computeMAC(key, ivBytes)
	if err != nil {
		return "", "", err
	}
	return base64.RawStdEncoding.EncodeToString(ivBytes), base64.RawStdEncoding.EncodeToString(macBytes), nil
}

// CheckKey reports whether key produces mac for iv. Both are base64,
// padded or not. A wrong key is (false, nil); malformed iv or mac is
// an error.
func CheckKey(key []byte, iv, mac string) (bool, error) {
	if len(key) != KeySize {
		return false, nil
	}
	ivBytes, err := decodeBase64(iv)
	if err != nil {
		return false, fmt.Errorf("ssskey: decoding iv: %w", err)
	}
	wantMAC, err := decodeBase64(mac)
	if err != nil {
		return false, fmt.Errorf("ssskey: decoding mac: %w", err)
	}
	gotMAC, err := computeMAC(key, ivBytes)
	if err != nil {
		return false, err
	}
	return hmac.Equal(gotMAC, wantMAC), nil
}

func decodeBase64(value string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(value, "="))
}
