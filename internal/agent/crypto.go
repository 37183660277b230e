package agent

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	domainServer = "server"
	domainDevice = "device"
)

// secret derives the login or device secret for an account.
func secret(email, password, domain string) []byte {
	sum := sha256.Sum256([]byte(strings.ToLower(email) + password + domain))
	return sum[:]
}

// updateToken chains a new session token into an encryption token.
func updateToken(old []byte, sessionToken string) ([]byte, error) {
	tok, err := hex.DecodeString(sessionToken)
	if err != nil {
		return nil, fmt.Errorf("decode session token: %w", err)
	}
	h := sha256.New()
	h.Write(old)
	h.Write(tok)
	return h.Sum(nil), nil
}

func sign(key []byte, data string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// encrypt AES-128-CBC encrypts plain with the first half of token as IV and
// the second half as key, returning base64.
func encrypt(token []byte, plain []byte) (string, error) {
	if len(token) != 32 {
		return "", errors.New("encryption token must be 32 bytes")
	}
	block, err := aes.NewCipher(token[16:])
	if err != nil {
		return "", err
	}
	padded := pkcs7Pad(plain, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, token[:16]).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

func decrypt(token []byte, encoded string) ([]byte, error) {
	if len(token) != 32 {
		return nil, errors.New("encryption token must be 32 bytes")
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, errors.New("ciphertext is not a whole number of blocks")
	}
	block, err := aes.NewCipher(token[16:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, token[:16]).CryptBlocks(out, data)
	return pkcs7Unpad(out, aes.BlockSize)
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append([]byte{}, b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errors.New("invalid padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return b[:len(b)-n], nil
}
