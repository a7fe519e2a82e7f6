// Package cryptotoken encrypts small payloads into URL-safe opaque tokens.
//
// The format is iv||AES-128-CBC(plaintext) encoded with a URL-safe base64
// variant ('+' becomes '_', '/' becomes '$', padding stripped). The format is
// fixed; tokens minted by older deployments must keep decrypting, so neither
// the key derivation nor the alphabet may change.
package cryptotoken

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// ErrDecode is returned for any malformed token: bad encoding, truncated
// data, or invalid padding. Callers treat it as a user-input error.
var ErrDecode = errors.New("cryptotoken: cannot decode token")

const keySize = aes.BlockSize // AES-128

// Encrypt encrypts plain into a URL-safe token using key. A fresh random IV
// is generated per call, so two encryptions of the same payload differ.
func Encrypt(plain []byte, key string) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", pkgerrors.Wrap(err, "[cryptotoken.Encrypt] rand.Read")
	}

	block, err := aes.NewCipher(deriveKey(key))
	if err != nil {
		return "", pkgerrors.Wrap(err, "[cryptotoken.Encrypt] aes.NewCipher")
	}

	padded := pkcs7Pad(plain, aes.BlockSize)
	out := make([]byte, len(iv)+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[len(iv):], padded)

	return urlsafeEncode(out), nil
}

// Decrypt reverses Encrypt. It returns ErrDecode on any malformed input.
func Decrypt(token string, key string) ([]byte, error) {
	data, err := urlsafeDecode(token)
	if err != nil {
		return nil, ErrDecode
	}
	if len(data) < aes.BlockSize || (len(data)-aes.BlockSize)%aes.BlockSize != 0 || len(data) == aes.BlockSize {
		return nil, ErrDecode
	}

	block, err := aes.NewCipher(deriveKey(key))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[cryptotoken.Decrypt] aes.NewCipher")
	}

	iv, ciphertext := data[:aes.BlockSize], data[aes.BlockSize:]
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	plain, ok := pkcs7Unpad(plain, aes.BlockSize)
	if !ok {
		return nil, ErrDecode
	}
	return plain, nil
}

// EncryptJSON serializes data to compact JSON and encrypts it. Numeric-looking
// string values are written as JSON numbers and non-ASCII text is left
// unescaped, matching the serialization of tokens already in circulation.
func EncryptJSON(data map[string]any, key string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(numericNormalize(data)); err != nil {
		return "", pkgerrors.Wrap(err, "[cryptotoken.EncryptJSON] json encode")
	}
	return Encrypt(bytes.TrimRight(buf.Bytes(), "\n"), key)
}

// DecryptJSON decrypts a token produced by EncryptJSON back into a mapping.
func DecryptJSON(token string, key string) (map[string]any, error) {
	plain, err := Decrypt(token, key)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(plain))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, ErrDecode
	}
	return data, nil
}

// deriveKey pads key with spaces up to the key size, or truncates it. The
// policy is deliberate lossy legacy behavior kept for token compatibility.
func deriveKey(key string) []byte {
	b := []byte(key)
	if len(b) < keySize {
		return append(b, bytes.Repeat([]byte(" "), keySize-len(b))...)
	}
	return b[:keySize]
}

func urlsafeEncode(data []byte) string {
	s := base64.StdEncoding.EncodeToString(data)
	s = strings.ReplaceAll(s, "+", "_")
	s = strings.ReplaceAll(s, "/", "$")
	return strings.TrimRight(s, "=")
}

func urlsafeDecode(s string) ([]byte, error) {
	s = strings.ReplaceAll(s, "_", "+")
	s = strings.ReplaceAll(s, "$", "/")
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	return base64.StdEncoding.DecodeString(s)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}

// numericNormalize rewrites string values that look like numbers into
// json.Number so they serialize unquoted. Nested mappings are handled the
// same way.
func numericNormalize(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case string:
			if n, ok := asNumber(val); ok {
				out[k] = n
			} else {
				out[k] = val
			}
		case map[string]any:
			out[k] = numericNormalize(val)
		default:
			out[k] = val
		}
	}
	return out
}

func asNumber(s string) (json.Number, bool) {
	if s == "" {
		return "", false
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return "", false
	}
	// ParseFloat accepts forms JSON does not ("inf", hex, leading '+').
	if !json.Valid([]byte(s)) {
		return "", false
	}
	return json.Number(s), true
}
