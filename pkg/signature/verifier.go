// Package signature verifies detached RSA-SHA256 signatures over registry
// messages and handles the base64/PEM key encodings clients submit.
//
// Signatures use RSASSA-PKCS1-v1_5 with SHA-256 (the JWT "RS256" method),
// which is what `openssl dgst -sha256 -sign` and Node's
// crypto.createSign("RSA-SHA256") produce.
package signature

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedKey is returned when a key is not base64, not PEM, or not a
	// usable RSA public key.
	ErrMalformedKey = errors.New("key should be sent as base64, decoded base64 should be .pem format")

	// ErrMalformedSignature is returned when a signature is not valid base64.
	ErrMalformedSignature = errors.New("signature should be base64 encoded")
)

// probeMessage is encrypted with every imported key to prove it is usable.
var probeMessage = []byte("Test")

// ParsePublicKey parses a PEM encoded RSA public key (PKIX, PKCS#1 or
// certificate) and checks that it can encrypt.
func ParsePublicKey(pemText string) (*rsa.PublicKey, error) {
	pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemText))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	if _, err := rsa.EncryptPKCS1v15(rand.Reader, pub, probeMessage); err != nil {
		return nil, fmt.Errorf("%w: key cannot encrypt: %v", ErrMalformedKey, err)
	}
	return pub, nil
}

// DecodePublicKey decodes a base64 encoded PEM public key as submitted in a
// namespace registration. It returns the PEM text to persist and the parsed
// key.
func DecodePublicKey(keyBase64 string) (string, *rsa.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(keyBase64))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	pemText := string(raw)
	pub, err := ParsePublicKey(pemText)
	if err != nil {
		return "", nil, err
	}
	return pemText, pub, nil
}

// LoadPublicKeyFile reads and validates the PEM public key at path.
func LoadPublicKeyFile(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key %s: %w", path, err)
	}
	pub, err := ParsePublicKey(string(data))
	if err != nil {
		return nil, fmt.Errorf("key in file %s was not a valid public key in PEM format: %w\n"+
			"\tTo create a public/private key pair: envregctl keygen --out <prefix>\n"+
			"\tor: ssh-keygen -t rsa -b 4096, then ssh-keygen -f <public key> -e -m pem > key.pub", path, err)
	}
	return pub, nil
}

// Verify checks signatureBase64 over message with the PEM public key.
// A signature that does not match yields (false, nil); only a malformed key
// or a non-base64 signature yields an error.
func Verify(publicKeyPEM string, message []byte, signatureBase64 string) (bool, error) {
	pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicKeyPEM))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return VerifyWithKey(pub, message, signatureBase64)
}

// VerifyWithKey is Verify for an already parsed key.
func VerifyWithKey(pub *rsa.PublicKey, message []byte, signatureBase64 string) (bool, error) {
	if pub == nil {
		return false, ErrMalformedKey
	}
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signatureBase64))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if err := jwt.SigningMethodRS256.Verify(string(message), sig, pub); err != nil {
		return false, nil
	}
	return true, nil
}
