package signature

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultKeyBits is the modulus size used by GenerateKeyPair when bits is 0.
const DefaultKeyBits = 4096

// KeyPair holds PEM encoded keys.
type KeyPair struct {
	PrivateKeyPEM []byte
	PublicKeyPEM  []byte
}

// GenerateKeyPair creates a new RSA key pair. The private key is PKCS#1
// encoded, the public key PKIX encoded.
func GenerateKeyPair(bits int) (*KeyPair, error) {
	if bits == 0 {
		bits = DefaultKeyBits
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return &KeyPair{
		PrivateKeyPEM: pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}),
		PublicKeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}),
	}, nil
}

// EncodePublicKey returns the base64 form of a PEM public key, as expected
// by namespace registration.
func EncodePublicKey(publicKeyPEM []byte) string {
	return base64.StdEncoding.EncodeToString(publicKeyPEM)
}

// Sign signs message with a PEM private key (PKCS#1 or PKCS#8) and returns
// the base64 signature.
func Sign(privateKeyPEM []byte, message []byte) (string, error) {
	priv, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}
	return SignWithKey(priv, message)
}

// SignWithKey is Sign for an already parsed key.
func SignWithKey(priv *rsa.PrivateKey, message []byte) (string, error) {
	sig, err := jwt.SigningMethodRS256.Sign(string(message), priv)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}
