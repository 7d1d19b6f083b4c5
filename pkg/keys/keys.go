// Package keys holds the Ed25519 signing helpers shared by the server
// and its tooling. Device public keys are stored PEM-encoded; devices
// are configured with the raw 32-byte base64 form of the server key.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
)

var ErrInvalidKey = errors.New("invalid key")
var ErrInvalidSignature = errors.New("invalid signature")

const (
	pemTypePublic  = "PUBLIC KEY"
	pemTypePrivate = "PRIVATE KEY"
)

// GenerateKeyPair returns a new Ed25519 key pair, PEM-encoded.
func GenerateKeyPair() (publicPEM string, privatePEM string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", err
	}

	publicPEM, err = EncodePublicKeyPEM(pub)
	if err != nil {
		return "", "", err
	}

	privatePEM, err = EncodePrivateKeyPEM(priv)
	if err != nil {
		return "", "", err
	}

	return publicPEM, privatePEM, nil
}

func EncodePublicKeyPEM(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemTypePublic, Bytes: der})), nil
}

func EncodePrivateKeyPEM(priv ed25519.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemTypePrivate, Bytes: der})), nil
}

func DecodePublicKeyPEM(pemStr string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil || block.Type != pemTypePublic {
		return nil, fmt.Errorf("%w: not a public key PEM block", ErrInvalidKey)
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err.Error())
	}

	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an ed25519 key", ErrInvalidKey)
	}

	return pub, nil
}

func DecodePrivateKeyPEM(pemStr string) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil || block.Type != pemTypePrivate {
		return nil, fmt.Errorf("%w: not a private key PEM block", ErrInvalidKey)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err.Error())
	}

	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an ed25519 key", ErrInvalidKey)
	}

	return priv, nil
}

// PublicKeyFromBase64 converts the raw 32-byte base64 form used on the
// wire during registration into a PEM string for storage.
func PublicKeyFromBase64(b64 string) (string, error) {
	raw, err := decodeBase64(b64)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidKey, err.Error())
	}
	if len(raw) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, ed25519.PublicKeySize, len(raw))
	}

	return EncodePublicKeyPEM(ed25519.PublicKey(raw))
}

// PublicKeyToBase64 is the inverse of PublicKeyFromBase64, used to
// export the server public key for device configuration.
func PublicKeyToBase64(pemStr string) (string, error) {
	pub, err := DecodePublicKeyPEM(pemStr)
	if err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(pub), nil
}

// Sign signs a canonical string and returns the signature base64
// encoded for the wire. The encoding is unpadded so that signatures
// survive legacy TOON tokenization unharmed.
func Sign(priv ed25519.PrivateKey, canonical string) string {
	sig := ed25519.Sign(priv, []byte(canonical))
	return base64.RawStdEncoding.EncodeToString(sig)
}

// Verify checks a base64 signature over a canonical string against a
// PEM-encoded public key. Both padded and unpadded encodings are
// accepted.
func Verify(publicPEM, canonical, signatureB64 string) error {
	pub, err := DecodePublicKeyPEM(publicPEM)
	if err != nil {
		return err
	}

	sig, err := decodeBase64(signatureB64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSignature, err.Error())
	}

	if !ed25519.Verify(pub, []byte(canonical), sig) {
		return ErrInvalidSignature
	}

	return nil
}

func decodeBase64(s string) ([]byte, error) {
	if raw, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
