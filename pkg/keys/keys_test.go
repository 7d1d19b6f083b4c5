package keys

import (
	"errors"
	"testing"

	"github.com/matryer/is"

	"github.com/toonwire/attendance-mgmt/pkg/toon"
)

func TestSignAndVerify(t *testing.T) {
	is := is.New(t)

	pubPEM, privPEM, err := GenerateKeyPair()
	is.NoErr(err)

	priv, err := DecodePrivateKeyPEM(privPEM)
	is.NoErr(err)

	canon := "D1:dev_1|NONCE:n1|TS:2025-01-01T09:00:00Z"
	sig := Sign(priv, canon)

	is.NoErr(Verify(pubPEM, canon, sig))
}

func TestVerifyRejectsTamperedCanonical(t *testing.T) {
	is := is.New(t)

	pubPEM, privPEM, err := GenerateKeyPair()
	is.NoErr(err)

	priv, err := DecodePrivateKeyPEM(privPEM)
	is.NoErr(err)

	tokens := map[string]any{
		"D1":    "dev_1",
		"NONCE": "n1",
		"TS":    "2025-01-01T09:00:00Z",
	}
	sig := Sign(priv, toon.Canonical(tokens))

	// tampering any non-signature token must invalidate the signature
	tokens["D1"] = "dev_2"
	err = Verify(pubPEM, toon.Canonical(tokens), sig)
	is.True(errors.Is(err, ErrInvalidSignature))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	is := is.New(t)

	_, privPEM, err := GenerateKeyPair()
	is.NoErr(err)
	otherPubPEM, _, err := GenerateKeyPair()
	is.NoErr(err)

	priv, err := DecodePrivateKeyPEM(privPEM)
	is.NoErr(err)

	sig := Sign(priv, "payload")
	err = Verify(otherPubPEM, "payload", sig)
	is.True(errors.Is(err, ErrInvalidSignature))
}

func TestBase64PEMConversionRoundTrip(t *testing.T) {
	is := is.New(t)

	pubPEM, _, err := GenerateKeyPair()
	is.NoErr(err)

	b64, err := PublicKeyToBase64(pubPEM)
	is.NoErr(err)

	back, err := PublicKeyFromBase64(b64)
	is.NoErr(err)
	is.Equal(back, pubPEM)
}

func TestPublicKeyFromBase64RejectsWrongLength(t *testing.T) {
	is := is.New(t)

	_, err := PublicKeyFromBase64("c2hvcnQ=")
	is.True(errors.Is(err, ErrInvalidKey))
}
