package middleware

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJWKToRSAPublicKeyDecodesStandardExponent(t *testing.T) {
	// A full RSA modulus isn't needed to exercise the base64url decode path;
	// the exponent 65537 (0x010001), base64url-encoded, is the standard
	// public exponent every real-world JWKS entry carries.
	k := jwk{Kid: "test-key", Kty: "RSA", N: "AQAB", E: "AQAB"}

	pub, err := jwkToRSAPublicKey(k)
	require.NoError(t, err)
	require.Equal(t, 65537, pub.E)
	require.NotNil(t, pub.N)
}

func TestJWKToRSAPublicKeyRejectsInvalidBase64(t *testing.T) {
	k := jwk{Kid: "test-key", Kty: "RSA", N: "not-valid-base64!!", E: "AQAB"}

	_, err := jwkToRSAPublicKey(k)
	require.Error(t, err)
}
