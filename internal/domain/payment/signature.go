package payment

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
)

// Verifier authenticates inbound notifications against the merchant server
// key shared with the gateway.
type Verifier struct {
	serverKey string
}

// NewVerifier creates a Verifier. An empty server key is allowed here but
// makes every verification fail: a missing secret must fail closed.
func NewVerifier(serverKey string) *Verifier {
	return &Verifier{serverKey: serverKey}
}

// Verify checks that signatureKey equals the hex-encoded
// SHA-512(orderID || statusCode || grossAmount || serverKey). The inputs are
// the raw wire values from the notification, before any normalization.
func (v *Verifier) Verify(orderID, statusCode, grossAmount, signatureKey string) bool {
	if v.serverKey == "" {
		return false
	}

	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + v.serverKey))
	expected := hex.EncodeToString(sum[:])

	return subtle.ConstantTimeCompare([]byte(expected), []byte(signatureKey)) == 1
}
