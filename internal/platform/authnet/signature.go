package authnet

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// SignatureHeader is the header carrying the webhook payload signature.
const SignatureHeader = "x-anet-signature"

const signaturePrefix = "sha512="

// Sign computes the hex HMAC-SHA512 of the raw payload under the merchant
// signature key, in the "sha512=<hex>" header format.
func Sign(payload []byte, signatureKey string) string {
	mac := hmac.New(sha512.New, []byte(signatureKey))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether the header value matches the HMAC-SHA512 of
// payload under the signature key. Comparison is constant-time and the hex
// digest is case-insensitive; a header without the sha512= prefix is rejected.
func VerifySignature(payload []byte, signatureKey, header string) bool {
	if !strings.HasPrefix(strings.ToLower(header), signaturePrefix) {
		return false
	}
	got := strings.ToLower(header[len(signaturePrefix):])
	want := Sign(payload, signatureKey)[len(signaturePrefix):]
	return hmac.Equal([]byte(got), []byte(want))
}
