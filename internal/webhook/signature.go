package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"

	"github.com/mattjoyce/docpush/internal/config"
)

// Verify reports whether presented is the GitHub X-Hub-Signature for body,
// i.e. "sha1=" followed by the hex HMAC-SHA1 of body keyed with secret.
// An empty secret or signature never verifies.
func Verify(secret string, body []byte, presented string) bool {
	return VerifyWith(config.SignatureAlgorithmSHA1, secret, body, presented)
}

// VerifyWith is Verify for a chosen algorithm ("sha1" or "sha256").
// The comparison runs in constant time.
func VerifyWith(algorithm, secret string, body []byte, presented string) bool {
	if secret == "" || presented == "" {
		return false
	}
	expected := Sign(algorithm, secret, body)
	if expected == "" {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(presented))
}

// Sign returns the "<algorithm>=<hex>" signature of body. Unknown
// algorithms give "".
func Sign(algorithm, secret string, body []byte) string {
	var newHash func() hash.Hash
	switch algorithm {
	case config.SignatureAlgorithmSHA1:
		newHash = sha1.New
	case config.SignatureAlgorithmSHA2:
		newHash = sha256.New
	default:
		return ""
	}
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	return algorithm + "=" + hex.EncodeToString(mac.Sum(nil))
}
