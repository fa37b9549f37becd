package push

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body when a
// signing secret is configured.
const SignatureHeader = "X-Pushcron-Signature"

// WithSigningSecret signs every send request body with secret.
func (c *Client) WithSigningSecret(secret string) *Client {
	c.secret = secret
	return c
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature lets a gateway check a request body against the
// SignatureHeader value.
func VerifySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(sign(secret, body)), []byte(signature))
}
