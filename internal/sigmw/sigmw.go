// Package sigmw provides HTTP middleware that verifies GitHub webhook
// signatures.
package sigmw

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
)

// Header carries the hex HMAC-SHA256 of the request body, prefixed "sha256=".
const Header = "X-Hub-Signature-256"

const (
	prefix = "sha256="
	// DefaultMaxBody matches GitHub's 25 MB webhook payload cap.
	DefaultMaxBody = 25 << 20
)

var errBodyTooLarge = errors.New("body too large")

// HubSignature returns middleware that rejects requests whose body does not
// match the signature header under secret. The body is buffered and restored
// for the next handler. maxBody <= 0 selects DefaultMaxBody.
func HubSignature(secret string, maxBody int64) func(http.Handler) http.Handler {
	key := []byte(secret)
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sig := r.Header.Get(Header)
			if !strings.HasPrefix(sig, prefix) {
				http.Error(w, `{"error":"missing or malformed signature header"}`, http.StatusUnauthorized)
				return
			}
			want, err := hex.DecodeString(sig[len(prefix):])
			if err != nil {
				http.Error(w, `{"error":"malformed signature"}`, http.StatusUnauthorized)
				return
			}

			body, err := readLimited(r.Body, maxBody)
			if errors.Is(err, errBodyTooLarge) {
				http.Error(w, `{"error":"payload too large"}`, http.StatusRequestEntityTooLarge)
				return
			}
			if err != nil {
				http.Error(w, `{"error":"unreadable body"}`, http.StatusBadRequest)
				return
			}

			if !hmac.Equal(Sign(key, body), want) {
				http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

// Sign returns the raw HMAC-SHA256 of body under key.
func Sign(key, body []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(body)
	return m.Sum(nil)
}

// SignatureHeader returns the header value GitHub would send for body.
func SignatureHeader(secret string, body []byte) string {
	return prefix + hex.EncodeToString(Sign([]byte(secret), body))
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}
