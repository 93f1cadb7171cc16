package sigmw

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var echoHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
})

func post(h http.Handler, body, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if sig != "" {
		req.Header.Set(Header, sig)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHubSignature_Valid(t *testing.T) {
	t.Parallel()

	h := HubSignature("s3cret", 0)(echoHandler)
	body := `{"action":"created"}`

	rec := post(h, body, SignatureHeader("s3cret", []byte(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != body {
		t.Errorf("downstream body = %q, want restored %q", rec.Body.String(), body)
	}
}

// Matches the example in GitHub's webhook validation documentation.
func TestSignatureHeader_KnownVector(t *testing.T) {
	t.Parallel()

	got := SignatureHeader("It's a Secret to Everybody", []byte("Hello, World!"))
	want := "sha256=757107ea0eb2509fc211221cce984b8a37570b6d7586c22c46f4379c8b043e17"
	if got != want {
		t.Errorf("SignatureHeader = %q, want %q", got, want)
	}
}

func TestHubSignature_Rejects(t *testing.T) {
	t.Parallel()

	body := `{"action":"created"}`
	tests := []struct {
		name string
		sig  string
	}{
		{"missing", ""},
		{"no prefix", strings.TrimPrefix(SignatureHeader("s3cret", []byte(body)), "sha256=")},
		{"sha1 prefix", "sha1=abcdef"},
		{"not hex", "sha256=zzzz"},
		{"wrong secret", SignatureHeader("other", []byte(body))},
		{"different body", SignatureHeader("s3cret", []byte(`{"action":"deleted"}`))},
	}

	h := HubSignature("s3cret", 0)(echoHandler)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := post(h, body, tt.sig)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestHubSignature_BodyTooLarge(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("x", 65)
	h := HubSignature("s3cret", 64)(echoHandler)

	rec := post(h, body, SignatureHeader("s3cret", []byte(body)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}

	exact := strings.Repeat("x", 64)
	if rec := post(h, exact, SignatureHeader("s3cret", []byte(exact))); rec.Code != http.StatusOK {
		t.Errorf("body at limit: status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func FuzzHubSignature(f *testing.F) {
	f.Add("s3cret", `{"a":1}`, "sha256=00")
	f.Add("", "", "")
	f.Add("k", "body", "sha256=")

	f.Fuzz(func(t *testing.T, secret, body, sig string) {
		h := HubSignature(secret, 1024)(echoHandler)

		// arbitrary headers must never pass unless they are the real signature
		rec := post(h, body, sig)
		// hex decoding is case-insensitive
		if rec.Code == http.StatusOK && !strings.EqualFold(sig, SignatureHeader(secret, []byte(body))) {
			t.Fatalf("accepted invalid signature %q", sig)
		}

		rec = post(h, body, SignatureHeader(secret, []byte(body)))
		if len(body) <= 1024 && rec.Code != http.StatusOK {
			t.Fatalf("rejected valid signature: %d", rec.Code)
		}
	})
}
