package crypto

import (
	"strings"
	"testing"
)

func TestRequestAuth_HeadersAtDeterministic(t *testing.T) {
	auth := &RequestAuth{Key: "key-1", Secret: "secret"}

	a := auth.HeadersAt("POST", "/transfers", `{"amount":10}`, 1700000000)
	b := auth.HeadersAt("POST", "/transfers", `{"amount":10}`, 1700000000)

	if a["X-Klash-Signature"] != b["X-Klash-Signature"] {
		t.Error("same inputs produced different signatures")
	}
	if a["X-Klash-Api-Key"] != "key-1" || a["X-Klash-Timestamp"] != "1700000000" {
		t.Errorf("headers = %v", a)
	}
}

func TestRequestAuth_SignatureCoversAllInputs(t *testing.T) {
	auth := &RequestAuth{Key: "key-1", Secret: "secret"}
	base := auth.HeadersAt("POST", "/transfers", "body", 1700000000)["X-Klash-Signature"]

	variants := []struct {
		name               string
		method, path, body string
		ts                 int64
	}{
		{"method", "GET", "/transfers", "body", 1700000000},
		{"path", "POST", "/refunds", "body", 1700000000},
		{"body", "POST", "/transfers", "other", 1700000000},
		{"timestamp", "POST", "/transfers", "body", 1700000001},
	}
	for _, v := range variants {
		got := auth.HeadersAt(v.method, v.path, v.body, v.ts)["X-Klash-Signature"]
		if got == base {
			t.Errorf("changing %s did not change the signature", v.name)
		}
	}
}

func TestRequestAuth_Verify(t *testing.T) {
	auth := &RequestAuth{Key: "key-1", Secret: "secret"}
	h := auth.HeadersAt("POST", "/transfers", "body", 1700000000)

	if !auth.Verify("POST", "/transfers", "body", h["X-Klash-Timestamp"], h["X-Klash-Signature"]) {
		t.Error("valid signature rejected")
	}
	if auth.Verify("POST", "/transfers", "tampered", h["X-Klash-Timestamp"], h["X-Klash-Signature"]) {
		t.Error("tampered body accepted")
	}
	other := &RequestAuth{Key: "key-1", Secret: "different"}
	if other.Verify("POST", "/transfers", "body", h["X-Klash-Timestamp"], h["X-Klash-Signature"]) {
		t.Error("wrong secret accepted")
	}
}

func TestRequestAuth_StringRedacts(t *testing.T) {
	auth := &RequestAuth{Key: "key-123456", Secret: "topsecret"}
	s := auth.String()
	if strings.Contains(s, "123456") || strings.Contains(s, "topsecret") {
		t.Errorf("String leaked credentials: %s", s)
	}
}
