package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func signToken(t *testing.T, secret string, payload map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	body := base64.RawURLEncoding.EncodeToString(payloadJSON)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(header + "." + body))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return header + "." + body + "." + sig
}

func TestVerify_ReturnsIdentity(t *testing.T) {
	v := NewVerifier("s3cret")
	token := signToken(t, "s3cret", map[string]any{
		"peerId":   "peer-1",
		"username": "alice",
		"exp":      time.Now().Add(time.Hour).Unix(),
	})

	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if string(id.PeerID) != "peer-1" || id.Username != "alice" {
		t.Fatalf("identity=%+v, want peer-1/alice", id)
	}
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	v := NewVerifier("s3cret")
	token := signToken(t, "other", map[string]any{"peerId": "p", "username": "u"})

	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err=%v, want ErrInvalidToken", err)
	}
}

func TestVerify_RejectsExpired(t *testing.T) {
	v := NewVerifier("s3cret")
	token := signToken(t, "s3cret", map[string]any{
		"peerId":   "p",
		"username": "u",
		"exp":      time.Now().Add(-time.Minute).Unix(),
	})

	if _, err := v.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err=%v, want ErrTokenExpired", err)
	}
}

func TestVerify_RejectsMalformed(t *testing.T) {
	v := NewVerifier("s3cret")
	for _, token := range []string{"", "abc", "a.b", "a.b.c.d", "!!!.???.###"} {
		if _, err := v.Verify(token); err == nil {
			t.Fatalf("Verify(%q) accepted a malformed token", token)
		}
	}
}

func TestVerify_RejectsMissingIdentityClaims(t *testing.T) {
	v := NewVerifier("s3cret")
	token := signToken(t, "s3cret", map[string]any{"username": "u"})

	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err=%v, want ErrInvalidToken", err)
	}
}
