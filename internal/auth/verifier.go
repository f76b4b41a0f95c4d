// Package auth verifies the credential a client presents when opening a
// signaling connection. Tokens are HS256 JWTs carrying the peer identity;
// issuance happens elsewhere, only verification is consumed here.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/openmeet/sfu/internal/domain"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

type claims struct {
	PeerID   string `json:"peerId"`
	Username string `json:"username"`
	Exp      int64  `json:"exp"`
	Iat      int64  `json:"iat"`
}

// Verify checks the token signature and expiry and returns the identity it
// carries. Nothing about the connection may be registered before this
// succeeds.
func (v *Verifier) Verify(token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, ErrMissingToken
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return domain.Identity{}, ErrInvalidToken
	}
	headerB64, payloadB64, sigB64 := parts[0], parts[1], parts[2]

	headerJSON, err := base64.RawURLEncoding.DecodeString(headerB64)
	if err != nil {
		return domain.Identity{}, ErrInvalidToken
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return domain.Identity{}, ErrInvalidToken
	}
	if header.Alg != "HS256" {
		return domain.Identity{}, ErrInvalidToken
	}

	gotSig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return domain.Identity{}, ErrInvalidToken
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(headerB64))
	mac.Write([]byte{'.'})
	mac.Write([]byte(payloadB64))
	if !hmac.Equal(gotSig, mac.Sum(nil)) {
		return domain.Identity{}, ErrInvalidToken
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return domain.Identity{}, ErrInvalidToken
	}
	var c claims
	if err := json.Unmarshal(payloadJSON, &c); err != nil {
		return domain.Identity{}, ErrInvalidToken
	}
	if c.Exp != 0 && v.now().Unix() >= c.Exp {
		return domain.Identity{}, ErrTokenExpired
	}

	id, err := domain.NewIdentity(c.PeerID, c.Username)
	if err != nil {
		return domain.Identity{}, ErrInvalidToken
	}
	return id, nil
}
