package domain

import "errors"

const MaxUsernameLen = 36

var (
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUsernameTooLong = errors.New("username too long")
)

// Identity is the authenticated peer identity bound to a signaling
// connection for its entire lifetime. It is the registry key for every
// resource the peer owns.
type Identity struct {
	PeerID   PeerID `json:"peerId"`
	Username string `json:"username"`
}

func NewIdentity(peerID, username string) (Identity, error) {
	if peerID == "" {
		return Identity{}, errors.New("peer id empty")
	}
	if username == "" {
		return Identity{}, ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return Identity{}, ErrUsernameTooLong
	}
	return Identity{PeerID: PeerID(peerID), Username: username}, nil
}
