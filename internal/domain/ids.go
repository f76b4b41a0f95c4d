// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

type (
	RoomID      string
	PeerID      string
	TransportID string
	ProducerID  string
	ConsumerID  string
)

var (
	ErrBadDirection = errors.New("direction must be send or recv")
	ErrBadMediaKind = errors.New("kind must be audio or video")
)

// Direction of a transport relative to the peer: it either sends media to
// the server or receives media from it.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionSend, DirectionRecv:
		return Direction(s), nil
	}
	return "", ErrBadDirection
}

type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(s) {
	case MediaKindAudio, MediaKindVideo:
		return MediaKind(s), nil
	}
	return "", ErrBadMediaKind
}
