package core

import (
	"context"
)

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// LocalTrack is an outgoing media track. The concrete value is whatever the
// PeerChannel implementation knows how to attach.
type LocalTrack interface {
	ID() string
	Kind() TrackKind
}

// LocalStream groups the tracks produced by one acquisition.
type LocalStream interface {
	ID() string
	Tracks() []LocalTrack
	// Stop releases the capture devices. Safe to call more than once.
	Stop()
}

// MediaSource acquires local audio+video. Acquire must honour ctx cancellation.
type MediaSource interface {
	Acquire(ctx context.Context) (LocalStream, error)
}

// RemoteTrack describes a track announced by the remote side.
type RemoteTrack struct {
	StreamID string
	TrackID  string
	Kind     TrackKind
}

type ConnectionState int

const (
	ConnectionNew ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionDisconnected
	ConnectionFailed
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionNew:
		return "new"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionFailed:
		return "failed"
	case ConnectionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PeerChannel is the connection object owned by one client session.
type PeerChannel interface {
	AddTrack(LocalTrack) error
	// CreateOffer creates an offer and applies it as the local description.
	CreateOffer() (SessionDescription, error)
	// CreateAnswer creates an answer and applies it as the local description.
	CreateAnswer() (SessionDescription, error)
	SetRemoteDescription(SessionDescription) error
	// Rollback discards a local offer that lost a glare tie-break.
	Rollback() error
	AddICECandidate(Candidate) error

	OnICECandidate(func(Candidate))
	OnTrack(func(RemoteTrack))
	OnConnectionStateChange(func(ConnectionState))

	Close() error
}
