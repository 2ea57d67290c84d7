package core

import "github.com/dkeye/Duet/internal/domain"

// SessionID identifies one endpoint connection. It is assigned by the relay
// and is also the tie-break key for glare resolution.
type SessionID string

// MemberSession binds domain.Member and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	ID() SessionID
	Meta() *domain.Member
	Signal() SignalConnection
}
