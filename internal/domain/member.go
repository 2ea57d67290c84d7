// Package domain contains entities without logic, just meta-data
package domain

import "time"

// Member represents an endpoint's participation meta for a room.
// No transport or lifecycle logic here.
type Member struct {
	ClientToken string
	RemoteAddr  string
	ConnectedAt time.Time
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(token, remoteAddr string) *Member {
	return &Member{ClientToken: token, RemoteAddr: remoteAddr, ConnectedAt: time.Now()}
}
