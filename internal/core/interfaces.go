package core

import (
	"errors"
	"time"

	"github.com/dkeye/chatcall/internal/domain"
)

// Frame is a raw encoded payload ready for the transport.
type Frame []byte

var (
	ErrBackpressure     = errors.New("backpressure")
	ErrConnectionClosed = errors.New("connection closed")
)

// Connection is one live bidirectional transport session of one identity.
// Owned by the adapter; the adapter must Close() it. TrySend never blocks.
type Connection interface {
	ID() string
	Identity() domain.Identity
	ConnectedAt() time.Time
	TrySend(Frame) error
	Close()
}

// Presence is a point-in-time view of the reachable identities.
type Presence struct {
	Users    []domain.Identity `json:"users"`
	Revision uint64            `json:"revision"`
}
