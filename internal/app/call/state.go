// Package call implements the endpoint side of a one-to-one call: the
// per-call negotiation state machine and the candidate buffer it owns.
package call

import (
	"errors"

	"github.com/dkeye/chatcall/internal/domain"
)

type State int

const (
	StateIdle State = iota
	StateCalling
	StateRinging
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCalling:
		return "calling"
	case StateRinging:
		return "ringing"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

type Role int

const (
	RoleCaller Role = iota
	RoleCallee
)

func (r Role) String() string {
	if r == RoleCaller {
		return "caller"
	}
	return "callee"
}

// EndReason tells the local user why a session went back to idle.
type EndReason string

const (
	ReasonNoAnswer          EndReason = "no_answer"
	ReasonRemoteEnded       EndReason = "remote_ended"
	ReasonHangup            EndReason = "hangup"
	ReasonDisconnected      EndReason = "disconnected"
	ReasonMediaUnavailable  EndReason = "media_unavailable"
	ReasonNegotiationFailed EndReason = "negotiation_failed"
	ReasonMediaFailed       EndReason = "media_failed"
)

var (
	ErrCallInProgress   = errors.New("call already in progress")
	ErrMediaUnavailable = errors.New("media unavailable")
	ErrSessionClosed    = errors.New("session closed")
	ErrNotRinging       = errors.New("no incoming call to accept")
	ErrNoSession        = errors.New("no active call")
)

type EventType string

const (
	EventIncoming  EventType = "incoming"
	EventConnected EventType = "connected"
	EventEnded     EventType = "ended"
)

// Event is surfaced to the local user. Reason is set for EventEnded only.
type Event struct {
	Type      EventType
	SessionID string
	Peer      domain.Identity
	Kind      domain.CallKind
	Reason    EndReason
}
