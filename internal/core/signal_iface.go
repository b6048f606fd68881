package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/chatcall/internal/domain"
)

type MessageType string

const (
	TypeCallOffer    MessageType = "call-offer"
	TypeCallAnswer   MessageType = "call-answer"
	TypeICECandidate MessageType = "ice-candidate"
	TypeCallEnd      MessageType = "call-end"

	TypePresence MessageType = "presence"
	TypePing     MessageType = "ping"
	TypePong     MessageType = "pong"
	TypeError    MessageType = "error"
)

// IsSignaling reports whether t is one of the relayed call messages.
func (t MessageType) IsSignaling() bool {
	switch t {
	case TypeCallOffer, TypeCallAnswer, TypeICECandidate, TypeCallEnd:
		return true
	}
	return false
}

var ErrInvalidMessage = errors.New("invalid message")

// Message is the signaling envelope. Offer, Answer and Candidate are opaque
// to the server and forwarded byte for byte.
type Message struct {
	Type      MessageType     `json:"type"`
	To        domain.Identity `json:"to,omitempty"`
	From      domain.Identity `json:"from,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	CallType  domain.CallKind `json:"callType,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Validate checks the shape of an outbound signaling message.
func (m Message) Validate() error {
	if !m.Type.IsSignaling() {
		return fmt.Errorf("%w: type %q", ErrInvalidMessage, m.Type)
	}
	if m.To == "" {
		return fmt.Errorf("%w: missing to", ErrInvalidMessage)
	}
	switch m.Type {
	case TypeCallOffer:
		if len(m.Offer) == 0 {
			return fmt.Errorf("%w: missing offer", ErrInvalidMessage)
		}
		if !m.CallType.Valid() {
			return fmt.Errorf("%w: callType %q", ErrInvalidMessage, m.CallType)
		}
	case TypeCallAnswer:
		if len(m.Answer) == 0 {
			return fmt.Errorf("%w: missing answer", ErrInvalidMessage)
		}
		if !m.CallType.Valid() {
			return fmt.Errorf("%w: callType %q", ErrInvalidMessage, m.CallType)
		}
	case TypeICECandidate:
		if len(m.Candidate) == 0 {
			return fmt.Errorf("%w: missing candidate", ErrInvalidMessage)
		}
	}
	return nil
}

// PresenceMessage is pushed to every connection when membership changes.
type PresenceMessage struct {
	Type MessageType `json:"type"`
	Presence
}

func NewPresenceMessage(p Presence) PresenceMessage {
	return PresenceMessage{Type: TypePresence, Presence: p}
}

type ErrorMessage struct {
	Type  MessageType `json:"type"`
	Error string      `json:"error"`
}

// Sender delivers outbound signaling messages towards the relay.
type Sender interface {
	Send(Message) error
}
