package core

import (
	"context"
	"encoding/json"

	"github.com/dkeye/chatcall/internal/domain"
)

// MediaEndpoint acquires local media (microphone, camera) together with the
// negotiation context used to exchange descriptors for one call.
type MediaEndpoint interface {
	Acquire(ctx context.Context, kind domain.CallKind) (MediaHandle, error)
}

// MediaHandle is the scoped local media resource of one call.
// Descriptors and candidates are opaque JSON blobs.
type MediaHandle interface {
	// CreateOffer produces the local offer and installs it locally.
	CreateOffer(ctx context.Context) (json.RawMessage, error)
	// AcceptOffer applies the remote offer and returns the local answer.
	AcceptOffer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)
	// SetAnswer applies the remote answer.
	SetAnswer(ctx context.Context, answer json.RawMessage) error
	// AddCandidate applies one remote negotiation fragment.
	AddCandidate(candidate json.RawMessage) error
	// OnCandidate sets a callback for locally gathered fragments.
	OnCandidate(func(candidate json.RawMessage))
	// OnFailure sets a callback for a transport that broke down after
	// negotiation. It fires at most once.
	OnFailure(func(err error))
	// Release stops all underlying media resources.
	Release()
}
