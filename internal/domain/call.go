package domain

import (
	"errors"
	"fmt"
)

var ErrUnknownCallKind = errors.New("unknown call kind")

// CallKind discriminates audio-only calls from audio+video calls.
type CallKind string

const (
	CallAudio CallKind = "audio"
	CallVideo CallKind = "video"
)

func ParseCallKind(raw string) (CallKind, error) {
	switch k := CallKind(raw); k {
	case CallAudio, CallVideo:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCallKind, raw)
	}
}

func (k CallKind) Valid() bool {
	return k == CallAudio || k == CallVideo
}

// HasVideo reports whether the call carries a video track next to audio.
func (k CallKind) HasVideo() bool { return k == CallVideo }
