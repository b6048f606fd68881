// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const MaxIdentityLen = 64

var (
	ErrIdentityEmpty   = errors.New("identity empty")
	ErrIdentityTooLong = errors.New("identity too long")
)

// Identity is the opaque, server-trusted user reference issued by the auth
// service. Only equality is meaningful.
type Identity string

// ParseIdentity trims and validates a raw identity.
func ParseIdentity(raw string) (Identity, error) {
	s := strings.TrimSpace(raw)
	if len(s) == 0 {
		return "", ErrIdentityEmpty
	}
	if len(s) > MaxIdentityLen {
		return "", ErrIdentityTooLong
	}
	return Identity(s), nil
}

func (id Identity) String() string { return string(id) }
