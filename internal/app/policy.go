package app

import "github.com/dkeye/chatcall/internal/core"

type BackpressureAction int

const (
	DropMessage BackpressureAction = iota
	KickConnection
)

// Policy decides what happens to a connection whose send queue is full.
type Policy interface {
	OnBackPressure(conn core.Connection) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.Connection) BackpressureAction {
	return KickConnection
}

type DropPolicy struct{}

func (DropPolicy) OnBackPressure(core.Connection) BackpressureAction {
	return DropMessage
}
