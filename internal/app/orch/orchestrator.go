package orch

import (
	"sync"

	"github.com/dkeye/chatcall/internal/app"
	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/dkeye/chatcall/internal/metrics"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry *app.Registry
	Relay    *app.Relay
	Metrics  *metrics.Metrics

	// presenceMu serializes broadcasts so the newest snapshot is sent last.
	presenceMu sync.Mutex
}

func New(reg *app.Registry, relay *app.Relay, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{Registry: reg, Relay: relay, Metrics: m}
}

// OnConnect registers conn and publishes presence to every connection,
// including a replacement for an identity that was already online.
func (o *Orchestrator) OnConnect(conn core.Connection) {
	o.Registry.Register(conn)
	o.Metrics.SetConnections(o.Registry.Len())
	o.BroadcastPresence()
}

// OnDisconnect unregisters conn if it is still the live connection of its
// identity and republishes presence.
func (o *Orchestrator) OnDisconnect(conn core.Connection) bool {
	removed := o.Registry.Unregister(conn)
	if !removed {
		return false
	}
	o.Metrics.SetConnections(o.Registry.Len())
	o.BroadcastPresence()
	return true
}

// OnSignal relays a call message from the given identity.
func (o *Orchestrator) OnSignal(from domain.Identity, msg core.Message) bool {
	return o.Relay.Relay(from, msg)
}

func (o *Orchestrator) BroadcastPresence() {
	o.presenceMu.Lock()
	defer o.presenceMu.Unlock()

	snap, conns := o.Registry.Connections()
	for _, c := range conns {
		o.sendPresence(c, snap)
	}
	o.Metrics.PresenceBroadcast()
	log.Debug().Str("module", "orch").Int("users", len(snap.Users)).Uint64("revision", snap.Revision).Msg("presence broadcast")
}

func (o *Orchestrator) sendPresence(c core.Connection, snap core.Presence) {
	frame, err := encode(core.NewPresenceMessage(snap))
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("presence marshal")
		return
	}
	if err := c.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("identity", c.Identity().String()).Msg("presence not delivered")
	}
}
