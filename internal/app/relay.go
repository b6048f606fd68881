package app

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/dkeye/chatcall/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Relay forwards signaling messages by address. It keeps no per-call state
// and never reports an unreachable target back to the sender.
type Relay struct {
	Registry *Registry
	Policy   Policy
	Metrics  *metrics.Metrics
}

func NewRelay(reg *Registry, policy Policy, m *metrics.Metrics) *Relay {
	return &Relay{Registry: reg, Policy: policy, Metrics: m}
}

// Relay stamps from on msg and hands it to the connection of msg.To.
// It reports whether the message was queued for delivery.
func (r *Relay) Relay(from domain.Identity, msg core.Message) bool {
	msgType := string(msg.Type)
	logger := log.With().Str("module", "app.relay").Str("type", msgType).
		Str("from", from.String()).Str("to", msg.To.String()).Logger()

	conn, ok := r.Registry.Lookup(msg.To)
	if !ok {
		logger.Debug().Msg("target unreachable, dropped")
		r.Metrics.Dropped(msgType, metrics.ReasonUnreachable)
		return false
	}

	msg.From = from
	frame, err := json.Marshal(msg)
	if err != nil {
		logger.Error().Err(err).Msg("marshal")
		r.Metrics.Dropped(msgType, metrics.ReasonInvalid)
		return false
	}

	switch err := conn.TrySend(frame); {
	case err == nil:
		r.Metrics.Relayed(msgType)
		return true
	case errors.Is(err, core.ErrBackpressure):
		r.Metrics.Dropped(msgType, metrics.ReasonBackpressure)
		if r.Policy != nil && r.Policy.OnBackPressure(conn) == KickConnection {
			logger.Warn().Str("conn", conn.ID()).Msg("target too slow, closing connection")
			r.Metrics.Kicked()
			conn.Close()
		}
		return false
	default:
		logger.Debug().Err(err).Msg("target connection closed, dropped")
		r.Metrics.Dropped(msgType, metrics.ReasonClosed)
		return false
	}
}
