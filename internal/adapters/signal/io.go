package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", c.id).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", c.id).Msg("writePump channel closed")
				return
			}
			if err := ctl.write(c, websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", c.id).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := ctl.write(c, websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", c.id).Msg("writePump ping error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) write(c *WsSignalConn, mt int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(mt, data)
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("identity", c.identity.String()).Str("conn", c.id).Msg("readPump closing")
		cancel()
		if ctl.Orch.OnDisconnect(c) {
			ctl.Limiter.Forget(c.identity)
		}
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", c.id).Msg("readPump read error")
			}
			return
		}
		if !ctl.Limiter.Allow(c.identity) {
			ctl.Metrics.Dropped("frame", metrics.ReasonRateLimited)
			ctl.sendError(c, "rate_limited")
			continue
		}
		ctl.handleSignal(c, data)
	}
}

func (ctl *SignalWSController) handleSignal(c *WsSignalConn, data []byte) {
	var msg core.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", c.id).Msg("bad json")
		ctl.Metrics.Dropped("frame", metrics.ReasonInvalid)
		ctl.sendError(c, "bad_payload")
		return
	}

	switch {
	case msg.Type == core.TypePing:
		ctl.handlePing(c)
	case msg.Type.IsSignaling():
		ctl.handleCallMessage(c, msg)
	default:
		log.Warn().Str("module", "signal").Str("type", string(msg.Type)).Msg("unknown signal")
		ctl.Metrics.Dropped(string(msg.Type), metrics.ReasonInvalid)
		ctl.sendError(c, "unknown_type")
	}
}

func (ctl *SignalWSController) handleCallMessage(c *WsSignalConn, msg core.Message) {
	if err := msg.Validate(); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("identity", c.identity.String()).Msg("invalid call message")
		ctl.Metrics.Dropped(string(msg.Type), metrics.ReasonInvalid)
		ctl.sendError(c, err.Error())
		return
	}
	ctl.Orch.OnSignal(c.identity, msg)
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, reason string) {
	ctl.sendJSON(c, core.ErrorMessage{Type: core.TypeError, Error: reason})
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
