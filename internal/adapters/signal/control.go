package signal

import "github.com/dkeye/chatcall/internal/core"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	resp := struct {
		Type core.MessageType `json:"type"`
	}{
		Type: core.TypePong,
	}
	ctl.sendJSON(conn, resp)
}
