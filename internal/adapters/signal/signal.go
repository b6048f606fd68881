package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/chatcall/internal/app/orch"
	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/dkeye/chatcall/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Options tune the websocket transport of the signaling server.
type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	return o
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter *RateLimiter
	Metrics *metrics.Metrics
	opts    Options
}

func NewSignalWSController(o *orch.Orchestrator, limiter *RateLimiter, m *metrics.Metrics, opts Options) *SignalWSController {
	return &SignalWSController{
		Orch:    o,
		Limiter: limiter,
		Metrics: m,
		opts:    opts.withDefaults(),
	}
}

// WsSignalConn is the server side of one signaling websocket.
// It implements core.Connection.
type WsSignalConn struct {
	id          string
	identity    domain.Identity
	connectedAt time.Time

	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) ID() string                { return c.id }
func (c *WsSignalConn) Identity() domain.Identity { return c.identity }
func (c *WsSignalConn) ConnectedAt() time.Time    { return c.connectedAt }

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection of identity
// until either side goes away or ctx is cancelled.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context, identity domain.Identity) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		id:          uuid.NewString(),
		identity:    identity,
		connectedAt: time.Now(),
		conn:        ws,
		send:        make(chan core.Frame, ctl.opts.SendBuffer),
	}
	log.Info().Str("module", "signal").Str("identity", identity.String()).Str("conn", conn.id).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.OnConnect(conn)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
}
