package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ClientOptions tune the endpoint side of the websocket. The server pings
// every ping_period; PongWait must be longer than that.
type ClientOptions struct {
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	return o
}

// Client is the endpoint side of the signaling channel. It implements
// core.Sender; Send is safe for concurrent use.
type Client struct {
	conn *websocket.Conn
	opts ClientOptions

	mu sync.Mutex
}

// Dial logs in as identity through the development session endpoint of the
// server at baseURL (http or https) and opens the signaling websocket.
func Dial(ctx context.Context, baseURL string, identity domain.Identity, opts ClientOptions) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("server url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if err := login(ctx, &http.Client{Jar: jar}, base, identity); err != nil {
		return nil, err
	}

	wsURL := *base
	switch base.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = "/api/ws/signal"

	dialer := websocket.Dialer{
		Jar:              jar,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL.String(), err)
	}
	log.Info().Str("module", "signal.client").Str("identity", identity.String()).Str("url", wsURL.String()).Msg("connected")
	return &Client{conn: conn, opts: opts.withDefaults()}, nil
}

func login(ctx context.Context, hc *http.Client, base *url.URL, identity domain.Identity) error {
	body, err := json.Marshal(map[string]string{"identity": identity.String()})
	if err != nil {
		return err
	}
	u := *base
	u.Path = "/api/dev/session"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login: unexpected status %s", resp.Status)
	}
	return nil
}

func (c *Client) Send(msg core.Message) error {
	return c.writeJSON(msg)
}

// Ping asks the server for an application level pong.
func (c *Client) Ping() error {
	return c.writeJSON(core.Message{Type: core.TypePing})
}

func (c *Client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// Run reads frames until the connection fails, goes silent for longer than
// PongWait, or ctx is cancelled. Call messages go to onMessage, presence
// snapshots to onPresence. Both run on the read goroutine.
func (c *Client) Run(ctx context.Context, onMessage func(core.Message), onPresence func(core.Presence)) error {
	stop := context.AfterFunc(ctx, c.Close)
	defer stop()

	done := make(chan struct{})
	defer close(done)
	go c.keepalive(done)

	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPingHandler(func(appData string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		err := c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.opts.WriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		c.dispatch(data, onMessage, onPresence)
	}
}

// keepalive sends an application ping every PingPeriod so a live server
// always has something to answer.
func (c *Client) keepalive(done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.Ping(); err != nil {
				log.Debug().Err(err).Str("module", "signal.client").Msg("ping")
				return
			}
		}
	}
}

func (c *Client) dispatch(data []byte, onMessage func(core.Message), onPresence func(core.Presence)) {
	var env struct {
		Type core.MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal.client").Msg("bad json")
		return
	}

	switch {
	case env.Type == core.TypePresence:
		var p core.PresenceMessage
		if err := json.Unmarshal(data, &p); err != nil {
			log.Warn().Err(err).Str("module", "signal.client").Msg("bad presence")
			return
		}
		if onPresence != nil {
			onPresence(p.Presence)
		}
	case env.Type == core.TypeError:
		var e core.ErrorMessage
		_ = json.Unmarshal(data, &e)
		log.Warn().Str("module", "signal.client").Str("error", e.Error).Msg("server error")
	case env.Type == core.TypePong:
	case env.Type.IsSignaling():
		var msg core.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Str("module", "signal.client").Msg("bad call message")
			return
		}
		if onMessage != nil {
			onMessage(msg)
		}
	default:
		log.Debug().Str("module", "signal.client").Str("type", string(env.Type)).Msg("unknown frame")
	}
}

func (c *Client) Close() {
	_ = c.conn.Close()
}
