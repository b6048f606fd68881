package app

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/google/uuid"
)

type fakeConn struct {
	id       string
	identity domain.Identity
	at       time.Time

	mu      sync.Mutex
	frames  []core.Frame
	sendErr error
	closed  int
}

func newFakeConn(identity domain.Identity) *fakeConn {
	return &fakeConn{id: uuid.NewString(), identity: identity, at: time.Now()}
}

func (c *fakeConn) ID() string                { return c.id }
func (c *fakeConn) Identity() domain.Identity { return c.identity }
func (c *fakeConn) ConnectedAt() time.Time    { return c.at }

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
}

func (c *fakeConn) messages() []core.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Message, 0, len(c.frames))
	for _, f := range c.frames {
		var m core.Message
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
