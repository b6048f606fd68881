package call

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
)

type fakeSender struct {
	mu   sync.Mutex
	msgs []core.Message
}

func (f *fakeSender) Send(m core.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
	return nil
}

func (f *fakeSender) sent() []core.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Message(nil), f.msgs...)
}

func (f *fakeSender) ofType(t core.MessageType) []core.Message {
	var out []core.Message
	for _, m := range f.sent() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

type fakeMedia struct {
	mu      sync.Mutex
	err     error
	gate    chan struct{}
	deaf    bool // keep waiting on gate even after ctx is cancelled
	handles []*fakeHandle
	entered atomic.Int32
	// localOnOffer makes each handle gather one local candidate inside CreateOffer.
	localOnOffer bool
	// hold blocks SetAnswer and AcceptOffer of every handle until closed.
	hold chan struct{}
}

func (f *fakeMedia) Acquire(ctx context.Context, _ domain.CallKind) (core.MediaHandle, error) {
	f.entered.Add(1)
	if f.gate != nil {
		if f.deaf {
			<-f.gate
		} else {
			select {
			case <-f.gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	h := &fakeHandle{localOnOffer: f.localOnOffer, hold: f.hold}
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *fakeMedia) handle(i int) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.handles) {
		return nil
	}
	return f.handles[i]
}

func (f *fakeMedia) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

type fakeHandle struct {
	localOnOffer bool
	hold         chan struct{}

	mu          sync.Mutex
	applied     []string
	remote      []string
	onCand      func(json.RawMessage)
	onFail      func(error)
	released    atomic.Int32
	negotiating atomic.Int32
}

func (h *fakeHandle) wait() {
	h.negotiating.Add(1)
	if h.hold != nil {
		<-h.hold
	}
}

func (h *fakeHandle) CreateOffer(context.Context) (json.RawMessage, error) {
	h.mu.Lock()
	fn := h.onCand
	h.mu.Unlock()
	if h.localOnOffer && fn != nil {
		fn(json.RawMessage(`{"candidate":"local-0"}`))
	}
	return json.RawMessage(`{"type":"offer","sdp":"fake-offer"}`), nil
}

func (h *fakeHandle) AcceptOffer(_ context.Context, offer json.RawMessage) (json.RawMessage, error) {
	h.wait()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remote = append(h.remote, string(offer))
	return json.RawMessage(`{"type":"answer","sdp":"fake-answer"}`), nil
}

func (h *fakeHandle) SetAnswer(_ context.Context, answer json.RawMessage) error {
	h.wait()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remote = append(h.remote, string(answer))
	return nil
}

func (h *fakeHandle) AddCandidate(c json.RawMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.applied = append(h.applied, string(c))
	return nil
}

func (h *fakeHandle) OnCandidate(fn func(json.RawMessage)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onCand = fn
}

func (h *fakeHandle) OnFailure(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onFail = fn
}

// fail reports a broken transport the way a real handle would.
func (h *fakeHandle) fail(err error) {
	h.mu.Lock()
	fn := h.onFail
	h.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (h *fakeHandle) Release() { h.released.Add(1) }

func (h *fakeHandle) appliedCandidates() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.applied...)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) last() (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return Event{}, false
	}
	return l.events[len(l.events)-1], true
}

func (l *eventLog) has(t EventType, reason EndReason) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Type == t && ev.Reason == reason {
			return true
		}
	}
	return false
}

type harness struct {
	mgr    *Manager
	sender *fakeSender
	media  *fakeMedia
	clock  *clock.Mock
	events *eventLog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sender: &fakeSender{},
		media:  &fakeMedia{},
		clock:  clock.NewMock(),
		events: &eventLog{},
	}
	h.mgr = NewManager(Config{
		Sender:        h.sender,
		Media:         h.media,
		AnswerTimeout: 30 * time.Second,
		Clock:         h.clock,
		OnEvent:       h.events.record,
	})
	return h
}

func candidate(s string) json.RawMessage {
	return json.RawMessage(`{"candidate":"` + s + `"}`)
}
