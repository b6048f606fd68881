package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultAnswerTimeout = 30 * time.Second

type Config struct {
	Sender        core.Sender
	Media         core.MediaEndpoint
	AnswerTimeout time.Duration
	Clock         clock.Clock
	// OnEvent is called outside of any session lock, from whichever
	// goroutine caused the transition.
	OnEvent func(Event)
}

// Manager owns the call sessions of one endpoint. Only one call is active
// at a time; any other offer meanwhile is answered as busy.
type Manager struct {
	sender        core.Sender
	media         core.MediaEndpoint
	answerTimeout time.Duration
	clock         clock.Clock
	onEvent       func(Event)

	mu     sync.Mutex
	active *Session
}

func NewManager(cfg Config) *Manager {
	m := &Manager{
		sender:        cfg.Sender,
		media:         cfg.Media,
		answerTimeout: cfg.AnswerTimeout,
		clock:         cfg.Clock,
		onEvent:       cfg.OnEvent,
	}
	if m.answerTimeout <= 0 {
		m.answerTimeout = DefaultAnswerTimeout
	}
	if m.clock == nil {
		m.clock = clock.New()
	}
	return m
}

// Active returns the current session, or nil when idle.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Manager) State() State {
	if s := m.Active(); s != nil {
		return s.State()
	}
	return StateIdle
}

// StartCall places a call and returns once the offer went out. Media
// failures end the session without any message to the peer.
func (m *Manager) StartCall(ctx context.Context, peer domain.Identity, kind domain.CallKind) (*Session, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownCallKind, kind)
	}
	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return nil, ErrCallInProgress
	}
	s := newSession(m, peer, kind, RoleCaller)
	m.active = s
	m.mu.Unlock()

	s.logger.Info().Msg("starting call")
	if err := s.dial(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Accept answers the ringing call, waiting for its media if needed.
func (m *Manager) Accept(ctx context.Context) error {
	s := m.Active()
	if s == nil {
		return ErrNoSession
	}
	return s.accept(ctx)
}

func (m *Manager) Hangup() error {
	s := m.Active()
	if s == nil {
		return ErrNoSession
	}
	if !s.finish(ReasonHangup, true) {
		return ErrSessionClosed
	}
	return nil
}

// Disconnect tears the active session down after the signaling transport
// was lost. Nothing can be sent to the peer any more.
func (m *Manager) Disconnect() {
	if s := m.Active(); s != nil {
		s.finish(ReasonDisconnected, false)
	}
}

// HandleMessage dispatches one inbound signaling message.
func (m *Manager) HandleMessage(msg core.Message) {
	switch msg.Type {
	case core.TypeCallOffer:
		m.handleOffer(msg)
	case core.TypeCallAnswer:
		if s := m.sessionWith(msg); s != nil {
			s.handleAnswer(msg)
		}
	case core.TypeICECandidate:
		if s := m.sessionWith(msg); s != nil {
			s.handleCandidate(msg.Candidate)
		}
	case core.TypeCallEnd:
		if s := m.sessionWith(msg); s != nil {
			s.finish(ReasonRemoteEnded, false)
		}
	default:
		log.Debug().Str("module", "call").Str("type", string(msg.Type)).Msg("ignored message")
	}
}

func (m *Manager) handleOffer(msg core.Message) {
	logger := log.With().Str("module", "call").Str("from", msg.From.String()).Logger()
	if !msg.CallType.Valid() || len(msg.Offer) == 0 {
		logger.Warn().Str("call_type", string(msg.CallType)).Msg("malformed offer ignored")
		return
	}

	m.mu.Lock()
	if cur := m.active; cur != nil {
		m.mu.Unlock()
		if cur.peer == msg.From && cur.kind != msg.CallType {
			// A busy reply would end the running call with the same peer.
			logger.Warn().Str("call_type", string(msg.CallType)).Msg("offer for another call kind ignored")
			return
		}
		logger.Info().Msg("busy, rejecting offer")
		m.send(core.Message{Type: core.TypeCallEnd, To: msg.From})
		return
	}
	s := newSession(m, msg.From, msg.CallType, RoleCallee)
	s.offer = msg.Offer
	m.active = s
	m.mu.Unlock()

	s.logger.Info().Msg("incoming call")
	m.emit(s.event(EventIncoming, ""))
	go s.prepare()
}

func (m *Manager) sessionWith(msg core.Message) *Session {
	m.mu.Lock()
	s := m.active
	m.mu.Unlock()
	if s == nil || s.peer != msg.From {
		log.Debug().Str("module", "call").Str("type", string(msg.Type)).Str("from", msg.From.String()).Msg("no session for message, discarded")
		return nil
	}
	return s
}

func (m *Manager) ended(s *Session, reason EndReason) {
	m.mu.Lock()
	if m.active == s {
		m.active = nil
	}
	m.mu.Unlock()
	m.emit(s.event(EventEnded, reason))
}

func (m *Manager) send(msg core.Message) {
	if m.sender == nil {
		return
	}
	if err := m.sender.Send(msg); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("type", string(msg.Type)).Str("to", msg.To.String()).Msg("send failed")
	}
}

func (m *Manager) emit(ev Event) {
	if m.onEvent != nil {
		m.onEvent(ev)
	}
}
