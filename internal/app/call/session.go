package call

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Session is one call attempt with one peer as seen from this endpoint.
// State changes happen under mu; media and negotiation work runs outside
// of it and every continuation re-checks state and media identity before
// applying its effects.
type Session struct {
	id        string
	peer      domain.Identity
	kind      domain.CallKind
	role      Role
	createdAt time.Time

	mgr    *Manager
	logger zerolog.Logger

	// ctx is cancelled on teardown and aborts in-flight media work.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	media     core.MediaHandle
	offer     json.RawMessage
	buffer    *CandidateBuffer
	timer     *clock.Timer
	accepting bool
	reason    EndReason

	// Local candidates gathered before our first descriptor went out wait in
	// outbox, otherwise the peer would see them before the session exists.
	announced bool
	outbox    []json.RawMessage

	ready chan struct{} // closed once media is attached
	done  chan struct{} // closed on teardown
}

func newSession(m *Manager, peer domain.Identity, kind domain.CallKind, role Role) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	s := &Session{
		id:        id,
		peer:      peer,
		kind:      kind,
		role:      role,
		createdAt: m.clock.Now(),
		mgr:       m,
		ctx:       ctx,
		cancel:    cancel,
		buffer:    NewCandidateBuffer(),
		announced: role == RoleCallee,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		logger: log.With().
			Str("module", "call").
			Str("session", id).
			Str("peer", peer.String()).
			Str("kind", string(kind)).
			Str("role", role.String()).
			Logger(),
	}
	if role == RoleCaller {
		s.state = StateCalling
	} else {
		s.state = StateRinging
	}
	return s
}

func (s *Session) ID() string            { return s.id }
func (s *Session) Peer() domain.Identity { return s.peer }
func (s *Session) Kind() domain.CallKind { return s.kind }
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reason is empty until the session ended.
func (s *Session) Reason() EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// dial runs the caller side up to the emitted offer.
func (s *Session) dial(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateCalling {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	opCtx, done := s.opContext(ctx)
	defer done()

	handle, err := s.mgr.media.Acquire(opCtx, s.kind)
	if err != nil {
		s.logger.Warn().Err(err).Msg("media acquisition failed")
		if s.finish(ReasonMediaUnavailable, false, StateCalling) {
			return fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
		}
		return ErrSessionClosed
	}
	if !s.attach(handle, StateCalling) {
		return ErrSessionClosed
	}

	offer, err := handle.CreateOffer(opCtx)
	if err != nil {
		s.logger.Error().Err(err).Msg("create offer")
		if s.finish(ReasonNegotiationFailed, false, StateCalling) {
			return fmt.Errorf("create offer: %w", err)
		}
		return ErrSessionClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCalling || s.media != handle {
		return ErrSessionClosed
	}
	s.sendLocked(core.Message{Type: core.TypeCallOffer, To: s.peer, Offer: offer, CallType: s.kind})
	// Ring time counts from the offer.
	s.timer = s.mgr.clock.AfterFunc(s.mgr.answerTimeout, s.answerTimeout)
	s.announceLocked()
	s.logger.Info().Dur("answer_timeout", s.mgr.answerTimeout).Msg("offer sent")
	return nil
}

// prepare acquires media for an incoming call while it rings.
func (s *Session) prepare() {
	handle, err := s.mgr.media.Acquire(s.ctx, s.kind)
	if err != nil {
		s.logger.Warn().Err(err).Msg("media acquisition failed")
		s.finish(ReasonMediaUnavailable, false, StateRinging)
		return
	}
	if s.attach(handle, StateRinging) {
		close(s.ready)
	}
}

// attach installs h as the session's media, or releases it right away if
// the session left want in the meantime.
func (s *Session) attach(h core.MediaHandle, want State) bool {
	s.mu.Lock()
	if s.state != want || s.media != nil {
		s.mu.Unlock()
		s.logger.Debug().Msg("media acquired after teardown, releasing")
		h.Release()
		return false
	}
	s.media = h
	s.mu.Unlock()
	h.OnCandidate(s.localCandidate)
	h.OnFailure(func(err error) { s.mediaFailed(h, err) })
	return true
}

// mediaFailed ends the session when the transport of its current media
// handle broke down.
func (s *Session) mediaFailed(h core.MediaHandle, err error) {
	s.mu.Lock()
	current := s.media == h
	s.mu.Unlock()
	if !current {
		return
	}
	if s.finish(ReasonMediaFailed, true) {
		s.logger.Warn().Err(err).Msg("media failed")
	}
}

func (s *Session) accept(ctx context.Context) error {
	s.mu.Lock()
	if s.role != RoleCallee || s.state != StateRinging || s.accepting {
		s.mu.Unlock()
		return ErrNotRinging
	}
	s.accepting = true
	s.mu.Unlock()

	select {
	case <-s.ready:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		s.mu.Lock()
		s.accepting = false
		s.mu.Unlock()
		return ctx.Err()
	}

	s.mu.Lock()
	if s.state != StateRinging || s.media == nil {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.state = StateConnected
	media, offer := s.media, s.offer
	s.mu.Unlock()

	opCtx, done := s.opContext(ctx)
	defer done()

	answer, err := media.AcceptOffer(opCtx, offer)
	if err != nil {
		s.logger.Error().Err(err).Msg("accept offer")
		if s.finish(ReasonNegotiationFailed, true) {
			return fmt.Errorf("accept offer: %w", err)
		}
		return ErrSessionClosed
	}

	s.mu.Lock()
	if s.state != StateConnected || s.media != media {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.sendLocked(core.Message{Type: core.TypeCallAnswer, To: s.peer, Answer: answer, CallType: s.kind})
	s.flushLocked(media)
	s.mu.Unlock()

	s.logger.Info().Msg("call accepted")
	s.mgr.emit(s.event(EventConnected, ""))
	return nil
}

func (s *Session) handleAnswer(msg core.Message) {
	s.mu.Lock()
	if s.role != RoleCaller || s.state != StateCalling || s.media == nil {
		s.mu.Unlock()
		s.logger.Debug().Msg("stale answer discarded")
		return
	}
	if msg.CallType != s.kind {
		s.mu.Unlock()
		s.logger.Warn().Str("call_type", string(msg.CallType)).Msg("answer for another call kind ignored")
		return
	}
	s.stopTimerLocked()
	s.state = StateConnected
	media := s.media
	s.mu.Unlock()

	go s.applyAnswer(media, msg.Answer)
}

func (s *Session) applyAnswer(media core.MediaHandle, answer json.RawMessage) {
	if err := media.SetAnswer(s.ctx, answer); err != nil {
		s.logger.Error().Err(err).Msg("apply answer")
		s.finish(ReasonNegotiationFailed, true)
		return
	}

	s.mu.Lock()
	if s.state != StateConnected || s.media != media {
		s.mu.Unlock()
		return
	}
	s.flushLocked(media)
	s.mu.Unlock()

	s.logger.Info().Msg("call connected")
	s.mgr.emit(s.event(EventConnected, ""))
}

func (s *Session) handleCandidate(c json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		s.logger.Debug().Msg("stale candidate discarded")
		return
	}
	media := s.media
	err := s.buffer.Offer(c, func(c json.RawMessage) error {
		return media.AddCandidate(c)
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("remote candidate not applied")
	}
}

func (s *Session) localCandidate(c json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		return
	}
	if !s.announced {
		s.outbox = append(s.outbox, c)
		return
	}
	s.sendLocked(core.Message{Type: core.TypeICECandidate, To: s.peer, Candidate: c})
}

func (s *Session) announceLocked() {
	s.announced = true
	for _, c := range s.outbox {
		s.sendLocked(core.Message{Type: core.TypeICECandidate, To: s.peer, Candidate: c})
	}
	s.outbox = nil
}

func (s *Session) flushLocked(media core.MediaHandle) {
	n := s.buffer.Len()
	if err := s.buffer.Flush(media.AddCandidate); err != nil {
		s.logger.Warn().Err(err).Int("buffered", n).Msg("candidate flush")
		return
	}
	s.logger.Debug().Int("buffered", n).Msg("candidates flushed")
}

func (s *Session) answerTimeout() {
	if s.finish(ReasonNoAnswer, true, StateCalling) {
		s.logger.Info().Msg("no answer")
	}
}

// finish moves the session to idle exactly once. With from set it only
// acts while the session is in one of those states. Media is released
// outside the lock after the state change.
func (s *Session) finish(reason EndReason, notifyPeer bool, from ...State) bool {
	s.mu.Lock()
	if s.state == StateIdle || (len(from) > 0 && !slices.Contains(from, s.state)) {
		s.mu.Unlock()
		return false
	}
	prev := s.state
	s.state = StateIdle
	s.reason = reason
	s.stopTimerLocked()
	s.buffer.Discard()
	s.outbox = nil
	media := s.media
	s.media = nil
	if notifyPeer {
		s.sendLocked(core.Message{Type: core.TypeCallEnd, To: s.peer})
	}
	s.cancel()
	close(s.done)
	s.mu.Unlock()

	if media != nil {
		media.Release()
	}
	s.logger.Info().
		Str("prev_state", prev.String()).
		Str("reason", string(reason)).
		Dur("duration", s.mgr.clock.Since(s.createdAt)).
		Msg("session ended")
	s.mgr.ended(s, reason)
	return true
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) sendLocked(msg core.Message) {
	s.mgr.send(msg)
}

// opContext derives a context that is also cancelled on teardown.
func (s *Session) opContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *Session) event(t EventType, reason EndReason) Event {
	return Event{Type: t, SessionID: s.id, Peer: s.peer, Kind: s.kind, Reason: reason}
}
