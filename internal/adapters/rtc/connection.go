package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func DefaultWebRTCConfig(iceServers ...string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: iceServers,
			},
		},
	}
}

var errConnectionFailed = errors.New("peer connection failed")

// Endpoint hands out one peer connection per call. It implements
// core.MediaEndpoint.
type Endpoint struct {
	config webrtc.Configuration
}

func NewEndpoint(cfg webrtc.Configuration) *Endpoint {
	return &Endpoint{config: cfg}
}

// Acquire opens a peer connection with local tracks for kind.
func (e *Endpoint) Acquire(ctx context.Context, kind domain.CallKind) (core.MediaHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pc, err := webrtc.NewPeerConnection(e.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	c := &WebRTCConnection{
		pc: pc,
		logger: log.With().
			Str("module", "webrtc").
			Str("pc", uuid.NewString()).
			Str("kind", string(kind)).
			Logger(),
	}

	streamID := "chatcall-" + uuid.NewString()
	if err := c.addLocalTrack(webrtc.MimeTypeOpus, "audio", streamID); err != nil {
		c.Release()
		return nil, err
	}
	if kind.HasVideo() {
		if err := c.addLocalTrack(webrtc.MimeTypeVP8, "video", streamID); err != nil {
			c.Release()
			return nil, err
		}
	}
	c.start()
	return c, nil
}

// WebRTCConnection is the media handle of one call.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	logger zerolog.Logger

	mu       sync.Mutex
	onICE    func(json.RawMessage)
	onFailed func(error)
	tracks   []*webrtc.TrackLocalStaticSample

	once sync.Once
}

func (c *WebRTCConnection) addLocalTrack(mime, id, streamID string) error {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, streamID)
	if err != nil {
		return fmt.Errorf("local %s track: %w", id, err)
	}
	if _, err := c.pc.AddTrack(track); err != nil {
		return fmt.Errorf("add %s track: %w", id, err)
	}
	c.tracks = append(c.tracks, track)
	return nil
}

func (c *WebRTCConnection) start() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if s != webrtc.PeerConnectionStateFailed {
			return
		}
		c.mu.Lock()
		fn := c.onFailed
		c.onFailed = nil
		c.mu.Unlock()
		if fn != nil {
			// Release closes pc, so keep the callback off pion's goroutine.
			go fn(errConnectionFailed)
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn == nil {
			return
		}
		b, err := json.Marshal(cand.ToJSON())
		if err != nil {
			c.logger.Error().Err(err).Msg("marshal candidate")
			return
		}
		fn(b)
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("track_kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		go drain(track)
	})
}

// drain consumes remote RTP so the receive buffers do not fill up.
func drain(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Str("module", "webrtc").Str("track_id", track.ID()).Msg("remote track ended")
			}
			return
		}
	}
}

func (c *WebRTCConnection) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local offer: %w", err)
	}
	return json.Marshal(c.pc.LocalDescription())
}

func (c *WebRTCConnection) AcceptOffer(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	offer, err := decodeDescription(raw, webrtc.SDPTypeOffer)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local answer: %w", err)
	}
	return json.Marshal(c.pc.LocalDescription())
}

func (c *WebRTCConnection) SetAnswer(ctx context.Context, raw json.RawMessage) error {
	answer, err := decodeDescription(raw, webrtc.SDPTypeAnswer)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

func decodeDescription(raw json.RawMessage, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(raw, &sd); err != nil {
		return sd, fmt.Errorf("decode %s: %w", want, err)
	}
	if sd.Type != want {
		return sd, fmt.Errorf("expected %s description, got %s", want, sd.Type)
	}
	return sd, nil
}

func (c *WebRTCConnection) AddCandidate(raw json.RawMessage) error {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &ci); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) OnCandidate(fn func(json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

func (c *WebRTCConnection) OnFailure(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFailed = fn
}

func (c *WebRTCConnection) Release() {
	c.once.Do(func() {
		if err := c.pc.Close(); err != nil {
			c.logger.Error().Err(err).Msg("close error")
			return
		}
		c.logger.Info().Msg("closed")
	})
}
