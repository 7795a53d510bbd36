package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Viewing/internal/client/media"
	"github.com/dkeye/Viewing/internal/client/peer"
	gojson "github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrUnknownSignal = errors.New("unknown signal kind")

// Wire kinds of the opaque handshake payload. Only two Connections ever read
// them; the relay does not.
const (
	kindOffer     = "offer"
	kindAnswer    = "answer"
	kindCandidate = "candidate"
)

type signal struct {
	Kind      string                   `json:"kind"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

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

// NewFactory returns a peer.HandshakeFactory backed by pion PeerConnections.
// onTrack, when set, receives every remote track.
func NewFactory(cfg webrtc.Configuration, onTrack func(*webrtc.TrackRemote)) peer.HandshakeFactory {
	return func(cb peer.Callbacks) (peer.Handshake, error) {
		pc, err := webrtc.NewPeerConnection(cfg)
		if err != nil {
			return nil, err
		}
		return &WebRTCConnection{pc: pc, cb: cb, onTrack: onTrack}, nil
	}
}

// WebRTCConnection is one side of an offer/answer exchange. ICE candidates
// that arrive before the remote description are held until it is set.
type WebRTCConnection struct {
	pc      *webrtc.PeerConnection
	cb      peer.Callbacks
	onTrack func(*webrtc.TrackRemote)

	mu          sync.Mutex
	remoteSet   bool
	pending     []webrtc.ICECandidateInit
	established bool
	closed      bool
}

func (c *WebRTCConnection) Start(ctx context.Context, initiator bool, tracks []media.Track) error {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		c.emit(signal{Kind: kindCandidate, Candidate: &init})
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			c.mu.Lock()
			first := !c.established
			c.established = true
			c.mu.Unlock()
			if first && c.cb.OnEstablished != nil {
				c.cb.OnEstablished()
			}
		case webrtc.PeerConnectionStateFailed:
			if c.cb.OnFailed != nil {
				c.cb.OnFailed(errors.New("peer connection failed"))
			}
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if c.cb.OnRemoteTrack != nil {
			c.cb.OnRemoteTrack(kindOf(track.Kind()))
		}
		if c.onTrack != nil {
			c.onTrack(track)
		}
	})

	sent := map[media.Kind]bool{}
	for _, t := range tracks {
		lt, ok := t.(interface{ TrackLocal() webrtc.TrackLocal })
		if !ok {
			continue
		}
		if _, err := c.pc.AddTrack(lt.TrackLocal()); err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		sent[t.Kind()] = true
	}

	if !initiator {
		return nil
	}

	// the offer must carry both kinds even when this side sends nothing
	for _, k := range []media.Kind{media.KindVideo, media.KindAudio} {
		if sent[k] {
			continue
		}
		if _, err := c.pc.AddTransceiverFromKind(codecType(k), webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
	}

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	c.emit(signal{Kind: kindOffer, SDP: offer.SDP})
	return nil
}

func (c *WebRTCConnection) HandleSignal(ctx context.Context, data json.RawMessage) error {
	var s signal
	if err := gojson.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s.Kind {
	case kindOffer:
		if err := c.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: s.SDP}); err != nil {
			return err
		}
		answer, err := c.pc.CreateAnswer(nil)
		if err != nil {
			return err
		}
		if err := c.pc.SetLocalDescription(answer); err != nil {
			return err
		}
		c.emit(signal{Kind: kindAnswer, SDP: answer.SDP})
		return nil
	case kindAnswer:
		return c.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: s.SDP})
	case kindCandidate:
		if s.Candidate == nil {
			return nil
		}
		c.mu.Lock()
		if !c.remoteSet {
			c.pending = append(c.pending, *s.Candidate)
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()
		return c.pc.AddICECandidate(*s.Candidate)
	}
	return fmt.Errorf("%w: %q", ErrUnknownSignal, s.Kind)
}

func (c *WebRTCConnection) setRemote(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	c.mu.Lock()
	c.remoteSet = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, cand := range pending {
		if err := c.pc.AddICECandidate(cand); err != nil {
			log.Warn().Err(err).Str("module", "webrtc").Msg("add buffered candidate")
		}
	}
	return nil
}

func (c *WebRTCConnection) emit(s signal) {
	if c.cb.OnSignal == nil {
		return
	}
	data, err := gojson.Marshal(s)
	if err != nil {
		log.Error().Err(err).Str("module", "webrtc").Msg("marshal signal")
		return
	}
	c.cb.OnSignal(data)
}

func (c *WebRTCConnection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Msg("close error")
		return err
	}
	log.Info().Str("module", "webrtc").Msg("closed")
	return nil
}

func kindOf(t webrtc.RTPCodecType) media.Kind {
	if t == webrtc.RTPCodecTypeAudio {
		return media.KindAudio
	}
	return media.KindVideo
}

func codecType(k media.Kind) webrtc.RTPCodecType {
	if k == media.KindAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}
