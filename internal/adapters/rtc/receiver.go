package rtc

import (
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type TrackStats struct {
	Kind    string
	SSRC    uint32
	Packets uint64
	Bytes   uint64
	LastSeq uint16
}

// Receiver drains remote tracks and keeps per-track counters.
type Receiver struct {
	mu    sync.Mutex
	stats map[string]*TrackStats
}

func NewReceiver() *Receiver {
	return &Receiver{stats: make(map[string]*TrackStats)}
}

// OnTrack can be passed to NewFactory.
func (r *Receiver) OnTrack(track *webrtc.TrackRemote) {
	go r.read(track)
}

func (r *Receiver) read(track *webrtc.TrackRemote) {
	id := track.ID()
	r.mu.Lock()
	r.stats[id] = &TrackStats{Kind: track.Kind().String(), SSRC: uint32(track.SSRC())}
	r.mu.Unlock()

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("module", "webrtc").Str("track_id", id).Msg("remote track ended")
			return
		}
		r.record(id, pkt)
	}
}

func (r *Receiver) record(id string, pkt *rtp.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stats[id]
	if !ok {
		return
	}
	st.Packets++
	st.Bytes += uint64(len(pkt.Payload))
	st.LastSeq = pkt.SequenceNumber
}

func (r *Receiver) Stats() []TrackStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TrackStats, 0, len(r.stats))
	for _, st := range r.stats {
		out = append(out, *st)
	}
	return out
}
