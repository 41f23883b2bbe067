package session

import (
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/nxtg-ai/voxbridge/pkg/audio"
)

// Clip is a pre-approved utterance a lane can play without the reasoning
// lane: the transcript text plus optional pre-rendered PCM16 audio. When
// Audio is empty only the transcript is sent and completion is estimated
// from the text length.
type Clip struct {
	Text       string
	Audio      []byte
	SampleRate int
}

// DefaultReflexClip is the stock filler utterance for the reflex lane.
var DefaultReflexClip = Clip{Text: "One moment."}

// DefaultFallbackClip is the stock safe utterance played after a policy
// cancellation.
var DefaultFallbackClip = Clip{
	Text: "I can't continue with that, but I'm happy to help with something else.",
}

// playoutFrameMS is the outbound frame size for pre-rendered clip audio.
const playoutFrameMS = 40

// wordPlayoutDuration approximates speech pacing when a clip has no
// pre-rendered audio, so natural completion still fires at a plausible
// time.
const wordPlayoutDuration = 330 * time.Millisecond

// minPlayoutDuration floors the estimated playout of text-only clips.
const minPlayoutDuration = 600 * time.Millisecond

// lanePlayer streams one clip to the client on behalf of a lane. Play and
// Stop follow the arbitrator's matched play_*/stop_* signals: Play starts
// a playout goroutine, Stop halts it. A player that drains its clip
// without being stopped invokes onDone once.
type lanePlayer struct {
	lane   string
	clip   Clip
	send   func(ServerMessage)
	onDone func()

	mu   sync.Mutex
	stop chan struct{}
}

func newLanePlayer(lane string, clip Clip, send func(ServerMessage), onDone func()) *lanePlayer {
	if clip.SampleRate == 0 {
		clip.SampleRate = audio.DefaultSampleRate
	}
	return &lanePlayer{lane: lane, clip: clip, send: send, onDone: onDone}
}

// Play begins streaming the clip. A second Play before Stop restarts the
// playout.
func (p *lanePlayer) Play() {
	p.mu.Lock()
	if p.stop != nil {
		close(p.stop)
	}
	stop := make(chan struct{})
	p.stop = stop
	p.mu.Unlock()

	go p.run(stop)
}

// Stop halts an in-flight playout. Safe to call when nothing is playing.
func (p *lanePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
}

// Playing reports whether a playout goroutine is active.
func (p *lanePlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}

func (p *lanePlayer) run(stop chan struct{}) {
	if p.clip.Text != "" {
		p.send(ServerMessage{
			Type:       MsgTranscript,
			Text:       p.clip.Text,
			Confidence: 1,
			IsFinal:    boolPtr(true),
			Timestamp:  time.Now().UnixMilli(),
			Lane:       p.lane,
		})
	}

	if len(p.clip.Audio) > 0 {
		p.streamAudio(stop)
	} else {
		select {
		case <-stop:
			return
		case <-time.After(p.textPlayout()):
		}
	}

	// Natural completion: report only if we were not stopped meanwhile.
	p.mu.Lock()
	done := p.stop == stop
	if done {
		p.stop = nil
	}
	p.mu.Unlock()
	if done && p.onDone != nil {
		p.onDone()
	}
}

// streamAudio paces the pre-rendered clip out in real-time frames.
func (p *lanePlayer) streamAudio(stop chan struct{}) {
	frameBytes := p.clip.SampleRate * 2 * playoutFrameMS / 1000
	if frameBytes <= 0 {
		return
	}
	ticker := time.NewTicker(playoutFrameMS * time.Millisecond)
	defer ticker.Stop()

	data := p.clip.Audio
	for len(data) > 0 {
		n := frameBytes
		if n > len(data) {
			n = len(data)
		}
		p.send(ServerMessage{
			Type:       MsgAudioChunk,
			Data:       base64.StdEncoding.EncodeToString(data[:n]),
			Format:     audio.CodecPCM16,
			SampleRate: p.clip.SampleRate,
			Lane:       p.lane,
		})
		data = data[n:]
		if len(data) == 0 {
			return
		}
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func (p *lanePlayer) textPlayout() time.Duration {
	words := len(strings.Fields(p.clip.Text))
	d := time.Duration(words) * wordPlayoutDuration
	if d < minPlayoutDuration {
		d = minPlayoutDuration
	}
	return d
}
