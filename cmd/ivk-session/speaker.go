package main

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// Agent speech arrives as 24kHz mono s16le chunks.
const (
	speakerSampleRate = 24000
	speakerChannels   = 1
)

// speaker buffers assistant audio chunks and plays them through the host's
// output device. The oto player pulls from the buffer via Read.
type speaker struct {
	otoCtx *oto.Context
	player *oto.Player

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	playing bool
	closed  bool
}

func newSpeaker() (*speaker, error) {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   speakerSampleRate,
		ChannelCount: speakerChannels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   4800, // ~100ms at 24kHz mono s16le
	})
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready

	s := &speaker{otoCtx: otoCtx}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

func (s *speaker) Write(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.buf = append(s.buf, data...)
	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}
	s.cond.Signal()
}

// Read feeds the oto player. Silence is returned after Close so playback
// drains instead of cutting off.
func (s *speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed && len(s.buf) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *speaker) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
	if s.player != nil {
		_ = s.player.Close()
	}
}
