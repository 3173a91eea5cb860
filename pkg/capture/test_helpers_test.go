package capture

import (
	"context"
	"io"
	"sync"

	"github.com/interviewkit/ivk-go/pkg/core"
)

// fakeStream is an in-memory Stream fed by tests.
type fakeStream struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	stopped bool
}

func newFakeStream() *fakeStream {
	s := &fakeStream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *fakeStream) push(data []byte) {
	s.mu.Lock()
	if !s.stopped {
		s.buf = append(s.buf, data...)
	}
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *fakeStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) == 0 && !s.stopped {
		s.cond.Wait()
	}
	if len(s.buf) == 0 && s.stopped {
		return 0, io.EOF
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cond.Broadcast()
	return nil
}

func (s *fakeStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// fakeDevice scripts Open outcomes: it fails with failErr until allowed.
type fakeDevice struct {
	mu      sync.Mutex
	failErr error
	opened  int
	streams []*fakeStream
}

func (d *fakeDevice) allow() {
	d.mu.Lock()
	d.failErr = nil
	d.mu.Unlock()
}

func (d *fakeDevice) deny(err error) {
	d.mu.Lock()
	d.failErr = err
	d.mu.Unlock()
}

func (d *fakeDevice) Open(_ context.Context, _ Config) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failErr != nil {
		return nil, d.failErr
	}
	d.opened++
	s := newFakeStream()
	d.streams = append(d.streams, s)
	return s, nil
}

func permissionDenied() error {
	return core.NewPermissionDeniedError("candidate denied the microphone prompt")
}
