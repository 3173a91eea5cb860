package ivk

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/interviewkit/ivk-go/pkg/capture"
	"github.com/interviewkit/ivk-go/pkg/realtime"
)

// fakeStream is a scripted capture stream fed by tests.
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

func (s *fakeStream) push(b []byte) {
	s.mu.Lock()
	s.buf = append(s.buf, b...)
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *fakeStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) == 0 && !s.stopped {
		s.cond.Wait()
	}
	if len(s.buf) == 0 {
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

// fakeDevice opens fake streams and can simulate a hardware refusal.
type fakeDevice struct {
	mu      sync.Mutex
	openErr error
	opened  int
	streams []*fakeStream
}

func (d *fakeDevice) deny(err error) {
	d.mu.Lock()
	d.openErr = err
	d.mu.Unlock()
}

func (d *fakeDevice) allow() { d.deny(nil) }

func (d *fakeDevice) Open(_ context.Context, _ capture.Config) (capture.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.opened++
	s := newFakeStream()
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) lastStream() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

// fakeConn is a scripted conversational websocket.
type fakeConn struct {
	incoming chan []byte
	readErr  chan error

	mu     sync.Mutex
	writes []map[string]any
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan []byte, 32),
		readErr:  make(chan error, 1),
	}
}

func (f *fakeConn) deliver(frame string) { f.incoming <- []byte(frame) }

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.incoming:
		return websocket.TextMessage, data, nil
	case err := <-f.readErr:
		return 0, nil, err
	}
}

func (f *fakeConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	f.mu.Lock()
	f.writes = append(f.writes, decoded)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (f *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (f *fakeConn) SetPongHandler(func(string) error)         {}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		select {
		case f.readErr <- &websocket.CloseError{Code: websocket.CloseNormalClosure}:
		default:
		}
	}
	return nil
}

var _ realtime.Conn = (*fakeConn)(nil)
