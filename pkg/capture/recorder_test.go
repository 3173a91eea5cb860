package capture

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/interviewkit/ivk-go/pkg/core"
	"github.com/interviewkit/ivk-go/pkg/core/types"
)

const testTick = 2 * time.Millisecond

func testQuestion(id string, limit int) types.Question {
	return types.Question{ID: id, Text: "q", Type: types.QuestionTechnical, TimeLimitSeconds: limit}
}

// waitDrained blocks until the read loop has consumed everything pushed so far.
func waitDrained(t *testing.T, stream *fakeStream) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		stream.mu.Lock()
		drained := len(stream.buf) == 0
		stream.mu.Unlock()
		if drained {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("read loop did not drain the stream")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRecorder_AutoStopAtTimeLimit(t *testing.T) {
	r := NewRecorder(WithTickInterval(testTick))
	stream := newFakeStream()
	defer stream.Stop()

	autoStopped := make(chan types.RecordedSegment, 1)
	var ticks []int
	var ticksMu sync.Mutex

	h, err := r.Start(stream, testQuestion("q1", 3), Hooks{
		OnTick: func(remaining int) {
			ticksMu.Lock()
			ticks = append(ticks, remaining)
			ticksMu.Unlock()
		},
		OnAutoStop: func(seg types.RecordedSegment) { autoStopped <- seg },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream.push([]byte{1, 2, 3, 4})

	var seg types.RecordedSegment
	select {
	case seg = <-autoStopped:
	case <-time.After(time.Second):
		t.Fatal("countdown did not force a stop")
	}

	if seg.QuestionID != "q1" {
		t.Fatalf("question_id=%q", seg.QuestionID)
	}
	if limit := 3 * time.Second; seg.Duration > limit {
		t.Fatalf("duration %v exceeds limit %v", seg.Duration, limit)
	}
	if got, ok := r.Segment("q1"); !ok || got.QuestionID != "q1" {
		t.Fatalf("segment not saved: %+v ok=%v", got, ok)
	}
	if h.Remaining() != 0 {
		t.Fatalf("Remaining()=%d after expiry", h.Remaining())
	}

	ticksMu.Lock()
	defer ticksMu.Unlock()
	if len(ticks) != 3 {
		t.Fatalf("ticks=%v, want 3 entries", ticks)
	}
	for i, want := range []int{2, 1, 0} {
		if ticks[i] != want {
			t.Fatalf("ticks=%v, want [2 1 0]", ticks)
		}
	}
}

func TestRecorder_DoubleStopProducesOneSegment(t *testing.T) {
	r := NewRecorder(WithTickInterval(time.Hour)) // countdown effectively disabled
	stream := newFakeStream()
	defer stream.Stop()

	h, err := r.Start(stream, testQuestion("q1", 60), Hooks{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream.push([]byte{9, 9})

	seg1, performed1 := r.Stop(h)
	seg2, performed2 := r.Stop(h)

	if !performed1 || performed2 {
		t.Fatalf("performed1=%v performed2=%v, want true/false", performed1, performed2)
	}
	if seg1.QuestionID != seg2.QuestionID {
		t.Fatal("second stop must return the already-saved segment")
	}
	if len(r.Segments()) != 1 {
		t.Fatalf("segments=%d, want 1", len(r.Segments()))
	}
}

func TestRecorder_ManualStopRacesAutoStop(t *testing.T) {
	r := NewRecorder(WithTickInterval(testTick))
	stream := newFakeStream()
	defer stream.Stop()

	var performedTotal atomic.Int32
	autoDone := make(chan struct{})

	h, err := r.Start(stream, testQuestion("q1", 1), Hooks{
		OnAutoStop: func(types.RecordedSegment) {
			performedTotal.Add(1)
			close(autoDone)
		},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Race several manual stops against the imminent auto-stop.
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, performed := r.Stop(h); performed {
				performedTotal.Add(1)
			}
		}()
	}
	wg.Wait()
	select {
	case <-autoDone:
	case <-h.Done():
	case <-time.After(time.Second):
	}
	<-h.Done()

	if got := performedTotal.Load(); got != 1 {
		t.Fatalf("stop performed %d times, want exactly 1", got)
	}
	if len(r.Segments()) != 1 {
		t.Fatalf("segments=%d, want 1", len(r.Segments()))
	}
}

func TestRecorder_ReRecordReplacesOnlyThatQuestion(t *testing.T) {
	r := NewRecorder(WithTickInterval(time.Hour))
	record := func(id string, payload []byte) {
		stream := newFakeStream()
		defer stream.Stop()
		h, err := r.Start(stream, testQuestion(id, 60), Hooks{})
		if err != nil {
			t.Fatalf("Start(%s): %v", id, err)
		}
		stream.push(payload)
		waitCaptured(t, h, len(payload))
		r.Stop(h)
		<-h.Done()
	}

	record("q1", []byte("first take q1"))
	record("q2", []byte("only take q2"))
	before, _ := r.Segment("q2")

	record("q1", []byte("second take q1"))

	q1, _ := r.Segment("q1")
	if !bytes.Equal(q1.PCM, []byte("second take q1")) {
		t.Fatalf("q1 PCM=%q, want the re-recorded take", q1.PCM)
	}
	after, _ := r.Segment("q2")
	if !bytes.Equal(before.PCM, after.PCM) {
		t.Fatal("re-recording q1 must leave q2's bytes identical")
	}
	if len(r.Segments()) != 2 {
		t.Fatalf("segments=%d, want 2", len(r.Segments()))
	}
}

// waitCaptured blocks until the handle's buffer holds at least want bytes.
func waitCaptured(t *testing.T, h *Handle, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for h.Captured() < want {
		if time.Now().After(deadline) {
			t.Fatalf("captured %d bytes, want at least %d", h.Captured(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRecorder_StreamReuseKeepsEveryTake(t *testing.T) {
	r := NewRecorder(WithTickInterval(time.Hour))
	stream := newFakeStream()
	defer stream.Stop()

	// One held stream across consecutive questions, the way a session holds
	// the microphone open. Each stop parks the reader inside Read; the next
	// question's bytes must land in the next take, never vanish.
	payloads := map[string][]byte{
		"q1": []byte("first answer"),
		"q2": []byte("second answer"),
		"q3": []byte("third answer"),
		"q4": []byte("fourth answer"),
		"q5": []byte("fifth answer"),
	}
	for _, id := range []string{"q1", "q2", "q3", "q4", "q5"} {
		h, err := r.Start(stream, testQuestion(id, 60), Hooks{})
		if err != nil {
			t.Fatalf("Start(%s): %v", id, err)
		}
		stream.push(payloads[id])
		waitCaptured(t, h, len(payloads[id]))
		r.Stop(h)
		<-h.Done()
	}

	for id, want := range payloads {
		seg, ok := r.Segment(id)
		if !ok {
			t.Fatalf("segment %s missing", id)
		}
		if !bytes.Equal(seg.PCM, want) {
			t.Fatalf("segment %s PCM=%q, want %q", id, seg.PCM, want)
		}
	}
}

func TestRecorder_StartDiscardsPreviousSegmentImmediately(t *testing.T) {
	r := NewRecorder(WithTickInterval(time.Hour))
	stream := newFakeStream()
	h, _ := r.Start(stream, testQuestion("q1", 60), Hooks{})
	stream.push([]byte("take one"))
	waitDrained(t, stream)
	r.Stop(h)
	<-h.Done()
	stream.Stop()

	stream2 := newFakeStream()
	defer stream2.Stop()
	if _, err := r.Start(stream2, testQuestion("q1", 60), Hooks{}); err != nil {
		t.Fatalf("re-Start: %v", err)
	}
	if _, ok := r.Segment("q1"); ok {
		t.Fatal("starting a re-record must discard the previous segment")
	}
}

func TestRecorder_StartWhileActiveConflicts(t *testing.T) {
	r := NewRecorder(WithTickInterval(time.Hour))
	stream := newFakeStream()
	defer stream.Stop()

	h, err := r.Start(stream, testQuestion("q1", 60), Hooks{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop(h)

	_, err = r.Start(stream, testQuestion("q2", 60), Hooks{})
	var ce *core.Error
	if !errors.As(err, &ce) || ce.Type != core.ErrConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRecorder_StartRequiresLiveStream(t *testing.T) {
	r := NewRecorder()
	stream := newFakeStream()
	stream.Stop()

	if _, err := r.Start(stream, testQuestion("q1", 60), Hooks{}); err == nil {
		t.Fatal("expected error for stopped stream")
	}
	if _, err := r.Start(nil, testQuestion("q1", 60), Hooks{}); err == nil {
		t.Fatal("expected error for nil stream")
	}
}

func TestRecorder_CloseSavesPartialCapture(t *testing.T) {
	r := NewRecorder(WithTickInterval(time.Hour))
	stream := newFakeStream()
	defer stream.Stop()

	h, err := r.Start(stream, testQuestion("q1", 60), Hooks{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream.push([]byte("partial answer"))
	waitCaptured(t, h, len("partial answer"))

	r.Close()
	<-h.Done()

	seg, ok := r.Segment("q1")
	if !ok {
		t.Fatal("Close must save the in-flight segment")
	}
	if !bytes.Equal(seg.PCM, []byte("partial answer")) {
		t.Fatalf("PCM=%q", seg.PCM)
	}
	r.Close() // idempotent
}

func TestRecorder_NoTicksAfterStop(t *testing.T) {
	r := NewRecorder(WithTickInterval(testTick))
	stream := newFakeStream()
	defer stream.Stop()

	var tickCount atomic.Int32
	h, err := r.Start(stream, testQuestion("q1", 1000), Hooks{
		OnTick: func(int) { tickCount.Add(1) },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(5 * testTick)
	r.Stop(h)
	<-h.Done()

	settled := tickCount.Load()
	time.Sleep(10 * testTick)
	if got := tickCount.Load(); got != settled {
		t.Fatalf("ticks advanced after stop: %d -> %d", settled, got)
	}
}

func TestFormatRemaining(t *testing.T) {
	cases := []struct {
		in   int
		want string
	}{
		{125, "02:05"},
		{90, "01:30"},
		{60, "01:00"},
		{5, "00:05"},
		{0, "00:00"},
		{-3, "00:00"},
	}
	for _, tc := range cases {
		if got := FormatRemaining(tc.in); got != tc.want {
			t.Errorf("FormatRemaining(%d)=%q, want %q", tc.in, got, tc.want)
		}
	}
}
