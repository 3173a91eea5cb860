package capture

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/interviewkit/ivk-go/pkg/core"
	"github.com/interviewkit/ivk-go/pkg/core/types"
)

// Hooks are the recorder's outbound signals. Both are invoked from recorder
// goroutines; implementations must not call back into the recorder while
// holding their own locks.
type Hooks struct {
	// OnTick fires once per countdown interval with the remaining seconds.
	OnTick func(remaining int)
	// OnAutoStop fires when the countdown forces the stop. It does not fire
	// for manual stops.
	OnAutoStop func(segment types.RecordedSegment)
}

// Recorder records bounded per-question segments from a live capture stream.
// It keeps at most one segment per question: restarting a question discards
// only that question's previous take.
type Recorder struct {
	logger *slog.Logger
	clock  func() time.Time
	tick   time.Duration

	mu       sync.Mutex
	segments map[string]types.RecordedSegment
	active   *Handle
	readers  map[Stream]struct{}
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the logger.
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRecorderClock injects the time source. Defaults to time.Now.
func WithRecorderClock(clock func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithTickInterval overrides the countdown granularity. Production uses one
// second; tests shrink it to keep countdown paths fast and deterministic.
func WithTickInterval(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.tick = d
		}
	}
}

// NewRecorder creates a segment recorder.
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{
		logger:   slog.Default(),
		clock:    time.Now,
		tick:     time.Second,
		segments: make(map[string]types.RecordedSegment),
		readers:  make(map[Stream]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle identifies one in-flight segment recording.
type Handle struct {
	rec      *Recorder
	question types.Question
	stream   Stream
	hooks    Hooks

	mu        sync.Mutex
	buf       []byte
	remaining int
	stopped   bool
	segment   types.RecordedSegment
	startedAt time.Time

	stopc chan struct{} // closed on stop; kills the countdown loop
	done  chan struct{} // closed when the countdown loop has exited
}

// Start begins capturing a segment for the given question. Any previously
// recorded segment for that question id is discarded immediately; other
// questions' segments are untouched. The countdown starts at the question's
// time limit and forces a stop when it reaches zero.
func (r *Recorder) Start(stream Stream, q types.Question, hooks Hooks) (*Handle, error) {
	if stream == nil || stream.Stopped() {
		return nil, core.NewInvalidRequestError("recording requires a live capture stream")
	}
	if q.TimeLimitSeconds <= 0 {
		return nil, core.NewInvalidRequestErrorWithParam("time limit must be positive", "time_limit_seconds")
	}

	r.mu.Lock()
	if r.active != nil && !r.active.isStopped() {
		r.mu.Unlock()
		return nil, core.NewConflictError("another segment recording is active")
	}
	delete(r.segments, q.ID)

	h := &Handle{
		rec:       r,
		question:  q,
		stream:    stream,
		hooks:     hooks,
		remaining: q.TimeLimitSeconds,
		startedAt: r.clock(),
		stopc:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	r.active = h
	// One read loop per stream, shared across handles. A stream that stays
	// live for the next question keeps its single reader; per-handle loops
	// would race each other for the same wakeup and steal captured bytes.
	if _, ok := r.readers[stream]; !ok {
		r.readers[stream] = struct{}{}
		go r.readLoop(stream)
	}
	r.mu.Unlock()

	r.logger.Info("segment recording started", "question_id", q.ID, "time_limit_seconds", q.TimeLimitSeconds)

	go func() {
		h.countdownLoop(r.tick)
		close(h.done)
	}()
	return h, nil
}

// Stop ends the recording and returns the captured segment. Manual stops and
// countdown expiry converge here: the first call wins, later calls return the
// already-saved segment with performed=false.
func (r *Recorder) Stop(h *Handle) (types.RecordedSegment, bool) {
	return r.stop(h, false)
}

func (r *Recorder) stop(h *Handle, auto bool) (types.RecordedSegment, bool) {
	if h == nil {
		return types.RecordedSegment{}, false
	}

	h.mu.Lock()
	if h.stopped {
		seg := h.segment
		h.mu.Unlock()
		return seg, false
	}
	h.stopped = true
	close(h.stopc)

	now := r.clock()
	elapsed := now.Sub(h.startedAt)
	limit := time.Duration(h.question.TimeLimitSeconds) * time.Second
	if elapsed > limit {
		elapsed = limit
	}
	if elapsed < 0 {
		elapsed = 0
	}
	seg := types.RecordedSegment{
		QuestionID: h.question.ID,
		PCM:        append([]byte(nil), h.buf...),
		Duration:   elapsed,
		StartedAt:  h.startedAt,
		FinishedAt: now,
	}
	h.segment = seg
	h.mu.Unlock()

	r.mu.Lock()
	r.segments[seg.QuestionID] = seg
	if r.active == h {
		r.active = nil
	}
	r.mu.Unlock()

	r.logger.Info("segment recording stopped",
		"question_id", seg.QuestionID,
		"auto", auto,
		"duration", seg.Duration,
		"bytes", len(seg.PCM))
	return seg, true
}

func (h *Handle) isStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// Remaining returns the countdown value in whole seconds, never negative.
func (h *Handle) Remaining() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.remaining < 0 {
		return 0
	}
	return h.remaining
}

// Captured reports the PCM bytes buffered so far for this take.
func (h *Handle) Captured() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.buf)
}

// Done is closed once the countdown loop has exited: after it, no further
// OnTick or OnAutoStop callback will be observed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// readLoop drains one stream for the recorder's lifetime, routing chunks to
// whichever handle is currently recording from it. Chunks arriving between
// questions have no destination and are dropped. The loop retires when the
// stream reports EOF or a read error.
func (r *Recorder) readLoop(stream Stream) {
	chunk := make([]byte, 4096)
	for {
		n, err := stream.Read(chunk)
		if n > 0 {
			r.mu.Lock()
			h := r.active
			r.mu.Unlock()
			if h != nil && h.stream == stream {
				h.mu.Lock()
				if !h.stopped {
					h.buf = append(h.buf, chunk[:n]...)
				}
				h.mu.Unlock()
			}
		}
		if err != nil {
			if err != io.EOF {
				r.logger.Warn("capture stream read failed", "error", err)
			}
			r.mu.Lock()
			delete(r.readers, stream)
			r.mu.Unlock()
			return
		}
	}
}

func (h *Handle) countdownLoop(tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopc:
			return
		case <-ticker.C:
			h.mu.Lock()
			if h.stopped {
				h.mu.Unlock()
				return
			}
			h.remaining--
			if h.remaining < 0 {
				h.remaining = 0
			}
			remaining := h.remaining
			h.mu.Unlock()

			if h.hooks.OnTick != nil {
				h.hooks.OnTick(remaining)
			}
			if remaining == 0 {
				seg, performed := h.rec.stop(h, true)
				if performed && h.hooks.OnAutoStop != nil {
					h.hooks.OnAutoStop(seg)
				}
				return
			}
		}
	}
}

// Segment returns the saved segment for a question, if one exists.
func (r *Recorder) Segment(questionID string) (types.RecordedSegment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seg, ok := r.segments[questionID]
	return seg, ok
}

// Segments returns a copy of all saved segments keyed by question id.
func (r *Recorder) Segments() map[string]types.RecordedSegment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]types.RecordedSegment, len(r.segments))
	for k, v := range r.segments {
		out[k] = v
	}
	return out
}

// Close stops any in-flight recording through the regular stop path, so
// already-captured audio is saved rather than dropped. Safe to call at any
// time, including after every handle has stopped.
func (r *Recorder) Close() {
	r.mu.Lock()
	active := r.active
	r.mu.Unlock()
	if active != nil {
		r.stop(active, false)
	}
}

// FormatRemaining renders a countdown as zero-padded MM:SS. Negative values
// clamp to 00:00.
func FormatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
