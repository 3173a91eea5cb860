package ivk

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/interviewkit/ivk-go/pkg/assemble"
	"github.com/interviewkit/ivk-go/pkg/capture"
	"github.com/interviewkit/ivk-go/pkg/core"
	"github.com/interviewkit/ivk-go/pkg/core/types"
	"github.com/interviewkit/ivk-go/pkg/realtime"
	"github.com/interviewkit/ivk-go/pkg/realtime/protocol"
)

func protocolAudioFormat(f capture.Format) protocol.AudioFormat {
	return protocol.AudioFormat{
		Encoding:     "pcm_s16le",
		SampleRateHz: f.SampleRateHz,
		Channels:     f.Channels,
	}
}

// Stage is the orchestrator's position in the interview flow. Scripted
// interviews move intro → setup → active → review → complete; conversational
// ones move intro → active → complete. StageError is reachable from any
// non-terminal stage.
type Stage int32

const (
	StageIntro Stage = iota
	StageSetup
	StageActive
	StageReview
	StageComplete
	StageError
)

func (s Stage) String() string {
	switch s {
	case StageIntro:
		return "intro"
	case StageSetup:
		return "setup"
	case StageActive:
		return "active"
	case StageReview:
		return "review"
	case StageComplete:
		return "complete"
	case StageError:
		return "error"
	default:
		return "unknown"
	}
}

const finalizeTimeout = 60 * time.Second

// ControllerEvent is emitted on Controller.Events() for UI consumption.
type ControllerEvent interface {
	controllerEventType() string
}

// StageChangedEvent reports a stage transition.
type StageChangedEvent struct {
	From Stage
	To   Stage
}

func (e StageChangedEvent) controllerEventType() string { return "stage_changed" }

// CountdownEvent fires once per countdown tick of the active recording.
type CountdownEvent struct {
	QuestionID string
	Remaining  int
}

func (e CountdownEvent) controllerEventType() string { return "countdown" }

// SegmentSavedEvent reports a saved per-question segment. Auto is true when
// the countdown forced the stop.
type SegmentSavedEvent struct {
	Segment types.RecordedSegment
	Auto    bool
}

func (e SegmentSavedEvent) controllerEventType() string { return "segment_saved" }

// TranscriptUpdatedEvent carries one appended conversational transcript entry.
type TranscriptUpdatedEvent struct {
	Entry types.TranscriptEntry
}

func (e TranscriptUpdatedEvent) controllerEventType() string { return "transcript_updated" }

// AssistantAudioEvent carries one chunk of agent speech for playback.
type AssistantAudioEvent struct {
	Seq  int64
	Data []byte
}

func (e AssistantAudioEvent) controllerEventType() string { return "assistant_audio" }

// WarningEvent is a non-fatal advisory surfaced to the candidate.
type WarningEvent struct {
	Message string
}

func (e WarningEvent) controllerEventType() string { return "warning" }

// FinalizedEvent reports that the session's work reached the analysis service.
type FinalizedEvent struct{}

func (e FinalizedEvent) controllerEventType() string { return "finalized" }

// ErrorEvent surfaces a component failure to the UI. The session stays in its
// current stage for recoverable errors; finalize failures move it to
// StageError with the payload retained for RetryFinalize.
type ErrorEvent struct {
	Err error
}

func (e ErrorEvent) controllerEventType() string { return "error" }

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithControllerLogger sets the logger.
func WithControllerLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCountdownInterval overrides the countdown granularity. Production is
// one second.
func WithCountdownInterval(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.tick = d
		}
	}
}

// WithCaptureFormat sets the PCM shape requested from the capture device.
func WithCaptureFormat(f capture.Format) ControllerOption {
	return func(c *Controller) {
		c.format = f
	}
}

// retainedFinalize is the payload kept across a failed finalize so an
// explicit retry can re-send it without re-running the session.
type retainedFinalize struct {
	artifact        *assemble.Artifact
	conversationRef string
	transcript      []types.TranscriptEntry
}

// Controller is the top-level interview state machine. It selects the variant
// by session mode, drives stage transitions, and owns the finalize latch: no
// matter which trigger fires first (user submit, the final question's timer,
// a remote disconnect), the analysis service is called exactly once.
//
// Internal callbacks — countdown ticks, auto-stops, conversation events — are
// funneled through one ordered signal queue consumed by a single goroutine,
// so ordering and idempotence do not depend on where a callback came from.
type Controller struct {
	client  *Client
	logger  *slog.Logger
	session *types.InterviewSession

	devices  *capture.Manager
	recorder *capture.Recorder
	format   capture.Format
	tick     time.Duration

	stage     atomic.Int32
	finalized atomic.Bool // the one-shot finalize latch; never resets

	mu          sync.Mutex
	stream      capture.Stream
	handle      *capture.Handle
	conv        *realtime.Conversation
	retained    *retainedFinalize
	finalizeErr error

	events     chan ControllerEvent
	signals    chan func()
	done       chan struct{}
	finalizedc chan struct{}
	closeOnce  sync.Once
	finishOnce sync.Once
}

// NewController builds the orchestrator for one loaded session. The device is
// the capture capability; pass a real microphone/camera device in production
// and a scripted double in tests.
func NewController(client *Client, session *types.InterviewSession, device capture.Device, opts ...ControllerOption) (*Controller, error) {
	if client == nil {
		return nil, core.NewInvalidRequestError("client must not be nil")
	}
	if session == nil {
		return nil, core.NewInvalidRequestError("session must not be nil")
	}
	if device == nil {
		return nil, core.NewInvalidRequestError("capture device must not be nil")
	}

	c := &Controller{
		client:     client,
		logger:     client.logger,
		session:    session,
		format:     capture.DefaultFormat,
		tick:       time.Second,
		events:     make(chan ControllerEvent, 64),
		signals:    make(chan func(), 64),
		done:       make(chan struct{}),
		finalizedc: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.devices = capture.NewManager(device, c.logger)
	c.recorder = capture.NewRecorder(
		capture.WithRecorderLogger(c.logger),
		capture.WithRecorderClock(client.now),
		capture.WithTickInterval(c.tick),
	)
	c.stage.Store(int32(StageIntro))

	go c.run()
	return c, nil
}

// run consumes the ordered signal queue. Everything that mutates orchestrator
// state from an asynchronous source executes here.
func (c *Controller) run() {
	for {
		select {
		case <-c.done:
			return
		case fn := <-c.signals:
			fn()
		}
	}
}

// dispatch queues work onto the signal queue. After Close the work is dropped.
func (c *Controller) dispatch(fn func()) {
	select {
	case <-c.done:
	case c.signals <- fn:
	}
}

func (c *Controller) emit(ev ControllerEvent) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.events <- ev:
	default:
		// A stalled UI never blocks the orchestrator.
	}
}

// Events yields orchestrator events. The channel is never closed.
func (c *Controller) Events() <-chan ControllerEvent {
	return c.events
}

// Stage returns the current stage.
func (c *Controller) Stage() Stage {
	return Stage(c.stage.Load())
}

func (c *Controller) setStage(to Stage) {
	from := Stage(c.stage.Swap(int32(to)))
	if from != to {
		c.logger.Info("stage changed", "from", from.String(), "to", to.String())
		c.emit(StageChangedEvent{From: from, To: to})
	}
}

// Session returns the session this controller drives.
func (c *Controller) Session() *types.InterviewSession {
	return c.session
}

// Begin moves a scripted interview from intro to setup, where devices are
// acquired. Conversational interviews skip setup; use StartConversation.
func (c *Controller) Begin() error {
	if c.session.Mode != types.ModeScripted {
		return core.NewConflictError("only scripted interviews have a setup stage")
	}
	if c.Stage() != StageIntro {
		return core.NewConflictError("interview has already begun")
	}
	c.setStage(StageSetup)
	return nil
}

// AcquireDevices requests the camera+microphone stream. On refusal the stage
// does not advance and the recoverable permission error is returned; the
// candidate must retry explicitly, acquisition is never re-attempted
// automatically.
func (c *Controller) AcquireDevices(ctx context.Context) error {
	if c.Stage() != StageSetup {
		return core.NewConflictError("devices are acquired during setup")
	}
	stream, err := c.devices.Acquire(ctx, capture.Config{Format: c.format, Video: true})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()
	return nil
}

// StartRecording begins capturing the answer to one question. The first
// recording moves the stage from setup to active. Re-recording a question
// discards only that question's previous take.
func (c *Controller) StartRecording(questionID string) error {
	if c.finalized.Load() {
		return core.NewConflictError("interview has already been submitted")
	}
	stage := c.Stage()
	if stage != StageSetup && stage != StageActive {
		return core.NewConflictError("recording requires an acquired device stream")
	}
	q := c.session.QuestionByID(questionID)
	if q == nil {
		return core.NewInvalidRequestErrorWithParam("unknown question id", "question_id")
	}

	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil || stream.Stopped() {
		return core.NewConflictError("recording requires an acquired device stream")
	}

	handle, err := c.recorder.Start(stream, *q, capture.Hooks{
		OnTick: func(remaining int) {
			c.dispatch(func() {
				c.emit(CountdownEvent{QuestionID: questionID, Remaining: remaining})
			})
		},
		OnAutoStop: func(seg types.RecordedSegment) {
			c.dispatch(func() {
				c.clearHandle()
				c.emit(SegmentSavedEvent{Segment: seg, Auto: true})
				c.maybeFinalizeAfterFinalQuestion(seg.QuestionID)
			})
		},
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.handle = handle
	c.mu.Unlock()
	if stage == StageSetup {
		c.setStage(StageActive)
	}
	return nil
}

// StopRecording ends the in-flight recording manually. A stop that races the
// countdown's auto-stop converges on the same stop path; whichever fires
// first wins and exactly one segment is saved.
func (c *Controller) StopRecording() (types.RecordedSegment, error) {
	c.mu.Lock()
	handle := c.handle
	c.mu.Unlock()
	if handle == nil {
		return types.RecordedSegment{}, core.NewConflictError("no recording is active")
	}
	seg, performed := c.recorder.Stop(handle)
	c.clearHandle()
	if performed {
		c.dispatch(func() {
			c.emit(SegmentSavedEvent{Segment: seg, Auto: false})
		})
	}
	return seg, nil
}

func (c *Controller) clearHandle() {
	c.mu.Lock()
	c.handle = nil
	c.mu.Unlock()
}

// Remaining returns the active countdown in whole seconds, or zero when no
// recording is running.
func (c *Controller) Remaining() int {
	c.mu.Lock()
	handle := c.handle
	c.mu.Unlock()
	if handle == nil {
		return 0
	}
	return handle.Remaining()
}

// Segments returns the saved segments keyed by question id.
func (c *Controller) Segments() map[string]types.RecordedSegment {
	return c.recorder.Segments()
}

// MissingQuestionIDs lists the questions without a saved segment, in question
// order. UIs use it to block submission before assembly would fail.
func (c *Controller) MissingQuestionIDs() []string {
	segments := c.recorder.Segments()
	var missing []string
	for _, q := range c.session.Questions {
		if _, ok := segments[q.ID]; !ok {
			missing = append(missing, q.ID)
		}
	}
	return missing
}

// EnterReview stops any in-flight recording and moves the interview to
// review. The capture stream is released: hardware is held only during setup
// and active.
func (c *Controller) EnterReview() error {
	if c.Stage() != StageActive {
		return core.NewConflictError("review follows the active stage")
	}
	c.recorder.Close()
	c.clearHandle()
	c.releaseStream()
	c.setStage(StageReview)
	return nil
}

// Submit dispatches the scripted interview's assembled artifact. Completeness
// is checked before the finalize latch is touched, so an incomplete
// submission can be fixed and re-tried; once the latch is set the upload
// happens exactly once. Completion is reported via Finalized() and the event
// stream.
func (c *Controller) Submit() error {
	if c.session.Mode != types.ModeScripted {
		return core.NewConflictError("conversational interviews finalize via EndInterview")
	}
	if c.Stage() != StageReview {
		return core.NewConflictError("submission follows the review stage")
	}
	if missing := c.MissingQuestionIDs(); len(missing) > 0 {
		return core.NewIncompleteResponsesError(missing)
	}
	c.triggerFinalize("user_submit")
	return nil
}

// StartConversation runs the conversational variant: checks the microphone,
// requests a one-time connect URL, and opens the realtime session. On success
// the stage is active and the transcript starts accumulating.
func (c *Controller) StartConversation(ctx context.Context) error {
	if c.session.Mode != types.ModeConversational {
		return core.NewConflictError("scripted interviews record per-question segments")
	}
	if c.Stage() != StageIntro {
		return core.NewConflictError("conversation has already started")
	}

	stream, err := c.devices.Acquire(ctx, capture.Config{Format: c.format, Video: false})
	if err != nil {
		return err
	}

	connectURL, err := c.client.Sessions.CreateRealtime(ctx, c.session.ID)
	if err != nil {
		c.devices.Release(stream)
		return err
	}

	conv, err := realtime.Connect(ctx, connectURL, c.session.ID,
		realtime.WithLogger(c.logger),
		realtime.WithClock(c.client.now),
		realtime.WithDialer(c.client.dial),
		realtime.WithAudioFormat(protocolAudioFormat(c.format)),
	)
	if err != nil {
		c.devices.Release(stream)
		return err
	}

	c.mu.Lock()
	c.stream = stream
	c.conv = conv
	c.mu.Unlock()
	c.setStage(StageActive)

	go c.pumpConversation(conv)
	return nil
}

// pumpConversation forwards conversation events onto the ordered signal
// queue. The disconnect signal, from either side, is the finalize trigger.
func (c *Controller) pumpConversation(conv *realtime.Conversation) {
	for {
		select {
		case ev := <-conv.Events():
			switch e := ev.(type) {
			case realtime.TranscriptEvent:
				c.dispatch(func() { c.emit(TranscriptUpdatedEvent{Entry: e.Entry}) })
			case realtime.AssistantAudioEvent:
				c.dispatch(func() { c.emit(AssistantAudioEvent{Seq: e.Seq, Data: e.Data}) })
			case realtime.WarningEvent:
				c.dispatch(func() { c.emit(WarningEvent{Message: e.Message}) })
			}
		case <-conv.Disconnected():
			reason, remote := conv.DisconnectReason()
			if err := conv.Err(); err != nil {
				c.dispatch(func() { c.emit(ErrorEvent{Err: err}) })
			}
			c.logger.Info("conversation ended", "reason", reason, "remote", remote)
			c.triggerFinalize("disconnect:" + reason)
			return
		case <-c.done:
			return
		}
	}
}

// CaptureStream exposes the held capture stream so a host can pump
// microphone audio into the conversation. Nil when no stream is held.
func (c *Controller) CaptureStream() capture.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

// Conversation exposes the live conversation for mute control and outbound
// audio. Nil until StartConversation succeeds.
func (c *Controller) Conversation() *realtime.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv
}

// EndInterview is the candidate's explicit end action for a conversational
// session. It races safely with a remote disconnect arriving the same tick:
// the latch admits exactly one finalize.
func (c *Controller) EndInterview() error {
	if c.session.Mode != types.ModeConversational {
		return core.NewConflictError("scripted interviews submit from review")
	}
	if c.Stage() != StageActive {
		return core.NewConflictError("no conversation is active")
	}
	c.triggerFinalize("user_end")
	return nil
}

// maybeFinalizeAfterFinalQuestion fires when the final question's countdown
// ran out and every question has a saved segment.
func (c *Controller) maybeFinalizeAfterFinalQuestion(questionID string) {
	n := len(c.session.Questions)
	if n == 0 || c.session.Questions[n-1].ID != questionID {
		return
	}
	if len(c.MissingQuestionIDs()) > 0 {
		return
	}
	c.triggerFinalize("final_question_timeout")
}

// triggerFinalize is the single convergence point for every finalize trigger.
// The latch is set synchronously with the decision, before any asynchronous
// work begins, so near-simultaneous triggers cannot both dispatch.
func (c *Controller) triggerFinalize(trigger string) {
	if !c.finalized.CompareAndSwap(false, true) {
		c.logger.Debug("finalize already dispatched", "trigger", trigger)
		return
	}
	c.logger.Info("finalize latched", "trigger", trigger)
	c.dispatch(func() { c.doFinalize() })
}

// doFinalize runs on the signal queue exactly once per session. It releases
// hardware, builds the payload, and calls the analysis service. On a
// transport failure the payload is retained for an explicit RetryFinalize;
// there is no automatic retry.
func (c *Controller) doFinalize() {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	c.recorder.Close()
	c.clearHandle()

	var err error
	switch c.session.Mode {
	case types.ModeScripted:
		c.releaseStream()
		var artifact *assemble.Artifact
		artifact, err = assemble.Assemble(c.session, c.recorder.Segments(), c.format)
		if err != nil {
			c.failFinalize(err)
			return
		}
		c.mu.Lock()
		c.retained = &retainedFinalize{artifact: artifact}
		c.mu.Unlock()
		err = c.client.Submissions.SubmitArtifact(ctx, c.session.ID, artifact)

	case types.ModeConversational:
		c.mu.Lock()
		conv := c.conv
		c.mu.Unlock()
		if conv == nil {
			c.failFinalize(core.NewConflictError("no conversation to finalize"))
			return
		}
		if conv.State() != realtime.StateDisconnected {
			_ = conv.Disconnect()
			<-conv.Disconnected()
		}
		c.releaseStream()
		transcript := conv.Transcript()
		c.mu.Lock()
		c.retained = &retainedFinalize{conversationRef: conv.ConversationRef(), transcript: transcript}
		c.mu.Unlock()
		err = c.client.Submissions.FinalizeConversation(ctx, c.session.ID, conv.ConversationRef(), transcript)
	}

	if err != nil {
		c.failFinalize(err)
		return
	}
	c.completeFinalize()
}

// RetryFinalize re-sends the retained finalize payload after a failure. The
// latch stays set: this re-enters the flow from a safe point instead of
// re-running the session, and the gateway's duplicate-call guard keeps it
// from double-charging downstream systems.
func (c *Controller) RetryFinalize(ctx context.Context) error {
	if !c.finalized.Load() {
		return core.NewConflictError("finalize has not been dispatched")
	}
	c.mu.Lock()
	retained := c.retained
	c.mu.Unlock()
	if retained == nil {
		// Finalize already completed.
		return nil
	}

	var err error
	if retained.artifact != nil {
		err = c.client.Submissions.SubmitArtifact(ctx, c.session.ID, retained.artifact)
	} else {
		err = c.client.Submissions.FinalizeConversation(ctx, c.session.ID, retained.conversationRef, retained.transcript)
	}
	if err != nil {
		c.mu.Lock()
		c.finalizeErr = err
		c.mu.Unlock()
		return err
	}
	c.completeFinalize()
	return nil
}

func (c *Controller) completeFinalize() {
	c.mu.Lock()
	c.retained = nil
	c.finalizeErr = nil
	c.mu.Unlock()
	c.setStage(StageComplete)
	c.emit(FinalizedEvent{})
	c.finishOnce.Do(func() { close(c.finalizedc) })
}

func (c *Controller) failFinalize(err error) {
	c.mu.Lock()
	c.finalizeErr = err
	c.mu.Unlock()
	c.logger.Error("finalize failed", "error", err)
	c.setStage(StageError)
	c.emit(ErrorEvent{Err: err})
}

// Finalized is closed once the analysis service has acknowledged the
// session's work.
func (c *Controller) Finalized() <-chan struct{} {
	return c.finalizedc
}

// FinalizeErr returns the last finalize failure, nil once finalize succeeds.
func (c *Controller) FinalizeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalizeErr
}

func (c *Controller) releaseStream() {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()
	c.devices.Release(stream)
	c.devices.ReleaseHeld()
}

// Close tears the controller down from any stage: the in-flight recording is
// stopped through the regular stop path so captured audio is saved, the
// capture stream is released, the conversation is disconnected, and no
// further countdown callbacks are observed. It runs even if finalize already
// fired or errored, and never resets the latch.
//
// Close never finalizes. The signal queue is shut before the conversation is
// torn down, so the disconnect it causes cannot dispatch a submission; an
// interview abandoned mid-conversation stays unsubmitted.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.recorder.Close()
		c.clearHandle()

		c.mu.Lock()
		conv := c.conv
		c.mu.Unlock()
		if conv != nil {
			_ = conv.Disconnect()
		}

		c.releaseStream()
		c.logger.Info("controller closed", "stage", c.Stage().String(), "finalized", c.finalized.Load())
	})
}
