// Package realtime owns the continuous two-way voice session against the
// remote conversational endpoint.
package realtime

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/interviewkit/ivk-go/pkg/core"
	"github.com/interviewkit/ivk-go/pkg/core/types"
	"github.com/interviewkit/ivk-go/pkg/realtime/protocol"
)

// ConnectionState tracks the conversation transport.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("connection_state(%d)", int32(s))
	}
}

const (
	defaultConnectTimeout = 15 * time.Second
	defaultPingInterval   = 20 * time.Second
	defaultPongWait       = 45 * time.Second
)

// Conn is the subset of a websocket connection the conversation needs.
// *websocket.Conn satisfies it; tests substitute scripted doubles.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// DialFunc opens the websocket connection to a one-time connect URL.
type DialFunc func(ctx context.Context, connectURL string) (Conn, error)

// GorillaDial dials with the default gorilla websocket dialer.
func GorillaDial(ctx context.Context, connectURL string) (Conn, error) {
	dialer := websocket.DefaultDialer
	if dialer == nil {
		dialer = &websocket.Dialer{}
	}
	conn, resp, err := dialer.DialContext(ctx, connectURL, nil)
	if err != nil {
		if resp != nil {
			return nil, &core.TransportError{Op: "GET", URL: connectURL, Err: fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)}
		}
		return nil, &core.TransportError{Op: "GET", URL: connectURL, Err: err}
	}
	return conn, nil
}

// Event is emitted by Conversation.Events().
type Event interface {
	eventType() string
}

// TranscriptEvent carries one appended transcript entry.
type TranscriptEvent struct {
	Entry types.TranscriptEntry
}

func (e TranscriptEvent) eventType() string { return "transcript" }

// AssistantAudioEvent carries one chunk of agent speech for playback.
type AssistantAudioEvent struct {
	Seq  int64
	Data []byte
}

func (e AssistantAudioEvent) eventType() string { return "assistant_audio" }

// WarningEvent is a non-fatal advisory from the endpoint.
type WarningEvent struct {
	Message string
}

func (e WarningEvent) eventType() string { return "warning" }

// DisconnectedEvent reports the single end-of-session signal. Remote is true
// when the endpoint initiated the close.
type DisconnectedEvent struct {
	Reason string
	Remote bool
	Err    error
}

func (e DisconnectedEvent) eventType() string { return "disconnected" }

// Option configures a conversation.
type Option func(*Conversation)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conversation) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock injects the receipt-timestamp source. Defaults to time.Now.
func WithClock(clock func() time.Time) Option {
	return func(c *Conversation) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithDialer substitutes the websocket dialer.
func WithDialer(dial DialFunc) Option {
	return func(c *Conversation) {
		if dial != nil {
			c.dial = dial
		}
	}
}

// WithAudioFormat sets the microphone audio shape announced in the hello.
func WithAudioFormat(f protocol.AudioFormat) Option {
	return func(c *Conversation) {
		c.audioIn = f
	}
}

// WithHeartbeat overrides the ping cadence and pong wait. A zero interval
// disables heartbeats (used by tests with scripted connections).
func WithHeartbeat(interval, pongWait time.Duration) Option {
	return func(c *Conversation) {
		c.pingInterval = interval
		c.pongWait = pongWait
	}
}

// Conversation is a live conversational interview session. It owns the
// ConnectionState exclusively; callers only observe it.
type Conversation struct {
	logger *slog.Logger
	now    func() time.Time
	dial   DialFunc

	audioIn      protocol.AudioFormat
	pingInterval time.Duration
	pongWait     time.Duration

	conn Conn
	ref  string

	state atomic.Int32
	muted atomic.Bool
	seq   atomic.Int64

	events     chan Event
	done       chan struct{} // closed exactly once on disconnect, either path
	finishOnce sync.Once
	reason     string
	remote     bool

	writeMu sync.Mutex

	errMu sync.Mutex
	err   error

	log *transcriptLog
}

// Connect opens the conversation: dials the one-time connect URL, performs
// the hello exchange, and starts the read loop. The returned conversation is
// in the connected state.
func Connect(ctx context.Context, connectURL, token string, opts ...Option) (*Conversation, error) {
	c := &Conversation{
		logger:       slog.Default(),
		now:          time.Now,
		dial:         GorillaDial,
		audioIn:      protocol.AudioFormat{Encoding: "pcm_s16le", SampleRateHz: 16000, Channels: 1},
		pingInterval: defaultPingInterval,
		pongWait:     defaultPongWait,
		events:       make(chan Event, 64),
		done:         make(chan struct{}),
		log:          newTranscriptLog(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state.Store(int32(StateConnecting))

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	conn, err := c.dial(dialCtx, connectURL)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return nil, err
	}
	c.conn = conn

	if err := conn.WriteJSON(protocol.NewHello(token, c.audioIn)); err != nil {
		_ = conn.Close()
		c.state.Store(int32(StateDisconnected))
		return nil, &core.TransportError{Op: "hello", URL: connectURL, Err: err}
	}

	_ = conn.SetReadDeadline(c.now().Add(defaultConnectTimeout))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		c.state.Store(int32(StateDisconnected))
		return nil, &core.TransportError{Op: "hello_ack", URL: connectURL, Err: err}
	}
	_ = conn.SetReadDeadline(time.Time{})

	frame, err := protocol.DecodeServerFrame(payload)
	if err != nil {
		_ = conn.Close()
		c.state.Store(int32(StateDisconnected))
		return nil, core.NewAPIError(fmt.Sprintf("malformed hello_ack: %v", err))
	}
	switch f := frame.(type) {
	case protocol.ServerHelloAck:
		c.ref = f.ConversationRef
	case protocol.ServerError:
		_ = conn.Close()
		c.state.Store(int32(StateDisconnected))
		if f.Code == "session_expired" {
			return nil, core.NewExpiredError(f.Message)
		}
		return nil, core.NewAPIError(f.Message)
	default:
		_ = conn.Close()
		c.state.Store(int32(StateDisconnected))
		return nil, core.NewAPIError(fmt.Sprintf("unexpected first frame %T", frame))
	}

	c.state.Store(int32(StateConnected))
	c.logger.Info("conversation connected", "conversation_ref", c.ref)

	go c.readLoop()
	if c.pingInterval > 0 {
		go c.pingLoop()
	}
	return c, nil
}

// State returns the current connection state.
func (c *Conversation) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// ConversationRef identifies this conversation on the analysis side.
func (c *Conversation) ConversationRef() string {
	return c.ref
}

// Events yields session events. The channel is never closed; consumers stop
// on Disconnected().
func (c *Conversation) Events() <-chan Event {
	return c.events
}

// Disconnected is closed exactly once when the session ends, whether the
// close was remote- or local-initiated. It is the finalize trigger.
func (c *Conversation) Disconnected() <-chan struct{} {
	return c.done
}

// DisconnectReason reports why the session ended. Valid after Disconnected()
// is closed.
func (c *Conversation) DisconnectReason() (reason string, remote bool) {
	select {
	case <-c.done:
		return c.reason, c.remote
	default:
		return "", false
	}
}

// Err returns the terminal session error, if any. Valid after Disconnected().
func (c *Conversation) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Mute suppresses outbound audio. Local-only: the connection state does not
// change and inbound transcript entries keep arriving. The endpoint is told
// on a best-effort basis so the agent can acknowledge the silence.
func (c *Conversation) Mute() {
	if c.muted.CompareAndSwap(false, true) && c.State() == StateConnected {
		_ = c.writeJSON(protocol.NewControl(protocol.ControlOpMute))
	}
}

// Unmute resumes outbound audio.
func (c *Conversation) Unmute() {
	if c.muted.CompareAndSwap(true, false) && c.State() == StateConnected {
		_ = c.writeJSON(protocol.NewControl(protocol.ControlOpUnmute))
	}
}

// Muted reports the local mute toggle.
func (c *Conversation) Muted() bool { return c.muted.Load() }

// SendAudio ships one chunk of candidate microphone audio. While muted the
// chunk is silently dropped.
func (c *Conversation) SendAudio(pcm []byte) error {
	if c.State() != StateConnected {
		return core.NewConflictError("conversation is not connected")
	}
	if c.muted.Load() {
		return nil
	}
	frame := protocol.NewAudioFrame(c.seq.Add(1), base64.StdEncoding.EncodeToString(pcm))
	return c.writeJSON(frame)
}

func (c *Conversation) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// Transcript returns a copy of the receipt-ordered transcript so far.
func (c *Conversation) Transcript() []types.TranscriptEntry {
	return c.log.snapshot()
}

// Disconnect ends the session locally. Safe to call at any time and from any
// goroutine; the first close wins and later calls are no-ops.
func (c *Conversation) Disconnect() error {
	if c.State() == StateConnected {
		c.state.Store(int32(StateDisconnecting))
		// Best effort: tell the endpoint we are leaving before closing.
		_ = c.writeJSON(protocol.NewControl(protocol.ControlOpEndSession))
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), c.now().Add(2*time.Second))
		c.writeMu.Unlock()
	}
	c.finish("local_disconnect", false, nil)
	return nil
}

// finish is the single convergence point for every disconnect path.
func (c *Conversation) finish(reason string, remote bool, err error) {
	c.finishOnce.Do(func() {
		c.reason = reason
		c.remote = remote
		if err != nil {
			c.errMu.Lock()
			if c.err == nil {
				c.err = err
			}
			c.errMu.Unlock()
		}
		c.state.Store(int32(StateDisconnected))
		_ = c.conn.Close()

		c.emit(DisconnectedEvent{Reason: reason, Remote: remote, Err: err})
		close(c.done)
		c.logger.Info("conversation disconnected", "reason", reason, "remote", remote, "entries", c.log.len())
	})
}

func (c *Conversation) emit(event Event) {
	select {
	case c.events <- event:
	default:
		// Never let a stalled consumer block the read loop. Disconnection is
		// still observable through Disconnected().
	}
}

func (c *Conversation) readLoop() {
	if c.pingInterval > 0 {
		_ = c.conn.SetReadDeadline(c.now().Add(c.pongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(c.now().Add(c.pongWait))
		})
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.finish("remote_close", true, nil)
				return
			}
			if c.State() == StateDisconnecting || c.State() == StateDisconnected {
				// Local disconnect already in progress; the read error is a
				// consequence, not a cause.
				c.finish("local_disconnect", false, nil)
				return
			}
			c.finish("transport_error", true, &core.TransportError{Op: "read", Err: err})
			return
		}

		frame, err := protocol.DecodeServerFrame(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		switch f := frame.(type) {
		case protocol.ServerTranscriptEntry:
			entry := types.TranscriptEntry{
				Role:      types.Role(f.Role),
				Content:   f.Content,
				Timestamp: c.now(),
			}
			c.log.append(entry)
			c.emit(TranscriptEvent{Entry: entry})
		case protocol.ServerAssistantAudioChunk:
			audio, decodeErr := base64.StdEncoding.DecodeString(f.DataB64)
			if decodeErr != nil {
				c.logger.Warn("dropping undecodable audio chunk", "seq", f.Seq, "error", decodeErr)
				continue
			}
			c.emit(AssistantAudioEvent{Seq: f.Seq, Data: audio})
		case protocol.ServerWarning:
			c.emit(WarningEvent{Message: f.Message})
		case protocol.ServerError:
			c.finish("remote_error", true, core.NewAPIError(f.Message))
			return
		case protocol.ServerBye:
			c.finish(f.Reason, true, nil)
			return
		case protocol.UnknownFrame:
			c.logger.Debug("ignoring unknown frame", "type", f.Type)
		}
	}
}

func (c *Conversation) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, c.now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				c.finish("transport_error", true, &core.TransportError{Op: "ping", Err: err})
				return
			}
		}
	}
}
