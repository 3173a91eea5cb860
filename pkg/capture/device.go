// Package capture owns exclusive media hardware: acquiring and releasing the
// capture stream, and recording bounded per-question segments from it.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/interviewkit/ivk-go/pkg/core"
)

// Format describes the PCM shape of a capture stream (s16le samples).
type Format struct {
	SampleRateHz int
	Channels     int
}

// DefaultFormat is the capture shape the platform's analysis side expects.
var DefaultFormat = Format{SampleRateHz: 16000, Channels: 1}

const bytesPerSample = 2 // s16le

// BytesPerSecond returns the PCM byte rate for this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRateHz * f.Channels * bytesPerSample
}

// Config selects what a capture stream carries. Scripted interviews request
// camera video alongside the microphone; conversational sessions are
// audio-only.
type Config struct {
	Format Format
	Video  bool
}

// Stream is a live capture stream. Read blocks until samples arrive and
// returns io.EOF once the stream is stopped and drained.
type Stream interface {
	Read(p []byte) (int, error)
	// Stop halts every constituent track. Stopping an already-stopped
	// stream is a no-op, not an error.
	Stop() error
	Stopped() bool
}

// Device opens capture streams. Implementations must return a *core.Error of
// type permission_denied when the host refuses hardware access, so callers
// can present a retry affordance instead of crashing.
type Device interface {
	Open(ctx context.Context, cfg Config) (Stream, error)
}

// Manager mediates exclusive ownership of the capture hardware. At most one
// stream is held at a time; while held, the host's hardware-in-use indicator
// is active so the candidate can see they are being recorded.
type Manager struct {
	device Device
	logger *slog.Logger

	mu     sync.Mutex
	stream Stream
}

// NewManager creates a manager over the given device. A nil logger falls back
// to slog.Default().
func NewManager(device Device, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{device: device, logger: logger}
}

// Acquire opens the capture stream. A failure never panics: hardware refusal
// surfaces as a recoverable permission_denied error, and acquisition is only
// re-attempted on explicit user action, never automatically.
func (m *Manager) Acquire(ctx context.Context, cfg Config) (Stream, error) {
	m.mu.Lock()
	if m.stream != nil && !m.stream.Stopped() {
		m.mu.Unlock()
		return nil, core.NewConflictError("capture stream is already held")
	}
	m.mu.Unlock()

	stream, err := m.device.Open(ctx, cfg)
	if err != nil {
		var ce *core.Error
		if !errors.As(err, &ce) {
			err = core.NewPermissionDeniedError(fmt.Sprintf("capture device unavailable: %v", err))
		}
		m.logger.Warn("capture acquire failed", "error", err)
		return nil, err
	}

	m.mu.Lock()
	m.stream = stream
	m.mu.Unlock()
	m.logger.Info("capture stream acquired", "video", cfg.Video, "sample_rate_hz", cfg.Format.SampleRateHz)
	return stream, nil
}

// Release stops every track of the given stream. Releasing twice, releasing
// nil, or releasing an already-stopped stream is a no-op.
func (m *Manager) Release(stream Stream) {
	if stream == nil {
		return
	}
	if !stream.Stopped() {
		_ = stream.Stop()
		m.logger.Info("capture stream released")
	}
	m.mu.Lock()
	if m.stream == stream {
		m.stream = nil
	}
	m.mu.Unlock()
}

// ReleaseHeld releases the currently held stream, if any. Used by teardown
// paths that do not carry a stream reference.
func (m *Manager) ReleaseHeld() {
	m.mu.Lock()
	stream := m.stream
	m.mu.Unlock()
	m.Release(stream)
}

// Held reports whether a live stream is currently owned.
func (m *Manager) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream != nil && !m.stream.Stopped()
}

// Probe checks device availability without keeping the stream. Intended for
// pre-flight checks before the candidate commits to the interview.
func (m *Manager) Probe(ctx context.Context, cfg Config) error {
	stream, err := m.Acquire(ctx, cfg)
	if err != nil {
		return err
	}
	m.Release(stream)
	return nil
}
