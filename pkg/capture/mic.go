package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/interviewkit/ivk-go/pkg/core"
)

// MicDevice captures microphone audio through the host's native audio stack.
// A terminal host has no camera, so a Config requesting video is satisfied
// with audio-only capture; the hardware-in-use indicator still lights up.
type MicDevice struct {
	logger *slog.Logger
}

// NewMicDevice creates a microphone device. A nil logger falls back to
// slog.Default().
func NewMicDevice(logger *slog.Logger) *MicDevice {
	if logger == nil {
		logger = slog.Default()
	}
	return &MicDevice{logger: logger}
}

// Open starts a capture stream at the requested PCM shape. Failures map to
// permission_denied so the caller can offer a retry.
func (d *MicDevice) Open(_ context.Context, cfg Config) (Stream, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{
		ThreadPriority: malgo.ThreadPriorityRealtime,
	}, nil)
	if err != nil {
		return nil, core.NewPermissionDeniedError(fmt.Sprintf("audio context unavailable: %v", err))
	}

	s := &micStream{mctx: mctx}
	s.cond = sync.NewCond(&s.mu)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Format.Channels)
	deviceConfig.SampleRate = uint32(cfg.Format.SampleRateHz)
	deviceConfig.PeriodSizeInMilliseconds = 20

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, samples []byte, _ uint32) {
			s.mu.Lock()
			if !s.stopped {
				s.buf = append(s.buf, samples...)
			}
			s.mu.Unlock()
			s.cond.Signal()
		},
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, core.NewPermissionDeniedError(fmt.Sprintf("microphone unavailable: %v", err))
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, core.NewPermissionDeniedError(fmt.Sprintf("microphone did not start: %v", err))
	}

	d.logger.Info("microphone capture started",
		"sample_rate_hz", cfg.Format.SampleRateHz,
		"channels", cfg.Format.Channels,
		"video_requested", cfg.Video)
	return s, nil
}

type micStream struct {
	mctx   *malgo.AllocatedContext
	device *malgo.Device

	mu       sync.Mutex
	cond     *sync.Cond
	buf      []byte
	stopped  bool
	stopOnce sync.Once
}

func (s *micStream) Read(p []byte) (int, error) {
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

func (s *micStream) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		s.cond.Broadcast()

		_ = s.device.Stop()
		s.device.Uninit()
		_ = s.mctx.Uninit()
		s.mctx.Free()
	})
	return nil
}

func (s *micStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
