package capture

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/interviewkit/ivk-go/pkg/core"
)

func TestManager_AcquireAndReleaseIdempotent(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, nil)

	stream, err := m.Acquire(context.Background(), Config{Format: DefaultFormat})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !m.Held() {
		t.Fatal("stream should be held after acquire")
	}

	m.Release(stream)
	if m.Held() {
		t.Fatal("stream should not be held after release")
	}
	if !stream.Stopped() {
		t.Fatal("release must stop the stream")
	}

	// Releasing again, or releasing nil, must be a no-op.
	m.Release(stream)
	m.Release(nil)
}

func TestManager_SecondAcquireWhileHeldConflicts(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, nil)

	stream, err := m.Acquire(context.Background(), Config{Format: DefaultFormat})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer m.Release(stream)

	_, err = m.Acquire(context.Background(), Config{Format: DefaultFormat})
	var ce *core.Error
	if !errors.As(err, &ce) || ce.Type != core.ErrConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestManager_PermissionDeniedThenRetry(t *testing.T) {
	dev := &fakeDevice{}
	dev.deny(permissionDenied())
	m := NewManager(dev, nil)

	_, err := m.Acquire(context.Background(), Config{Format: DefaultFormat})
	var ce *core.Error
	if !errors.As(err, &ce) || ce.Type != core.ErrPermissionDenied {
		t.Fatalf("expected permission_denied, got %v", err)
	}
	if !ce.IsRecoverable() {
		t.Fatal("permission denial must be recoverable")
	}
	if m.Held() {
		t.Fatal("no stream may be held after a denial")
	}

	// Retry is a fresh acquisition attempt.
	dev.allow()
	stream, err := m.Acquire(context.Background(), Config{Format: DefaultFormat})
	if err != nil {
		t.Fatalf("retry Acquire: %v", err)
	}
	m.Release(stream)
	if dev.opened != 1 {
		t.Fatalf("opened=%d, want 1", dev.opened)
	}
}

func TestManager_WrapsPlainDeviceErrors(t *testing.T) {
	dev := &fakeDevice{}
	dev.deny(fmt.Errorf("ALSA device busy"))
	m := NewManager(dev, nil)

	_, err := m.Acquire(context.Background(), Config{Format: DefaultFormat})
	var ce *core.Error
	if !errors.As(err, &ce) || ce.Type != core.ErrPermissionDenied {
		t.Fatalf("plain device errors should surface as permission_denied, got %v", err)
	}
}

func TestManager_Probe(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, nil)

	if err := m.Probe(context.Background(), Config{Format: DefaultFormat}); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if m.Held() {
		t.Fatal("probe must not keep the stream")
	}
	if len(dev.streams) != 1 || !dev.streams[0].Stopped() {
		t.Fatal("probe must stop the stream it opened")
	}
}

func TestManager_ReleaseHeld(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, nil)

	if _, err := m.Acquire(context.Background(), Config{Format: DefaultFormat}); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	m.ReleaseHeld()
	if m.Held() {
		t.Fatal("ReleaseHeld must drop the stream")
	}
	m.ReleaseHeld() // no-op
}
