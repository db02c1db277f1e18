package camera

import (
	"context"
	"errors"
	"testing"
)

func TestCaptureSession_ConfiguredStartsPreview(t *testing.T) {
	f := newSessionFixture(t, MultiplexerConfig{}, 2)

	if f.session.State() != SessionActive {
		t.Errorf("Expected state active, got %s", f.session.State())
	}
	if f.mux == nil {
		t.Fatal("Expected multiplexer to be created on configure")
	}

	log := f.platform.Log()
	if indexOfEntry(log, "session.create:0:2") > indexOfEntry(log, "repeating:preview") {
		t.Errorf("Expected session before request: %v", log)
	}
	states := f.rec.States()
	if len(states) != 2 || states[0] != RequestNone || states[1] != RequestPreview {
		t.Errorf("Expected [none preview], got %v", states)
	}
}

func TestCaptureSession_CloseIsIdempotent(t *testing.T) {
	f := newSessionFixture(t, MultiplexerConfig{}, 2)

	onQueue(t, f.q, func(context.Context) {
		f.session.Close()
		f.session.Close()
	})
	onQueue(t, f.q, func(context.Context) { f.session.Close() })

	if n := countEntries(f.platform.Log(), "session.close:0"); n != 1 {
		t.Errorf("Expected session to be closed once, got %d", n)
	}
	if f.session.State() != SessionClosed {
		t.Errorf("Expected state closed, got %s", f.session.State())
	}
	states := f.rec.States()
	if states[len(states)-1] != RequestNone {
		t.Errorf("Expected final state none, got %v", states)
	}
}

func TestCaptureSession_ClosesMultiplexerFirst(t *testing.T) {
	var platform *MockPlatform
	listener := func(_ RequestType, ev CaptureEvent) {
		if ev.Failure != nil && ev.Failure.Reason == FailureAborted {
			platform.Note("aborted")
		}
	}
	f := newSessionFixture(t, MultiplexerConfig{Options: &CaptureOptions{Listener: listener}}, 2)
	platform = f.platform
	f.platform.SetAutoComplete(false)
	f.click(t, false)

	onQueue(t, f.q, func(context.Context) { f.session.Close() })

	log := f.platform.Log()
	if countEntries(log, "aborted") != 1 {
		t.Fatalf("Expected a single aborted capture, got %v", log)
	}
	if indexOfEntry(log, "aborted") > indexOfEntry(log, "session.close:0") {
		t.Errorf("Expected multiplexer to be closed before the platform session: %v", log)
	}
	// クローズ中のレディ通知で再投入しない
	if n := countEntries(f.platform.Log(), "repeating:preview"); n != 1 {
		t.Errorf("Expected no resubmission while closing, got %d", n)
	}
	want := []RequestType{RequestNone, RequestPreview, RequestNone}
	states := f.rec.States()
	if len(states) != len(want) {
		t.Fatalf("Expected states %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("Expected state %s at %d, got %s", want[i], i, states[i])
		}
	}
}

func TestCaptureSession_CloseWhileRequesting(t *testing.T) {
	q := newTestQueue(t)
	platform := NewMockPlatform()
	platform.AddCamera("0", DefaultMockCharacteristics(FacingBack))
	created := 0

	var s *CaptureSession
	onQueue(t, q, func(context.Context) {
		var handle DeviceHandle
		_ = platform.OpenDevice("0", func(ev DeviceEvent) { handle = ev.Handle })
		s = NewCaptureSession(q, handle, mockTargets(2), func(context.Context, DeviceHandle, Session, []Target) (*Multiplexer, error) {
			created++
			return nil, errors.New("unexpected")
		}, nil, nil)
		s.Close()
	})

	if created != 0 {
		t.Error("Expected no multiplexer for a session closed before configure")
	}
	if n := countEntries(platform.Log(), "session.close:0"); n != 1 {
		t.Errorf("Expected deferred close to close the session, got %d", n)
	}
	if s.State() != SessionClosed {
		t.Errorf("Expected state closed, got %s", s.State())
	}
}

func TestCaptureSession_ConfigureFailed(t *testing.T) {
	sentinel := errors.New("unsupported stream combination")
	q := newTestQueue(t)
	platform := NewMockPlatform()
	platform.AddCamera("0", DefaultMockCharacteristics(FacingBack))
	platform.SetConfigureError(sentinel)
	rec := &recorder{}

	var s *CaptureSession
	onQueue(t, q, func(context.Context) {
		var handle DeviceHandle
		_ = platform.OpenDevice("0", func(ev DeviceEvent) { handle = ev.Handle })
		s = NewCaptureSession(q, handle, mockTargets(2), nil, rec.onError, nil)
	})

	errs := rec.Errors()
	if len(errs) != 1 {
		t.Fatalf("Expected 1 error, got %v", errs)
	}
	var cfgErr *SessionConfigureError
	if !errors.As(errs[0], &cfgErr) || cfgErr.DeviceID != "0" || !errors.Is(errs[0], sentinel) {
		t.Errorf("Expected SessionConfigureError wrapping sentinel, got %v", errs[0])
	}
	if s.State() != SessionConfigureFailed {
		t.Errorf("Expected state configure_failed, got %s", s.State())
	}
	// 失敗したセッションオブジェクトも閉じられる
	if n := countEntries(platform.Log(), "session.close:0"); n != 1 {
		t.Errorf("Expected failed session to be closed, got %d", n)
	}
}

func TestCaptureSession_NotEnoughTargets(t *testing.T) {
	f := newSessionFixture(t, MultiplexerConfig{}, 1)

	errs := f.rec.Errors()
	if len(errs) != 1 {
		t.Fatalf("Expected 1 error, got %v", errs)
	}
	var cfgErr *SessionConfigureError
	if !errors.As(errs[0], &cfgErr) || !errors.Is(errs[0], ErrNotEnoughTargets) {
		t.Errorf("Expected SessionConfigureError wrapping ErrNotEnoughTargets, got %v", errs[0])
	}
	if f.mux != nil {
		t.Error("Expected no multiplexer")
	}
	if n := countEntries(f.platform.Log(), "repeating:preview"); n != 0 {
		t.Errorf("Expected no request submission, got %d", n)
	}
}

func TestCaptureSession_NoTargets(t *testing.T) {
	q := newTestQueue(t)
	platform := NewMockPlatform()
	platform.AddCamera("0", DefaultMockCharacteristics(FacingBack))
	rec := &recorder{}

	var s *CaptureSession
	onQueue(t, q, func(context.Context) {
		var handle DeviceHandle
		_ = platform.OpenDevice("0", func(ev DeviceEvent) { handle = ev.Handle })
		s = NewCaptureSession(q, handle, nil, nil, rec.onError, nil)
	})

	if s.State() != SessionConfigureFailed {
		t.Errorf("Expected state configure_failed, got %s", s.State())
	}
	if errs := rec.Errors(); len(errs) != 1 || !errors.Is(errs[0], ErrNoTargets) {
		t.Errorf("Expected ErrNoTargets, got %v", errs)
	}
	if n := countEntries(platform.Log(), "session.create:0:0"); n != 0 {
		t.Error("Expected no platform session for empty targets")
	}
}

func TestTargetBinding_ReplacesSession(t *testing.T) {
	q := newTestQueue(t)
	platform := NewMockPlatform()
	platform.AddCamera("0", DefaultMockCharacteristics(FacingBack))

	var b *TargetBinding
	var first *CaptureSession
	onQueue(t, q, func(ctx context.Context) {
		var handle DeviceHandle
		_ = platform.OpenDevice("0", func(ev DeviceEvent) { handle = ev.Handle })
		b = NewTargetBinding(q, handle, nil, nil, nil)
		b.SetTargets(ctx, mockTargets(2))
		first = b.Session()
	})

	onQueue(t, q, func(ctx context.Context) { b.SetTargets(ctx, mockTargets(3)) })

	log := platform.Log()
	// 古いセッションを閉じてから新しいセッションを作成する
	if indexOfEntry(log, "session.close:0") > indexOfEntry(log, "session.create:0:3") {
		t.Errorf("Expected close before create: %v", log)
	}
	if first.State() != SessionClosed {
		t.Errorf("Expected old session closed, got %s", first.State())
	}

	onQueue(t, q, func(ctx context.Context) { b.SetTargets(ctx, nil) })
	if b.Session() != nil {
		t.Error("Expected nil targets to tear down the session")
	}
	if n := countEntries(platform.Log(), "session.close:0"); n != 2 {
		t.Errorf("Expected both sessions closed, got %d", n)
	}

	onQueue(t, q, func(ctx context.Context) {
		b.Close()
		b.Close()
		b.SetTargets(ctx, mockTargets(2))
	})
	if b.Session() != nil {
		t.Error("Expected closed binding to ignore new targets")
	}
}
