package camera

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMultiplexer_SingleRepeatingRequest(t *testing.T) {
	f := newSessionFixture(t, MultiplexerConfig{}, 3)

	if n := countEntries(f.platform.Log(), "repeating:preview"); n != 1 {
		t.Fatalf("Expected one preview submission, got %d", n)
	}

	// リピーティングはディスポーザブル用の最後のターゲットを含まない
	targets := f.platform.LastSession().Repeating().Targets()
	if len(targets) != 2 || targets[0].Name() != "target-0" || targets[1].Name() != "target-1" {
		t.Errorf("Unexpected repeating targets: %v", targets)
	}

	// Active/Ready の揺れがない限り再投入しない
	onQueue(t, f.q, func(context.Context) { f.mux.OnActivated() })
	if n := countEntries(f.platform.Log(), "repeating:preview"); n != 1 {
		t.Errorf("Expected no resubmission while active, got %d", n)
	}
}

func TestMultiplexer_RecordToggle(t *testing.T) {
	f := newSessionFixture(t, MultiplexerConfig{}, 2)

	f.click(t, true)

	log := f.platform.Log()
	stop := indexOfEntry(log, "stop:0")
	record := indexOfEntry(log, "repeating:record")
	if stop < 0 || record < 0 || stop > record {
		t.Fatalf("Expected stop before record submission: %v", log)
	}
	if !f.mux.Recording() {
		t.Error("Expected recording mode")
	}
	if got := f.platform.LastSession().Repeating().Template(); got != RequestRecord {
		t.Errorf("Expected record request to be repeating, got %s", got)
	}

	want := []RequestType{RequestNone, RequestPreview, RequestNone, RequestRecord}
	states := f.rec.States()
	if len(states) != len(want) {
		t.Fatalf("Expected states %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("Expected state %s at %d, got %s", want[i], i, states[i])
		}
	}

	// もう一度押すとプレビューへ戻る
	f.click(t, true)
	if f.mux.Recording() {
		t.Error("Expected preview mode after second toggle")
	}
	if got := f.platform.LastSession().Repeating().Template(); got != RequestPreview {
		t.Errorf("Expected preview request to be repeating, got %s", got)
	}
}

func TestMultiplexer_CaptureAndSnapshot(t *testing.T) {
	tests := []struct {
		name      string
		snapshot  bool
		recording bool
		want      string
	}{
		{name: "プレビュー中は静止画", snapshot: true, recording: false, want: "capture:capture"},
		{name: "録画中はスナップショット", snapshot: true, recording: true, want: "capture:snapshot"},
		{name: "スナップショット無効なら録画中も静止画", snapshot: false, recording: true, want: "capture:capture"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			f := newSessionFixture(t, MultiplexerConfig{
				Snapshot: tt.snapshot,
				Options:  &CaptureOptions{Listener: rec.onCapture},
			}, 2)
			if tt.recording {
				f.click(t, true)
			}
			f.platform.ResetLog()

			f.click(t, false)

			if log := f.platform.Log(); countEntries(log, tt.want) != 1 {
				t.Errorf("Expected %s, got %v", tt.want, log)
			}
			// ディスポーザブルはリピーティングを止めない
			if n := countEntries(f.platform.Log(), "stop:0"); n != 0 {
				t.Errorf("Expected no stop for disposable request, got %d", n)
			}

			kind := RequestCapture
			if tt.want == "capture:snapshot" {
				kind = RequestSnapshot
			}
			events := rec.Events()
			wantEvents := []string{kind.String() + ":started", kind.String() + ":completed"}
			if !equalStrings(events, wantEvents) {
				t.Errorf("Expected events %v, got %v", wantEvents, events)
			}
		})
	}
}

func TestMultiplexer_CaptureOptionsFiltering(t *testing.T) {
	t.Run("リピーティングは既定で通知しない", func(t *testing.T) {
		rec := &recorder{}
		f := newSessionFixture(t, MultiplexerConfig{Options: &CaptureOptions{Listener: rec.onCapture}}, 2)

		// 通知先がなければフレームごとのハンドラも登録しない
		session := f.platform.LastSession()
		session.mu.Lock()
		attached := session.repHandler != nil
		session.mu.Unlock()
		if attached {
			t.Error("Expected no capture handler on repeating request")
		}

		session.EmitFrame()
		drain(t, f.q)

		if events := rec.Events(); len(events) != 0 {
			t.Errorf("Expected no repeating events, got %v", events)
		}
	})

	t.Run("Repeatable指定で通知する", func(t *testing.T) {
		rec := &recorder{}
		f := newSessionFixture(t, MultiplexerConfig{Options: &CaptureOptions{Listener: rec.onCapture, Repeatable: true}}, 2)

		f.platform.LastSession().EmitFrame()
		drain(t, f.q)

		want := []string{"preview:started", "preview:completed"}
		if events := rec.Events(); !equalStrings(events, want) {
			t.Errorf("Expected %v, got %v", want, events)
		}
	})

	t.Run("停止済みリクエストのイベントは破棄する", func(t *testing.T) {
		rec := &recorder{}
		f := newSessionFixture(t, MultiplexerConfig{Options: &CaptureOptions{Listener: rec.onCapture, Repeatable: true}}, 2)

		// 古いプレビューのハンドラを保持したまま録画へ切り替える
		old := f.platform.LastSession()
		old.mu.Lock()
		stale := old.repHandler
		old.mu.Unlock()
		f.click(t, true)

		stale(CaptureEvent{Kind: CaptureEventCompleted})
		drain(t, f.q)

		for _, e := range rec.Events() {
			if e == "preview:completed" {
				t.Errorf("Expected stale preview event to be dropped, got %v", rec.Events())
			}
		}
	})
}

func TestMultiplexer_ConfiguratorSeesEveryType(t *testing.T) {
	var seen []RequestType
	cfg := MultiplexerConfig{
		Snapshot: true,
		Configurator: func(rt RequestType, b RequestBuilder) {
			seen = append(seen, rt)
			SetKey(b, KeyFrameRate, 30.0)
			if rt.Disposable() {
				SetKey(b, KeyJPEGQuality, 95)
			}
		},
	}
	f := newSessionFixture(t, cfg, 2)

	want := []RequestType{RequestPreview, RequestRecord, RequestCapture, RequestSnapshot}
	if len(seen) != len(want) {
		t.Fatalf("Expected configurator calls %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("Expected %s at %d, got %s", want[i], i, seen[i])
		}
	}

	req := f.platform.LastSession().Repeating()
	if rate, ok := RequestValue(req, KeyFrameRate); !ok || rate != 30.0 {
		t.Errorf("Expected frame rate 30, got %v", rate)
	}
	if _, ok := RequestValue(req, KeyJPEGQuality); ok {
		t.Error("Expected no jpeg quality on repeating request")
	}
}

func TestMultiplexer_CloseAbortsDisposables(t *testing.T) {
	rec := &recorder{}
	var platform *MockPlatform
	listener := func(rt RequestType, ev CaptureEvent) {
		rec.onCapture(rt, ev)
		if ev.Failure != nil && ev.Failure.Reason == FailureAborted {
			// 通知の順序を操作ログと揃えて確認する
			platform.Note("aborted")
		}
	}
	f := newSessionFixture(t, MultiplexerConfig{Options: &CaptureOptions{Listener: listener}}, 2)
	platform = f.platform
	f.platform.SetAutoComplete(false)

	f.click(t, false)
	if f.platform.LastSession().PendingCaptures() != 1 {
		t.Fatal("Expected one pending capture")
	}

	onQueue(t, f.q, func(context.Context) {
		f.session.Close()
		f.mux.Close()
	})

	events := rec.Events()
	want := []string{"capture:failed"}
	if !equalStrings(events, want) {
		t.Errorf("Expected a single aborted failure, got %v", events)
	}
	log := f.platform.Log()
	if indexOfEntry(log, "aborted") < 0 || indexOfEntry(log, "aborted") > indexOfEntry(log, "session.close:0") {
		t.Errorf("Expected disposable to be aborted before session close: %v", log)
	}

	// クローズ後のクリックは無視される
	f.platform.ResetLog()
	onQueue(t, f.q, func(context.Context) { f.mux.OnClicked(false) })
	if len(f.platform.Log()) != 0 {
		t.Errorf("Expected closed multiplexer to ignore clicks, got %v", f.platform.Log())
	}
	if f.ctrl.Attached() {
		t.Error("Expected controller to be detached on close")
	}
}

func TestMultiplexer_StallGuardReissuesStop(t *testing.T) {
	f := newSessionFixture(t, MultiplexerConfig{ReadyTimeout: 10 * time.Millisecond, StopRetries: 2}, 2)
	f.platform.SetDropReady(true)

	f.click(t, true)

	eventually(t, 3*time.Second, func() bool { return len(f.rec.Errors()) > 0 })

	errs := f.rec.Errors()
	if !errors.Is(errs[0], ErrRepeatingStalled) {
		t.Errorf("Expected ErrRepeatingStalled, got %v", errs[0])
	}
	// 最初の停止 + 再試行2回
	if n := countEntries(f.platform.Log(), "stop:0"); n != 3 {
		t.Errorf("Expected 3 stop attempts, got %d", n)
	}
}

func TestMultiplexer_StallGuardDisarmedByReady(t *testing.T) {
	f := newSessionFixture(t, MultiplexerConfig{ReadyTimeout: 20 * time.Millisecond, StopRetries: 1}, 2)
	f.platform.SetDropReady(true)

	f.click(t, true)

	// タイムアウト前にレディ通知が届けば再試行しない
	f.platform.LastSession().Ready()
	drain(t, f.q)
	time.Sleep(80 * time.Millisecond)
	drain(t, f.q)

	if errs := f.rec.Errors(); len(errs) != 0 {
		t.Errorf("Expected no stall error, got %v", errs)
	}
	if n := countEntries(f.platform.Log(), "stop:0"); n != 1 {
		t.Errorf("Expected a single stop, got %d", n)
	}
	if n := countEntries(f.platform.Log(), "repeating:record"); n != 1 {
		t.Errorf("Expected record submission after ready, got %d", n)
	}
}

func TestMultiplexer_CloseIsIdempotent(t *testing.T) {
	f := newSessionFixture(t, MultiplexerConfig{}, 2)

	onQueue(t, f.q, func(context.Context) {
		f.mux.Close()
		f.mux.Close()
	})

	states := f.rec.States()
	nones := 0
	for _, s := range states[2:] {
		if s == RequestNone {
			nones++
		}
	}
	if nones != 1 {
		t.Errorf("Expected a single final none report, got %v", states)
	}
	if n := countEntries(f.platform.Log(), "repeating:preview"); n != 1 {
		t.Errorf("Expected close not to resubmit, got %d", n)
	}
}

func TestMultiplexer_CloseWhileRecordingReturnsToPreview(t *testing.T) {
	f := newSessionFixture(t, MultiplexerConfig{}, 2)
	f.click(t, true)
	if got := f.platform.LastSession().Repeating().Template(); got != RequestRecord {
		t.Fatalf("Expected record request before close, got %s", got)
	}
	f.platform.ResetLog()

	onQueue(t, f.q, func(context.Context) {
		f.mux.Close()
		f.mux.Close()
	})

	session := f.platform.LastSession()
	if session.Closed() {
		t.Error("Expected session to stay open after multiplexer close")
	}
	if got := session.Repeating().Template(); got != RequestPreview {
		t.Errorf("Expected preview request to be left repeating, got %s", got)
	}
	if n := countEntries(f.platform.Log(), "repeating:preview"); n != 1 {
		t.Errorf("Expected a single preview submission on close, got %d", n)
	}
	states := f.rec.States()
	if states[len(states)-1] != RequestNone {
		t.Errorf("Expected final none report, got %v", states)
	}
	if f.mux.Recording() {
		t.Error("Expected recording to be cleared on close")
	}
}
