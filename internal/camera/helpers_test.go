package camera

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// newTestQueue はテスト終了時に停止されるキューを作成する
func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q := NewQueue(QueueConfig{Name: t.Name(), Backlog: 1024}, nil)
	t.Cleanup(q.Close)
	return q
}

// drain はキューに連鎖的に投入されるタスクが尽きるまで待つ
func drain(t *testing.T, q *Queue) {
	t.Helper()
	for i := 0; i < 32; i++ {
		if err := q.Sync(context.Background(), func(context.Context) {}); err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
	}
}

// onQueue は関数をキュー上で実行し、連鎖したタスクも処理し終えるまで待つ
func onQueue(t *testing.T, q *Queue, fn func(ctx context.Context)) {
	t.Helper()
	if err := q.Sync(context.Background(), fn); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	drain(t, q)
}

// eventually は条件が満たされるまで待つ
func eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func mockTargets(n int) []Target {
	targets := make([]Target, 0, n)
	for i := 0; i < n; i++ {
		targets = append(targets, NewMockTarget(fmt.Sprintf("target-%d", i)))
	}
	return targets
}

func countEntries(log []string, entry string) int {
	n := 0
	for _, e := range log {
		if e == entry {
			n++
		}
	}
	return n
}

func indexOfEntry(log []string, entry string) int {
	for i, e := range log {
		if e == entry {
			return i
		}
	}
	return -1
}

// recorder はキュー外から読み出せるイベント記録
type recorder struct {
	mu     sync.Mutex
	states []RequestType
	errs   []error
	events []string
}

func (r *recorder) onState(t RequestType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, t)
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) onCapture(t RequestType, ev CaptureEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("%s:%s", t, ev.Kind))
}

func (r *recorder) States() []RequestType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RequestType(nil), r.states...)
}

func (r *recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// sessionFixture はモックのハンドル上にセッションと多重化器を構築する
type sessionFixture struct {
	q        *Queue
	platform *MockPlatform
	handle   DeviceHandle
	session  *CaptureSession
	mux      *Multiplexer
	ctrl     *Controller
	rec      *recorder
}

func newSessionFixture(t *testing.T, cfg MultiplexerConfig, targets int) *sessionFixture {
	t.Helper()

	f := &sessionFixture{
		q:        newTestQueue(t),
		platform: NewMockPlatform(),
		ctrl:     NewController(),
		rec:      &recorder{},
	}
	f.platform.AddCamera("0", DefaultMockCharacteristics(FacingBack))

	cfg.Controller = f.ctrl
	cfg.OnState = f.rec.onState
	cfg.OnFatal = f.rec.onError

	factory := func(_ context.Context, handle DeviceHandle, session Session, ts []Target) (*Multiplexer, error) {
		m, err := NewMultiplexer(f.q, handle, session, ts, cfg, nil)
		if err == nil {
			f.mux = m
		}
		return m, err
	}

	onQueue(t, f.q, func(context.Context) {
		if err := f.platform.OpenDevice("0", func(ev DeviceEvent) { f.handle = ev.Handle }); err != nil {
			t.Errorf("OpenDevice failed: %v", err)
			return
		}
		f.session = NewCaptureSession(f.q, f.handle, mockTargets(targets), factory, f.rec.onError, nil)
	})
	return f
}

func (f *sessionFixture) click(t *testing.T, record bool) {
	t.Helper()
	onQueue(t, f.q, func(context.Context) { f.ctrl.Click(record) })
}
