package camera

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueue_RunsInOrder(t *testing.T) {
	q := newTestQueue(t)

	var got []int
	for i := 0; i < 10; i++ {
		i := i
		if err := q.Post(func(context.Context) { got = append(got, i) }); err != nil {
			t.Fatalf("Post failed: %v", err)
		}
	}
	drain(t, q)

	for i, v := range got {
		if v != i {
			t.Fatalf("Expected FIFO order, got %v", got)
		}
	}
	if len(got) != 10 {
		t.Errorf("Expected 10 tasks, got %d", len(got))
	}
}

func TestQueue_DispatchInline(t *testing.T) {
	q := newTestQueue(t)

	var order []string
	onQueue(t, q, func(ctx context.Context) {
		if !q.OnQueue(ctx) {
			t.Error("Expected task context to be on queue")
		}
		_ = q.Dispatch(ctx, func(context.Context) { order = append(order, "inline") })
		_ = q.Post(func(context.Context) { order = append(order, "posted") })
		order = append(order, "after")
	})

	want := []string{"inline", "after", "posted"}
	if !equalStrings(order, want) {
		t.Errorf("Expected %v, got %v", want, order)
	}

	if q.OnQueue(context.Background()) {
		t.Error("Expected background context to be off queue")
	}
}

func TestQueue_PostAfterClose(t *testing.T) {
	q := NewQueue(QueueConfig{Name: "closed"}, nil)
	q.Close()
	q.Close() // 冪等

	if err := q.Post(func(context.Context) {}); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
	if err := q.Sync(context.Background(), func(context.Context) {}); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed from Sync, got %v", err)
	}
	if !q.Closed() {
		t.Error("Expected queue to report closed")
	}
}

func TestQueue_FullBacklog(t *testing.T) {
	q := NewQueue(QueueConfig{Name: "full", Backlog: 1}, nil)
	defer q.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	if err := q.Post(func(context.Context) { close(started); <-release }); err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	<-started

	// 実行中のタスクがブロックしている間にバックログを埋める
	if err := q.Post(func(context.Context) {}); err != nil {
		t.Fatalf("Expected backlog slot, got %v", err)
	}
	if err := q.Post(func(context.Context) {}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}
	close(release)
}

func TestQueue_DeliveriesIgnoreBacklog(t *testing.T) {
	q := NewQueue(QueueConfig{Name: "deliver", Backlog: 1}, nil)
	defer q.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	_ = q.Post(func(context.Context) { close(started); <-release })
	<-started

	var order []string
	if err := q.Post(func(context.Context) { order = append(order, "command") }); err != nil {
		t.Fatalf("Expected backlog slot, got %v", err)
	}
	if err := q.Post(func(context.Context) {}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Expected ErrQueueFull, got %v", err)
	}

	// コールバックとタイマーはバックログが埋まっていても順番に届く
	if err := q.Deliver(func(context.Context) { order = append(order, "deliver") }); err != nil {
		t.Errorf("Deliver failed: %v", err)
	}
	q.WrapDevice(func(_ context.Context, ev DeviceEvent) { order = append(order, "device:"+ev.Kind.String()) })(DeviceEvent{Kind: DeviceEventOpened})
	q.WrapSession(func(_ context.Context, ev SessionEvent) { order = append(order, "session:"+ev.Kind.String()) })(SessionEvent{Kind: SessionEventReady})
	fired := make(chan struct{})
	q.AfterFunc(0, func(context.Context) { close(fired) })
	eventually(t, time.Second, func() bool { return q.Len() == 5 })

	close(release)
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer task was dropped")
	}
	drain(t, q)

	want := []string{"command", "deliver", "device:" + DeviceEventOpened.String(), "session:" + SessionEventReady.String()}
	if !equalStrings(order, want) {
		t.Errorf("Expected %v, got %v", want, order)
	}
}

func TestQueue_SyncIgnoresBacklog(t *testing.T) {
	q := NewQueue(QueueConfig{Name: "sync", Backlog: 1}, nil)
	defer q.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	_ = q.Post(func(context.Context) { close(started); <-release })
	<-started
	_ = q.Post(func(context.Context) {})
	time.AfterFunc(20*time.Millisecond, func() { close(release) })

	ran := false
	if err := q.Sync(context.Background(), func(context.Context) { ran = true }); err != nil {
		t.Fatalf("Expected Sync to wait for a full backlog, got %v", err)
	}
	if !ran {
		t.Error("Expected task to run")
	}
}

func TestQueue_CloseDrainsPending(t *testing.T) {
	q := NewQueue(QueueConfig{Name: "drain", Backlog: 16}, nil)

	done := 0
	for i := 0; i < 5; i++ {
		_ = q.Post(func(context.Context) { done++ })
	}
	q.Close()

	if done != 5 {
		t.Errorf("Expected 5 tasks to run before close returns, got %d", done)
	}
}

func TestQueue_AfterFunc(t *testing.T) {
	q := newTestQueue(t)

	fired := make(chan bool, 1)
	q.AfterFunc(10*time.Millisecond, func(ctx context.Context) { fired <- q.OnQueue(ctx) })

	select {
	case onQ := <-fired:
		if !onQ {
			t.Error("Expected timer task to run on queue")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timer task did not run")
	}

	// 停止したタイマーは実行されない
	stop := q.AfterFunc(50*time.Millisecond, func(context.Context) { fired <- true })
	if !stop() {
		t.Error("Expected stop to cancel pending timer")
	}
	select {
	case <-fired:
		t.Error("Expected cancelled timer not to run")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestQueue_RecoversFromPanic(t *testing.T) {
	q := newTestQueue(t)

	_ = q.Post(func(context.Context) { panic("boom") })
	ran := false
	onQueue(t, q, func(context.Context) { ran = true })
	if !ran {
		t.Error("Expected queue to keep running after panic")
	}
}

func TestQueue_SyncRespectsContext(t *testing.T) {
	q := newTestQueue(t)

	release := make(chan struct{})
	_ = q.Post(func(context.Context) { <-release })
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Sync(ctx, func(context.Context) {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}
