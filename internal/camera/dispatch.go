package camera

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// QueueConfig は実行キューの設定
type QueueConfig struct {
	Name         string
	Backlog      int
	LockOSThread bool
}

// DefaultQueueConfig はデフォルトのキュー設定を返す
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{Name: "camera", Backlog: 256}
}

type queueKey struct{}

// Queue は単一のゴルーチンでタスクを順番に実行するキュー
//
// カメラの状態はこのキュー上でのみ変更される。
// Post で投入するコマンドはバックログの上限で拒否されるが、
// プラットフォームからのコールバックやタイマーのタスクは拒否しない。
type Queue struct {
	name    string
	backlog int
	done    chan struct{}
	logger  *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []func(context.Context)
	closed  bool
}

// NewQueue は新しいQueueを作成し、実行ゴルーチンを開始する
func NewQueue(cfg QueueConfig, logger *zap.Logger) *Queue {
	if cfg.Backlog <= 0 {
		cfg.Backlog = DefaultQueueConfig().Backlog
	}
	if cfg.Name == "" {
		cfg.Name = DefaultQueueConfig().Name
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	q := &Queue{
		name:    cfg.Name,
		backlog: cfg.Backlog,
		done:    make(chan struct{}),
		logger:  logger.Named("queue").With(zap.String("queue", cfg.Name)),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.loop(cfg.LockOSThread)
	return q
}

func (q *Queue) loop(lockThread bool) {
	defer close(q.done)
	if lockThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	ctx := context.WithValue(context.Background(), queueKey{}, q)
	for {
		task, ok := q.next()
		if !ok {
			return
		}
		q.run(ctx, task)
	}
}

// next は次のタスクを取り出す。停止済みで空ならfalse
func (q *Queue) next() (func(context.Context), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) == 0 {
		if q.closed {
			return nil, false
		}
		q.cond.Wait()
	}
	task := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return task, true
}

func (q *Queue) enqueue(task func(context.Context), bounded bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if bounded && len(q.pending) >= q.backlog {
		return ErrQueueFull
	}
	q.pending = append(q.pending, task)
	q.cond.Signal()
	return nil
}

func (q *Queue) run(ctx context.Context, task func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("タスクがパニックしました", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	task(ctx)
}

// Name はキュー名を返す
func (q *Queue) Name() string {
	return q.name
}

// OnQueue はコンテキストがこのキュー上のタスクのものかどうかを返す
func (q *Queue) OnQueue(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	owner, _ := ctx.Value(queueKey{}).(*Queue)
	return owner == q
}

// Post はコマンドをキューに追加する。ブロックしない
//
// 未実行のタスクがバックログに達している場合はErrQueueFullを返す。
func (q *Queue) Post(task func(context.Context)) error {
	return q.enqueue(task, true)
}

// Deliver はタスクをキューに追加する。バックログの上限では拒否しない
//
// 外部のゴルーチンからの通知やタイマーのように、失うと状態が進まなくなるタスクに使う。
func (q *Queue) Deliver(task func(context.Context)) error {
	return q.enqueue(task, false)
}

// Dispatch はキュー上であれば即時に実行し、そうでなければキューに追加する
func (q *Queue) Dispatch(ctx context.Context, task func(context.Context)) error {
	if q.OnQueue(ctx) {
		task(ctx)
		return nil
	}
	return q.Post(task)
}

// Sync はタスクをキュー上で実行し、完了を待つ
//
// バックログの上限では拒否しない。
func (q *Queue) Sync(ctx context.Context, task func(context.Context)) error {
	if q.OnQueue(ctx) {
		task(ctx)
		return nil
	}

	finished := make(chan struct{})
	err := q.Deliver(func(qctx context.Context) {
		defer close(finished)
		task(qctx)
	})
	if err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AfterFunc は指定時間後にタスクをキューへ追加する。停止関数を返す
func (q *Queue) AfterFunc(d time.Duration, task func(context.Context)) (stop func() bool) {
	timer := time.AfterFunc(d, func() {
		if err := q.Deliver(task); err != nil {
			q.logger.Debug("タイマータスクを破棄しました", zap.Duration("delay", d), zap.Error(err))
		}
	})
	return timer.Stop
}

// Close は新規タスクの受付を停止し、残りのタスクを実行し終えるまで待つ
//
// キュー上のタスクから呼び出してはならない。
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	<-q.done
}

// Len は未実行のタスク数を返す
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Closed は停止済みかどうかを返す
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) post(what string, task func(context.Context)) {
	if err := q.Deliver(task); err != nil {
		q.logger.Debug("停止済みのためコールバックを破棄しました", zap.String("callback", what), zap.Error(err))
	}
}

// WrapDevice はデバイスイベントをキューへ再投入するハンドラを返す
func (q *Queue) WrapDevice(handler func(context.Context, DeviceEvent)) DeviceHandler {
	return func(ev DeviceEvent) {
		q.post(fmt.Sprintf("device:%s", ev.Kind), func(ctx context.Context) { handler(ctx, ev) })
	}
}

// WrapSession はセッションイベントをキューへ再投入するハンドラを返す
func (q *Queue) WrapSession(handler func(context.Context, SessionEvent)) SessionHandler {
	return func(ev SessionEvent) {
		q.post(fmt.Sprintf("session:%s", ev.Kind), func(ctx context.Context) { handler(ctx, ev) })
	}
}

// WrapCapture はキャプチャイベントをキューへ再投入するハンドラを返す
func (q *Queue) WrapCapture(handler func(context.Context, CaptureEvent)) CaptureHandler {
	return func(ev CaptureEvent) {
		q.post(fmt.Sprintf("capture:%s", ev.Kind), func(ctx context.Context) { handler(ctx, ev) })
	}
}

// WrapAvailability は利用可否の変化をキューへ再投入するハンドラを返す
func (q *Queue) WrapAvailability(handler func(context.Context, string, bool)) AvailabilityHandler {
	return func(id string, available bool) {
		q.post("availability", func(ctx context.Context) { handler(ctx, id, available) })
	}
}
