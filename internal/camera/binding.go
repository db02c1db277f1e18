package camera

import (
	"context"

	"go.uber.org/zap"
)

// TargetBinding はオープン済みハンドルと出力ターゲットを結び付ける
//
// ターゲットが変わるたびに古いセッションを閉じてから新しいセッションを作成する。
type TargetBinding struct {
	queue   *Queue
	handle  DeviceHandle
	factory MultiplexerFactory
	onFatal func(error)
	logger  *zap.Logger

	session *CaptureSession
	closed  bool
}

// NewTargetBinding は新しいTargetBindingを作成する
func NewTargetBinding(queue *Queue, handle DeviceHandle, factory MultiplexerFactory, onFatal func(error), logger *zap.Logger) *TargetBinding {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TargetBinding{
		queue:   queue,
		handle:  handle,
		factory: factory,
		onFatal: onFatal,
		logger:  logger,
	}
}

// SetTargets はターゲットを差し替える。nilまたは空の場合はセッションを破棄する
func (b *TargetBinding) SetTargets(_ context.Context, targets []Target) {
	if b.closed {
		return
	}

	if b.session != nil {
		b.session.Close()
		b.session = nil
	}
	if len(targets) == 0 {
		return
	}
	b.session = NewCaptureSession(b.queue, b.handle, targets, b.factory, b.onFatal, b.logger)
}

// Session は現在のセッションを返す
func (b *TargetBinding) Session() *CaptureSession {
	return b.session
}

// Close はセッションを破棄する。冪等
func (b *TargetBinding) Close() {
	if b.closed {
		return
	}
	b.closed = true
	if b.session != nil {
		b.session.Close()
		b.session = nil
	}
}
