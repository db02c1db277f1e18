package camera

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// AvailabilityWatcher はカメラの利用可否の変化を監視し、カタログ更新を1回にまとめて予約する
//
// 更新の予約中に届いた変化は同じ更新にまとめられる。
type AvailabilityWatcher struct {
	queue    *Queue
	platform Platform
	throttle time.Duration
	refresh  func(context.Context)
	logger   *zap.Logger

	pending bool
	closed  bool
	stop    func()
	cancel  func() bool
}

// NewAvailabilityWatcher は新しいAvailabilityWatcherを作成する
func NewAvailabilityWatcher(queue *Queue, platform Platform, throttle time.Duration, refresh func(context.Context), logger *zap.Logger) *AvailabilityWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityWatcher{
		queue:    queue,
		platform: platform,
		throttle: throttle,
		refresh:  refresh,
		logger:   logger.Named("availability"),
	}
}

// Start は監視を開始する
func (w *AvailabilityWatcher) Start() {
	if w.stop != nil || w.closed {
		return
	}
	w.stop = w.platform.WatchAvailability(w.queue.WrapAvailability(w.onChange))
}

// Pending は更新が予約中かどうかを返す
func (w *AvailabilityWatcher) Pending() bool {
	return w.pending
}

func (w *AvailabilityWatcher) onChange(_ context.Context, id string, available bool) {
	if w.closed {
		return
	}
	w.logger.Info("カメラの利用可否が変化しました", zap.String("camera_id", id), zap.Bool("available", available))
	if w.pending {
		return
	}

	w.pending = true
	if w.throttle > 0 {
		w.cancel = w.queue.AfterFunc(w.throttle, w.run)
		return
	}
	if err := w.queue.Deliver(w.run); err != nil {
		w.pending = false
		w.logger.Warn("カタログ更新を予約できません", zap.Error(err))
	}
}

func (w *AvailabilityWatcher) run(ctx context.Context) {
	w.pending = false
	w.cancel = nil
	if w.closed {
		return
	}
	w.refresh(ctx)
}

// Close は監視を停止する。冪等
func (w *AvailabilityWatcher) Close() {
	if w.closed {
		return
	}
	w.closed = true
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	if w.stop != nil {
		w.stop()
		w.stop = nil
	}
}
