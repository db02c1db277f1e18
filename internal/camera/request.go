package camera

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	// DefaultReadyTimeout はリピーティング停止後にレディ通知を待つ時間
	DefaultReadyTimeout = 2 * time.Second
	// DefaultStopRetries はリピーティング停止の再試行回数
	DefaultStopRetries = 3
)

// CaptureOptions はキャプチャイベントの外部通知設定
type CaptureOptions struct {
	Listener func(RequestType, CaptureEvent)
	// Repeatable がtrueの場合はリピーティングリクエストのイベントも通知する
	Repeatable bool
}

// Controller はUIからの録画切替・撮影指示を現在の多重化器へ中継する
//
// キュー上でのみ操作される。
type Controller struct {
	click func(record bool)
	token int
}

// NewController は新しいControllerを作成する
func NewController() *Controller {
	return &Controller{}
}

// Click は録画切替（record=true）または撮影（record=false）を指示する
//
// 接続中の多重化器がない場合はfalseを返す。
func (c *Controller) Click(record bool) bool {
	if c.click == nil {
		return false
	}
	c.click(record)
	return true
}

// Attached は多重化器が接続されているかどうかを返す
func (c *Controller) Attached() bool {
	return c.click != nil
}

func (c *Controller) attach(click func(bool)) (detach func()) {
	c.token++
	token := c.token
	c.click = click
	return func() {
		if c.token == token {
			c.click = nil
		}
	}
}

// MultiplexerConfig は多重化器の設定
type MultiplexerConfig struct {
	Configurator Configurator
	Options      *CaptureOptions
	Controller   *Controller
	OnState      func(RequestType)
	OnFatal      func(error)
	Snapshot     bool
	ReadyTimeout time.Duration
	StopRetries  uint64
}

// tracker は投入したリクエスト1件分のイベント転送を管理する
type tracker struct {
	t      RequestType
	closed bool
}

// Multiplexer はリピーティングリクエストとディスポーザブルリクエストを多重化する
//
// 全てのメソッドはキュー上で呼び出される。
type Multiplexer struct {
	queue   *Queue
	session Session
	cfg     MultiplexerConfig
	logger  *zap.Logger

	preview, record, capture, snapshot Request

	recording bool
	active    bool
	closed    bool

	current  *tracker
	inflight []*tracker
	detach   func()
	stall    *stallGuard
}

// NewMultiplexer は各種リクエストを構築し、最初のリピーティングリクエストを投入する
//
// 最後のターゲットがディスポーザブル用、それ以外がリピーティング用となる。
func NewMultiplexer(queue *Queue, handle DeviceHandle, session Session, targets []Target, cfg MultiplexerConfig, logger *zap.Logger) (*Multiplexer, error) {
	if len(targets) < 2 {
		return nil, fmt.Errorf("%d 個のターゲットでは構成できません: %w", len(targets), ErrNotEnoughTargets)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}

	last := len(targets) - 1
	repeating := slices.Clone(targets[:last])
	disposable := slices.Clone(targets[last:])

	m := &Multiplexer{
		queue:   queue,
		session: session,
		cfg:     cfg,
		logger:  logger.Named("multiplexer").With(zap.String("session_id", session.ID())),
	}

	var err error
	if m.preview, err = buildRequest(handle, RequestPreview, repeating, cfg.Configurator); err != nil {
		return nil, err
	}
	if m.record, err = buildRequest(handle, RequestRecord, repeating, cfg.Configurator); err != nil {
		return nil, err
	}
	if m.capture, err = buildRequest(handle, RequestCapture, disposable, cfg.Configurator); err != nil {
		return nil, err
	}
	if cfg.Snapshot {
		if m.snapshot, err = buildRequest(handle, RequestSnapshot, disposable, cfg.Configurator); err != nil {
			return nil, err
		}
	}

	m.stall = newStallGuard(queue, cfg.ReadyTimeout, cfg.StopRetries, m.reissueStop, m.stalled)
	if cfg.Controller != nil {
		m.detach = cfg.Controller.attach(m.OnClicked)
	}

	m.invalidate()
	return m, nil
}

// Recording は録画モードかどうかを返す
func (m *Multiplexer) Recording() bool {
	return m.recording
}

// Active はセッションがリクエストを処理中かどうかを返す
func (m *Multiplexer) Active() bool {
	return m.active
}

// OnActivated はセッションがアクティブになったことを通知する
func (m *Multiplexer) OnActivated() {
	if m.active {
		return
	}
	m.active = true
	m.invalidate()
}

// OnDeactivated はセッションがレディになったことを通知する
func (m *Multiplexer) OnDeactivated() {
	stopping := m.stall.disarm()
	if !m.active && !stopping {
		return
	}
	m.active = false
	m.invalidate()
}

// OnClicked は録画切替（record=true）または撮影（record=false）を処理する
func (m *Multiplexer) OnClicked(record bool) {
	if m.closed {
		return
	}
	if record {
		m.toggleRecording()
		return
	}
	m.submitDisposable()
}

// Close は多重化器を閉じる。冪等
//
// 処理中のディスポーザブルリクエストには中断として失敗を通知する。
func (m *Multiplexer) Close() {
	if m.closed {
		return
	}
	if m.detach != nil {
		m.detach()
		m.detach = nil
	}
	m.stall.disarm()
	m.closed = true
	m.recording = false

	for _, tr := range m.inflight {
		tr.closed = true
		m.forward(tr.t, CaptureEvent{
			Kind:      CaptureEventFailed,
			Timestamp: time.Now(),
			Failure:   &CaptureFailure{Reason: FailureAborted},
		})
	}
	m.inflight = nil

	m.invalidate()
}

// invalidate は現在の状態に応じてリピーティングリクエストを投入し、状態を通知する
func (m *Multiplexer) invalidate() {
	if m.active && !m.closed {
		if m.recording {
			m.report(RequestRecord)
		} else {
			m.report(RequestPreview)
		}
		return
	}

	var running RequestType
	if m.current != nil {
		running = m.current.t
		m.current.closed = true
		m.current = nil
	}
	if m.closed {
		// 録画中のまま閉じずにプレビューへ戻す
		if running == RequestRecord {
			if err := m.session.SetRepeating(m.preview, nil); err != nil {
				m.logger.Warn("プレビューへの復帰に失敗しました", zap.Error(err))
			}
		}
		m.report(RequestNone)
		return
	}
	m.report(RequestNone)

	t, req := RequestPreview, m.preview
	if m.recording {
		t, req = RequestRecord, m.record
	}
	tr := &tracker{t: t}
	m.current = tr
	var handler CaptureHandler
	if opts := m.cfg.Options; opts != nil && opts.Listener != nil && opts.Repeatable {
		handler = m.handlerFor(tr)
	}
	if err := m.session.SetRepeating(req, handler); err != nil {
		m.logger.Error("リピーティングリクエストの投入に失敗しました", zap.Stringer("type", t), zap.Error(err))
		m.fatal(fmt.Errorf("%s リクエストの投入に失敗: %w", t, err))
	}
}

func (m *Multiplexer) toggleRecording() {
	m.recording = !m.recording
	m.logger.Info("録画モードを切り替えます", zap.Bool("recording", m.recording))
	if err := m.session.StopRepeating(); err != nil {
		m.logger.Error("リピーティングリクエストの停止に失敗しました", zap.Error(err))
		m.fatal(fmt.Errorf("リピーティングリクエストの停止に失敗: %w", err))
		return
	}
	m.stall.arm()
}

func (m *Multiplexer) submitDisposable() {
	t, req := RequestCapture, m.capture
	if m.recording && m.snapshot != nil {
		t, req = RequestSnapshot, m.snapshot
	}

	tr := &tracker{t: t}
	m.inflight = append(m.inflight, tr)
	if err := m.session.Capture(req, m.handlerFor(tr)); err != nil {
		m.logger.Warn("ディスポーザブルリクエストの投入に失敗しました", zap.Stringer("type", t), zap.Error(err))
		m.finish(tr)
		m.forward(t, CaptureEvent{
			Kind:      CaptureEventFailed,
			Timestamp: time.Now(),
			Failure:   &CaptureFailure{Reason: FailureError},
		})
	}
}

func (m *Multiplexer) handlerFor(tr *tracker) CaptureHandler {
	return m.queue.WrapCapture(func(_ context.Context, ev CaptureEvent) {
		m.onCapture(tr, ev)
	})
}

func (m *Multiplexer) onCapture(tr *tracker, ev CaptureEvent) {
	if tr.closed {
		return
	}
	if tr.t.Disposable() && ev.Terminal() {
		m.finish(tr)
	}
	m.forward(tr.t, ev)
}

// finish はディスポーザブルリクエストを処理中の一覧から外す
func (m *Multiplexer) finish(tr *tracker) {
	tr.closed = true
	m.inflight = slices.DeleteFunc(m.inflight, func(x *tracker) bool { return x == tr })
}

// forward はキャプチャイベントを外部へ通知する
func (m *Multiplexer) forward(t RequestType, ev CaptureEvent) {
	opts := m.cfg.Options
	if opts == nil || opts.Listener == nil {
		return
	}
	if t.Repeating() && !opts.Repeatable {
		return
	}
	opts.Listener(t, ev)
}

func (m *Multiplexer) report(t RequestType) {
	if m.cfg.OnState != nil {
		m.cfg.OnState(t)
	}
}

func (m *Multiplexer) fatal(err error) {
	if m.cfg.OnFatal != nil {
		m.cfg.OnFatal(err)
	}
}

func (m *Multiplexer) reissueStop() error {
	m.logger.Warn("レディ通知が届かないため停止を再要求します")
	return m.session.StopRepeating()
}

func (m *Multiplexer) stalled() {
	m.logger.Error("リピーティングリクエストの停止が完了しませんでした")
	m.fatal(fmt.Errorf("セッション %s: %w", m.session.ID(), ErrRepeatingStalled))
}

// stallGuard はリピーティング停止後のレディ通知を監視する
type stallGuard struct {
	queue     *Queue
	timeout   time.Duration
	retries   uint64
	retry     func() error
	exhausted func()

	policy     backoff.BackOff
	generation int
	armed      bool
	cancel     func() bool
}

func newStallGuard(queue *Queue, timeout time.Duration, retries uint64, retry func() error, exhausted func()) *stallGuard {
	return &stallGuard{
		queue:     queue,
		timeout:   timeout,
		retries:   retries,
		retry:     retry,
		exhausted: exhausted,
	}
}

// arm は監視を開始する。既に監視中の場合は最初からやり直す
func (g *stallGuard) arm() {
	g.disarm()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = g.timeout
	exp.MaxInterval = 8 * g.timeout
	exp.MaxElapsedTime = 0
	exp.Reset()
	g.policy = backoff.WithMaxRetries(exp, g.retries)

	g.armed = true
	g.schedule(g.timeout)
}

// disarm は監視を停止する。監視中だった場合はtrueを返す
func (g *stallGuard) disarm() bool {
	was := g.armed
	g.armed = false
	g.generation++
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	return was
}

func (g *stallGuard) schedule(d time.Duration) {
	generation := g.generation
	g.cancel = g.queue.AfterFunc(d, func(context.Context) {
		if !g.armed || g.generation != generation {
			return
		}
		g.fire()
	})
}

func (g *stallGuard) fire() {
	next := g.policy.NextBackOff()
	if next == backoff.Stop {
		g.disarm()
		g.exhausted()
		return
	}
	if err := g.retry(); err != nil {
		g.disarm()
		g.exhausted()
		return
	}
	g.schedule(next)
}
