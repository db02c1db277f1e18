package camera

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Options はPipelineの設定
type Options struct {
	Queue           QueueConfig
	FrontFirst      bool
	Snapshot        bool
	RefreshThrottle time.Duration
	ReadyTimeout    time.Duration
	StopRetries     uint64

	Configurator Configurator
	Capture      *CaptureOptions

	// OnInstance は選択が変わるたびに呼び出される（キュー上）
	OnInstance func(Instance)
	// OnState はストリーミング状態が変わるたびに呼び出される（キュー上）
	OnState func(RequestType)
	// OnError は各層の致命的エラーをローカルの後始末の後に受け取る（キュー上）
	OnError func(error)

	// ReopenPolicy が設定されている場合、デバイスの致命的エラー後に同じカメラを再オープンする
	ReopenPolicy func() backoff.BackOff

	Logger *zap.Logger
}

// Status はパイプラインの状態の不変なスナップショット
type Status struct {
	Profile   Profile
	Index     int
	Profiles  []Profile
	Device    DeviceState
	Streaming RequestType
	Recording bool
	Targets   int
	LastError string
	UpdatedAt time.Time
}

// ownerFunc は関数をSessionOwnerとして扱う
type ownerFunc func()

func (f ownerFunc) Close() { f() }

// Pipeline はカタログ・セレクタ・デバイスを束ねる最上位コンポーネント
//
// 公開メソッドはどのゴルーチンからでも呼び出せる。内部状態はキュー上でのみ変更される。
type Pipeline struct {
	opts       Options
	queue      *Queue
	platform   Platform
	catalog    *Catalog
	selector   *Selector
	watcher    *AvailabilityWatcher
	controller *Controller
	logger     *zap.Logger

	device     *Device
	binding    *TargetBinding
	targets    []Target
	generation uint64
	streaming  RequestType
	lastError  error

	reopen       backoff.BackOff
	cancelReopen func() bool

	closed    bool
	closeOnce sync.Once
	status    atomic.Pointer[Status]
}

// NewPipeline は新しいPipelineを作成する
func NewPipeline(platform Platform, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}

	p := &Pipeline{
		opts:       opts,
		platform:   platform,
		catalog:    NewCatalog(platform, opts.FrontFirst),
		controller: NewController(),
		logger:     logger.Named("pipeline"),
	}
	p.queue = NewQueue(opts.Queue, logger)
	p.selector = NewSelector(p.onSelect)
	p.watcher = NewAvailabilityWatcher(p.queue, platform, opts.RefreshThrottle, p.refresh, logger)
	p.publish()
	return p
}

// Queue は実行キューを返す
func (p *Pipeline) Queue() *Queue {
	return p.queue
}

// Start は初回の列挙を行い、利用可否の監視を開始する
func (p *Pipeline) Start(ctx context.Context) error {
	var startErr error
	err := p.queue.Sync(ctx, func(context.Context) {
		if p.closed {
			startErr = ErrPipelineClosed
			return
		}
		profiles, err := p.catalog.Enumerate(ctx)
		if err != nil {
			startErr = fmt.Errorf("初回のカメラ列挙に失敗: %w", err)
			return
		}
		p.logger.Info("カメラを列挙しました", zap.Int("count", len(profiles)))
		p.selector.Refresh(profiles)
		p.watcher.Start()
	})
	if err != nil {
		return p.translate(err)
	}
	return startErr
}

// Next は次のカメラへ切り替える
func (p *Pipeline) Next() error {
	return p.post(func(context.Context) { p.selector.Advance(true) })
}

// Prev は前のカメラへ切り替える
func (p *Pipeline) Prev() error {
	return p.post(func(context.Context) { p.selector.Advance(false) })
}

// SetTargets は現在のカメラの出力ターゲットを設定する。nilの場合はセッションを破棄する
func (p *Pipeline) SetTargets(targets []Target) error {
	targets = slices.Clone(targets)
	return p.post(func(ctx context.Context) { p.applyTargets(ctx, targets) })
}

func (p *Pipeline) setTargetsFor(generation uint64, targets []Target) error {
	targets = slices.Clone(targets)
	return p.post(func(ctx context.Context) {
		if generation != p.generation {
			p.logger.Debug("古いインスタンスへのターゲット設定を無視します", zap.Uint64("generation", generation))
			return
		}
		p.applyTargets(ctx, targets)
	})
}

// ToggleRecord は録画とプレビューを切り替える。多重化器がない場合は何もしない
func (p *Pipeline) ToggleRecord() error {
	return p.post(func(context.Context) { p.controller.Click(true) })
}

// Capture は静止画を撮影する。多重化器がない場合は何もしない
func (p *Pipeline) Capture() error {
	return p.post(func(context.Context) { p.controller.Click(false) })
}

// Refresh はカタログの再列挙を要求する
func (p *Pipeline) Refresh() error {
	return p.post(p.refresh)
}

// Status は最新の状態スナップショットを返す
func (p *Pipeline) Status() Status {
	return *p.status.Load()
}

// Close はパイプラインを閉じる。冪等
//
// 監視を停止し、デバイス（セッションと多重化器を含む）を閉じてからキューを停止する。
// キュー上のタスクから呼び出してはならない。
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		var closing *Device
		err := p.queue.Sync(context.Background(), func(context.Context) {
			p.closed = true
			p.watcher.Close()
			if p.cancelReopen != nil {
				p.cancelReopen()
				p.cancelReopen = nil
			}
			closing = p.device
			p.closeDevice()
			p.publish()
		})
		if err != nil {
			p.logger.Warn("クローズ処理をキューに投入できません", zap.Error(err))
		}
		if closing != nil {
			p.settle(closing)
		}
		p.queue.Close()
		p.logger.Info("パイプラインを停止しました")
	})
}

// settle はオープン中に閉じたデバイスがハンドルを手放すまで待つ
//
// オープン完了の通知はキューの停止前に届かなければならない。
func (p *Pipeline) settle(d *Device) {
	deadline := time.Now().Add(p.opts.ReadyTimeout)
	for {
		var opening bool
		err := p.queue.Sync(context.Background(), func(context.Context) {
			opening = d.State() == DeviceOpening
		})
		if err != nil || !opening {
			return
		}
		if time.Now().After(deadline) {
			p.logger.Warn("オープン完了を待たずに停止します", zap.String("camera_id", d.ProfileID()))
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (p *Pipeline) post(task func(context.Context)) error {
	return p.translate(p.queue.Post(func(ctx context.Context) {
		if p.closed {
			return
		}
		task(ctx)
	}))
}

func (p *Pipeline) translate(err error) error {
	if errors.Is(err, ErrQueueClosed) {
		return ErrPipelineClosed
	}
	return err
}

func (p *Pipeline) refresh(ctx context.Context) {
	if p.closed {
		return
	}
	profiles, err := p.catalog.Enumerate(ctx)
	if err != nil {
		p.logger.Warn("カメラの再列挙に失敗しました", zap.Error(err))
		p.fail(err)
		return
	}
	p.selector.Refresh(profiles)
}

func (p *Pipeline) onSelect(profile Profile) {
	defer p.publish()

	if p.device != nil && p.device.ProfileID() == profile.ID() && p.device.State() != DeviceFailed {
		return
	}

	p.stopReopen()
	p.closeDevice()
	p.emitInstance(profile)
	if profile.IsEmpty() {
		return
	}
	p.openDevice(profile)
}

func (p *Pipeline) emitInstance(profile Profile) {
	p.generation++
	index := -1
	if current, ok := p.selector.Current(); ok {
		index = current.Index
	}
	p.logger.Info("カメラを選択しました", zap.Stringer("profile", profile), zap.Int("index", index))
	if p.opts.OnInstance != nil {
		p.opts.OnInstance(Instance{profile: profile, index: index, generation: p.generation, pipeline: p})
	}
}

func (p *Pipeline) openDevice(profile Profile) {
	var d *Device
	d = NewDevice(p.queue, p.platform, profile, DeviceCallbacks{
		Sessions: p.bind,
		OnFatal: func(err error) {
			if p.device != d {
				return
			}
			p.fail(err)
			p.scheduleReopen(profile)
		},
		OnState: func(state DeviceState) {
			if p.device != d {
				return
			}
			if state == DeviceOpen {
				p.reopen = nil
			}
			p.publish()
		},
	}, p.logger)

	p.device = d
	if err := d.Open(); err != nil {
		p.device = nil
		p.fail(err)
	}
}

func (p *Pipeline) closeDevice() {
	if p.device == nil {
		return
	}
	p.device.Close()
	p.device = nil
	p.binding = nil
}

// bind はオープン済みのハンドルに現在のターゲットを結び付ける
func (p *Pipeline) bind(ctx context.Context, handle DeviceHandle) SessionOwner {
	b := NewTargetBinding(p.queue, handle, p.newMultiplexer, p.fail, p.logger)
	p.binding = b
	b.SetTargets(ctx, p.targets)
	return ownerFunc(func() {
		b.Close()
		if p.binding == b {
			p.binding = nil
		}
	})
}

func (p *Pipeline) applyTargets(ctx context.Context, targets []Target) {
	p.targets = targets
	if p.binding != nil {
		p.binding.SetTargets(ctx, targets)
	}
	p.publish()
}

func (p *Pipeline) newMultiplexer(_ context.Context, handle DeviceHandle, session Session, targets []Target) (*Multiplexer, error) {
	return NewMultiplexer(p.queue, handle, session, targets, MultiplexerConfig{
		Configurator: p.opts.Configurator,
		Options:      p.opts.Capture,
		Controller:   p.controller,
		OnState:      p.onStreaming,
		OnFatal:      p.fail,
		Snapshot:     p.opts.Snapshot,
		ReadyTimeout: p.opts.ReadyTimeout,
		StopRetries:  p.opts.StopRetries,
	}, p.logger)
}

func (p *Pipeline) onStreaming(t RequestType) {
	p.streaming = t
	p.publish()
	if p.opts.OnState != nil {
		p.opts.OnState(t)
	}
}

func (p *Pipeline) fail(err error) {
	p.lastError = err
	p.logger.Error("カメラでエラーが発生しました", zap.Error(err))
	p.publish()
	if p.opts.OnError != nil {
		p.opts.OnError(err)
	}
}

func (p *Pipeline) scheduleReopen(profile Profile) {
	if p.opts.ReopenPolicy == nil || p.closed {
		return
	}
	if p.reopen == nil {
		p.reopen = p.opts.ReopenPolicy()
	}
	next := p.reopen.NextBackOff()
	if next == backoff.Stop {
		p.logger.Warn("再オープンを断念しました", zap.String("camera_id", profile.ID()))
		p.reopen = nil
		return
	}

	p.logger.Info("カメラを再オープンします", zap.String("camera_id", profile.ID()), zap.Duration("delay", next))
	p.cancelReopen = p.queue.AfterFunc(next, func(context.Context) {
		p.cancelReopen = nil
		if p.closed {
			return
		}
		current, ok := p.selector.Current()
		if !ok || !current.Profile.Is(profile.ID()) {
			return
		}
		p.closeDevice()
		p.openDevice(current.Profile)
		p.publish()
	})
}

func (p *Pipeline) stopReopen() {
	if p.cancelReopen != nil {
		p.cancelReopen()
		p.cancelReopen = nil
	}
	p.reopen = nil
}

// publish は状態スナップショットを更新する
func (p *Pipeline) publish() {
	status := &Status{
		Profile:   EmptyProfile,
		Index:     -1,
		Device:    DeviceClosed,
		Streaming: p.streaming,
		Recording: p.streaming == RequestRecord,
		Targets:   len(p.targets),
		UpdatedAt: time.Now(),
	}
	if p.selector != nil {
		status.Profiles = p.selector.Profiles()
		if current, ok := p.selector.Current(); ok {
			status.Profile = current.Profile
			status.Index = current.Index
		}
	}
	if p.device != nil {
		status.Device = p.device.State()
	}
	if p.lastError != nil {
		status.LastError = p.lastError.Error()
	}
	p.status.Store(status)
}
