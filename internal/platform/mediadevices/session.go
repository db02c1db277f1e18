package mediadevices

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/io/video"
	"go.uber.org/zap"

	"satsuei/internal/camera"
)

var errSessionClosed = errors.New("セッションはクローズ済みです")

// handle はオープン済みのドライバ
type handle struct {
	platform *Platform
	id       string
	drv      driver.Driver
	handler  camera.DeviceHandler
	logger   *zap.Logger

	mu      sync.Mutex
	closed  bool
	failed  bool
	session *session
}

func (h *handle) ID() string { return h.id }

func (h *handle) markFailed() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failed = true
}

func (h *handle) CreateSession(targets []camera.Target, handler camera.SessionHandler) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errors.New("デバイスはクローズ済みです")
	}
	s := &session{
		handle:  h,
		id:      uuid.NewString(),
		targets: slices.Clone(targets),
		handler: handler,
		logger:  h.logger.Named("session"),
	}
	previous := h.session
	h.session = s
	h.mu.Unlock()

	if previous != nil {
		previous.Close()
	}

	recorder, ok := h.drv.(driver.VideoRecorder)
	if !ok {
		handler(camera.SessionEvent{Kind: camera.SessionEventConfigureFailed, Session: s, Err: errors.New("ビデオ録画に対応していないドライバです")})
		return nil
	}
	s.recorder = recorder
	handler(camera.SessionEvent{Kind: camera.SessionEventConfigured, Session: s})
	return nil
}

func (h *handle) NewRequest(template camera.RequestType) (camera.PlatformRequest, error) {
	return &request{template: template, values: make(map[string]any)}, nil
}

// Close はセッションを閉じてからドライバを閉じる
func (h *handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	s := h.session
	h.session = nil
	failed := h.failed
	h.mu.Unlock()

	if s != nil {
		s.Close()
	}
	if !failed {
		if err := h.drv.Close(); err != nil {
			h.logger.Warn("ドライバのクローズに失敗しました", zap.Error(err))
		}
	}
	h.platform.release(h)
	h.logger.Info("ドライバをクローズしました")
	h.handler(camera.DeviceEvent{Kind: camera.DeviceEventClosed, Handle: h})
}

// readFailed はフレーム読み出しの失敗をデバイスイベントとして通知する
func (h *handle) readFailed(err error) {
	if errors.Is(err, io.EOF) {
		h.handler(camera.DeviceEvent{Kind: camera.DeviceEventDisconnected, Handle: h})
		return
	}
	h.handler(camera.DeviceEvent{Kind: camera.DeviceEventError, Handle: h, Code: camera.ErrorCameraDevice})
}

// pendingCapture は次のフレームを待つディスポーザブルリクエスト
type pendingCapture struct {
	req     *request
	handler camera.CaptureHandler
}

// session はドライバのリーダー1つを共有するキャプチャセッション
type session struct {
	handle   *handle
	id       string
	targets  []camera.Target
	handler  camera.SessionHandler
	recorder driver.VideoRecorder
	logger   *zap.Logger

	// io はリーダーの開始と停止を直列化する
	io      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	reading bool

	mu         sync.Mutex
	closed     bool
	active     bool
	repeating  *request
	repHandler camera.CaptureHandler
	pending    []pendingCapture
	frame      int64
	idling     bool
}

func (s *session) ID() string { return s.id }

func (s *session) SetRepeating(req camera.Request, handler camera.CaptureHandler) error {
	r, ok := req.(*request)
	if !ok {
		return fmt.Errorf("このランタイムで構築されたリクエストではありません: %T", req)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	s.repeating = r
	s.repHandler = handler
	activate := !s.active
	s.active = true
	s.mu.Unlock()

	if err := s.startReader(r); err != nil {
		return err
	}
	if activate {
		s.handler(camera.SessionEvent{Kind: camera.SessionEventActive, Session: s})
	}
	return nil
}

func (s *session) Capture(req camera.Request, handler camera.CaptureHandler) error {
	r, ok := req.(*request)
	if !ok {
		return fmt.Errorf("このランタイムで構築されたリクエストではありません: %T", req)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	s.pending = append(s.pending, pendingCapture{req: r, handler: handler})
	s.mu.Unlock()

	return s.startReader(r)
}

// StopRepeating はリーダーを止めてドライバを開き直し、完了後にレディを通知する
func (s *session) StopRepeating() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	s.repeating = nil
	s.repHandler = nil
	s.mu.Unlock()

	go func() {
		if err := s.restartDriver(); err != nil {
			s.logger.Error("ドライバの再オープンに失敗しました", zap.Error(err))
			s.handle.readFailed(err)
			return
		}

		s.mu.Lock()
		closed := s.closed
		s.active = false
		s.mu.Unlock()
		if !closed {
			s.handler(camera.SessionEvent{Kind: camera.SessionEventReady, Session: s})
		}
	}()
	return nil
}

// Close はリーダーを止め、保留中のディスポーザブルリクエストを中断する
func (s *session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.pending
	s.pending = nil
	wasActive := s.active
	s.active = false
	s.repeating = nil
	s.repHandler = nil
	s.mu.Unlock()

	s.stopReader()
	for _, pc := range pending {
		pc.handler(camera.CaptureEvent{
			Kind:      camera.CaptureEventFailed,
			Timestamp: time.Now(),
			Failure:   &camera.CaptureFailure{Reason: camera.FailureAborted},
		})
	}
	if wasActive {
		s.handler(camera.SessionEvent{Kind: camera.SessionEventReady, Session: s})
	}
	s.handler(camera.SessionEvent{Kind: camera.SessionEventClosed, Session: s})
}

// startReader はリーダーが止まっていれば開始する
func (s *session) startReader(r *request) error {
	s.io.Lock()
	defer s.io.Unlock()

	if s.reading {
		return nil
	}

	want := camera.EmptySize
	if size, ok := r.values[camera.KeyFrameSize.Name].(camera.Size); ok {
		want = size
	}
	property, _ := selectProperty(s.handle.drv.Properties(), want, r.template.Disposable())
	if rate, ok := r.values[camera.KeyFrameRate.Name].(float64); ok && rate > 0 {
		property.FrameRate = float32(rate)
	}

	reader, err := s.recorder.VideoRecord(property)
	if err != nil {
		return fmt.Errorf("VideoRecord に失敗: %w", err)
	}
	s.logger.Info("フレームの読み出しを開始します",
		zap.Int("width", property.Width),
		zap.Int("height", property.Height),
		zap.String("format", string(property.FrameFormat)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.reading = true
	go s.readLoop(ctx, reader, s.done)
	return nil
}

// stopReader はリーダーを止める。ドライバを閉じてブロック中の読み出しを解除する
func (s *session) stopReader() {
	s.io.Lock()
	defer s.io.Unlock()
	s.stopReaderLocked()
}

func (s *session) stopReaderLocked() {
	if !s.reading {
		return
	}
	s.cancel()
	if err := s.handle.drv.Close(); err != nil {
		s.logger.Debug("ドライバのクローズに失敗しました", zap.Error(err))
	}
	<-s.done
	s.reading = false

	if err := s.handle.drv.Open(); err != nil {
		s.logger.Warn("ドライバの再オープンに失敗しました", zap.Error(err))
		s.handle.markFailed()
	}
}

func (s *session) restartDriver() error {
	s.io.Lock()
	defer s.io.Unlock()

	s.stopReaderLocked()
	if s.handle.drv.Status() == driver.StateClosed {
		return errors.New("ドライバを開き直せません")
	}
	return nil
}

func (s *session) readLoop(ctx context.Context, reader video.Reader, done chan struct{}) {
	defer close(done)

	for {
		img, release, err := reader.Read()
		if ctx.Err() != nil {
			if release != nil {
				release()
			}
			return
		}
		if err != nil {
			s.logger.Warn("フレームの読み出しに失敗しました", zap.Error(err))
			s.handle.readFailed(err)
			return
		}
		idle := s.deliver(img, time.Now())
		if release != nil {
			release()
		}
		if idle {
			go s.stopIfIdle()
		}
	}
}

// stopIfIdle はリピーティングも保留中の撮影もなければリーダーを止める
func (s *session) stopIfIdle() {
	s.io.Lock()
	defer s.io.Unlock()

	s.mu.Lock()
	s.idling = false
	idle := !s.closed && s.repeating == nil && len(s.pending) == 0
	s.mu.Unlock()
	if !idle {
		return
	}
	s.logger.Debug("撮影待ちがないためフレームの読み出しを止めます")
	s.stopReaderLocked()
}

// deliver はフレームをリピーティングと保留中のディスポーザブルへ配信する
//
// リーダーを動かし続ける理由がなくなった場合はtrueを返す。
func (s *session) deliver(img image.Image, at time.Time) (idle bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.frame++
	frameNumber := s.frame
	repeating, repHandler := s.repeating, s.repHandler
	pending := s.pending
	s.pending = nil
	if repeating == nil && !s.idling {
		s.idling = true
		idle = true
	}
	s.mu.Unlock()

	bounds := img.Bounds()
	metadata := camera.Metadata{"width": bounds.Dx(), "height": bounds.Dy()}

	if repeating != nil {
		emit(repHandler, repeating, img, at, frameNumber, metadata)
	}
	for _, pc := range pending {
		emit(pc.handler, pc.req, img, at, frameNumber, metadata)
	}
	return idle
}

func emit(handler camera.CaptureHandler, req *request, img image.Image, at time.Time, frameNumber int64, metadata camera.Metadata) {
	if handler != nil {
		handler(camera.CaptureEvent{Kind: camera.CaptureEventStarted, Timestamp: at, FrameNumber: frameNumber})
	}
	for _, target := range req.targets {
		if sink, ok := target.(FrameSink); ok {
			sink.WriteFrame(img, at)
		}
	}
	if handler != nil {
		handler(camera.CaptureEvent{
			Kind:        camera.CaptureEventCompleted,
			Timestamp:   at,
			FrameNumber: frameNumber,
			Result:      &camera.CaptureResult{FrameNumber: frameNumber, Metadata: maps.Clone(metadata)},
		})
	}
}

// request はビルダー兼構築済みリクエスト
type request struct {
	template camera.RequestType
	targets  []camera.Target
	values   map[string]any
}

func (r *request) Set(key string, value any) { r.values[key] = value }

func (r *request) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

func (r *request) AddTarget(t camera.Target) { r.targets = append(r.targets, t) }

func (r *request) Build() (camera.Request, error) {
	if len(r.targets) == 0 {
		return nil, camera.ErrNoTargets
	}
	return &request{
		template: r.template,
		targets:  slices.Clone(r.targets),
		values:   maps.Clone(r.values),
	}, nil
}

func (r *request) Template() camera.RequestType { return r.template }

func (r *request) Targets() []camera.Target { return slices.Clone(r.targets) }

func (r *request) Value(key string) (any, bool) { return r.Get(key) }
