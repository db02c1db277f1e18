package camera

import (
	"context"
	"errors"
	"fmt"
	"golang.org/x/exp/maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockPlatform はテストとデモ用のメモリ上のカメラランタイム
//
// イベントは呼び出し元のゴルーチンで同期的にハンドラへ渡される。
// 操作は "open:0" のような文字列でログに記録される。
type MockPlatform struct {
	mu sync.Mutex

	cameras      map[string]Characteristics
	charErrors   map[string]error
	openErrors   map[string]error
	openFaults   map[string]ErrorCode
	configureErr error
	dropReady    bool
	autoComplete bool

	watchers  map[int]AvailabilityHandler
	nextWatch int

	handles  map[string]*MockHandle
	sessions []*MockSession
	log      []string
	frame    int64
}

// NewMockPlatform は新しいMockPlatformを作成する
func NewMockPlatform() *MockPlatform {
	return &MockPlatform{
		cameras:      make(map[string]Characteristics),
		charErrors:   make(map[string]error),
		openErrors:   make(map[string]error),
		openFaults:   make(map[string]ErrorCode),
		watchers:     make(map[int]AvailabilityHandler),
		handles:      make(map[string]*MockHandle),
		autoComplete: true,
	}
}

// DefaultMockCharacteristics はデモ用の標準的な特性を返す
func DefaultMockCharacteristics(facing Facing) Characteristics {
	return Characteristics{
		Facing:      facing,
		Orientation: 90,
		Level:       LevelFull,
		YUVSizes:    []Size{{1920, 1080}, {640, 480}, {1280, 720}},
		JPEGSizes:   []Size{{4032, 3024}, {1920, 1080}},
	}
}

// AddCamera はカメラを追加し、監視者へ通知する
func (m *MockPlatform) AddCamera(id string, chars Characteristics) {
	m.mu.Lock()
	m.cameras[id] = chars
	watchers := maps.Values(m.watchers)
	m.mu.Unlock()

	for _, w := range watchers {
		w(id, true)
	}
}

// RemoveCamera はカメラを削除し、監視者へ通知する
//
// オープン中のハンドルには切断イベントが送られる。
func (m *MockPlatform) RemoveCamera(id string) {
	m.mu.Lock()
	delete(m.cameras, id)
	watchers := maps.Values(m.watchers)
	handle := m.handles[id]
	m.mu.Unlock()

	if handle != nil {
		handle.Disconnect()
	}
	for _, w := range watchers {
		w(id, false)
	}
}

// SetCharacteristicsError は特性取得の失敗を注入する
func (m *MockPlatform) SetCharacteristicsError(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.charErrors[id] = err
}

// SetOpenError はオープン要求の同期的な拒否を注入する
func (m *MockPlatform) SetOpenError(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.openErrors, id)
		return
	}
	m.openErrors[id] = err
}

// SetOpenFault はオープン時にエラーイベントを返すよう設定する
func (m *MockPlatform) SetOpenFault(id string, code ErrorCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if code == ErrorNone {
		delete(m.openFaults, id)
		return
	}
	m.openFaults[id] = code
}

// SetConfigureError はセッション構成の失敗を注入する
func (m *MockPlatform) SetConfigureError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configureErr = err
}

// SetDropReady はリピーティング停止後のレディ通知を抑止する
func (m *MockPlatform) SetDropReady(drop bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropReady = drop
}

// SetAutoComplete はディスポーザブルリクエストを即時に完了させるかどうかを設定する
func (m *MockPlatform) SetAutoComplete(auto bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoComplete = auto
}

// Note は任意の文字列を操作ログに追記する
func (m *MockPlatform) Note(entry string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, entry)
}

// Log は操作ログのコピーを返す
func (m *MockPlatform) Log() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.log)
}

// ResetLog は操作ログを消去する
func (m *MockPlatform) ResetLog() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = nil
}

// Handle はオープン中のハンドルを返す
func (m *MockPlatform) Handle(id string) *MockHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handles[id]
}

// LastSession は最後に作成されたセッションを返す
func (m *MockPlatform) LastSession() *MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) == 0 {
		return nil
	}
	return m.sessions[len(m.sessions)-1]
}

// WatcherCount は登録中の監視者の数を返す
func (m *MockPlatform) WatcherCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchers)
}

func (m *MockPlatform) record(format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, fmt.Sprintf(format, args...))
}

// CameraIDs は登録済みのカメラIDを返す
func (m *MockPlatform) CameraIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := maps.Keys(m.cameras)
	slices.Sort(ids)
	return ids, nil
}

// Characteristics は指定されたカメラの特性を返す
func (m *MockPlatform) Characteristics(_ context.Context, id string) (Characteristics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.charErrors[id]; err != nil {
		return Characteristics{}, err
	}
	chars, ok := m.cameras[id]
	if !ok {
		return Characteristics{}, fmt.Errorf("カメラが見つかりません: %s", id)
	}
	return chars, nil
}

// OpenDevice はデバイスをオープンする
func (m *MockPlatform) OpenDevice(id string, handler DeviceHandler) error {
	m.record("open:%s", id)

	m.mu.Lock()
	if err := m.openErrors[id]; err != nil {
		m.mu.Unlock()
		return err
	}
	if _, ok := m.cameras[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("カメラが見つかりません: %s", id)
	}
	handle := &MockHandle{platform: m, id: id, handler: handler}
	code := m.openFaults[id]
	if code == ErrorNone {
		m.handles[id] = handle
	}
	m.mu.Unlock()

	if code != ErrorNone {
		handler(DeviceEvent{Kind: DeviceEventError, Handle: handle, Code: code})
		return nil
	}
	handler(DeviceEvent{Kind: DeviceEventOpened, Handle: handle})
	return nil
}

// WatchAvailability は利用可否の監視者を登録する
func (m *MockPlatform) WatchAvailability(handler AvailabilityHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.nextWatch
	m.nextWatch++
	m.watchers[key] = handler
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.watchers, key)
	}
}

func (m *MockPlatform) nextFrame() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frame++
	return m.frame
}

// MockHandle はMockPlatformのデバイスハンドル
type MockHandle struct {
	platform *MockPlatform
	id       string
	handler  DeviceHandler

	mu     sync.Mutex
	closed bool
}

// ID はカメラIDを返す
func (h *MockHandle) ID() string { return h.id }

// Closed はクローズ済みかどうかを返す
func (h *MockHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// CreateSession はセッションを作成する
func (h *MockHandle) CreateSession(targets []Target, handler SessionHandler) error {
	p := h.platform
	p.record("session.create:%s:%d", h.id, len(targets))

	if h.Closed() {
		return errors.New("デバイスはクローズ済みです")
	}

	s := &MockSession{platform: p, handle: h, id: uuid.NewString(), targets: slices.Clone(targets), handler: handler}
	p.mu.Lock()
	p.sessions = append(p.sessions, s)
	configureErr := p.configureErr
	p.mu.Unlock()

	if configureErr != nil {
		handler(SessionEvent{Kind: SessionEventConfigureFailed, Session: s, Err: configureErr})
		return nil
	}
	handler(SessionEvent{Kind: SessionEventConfigured, Session: s})
	return nil
}

// NewRequest はリクエストビルダーを作成する
func (h *MockHandle) NewRequest(template RequestType) (PlatformRequest, error) {
	return &mockRequest{template: template, values: make(map[string]any)}, nil
}

// Close はハンドルを閉じる
func (h *MockHandle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	p := h.platform
	p.record("device.close:%s", h.id)
	p.mu.Lock()
	if p.handles[h.id] == h {
		delete(p.handles, h.id)
	}
	p.mu.Unlock()
	h.handler(DeviceEvent{Kind: DeviceEventClosed, Handle: h})
}

// Disconnect はデバイスの切断をシミュレートする
func (h *MockHandle) Disconnect() {
	if h.Closed() {
		return
	}
	h.handler(DeviceEvent{Kind: DeviceEventDisconnected, Handle: h})
}

// Fail はデバイスの致命的エラーをシミュレートする
func (h *MockHandle) Fail(code ErrorCode) {
	if h.Closed() {
		return
	}
	h.handler(DeviceEvent{Kind: DeviceEventError, Handle: h, Code: code})
}

// MockSession はMockPlatformのキャプチャセッション
type MockSession struct {
	platform *MockPlatform
	handle   *MockHandle
	id       string
	targets  []Target
	handler  SessionHandler

	mu         sync.Mutex
	active     bool
	closed     bool
	repeating  Request
	repHandler CaptureHandler
	pending    []pendingCapture
}

type pendingCapture struct {
	req     Request
	handler CaptureHandler
	frame   int64
}

// ID はセッションIDを返す
func (s *MockSession) ID() string { return s.id }

// Targets は出力ターゲットを返す
func (s *MockSession) Targets() []Target { return slices.Clone(s.targets) }

// Repeating は現在のリピーティングリクエストを返す
func (s *MockSession) Repeating() Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repeating
}

// Closed はクローズ済みかどうかを返す
func (s *MockSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SetRepeating はリピーティングリクエストを設定する
func (s *MockSession) SetRepeating(req Request, handler CaptureHandler) error {
	s.platform.record("repeating:%s", req.Template())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("セッションはクローズ済みです")
	}
	s.repeating = req
	s.repHandler = handler
	activate := !s.active
	s.active = true
	s.mu.Unlock()

	if activate {
		s.handler(SessionEvent{Kind: SessionEventActive, Session: s})
	}
	return nil
}

// Capture はディスポーザブルリクエストを投入する
func (s *MockSession) Capture(req Request, handler CaptureHandler) error {
	s.platform.record("capture:%s", req.Template())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("セッションはクローズ済みです")
	}
	pc := pendingCapture{req: req, handler: handler, frame: s.platform.nextFrame()}
	s.platform.mu.Lock()
	auto := s.platform.autoComplete
	s.platform.mu.Unlock()
	if !auto {
		s.pending = append(s.pending, pc)
	}
	s.mu.Unlock()

	if auto {
		s.complete(pc)
	}
	return nil
}

// CompleteCaptures は保留中のディスポーザブルリクエストを全て完了させる
func (s *MockSession) CompleteCaptures() int {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, pc := range pending {
		s.complete(pc)
	}
	return len(pending)
}

// PendingCaptures は保留中のディスポーザブルリクエストの数を返す
func (s *MockSession) PendingCaptures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *MockSession) complete(pc pendingCapture) {
	now := time.Now()
	pc.handler(CaptureEvent{Kind: CaptureEventStarted, Timestamp: now, FrameNumber: pc.frame})
	pc.handler(CaptureEvent{
		Kind:        CaptureEventCompleted,
		Timestamp:   now,
		FrameNumber: pc.frame,
		Result:      &CaptureResult{FrameNumber: pc.frame, Metadata: Metadata{"template": pc.req.Template().String()}},
	})
}

// EmitFrame は現在のリピーティングリクエストに1フレーム分のイベントを送る
func (s *MockSession) EmitFrame() bool {
	s.mu.Lock()
	handler := s.repHandler
	s.mu.Unlock()
	if handler == nil {
		return false
	}

	frame := s.platform.nextFrame()
	now := time.Now()
	handler(CaptureEvent{Kind: CaptureEventStarted, Timestamp: now, FrameNumber: frame})
	handler(CaptureEvent{Kind: CaptureEventCompleted, Timestamp: now, FrameNumber: frame, Result: &CaptureResult{FrameNumber: frame}})
	return true
}

// StopRepeating はリピーティングリクエストを停止する
func (s *MockSession) StopRepeating() error {
	s.platform.record("stop:%s", s.handle.id)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("セッションはクローズ済みです")
	}
	s.repeating = nil
	s.repHandler = nil
	s.platform.mu.Lock()
	drop := s.platform.dropReady
	s.platform.mu.Unlock()
	if drop {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	s.mu.Unlock()

	s.handler(SessionEvent{Kind: SessionEventReady, Session: s})
	return nil
}

// Ready はレディ通知を手動で送る
func (s *MockSession) Ready() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
	s.handler(SessionEvent{Kind: SessionEventReady, Session: s})
}

// Close はセッションを閉じる
//
// 保留中のディスポーザブルリクエストは中断として失敗する。
func (s *MockSession) Close() {
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

	s.platform.record("session.close:%s", s.handle.id)
	for _, pc := range pending {
		pc.handler(CaptureEvent{
			Kind:        CaptureEventFailed,
			Timestamp:   time.Now(),
			FrameNumber: pc.frame,
			Failure:     &CaptureFailure{FrameNumber: pc.frame, Reason: FailureAborted},
		})
	}
	if wasActive {
		s.handler(SessionEvent{Kind: SessionEventReady, Session: s})
	}
	s.handler(SessionEvent{Kind: SessionEventClosed, Session: s})
}

// mockRequest はMockPlatformのリクエストビルダー兼構築済みリクエスト
type mockRequest struct {
	template RequestType
	targets  []Target
	values   map[string]any
	built    bool
}

func (r *mockRequest) Set(key string, value any) { r.values[key] = value }

func (r *mockRequest) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

func (r *mockRequest) AddTarget(t Target) { r.targets = append(r.targets, t) }

func (r *mockRequest) Build() (Request, error) {
	if len(r.targets) == 0 {
		return nil, ErrNoTargets
	}
	return &mockRequest{
		template: r.template,
		targets:  slices.Clone(r.targets),
		values:   maps.Clone(r.values),
		built:    true,
	}, nil
}

func (r *mockRequest) Template() RequestType { return r.template }

func (r *mockRequest) Targets() []Target { return slices.Clone(r.targets) }

func (r *mockRequest) Value(key string) (any, bool) { return r.Get(key) }

// MockTarget はテスト用の出力ターゲット
type MockTarget struct {
	name string
}

// NewMockTarget は新しいMockTargetを作成する
func NewMockTarget(name string) *MockTarget {
	return &MockTarget{name: name}
}

// Name はターゲット名を返す
func (t *MockTarget) Name() string { return t.name }
