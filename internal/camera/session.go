package camera

import (
	"context"
	"slices"

	"go.uber.org/zap"
)

// MultiplexerFactory は構成済みセッションからリクエスト多重化器を作成する
type MultiplexerFactory func(ctx context.Context, handle DeviceHandle, session Session, targets []Target) (*Multiplexer, error)

// CaptureSession はキャプチャセッション1つのライフサイクルを管理する
//
// 全てのメソッドはキュー上で呼び出される。
type CaptureSession struct {
	queue   *Queue
	handle  DeviceHandle
	targets []Target
	factory MultiplexerFactory
	onFatal func(error)
	logger  *zap.Logger

	state        SessionState
	session      Session
	mux          *Multiplexer
	closePending bool
}

// NewCaptureSession はセッションの作成を要求する
//
// 同期的に失敗した場合はConfigureFailedとなり、SessionConfigureErrorが通知される。
func NewCaptureSession(queue *Queue, handle DeviceHandle, targets []Target, factory MultiplexerFactory, onFatal func(error), logger *zap.Logger) *CaptureSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &CaptureSession{
		queue:   queue,
		handle:  handle,
		targets: slices.Clone(targets),
		factory: factory,
		onFatal: onFatal,
		logger:  logger.Named("session").With(zap.String("camera_id", handle.ID())),
		state:   SessionRequesting,
	}

	if len(s.targets) == 0 {
		s.fail(ErrNoTargets)
		return s
	}
	if err := handle.CreateSession(s.targets, queue.WrapSession(s.onEvent)); err != nil {
		s.fail(err)
	}
	return s
}

// State は現在の状態を返す
func (s *CaptureSession) State() SessionState {
	return s.state
}

// Targets は出力ターゲットのコピーを返す
func (s *CaptureSession) Targets() []Target {
	return slices.Clone(s.targets)
}

// Close はセッションを閉じる。冪等
//
// 作成要求中の場合は構成完了（または失敗）まで遅延する。
func (s *CaptureSession) Close() {
	switch s.state {
	case SessionRequesting:
		s.closePending = true
	case SessionConfigured, SessionActive, SessionReady:
		s.shutdown()
	}
}

func (s *CaptureSession) onEvent(ctx context.Context, ev SessionEvent) {
	s.logger.Debug("セッションイベント", zap.Stringer("kind", ev.Kind), zap.Stringer("state", s.state))

	switch ev.Kind {
	case SessionEventConfigured:
		if s.state != SessionRequesting {
			return
		}
		s.session = ev.Session
		s.state = SessionConfigured
		if s.closePending {
			s.closePending = false
			s.shutdown()
			return
		}
		s.startMultiplexer(ctx)

	case SessionEventConfigureFailed:
		if s.state != SessionRequesting {
			return
		}
		if ev.Session != nil {
			ev.Session.Close()
		}
		if s.closePending {
			s.closePending = false
			s.state = SessionConfigureFailed
			return
		}
		s.fail(ev.Err)

	case SessionEventActive:
		if s.state != SessionConfigured && s.state != SessionReady {
			return
		}
		s.state = SessionActive
		if s.mux != nil {
			s.mux.OnActivated()
		}

	case SessionEventReady:
		switch s.state {
		case SessionClosing:
			// 多重化器はshutdownでセッションより先に閉じている
		case SessionConfigured, SessionActive, SessionReady:
			s.state = SessionReady
			if s.mux != nil {
				s.mux.OnDeactivated()
			}
		}

	case SessionEventClosed:
		s.releaseMultiplexer()
		s.session = nil
		if s.state != SessionConfigureFailed {
			s.state = SessionClosed
		}
	}
}

func (s *CaptureSession) startMultiplexer(ctx context.Context) {
	if s.factory == nil {
		return
	}
	mux, err := s.factory(ctx, s.handle, s.session, s.targets)
	if err != nil {
		s.logger.Error("リクエスト多重化器の作成に失敗しました", zap.Error(err))
		s.shutdown()
		s.report(err)
		return
	}
	s.mux = mux
}

// shutdown は多重化器を閉じてからセッションを閉じる
func (s *CaptureSession) shutdown() {
	s.releaseMultiplexer()
	s.state = SessionClosing
	if s.session != nil {
		s.session.Close()
	}
}

func (s *CaptureSession) releaseMultiplexer() {
	if s.mux != nil {
		s.mux.Close()
		s.mux = nil
	}
}

func (s *CaptureSession) fail(err error) {
	s.state = SessionConfigureFailed
	s.logger.Error("セッションの構成に失敗しました", zap.Error(err))
	s.report(err)
}

func (s *CaptureSession) report(err error) {
	if s.onFatal != nil {
		s.onFatal(&SessionConfigureError{DeviceID: s.handle.ID(), Err: err})
	}
}
