package camera

import (
	"fmt"
	"time"
)

// DeviceEventKind はデバイスイベントの種別
type DeviceEventKind int

const (
	DeviceEventOpened       DeviceEventKind = iota // オープン完了
	DeviceEventDisconnected                        // 切断
	DeviceEventError                               // エラー
	DeviceEventClosed                              // クローズ完了
)

func (k DeviceEventKind) String() string {
	switch k {
	case DeviceEventOpened:
		return "opened"
	case DeviceEventDisconnected:
		return "disconnected"
	case DeviceEventError:
		return "error"
	case DeviceEventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DeviceEvent はプラットフォームから届くデバイスハンドルのイベント
type DeviceEvent struct {
	Kind   DeviceEventKind
	Handle DeviceHandle
	Code   ErrorCode // DeviceEventError の場合のみ有効
}

// DeviceHandler はデバイスイベントを受け取る
type DeviceHandler func(DeviceEvent)

// SessionEventKind はセッションイベントの種別
type SessionEventKind int

const (
	SessionEventConfigured      SessionEventKind = iota // 構成完了
	SessionEventConfigureFailed                         // 構成失敗
	SessionEventActive                                  // リクエスト処理開始
	SessionEventReady                                   // 処理中のリクエストなし
	SessionEventClosed                                  // クローズ完了
)

func (k SessionEventKind) String() string {
	switch k {
	case SessionEventConfigured:
		return "configured"
	case SessionEventConfigureFailed:
		return "configure_failed"
	case SessionEventActive:
		return "active"
	case SessionEventReady:
		return "ready"
	case SessionEventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionEvent はプラットフォームから届くキャプチャセッションのイベント
type SessionEvent struct {
	Kind    SessionEventKind
	Session Session
	Err     error // SessionEventConfigureFailed の場合のみ有効
}

// SessionHandler はセッションイベントを受け取る
type SessionHandler func(SessionEvent)

// CaptureEventKind はキャプチャイベントの種別
type CaptureEventKind int

const (
	CaptureEventStarted    CaptureEventKind = iota // 露光開始
	CaptureEventProgressed                         // 部分的な結果
	CaptureEventCompleted                          // 完了
	CaptureEventFailed                             // 失敗
)

func (k CaptureEventKind) String() string {
	switch k {
	case CaptureEventStarted:
		return "started"
	case CaptureEventProgressed:
		return "progressed"
	case CaptureEventCompleted:
		return "completed"
	case CaptureEventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Metadata はキャプチャ結果のメタデータ
type Metadata map[string]any

// CaptureResult はキャプチャ結果
type CaptureResult struct {
	FrameNumber int64
	Metadata    Metadata
	Partial     bool
}

// FailureReason はキャプチャ失敗の理由
type FailureReason int

const (
	FailureError   FailureReason = iota // プラットフォーム側のエラー
	FailureAborted                      // セッションのクローズ等による中断
)

func (r FailureReason) String() string {
	if r == FailureAborted {
		return "aborted"
	}
	return "error"
}

// CaptureFailure はキャプチャ失敗の内容
type CaptureFailure struct {
	FrameNumber   int64
	Reason        FailureReason
	ImageCaptured bool
}

// CaptureEvent はキャプチャリクエストの進行イベント
type CaptureEvent struct {
	Kind        CaptureEventKind
	Timestamp   time.Time
	FrameNumber int64
	Result      *CaptureResult
	Failure     *CaptureFailure
}

// String はイベントの概要を返す
func (e CaptureEvent) String() string {
	switch e.Kind {
	case CaptureEventFailed:
		reason := FailureError
		if e.Failure != nil {
			reason = e.Failure.Reason
		}
		return fmt.Sprintf("%s(frame=%d, reason=%s)", e.Kind, e.FrameNumber, reason)
	default:
		return fmt.Sprintf("%s(frame=%d)", e.Kind, e.FrameNumber)
	}
}

// Terminal はリクエストの最終イベントかどうかを返す
func (e CaptureEvent) Terminal() bool {
	return e.Kind == CaptureEventCompleted || e.Kind == CaptureEventFailed
}

// CaptureHandler はキャプチャイベントを受け取る
type CaptureHandler func(CaptureEvent)

// AvailabilityHandler はカメラの利用可否の変化を受け取る
type AvailabilityHandler func(id string, available bool)
