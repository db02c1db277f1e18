package camera

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueClosed はキューが停止済みの場合に返される
	ErrQueueClosed = errors.New("実行キューは停止しています")
	// ErrQueueFull はキューのバックログが溢れた場合に返される
	ErrQueueFull = errors.New("実行キューが満杯です")
	// ErrNotEnoughTargets は出力ターゲットが不足している場合に返される
	ErrNotEnoughTargets = errors.New("出力ターゲットが不足しています")
	// ErrNoTargets は出力ターゲットが空の場合に返される
	ErrNoTargets = errors.New("出力ターゲットが指定されていません")
	// ErrRepeatingStalled はリピーティング停止後にレディ通知が届かない場合に返される
	ErrRepeatingStalled = errors.New("リピーティングリクエストの停止が完了しません")
	// ErrPipelineClosed はパイプラインがクローズ済みの場合に返される
	ErrPipelineClosed = errors.New("パイプラインはクローズ済みです")
)

// ErrorCode はデバイスエラーのコード
type ErrorCode int

const (
	ErrorNone            ErrorCode = 0 // 正常なクローズ
	ErrorCameraInUse     ErrorCode = 1 // 優先度の高いクライアントが使用中
	ErrorMaxCamerasInUse ErrorCode = 2 // 同時オープン数の上限
	ErrorCameraDisabled  ErrorCode = 3 // ポリシーにより無効
	ErrorCameraDevice    ErrorCode = 4 // デバイスの致命的な障害
	ErrorCameraService   ErrorCode = 5 // カメラサービスの致命的な障害
)

// String はエラーコードの名前を返す
func (c ErrorCode) String() string {
	switch c {
	case ErrorNone:
		return "none"
	case ErrorCameraInUse:
		return "camera_in_use"
	case ErrorMaxCamerasInUse:
		return "max_cameras_in_use"
	case ErrorCameraDisabled:
		return "camera_disabled"
	case ErrorCameraDevice:
		return "camera_device"
	case ErrorCameraService:
		return "camera_service"
	default:
		return fmt.Sprintf("code_%d", int(c))
	}
}

// DeviceAccessError はデバイスのオープン要求が拒否されたことを表す
type DeviceAccessError struct {
	ID  string
	Err error
}

func (e *DeviceAccessError) Error() string {
	return fmt.Sprintf("カメラ %s のオープンが拒否されました: %v", e.ID, e.Err)
}

func (e *DeviceAccessError) Unwrap() error { return e.Err }

// DeviceFatalError はオープン後にデバイスが致命的エラーを報告したことを表す
type DeviceFatalError struct {
	ID   string
	Code ErrorCode
}

func (e *DeviceFatalError) Error() string {
	return fmt.Sprintf("カメラ %s で致命的なエラーが発生しました: %s (%d)", e.ID, e.Code, int(e.Code))
}

// SessionConfigureError はキャプチャセッションを構成できなかったことを表す
type SessionConfigureError struct {
	DeviceID string
	Err      error
}

func (e *SessionConfigureError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("カメラ %s のキャプチャセッションを構成できません", e.DeviceID)
	}
	return fmt.Sprintf("カメラ %s のキャプチャセッションを構成できません: %v", e.DeviceID, e.Err)
}

func (e *SessionConfigureError) Unwrap() error { return e.Err }
