package camera

// RequestType はキャプチャリクエストの種別を表す
type RequestType int

const (
	RequestNone     RequestType = iota // セッションは存在するがストリーミングしていない
	RequestPreview                     // プレビュー（リピーティング）
	RequestRecord                      // 録画（リピーティング）
	RequestCapture                     // 静止画（ディスポーザブル）
	RequestSnapshot                    // 録画中の静止画（ディスポーザブル）
)

// String はリクエスト種別の名前を返す
func (t RequestType) String() string {
	switch t {
	case RequestNone:
		return "none"
	case RequestPreview:
		return "preview"
	case RequestRecord:
		return "record"
	case RequestCapture:
		return "capture"
	case RequestSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// Repeating はリピーティングリクエストかどうかを返す
func (t RequestType) Repeating() bool {
	return t == RequestPreview || t == RequestRecord
}

// Disposable は一度きりのリクエストかどうかを返す
func (t RequestType) Disposable() bool {
	return t == RequestCapture || t == RequestSnapshot
}

// DeviceState はデバイスハンドルの状態を表す
type DeviceState int

const (
	DeviceClosed  DeviceState = iota // クローズ済み
	DeviceOpening                    // オープン要求中
	DeviceOpen                       // オープン済み
	DeviceClosing                    // クローズ要求中
	DeviceFailed                     // 致命的エラーで終了
)

// String はデバイス状態の名前を返す
func (s DeviceState) String() string {
	switch s {
	case DeviceClosed:
		return "closed"
	case DeviceOpening:
		return "opening"
	case DeviceOpen:
		return "open"
	case DeviceClosing:
		return "closing"
	case DeviceFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SessionState はキャプチャセッションの状態を表す
type SessionState int

const (
	SessionRequesting      SessionState = iota // 作成要求中
	SessionConfigured                          // 構成済み
	SessionActive                              // リクエスト処理中
	SessionReady                               // 待機中
	SessionClosing                             // クローズ要求中
	SessionClosed                              // クローズ済み
	SessionConfigureFailed                     // 構成失敗
)

// String はセッション状態の名前を返す
func (s SessionState) String() string {
	switch s {
	case SessionRequesting:
		return "requesting"
	case SessionConfigured:
		return "configured"
	case SessionActive:
		return "active"
	case SessionReady:
		return "ready"
	case SessionClosing:
		return "closing"
	case SessionClosed:
		return "closed"
	case SessionConfigureFailed:
		return "configure_failed"
	default:
		return "unknown"
	}
}
