package camera

import "context"

// Target はキャプチャ結果の出力先
//
// 実体（プレビュー面やエンコーダ入力）はUI側が用意する。
type Target interface {
	Name() string
}

// Characteristics はデバイスが報告する特性
type Characteristics struct {
	Facing      Facing
	Orientation int // センサー回転（度）
	Level       Level
	YUVSizes    []Size
	JPEGSizes   []Size
}

// Registry はカメラデバイスの列挙を担う
type Registry interface {
	// CameraIDs は接続中のカメラIDを返す
	CameraIDs(ctx context.Context) ([]string, error)
	// Characteristics は指定されたカメラの特性を返す
	Characteristics(ctx context.Context, id string) (Characteristics, error)
}

// Platform はカメラランタイムのインターフェース
type Platform interface {
	Registry

	// OpenDevice はデバイスのオープンを要求する
	// 同期的に拒否された場合はエラーを返し、以降のイベントは届かない
	OpenDevice(id string, handler DeviceHandler) error

	// WatchAvailability は利用可否の監視を開始し、停止関数を返す
	WatchAvailability(handler AvailabilityHandler) (stop func())
}

// DeviceHandle はオープン済みのデバイス
type DeviceHandle interface {
	ID() string
	// CreateSession は出力ターゲットを指定してセッションの作成を要求する
	CreateSession(targets []Target, handler SessionHandler) error
	// NewRequest はテンプレート種別からリクエストビルダーを作成する
	NewRequest(template RequestType) (PlatformRequest, error)
	// Close はデバイスを閉じる。完了はDeviceEventClosedで通知される
	Close()
}

// Session は構成済みのキャプチャセッション
type Session interface {
	ID() string
	SetRepeating(req Request, handler CaptureHandler) error
	Capture(req Request, handler CaptureHandler) error
	StopRepeating() error
	// Close はセッションを閉じる。完了はSessionEventClosedで通知される
	Close()
}

// PlatformRequest はプラットフォームのリクエストビルダー
type PlatformRequest interface {
	RequestBuilder
	AddTarget(t Target)
	Build() (Request, error)
}

// Request は構築済みの不変なキャプチャリクエスト
type Request interface {
	Template() RequestType
	Targets() []Target
	Value(key string) (any, bool)
}
