package camera

import "fmt"

// RequestBuilder はキャプチャリクエストのパラメータを設定するインターフェース
type RequestBuilder interface {
	Set(key string, value any)
	Get(key string) (any, bool)
}

// Key は型付きのリクエストパラメータキー
type Key[T any] struct {
	Name string
}

// 既知のリクエストパラメータ
var (
	KeyFrameRate   = Key[float64]{Name: "frame_rate"}
	KeyFrameSize   = Key[Size]{Name: "frame_size"}
	KeyJPEGQuality = Key[int]{Name: "jpeg_quality"}
	KeyTag         = Key[string]{Name: "tag"}
)

// SetKey は型付きキーで値を設定する
func SetKey[T any](b RequestBuilder, key Key[T], value T) {
	b.Set(key.Name, value)
}

// GetKey は型付きキーで値を取得する
//
// 未設定または型が一致しない場合はfalseを返す。
func GetKey[T any](b RequestBuilder, key Key[T]) (T, bool) {
	var zero T
	raw, ok := b.Get(key.Name)
	if !ok {
		return zero, false
	}
	value, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return value, true
}

// RequestValue は構築済みリクエストから型付きキーで値を取得する
func RequestValue[T any](req Request, key Key[T]) (T, bool) {
	var zero T
	raw, ok := req.Value(key.Name)
	if !ok {
		return zero, false
	}
	value, ok := raw.(T)
	return value, ok
}

// Configurator はリクエスト種別ごとにパラメータを調整する
type Configurator func(t RequestType, b RequestBuilder)

// narrowBuilder はプラットフォームのビルダーからSet/Getのみを公開する
type narrowBuilder struct {
	inner PlatformRequest
}

func (n narrowBuilder) Set(key string, value any) { n.inner.Set(key, value) }

func (n narrowBuilder) Get(key string) (any, bool) { return n.inner.Get(key) }

// buildRequest はテンプレートからリクエストを作成し、設定とターゲットを適用して構築する
func buildRequest(handle DeviceHandle, t RequestType, targets []Target, configure Configurator) (Request, error) {
	builder, err := handle.NewRequest(t)
	if err != nil {
		return nil, fmt.Errorf("%s リクエストの作成に失敗: %w", t, err)
	}

	if configure != nil {
		configure(t, narrowBuilder{inner: builder})
	}
	for _, target := range targets {
		builder.AddTarget(target)
	}

	req, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("%s リクエストの構築に失敗: %w", t, err)
	}
	return req, nil
}
