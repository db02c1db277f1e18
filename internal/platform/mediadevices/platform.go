package mediadevices

import (
	"context"
	"errors"
	"fmt"
	"image"
	"slices"
	"sync"
	"time"

	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/prop"
	"go.uber.org/zap"

	"satsuei/internal/camera"
)

// DefaultScanInterval は接続状態のスキャン間隔のデフォルト値
const DefaultScanInterval = 2 * time.Second

var (
	// ErrDeviceNotFound はドライバが見つからない場合に返される
	ErrDeviceNotFound = errors.New("カメラドライバが見つかりません")
	// ErrDeviceBusy は既にオープン中のドライバを開こうとした場合に返される
	ErrDeviceBusy = errors.New("カメラは既に使用中です")
)

// FrameSink はフレームを受け取る出力ターゲット
type FrameSink interface {
	camera.Target
	WriteFrame(img image.Image, at time.Time)
}

// DeviceOverride はドライバから取得できない特性の上書き
type DeviceOverride struct {
	Facing      camera.Facing
	Orientation int
}

// Config はPlatformの設定
type Config struct {
	ScanInterval time.Duration
	Overrides    map[string]DeviceOverride
}

// Platform はpion/mediadevicesのドライバマネージャーを使うカメラランタイム
type Platform struct {
	manager *driver.Manager
	cfg     Config
	logger  *zap.Logger

	mu   sync.Mutex
	open map[string]*handle
}

var _ camera.Platform = (*Platform)(nil)

// New は新しいPlatformを作成する
func New(cfg Config, logger *zap.Logger) *Platform {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Platform{
		manager: driver.GetManager(),
		cfg:     cfg,
		logger:  logger.Named("mediadevices"),
		open:    make(map[string]*handle),
	}
}

func (p *Platform) drivers() []driver.Driver {
	return p.manager.Query(driver.FilterVideoRecorder())
}

func (p *Platform) find(id string) (driver.Driver, error) {
	for _, d := range p.drivers() {
		if d.ID() == id {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
}

// CameraIDs は登録済みのビデオドライバのIDを返す
func (p *Platform) CameraIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	drivers := p.drivers()
	ids := make([]string, 0, len(drivers))
	for _, d := range drivers {
		ids = append(ids, d.ID())
	}
	return ids, nil
}

// Characteristics はドライバのプロパティから特性を構築する
//
// クローズ中のドライバは一時的にオープンしてプロパティを取得する。
func (p *Platform) Characteristics(ctx context.Context, id string) (camera.Characteristics, error) {
	if err := ctx.Err(); err != nil {
		return camera.Characteristics{}, err
	}
	d, err := p.find(id)
	if err != nil {
		return camera.Characteristics{}, err
	}

	props, err := p.properties(d)
	if err != nil {
		return camera.Characteristics{}, fmt.Errorf("プロパティの取得に失敗: %w", err)
	}

	yuv, jpeg := sizesFromProperties(props)
	chars := camera.Characteristics{
		Facing:      camera.FacingExternal,
		Orientation: 0,
		Level:       levelFor(yuv, jpeg),
		YUVSizes:    yuv,
		JPEGSizes:   jpeg,
	}
	if o, ok := p.override(d); ok {
		chars.Facing = o.Facing
		chars.Orientation = o.Orientation
	}
	return chars, nil
}

// override はIDまたはラベルに一致する上書き設定を返す
func (p *Platform) override(d driver.Driver) (DeviceOverride, bool) {
	if o, ok := p.cfg.Overrides[d.ID()]; ok {
		return o, true
	}
	o, ok := p.cfg.Overrides[d.Info().Label]
	return o, ok
}

func (p *Platform) properties(d driver.Driver) ([]prop.Media, error) {
	if d.Status() != driver.StateClosed {
		return d.Properties(), nil
	}
	if err := d.Open(); err != nil {
		return nil, err
	}
	defer func() {
		if err := d.Close(); err != nil {
			p.logger.Debug("ドライバのクローズに失敗しました", zap.String("camera_id", d.ID()), zap.Error(err))
		}
	}()
	return d.Properties(), nil
}

// OpenDevice はドライバを非同期にオープンする
func (p *Platform) OpenDevice(id string, handler camera.DeviceHandler) error {
	d, err := p.find(id)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if _, busy := p.open[id]; busy {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDeviceBusy, id)
	}
	h := &handle{platform: p, id: id, drv: d, handler: handler, logger: p.logger.With(zap.String("camera_id", id))}
	p.open[id] = h
	p.mu.Unlock()

	go func() {
		if err := d.Open(); err != nil {
			h.logger.Error("ドライバのオープンに失敗しました", zap.Error(err))
			h.markFailed()
			handler(camera.DeviceEvent{Kind: camera.DeviceEventError, Handle: h, Code: camera.ErrorCameraDevice})
			return
		}
		h.logger.Info("ドライバをオープンしました", zap.String("label", d.Info().Label))
		handler(camera.DeviceEvent{Kind: camera.DeviceEventOpened, Handle: h})
	}()
	return nil
}

func (p *Platform) release(h *handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open[h.id] == h {
		delete(p.open, h.id)
	}
}

// WatchAvailability は定期スキャンで接続・切断を検出する
func (p *Platform) WatchAvailability(handler camera.AvailabilityHandler) func() {
	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go p.scan(stopCh, &wg, handler)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopCh)
			wg.Wait()
		})
	}
}

// scan は前回のスキャン結果との差分を通知する
func (p *Platform) scan(stopCh <-chan struct{}, wg *sync.WaitGroup, handler camera.AvailabilityHandler) {
	defer wg.Done()

	known, _ := p.CameraIDs(context.Background())
	ticker := time.NewTicker(p.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			current, err := p.CameraIDs(context.Background())
			if err != nil {
				continue
			}
			added, removed := diffIDs(known, current)
			for _, id := range removed {
				p.disconnect(id)
				handler(id, false)
			}
			for _, id := range added {
				handler(id, true)
			}
			known = current
		}
	}
}

// disconnect は消えたドライバのハンドルに切断を通知する
func (p *Platform) disconnect(id string) {
	p.mu.Lock()
	h := p.open[id]
	p.mu.Unlock()
	if h != nil {
		h.handler(camera.DeviceEvent{Kind: camera.DeviceEventDisconnected, Handle: h})
	}
}

func diffIDs(before, after []string) (added, removed []string) {
	for _, id := range after {
		if !slices.Contains(before, id) {
			added = append(added, id)
		}
	}
	for _, id := range before {
		if !slices.Contains(after, id) {
			removed = append(removed, id)
		}
	}
	return added, removed
}
