// Package app 設定からカメラパイプラインとHTTPサーバーを組み立てて起動する
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"satsuei/internal/camera"
	"satsuei/internal/config"
	"satsuei/internal/platform/mediadevices"
	"satsuei/internal/server"
)

// 再オープンの初回待ち時間
const reopenInterval = 500 * time.Millisecond

// NewPlatform はカメラランタイムを作成する
//
// mockがtrueの場合は前面・背面の2台を持つモックを返す。
func NewPlatform(cfg *config.Config, mock bool, logger *zap.Logger) (camera.Platform, error) {
	if mock {
		p := camera.NewMockPlatform()
		p.AddCamera("0", camera.DefaultMockCharacteristics(camera.FacingBack))
		p.AddCamera("1", camera.DefaultMockCharacteristics(camera.FacingFront))
		return p, nil
	}

	overrides, err := deviceOverrides(cfg.Camera.Devices)
	if err != nil {
		return nil, err
	}
	return mediadevices.New(mediadevices.Config{
		ScanInterval: cfg.Camera.ScanInterval,
		Overrides:    overrides,
	}, logger), nil
}

// deviceOverrides は設定のデバイス定義をランタイムの上書き設定に変換する
func deviceOverrides(devices []config.CameraDevice) (map[string]mediadevices.DeviceOverride, error) {
	overrides := make(map[string]mediadevices.DeviceOverride, len(devices))
	for _, d := range devices {
		facing := camera.FacingExternal
		if d.Facing != "" {
			f, err := camera.ParseFacing(d.Facing)
			if err != nil {
				return nil, fmt.Errorf("カメラ %s: %w", d.ID, err)
			}
			facing = f
		}
		overrides[d.ID] = mediadevices.DeviceOverride{Facing: facing, Orientation: d.Rotation}
	}
	return overrides, nil
}

// PipelineOptions は設定からパイプラインのオプションを作成する
func PipelineOptions(cfg *config.Config, logger *zap.Logger) camera.Options {
	opts := camera.Options{
		Queue: camera.QueueConfig{
			Name:         "camera",
			Backlog:      cfg.Queue.Backlog,
			LockOSThread: cfg.Queue.LockOSThread,
		},
		FrontFirst:      cfg.Camera.FrontFirst,
		Snapshot:        cfg.Camera.Snapshot,
		RefreshThrottle: cfg.Camera.RefreshThrottle,
		ReadyTimeout:    cfg.Camera.ReadyTimeout,
		StopRetries:     cfg.Camera.StopRetries,
		Configurator:    configurator(cfg.Camera),
		Logger:          logger,
	}

	if retries := cfg.Camera.ReopenRetries; retries > 0 {
		opts.ReopenPolicy = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = reopenInterval
			b.MaxElapsedTime = 0
			b.Reset()
			return backoff.WithMaxRetries(b, retries)
		}
	}
	return opts
}

// configurator はリピーティングリクエストにプレビューサイズとフレームレートを設定する
func configurator(cfg config.CameraConfig) camera.Configurator {
	preview := camera.Size{Width: cfg.PreviewWidth, Height: cfg.PreviewHeight}
	return func(t camera.RequestType, b camera.RequestBuilder) {
		camera.SetKey(b, camera.KeyTag, t.String())
		if !t.Repeating() {
			return
		}
		if preview.Width > 0 && preview.Height > 0 {
			camera.SetKey(b, camera.KeyFrameSize, preview)
		}
		if cfg.FrameRate > 0 {
			camera.SetKey(b, camera.KeyFrameRate, float64(cfg.FrameRate))
		}
	}
}

// Run はパイプラインとサーバーを起動し、サーバーが停止するまでブロックする
func Run(ctx context.Context, cfg *config.Config, mock bool, logger *zap.Logger) error {
	platform, err := NewPlatform(cfg, mock, logger)
	if err != nil {
		return fmt.Errorf("カメラランタイムの作成に失敗: %w", err)
	}

	hub := server.NewHub(logger)
	opts := PipelineOptions(cfg, logger)
	hub.Attach(&opts)

	pipeline := camera.NewPipeline(platform, opts)
	defer pipeline.Close()

	if err := pipeline.Start(ctx); err != nil {
		return fmt.Errorf("パイプラインの開始に失敗: %w", err)
	}

	srv := server.New(cfg, pipeline, hub, logger)
	return srv.Start(ctx)
}
