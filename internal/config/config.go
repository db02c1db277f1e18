package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server ServerConfig `yaml:"server"`
	Camera CameraConfig `yaml:"camera"`
	Queue  QueueConfig  `yaml:"queue"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト
}

// CameraConfig はカメラパイプラインの設定
type CameraConfig struct {
	FrontFirst      bool          `yaml:"front_first"`      // 前面カメラを先に並べる
	Snapshot        bool          `yaml:"snapshot"`         // 録画中の静止画をスナップショットとして撮る
	RefreshThrottle time.Duration `yaml:"refresh_throttle"` // 接続変化による再列挙の間引き間隔
	ReadyTimeout    time.Duration `yaml:"ready_timeout"`    // リピーティング停止の応答待ち時間
	StopRetries     uint64        `yaml:"stop_retries"`     // 停止の再送回数
	ReopenRetries   uint64        `yaml:"reopen_retries"`   // デバイス障害後の再オープン回数（0で無効）
	ScanInterval    time.Duration `yaml:"scan_interval"`    // デバイス接続のスキャン間隔

	// プレビューの希望サイズ
	PreviewWidth  int `yaml:"preview_width"`
	PreviewHeight int `yaml:"preview_height"`
	FrameRate     int `yaml:"frame_rate"`

	// ドライバから取得できない特性の上書き
	Devices []CameraDevice `yaml:"devices"`
}

// CameraDevice は個別カメラの設定
type CameraDevice struct {
	ID       string `yaml:"id"`       // ドライバIDまたはラベル
	Facing   string `yaml:"facing"`   // front / back / external
	Rotation int    `yaml:"rotation"` // センサーの回転角（0, 90, 180, 270）
}

// QueueConfig はカメラキューの設定
type QueueConfig struct {
	Backlog      int  `yaml:"backlog"`        // 保留できるタスク数
	LockOSThread bool `yaml:"lock_os_thread"` // キューのゴルーチンをOSスレッドに固定する
}

// LogConfig はログの設定
type LogConfig struct {
	Level       string `yaml:"level"`       // debug / info / warn / error
	Development bool   `yaml:"development"` // 開発用の出力形式
}

// Default はデフォルト値の設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // WebSocket用にタイムアウト無効化
		},
		Camera: CameraConfig{
			FrontFirst:      false,
			Snapshot:        true,
			RefreshThrottle: 500 * time.Millisecond,
			ReadyTimeout:    2 * time.Second,
			StopRetries:     3,
			ReopenRetries:   3,
			ScanInterval:    2 * time.Second,
			PreviewWidth:    1280,
			PreviewHeight:   720,
			FrameRate:       15,
			Devices:         []CameraDevice{},
		},
		Queue: QueueConfig{
			Backlog:      256,
			LockOSThread: false,
		},
		Log: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// Load は設定を読み込む
//
// デフォルト値、YAMLファイル（pathが空でなければ）、環境変数の順に適用する。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvAsIntOrDefault("PORT", cfg.Server.Port)
	cfg.Log.Level = getEnvOrDefault("SATSUEI_LOG_LEVEL", cfg.Log.Level)
	cfg.Camera.FrontFirst = getEnvAsBoolOrDefault("SATSUEI_FRONT_FIRST", cfg.Camera.FrontFirst)

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return errors.New("タイムアウトに負の値は指定できません")
	}

	// カメラ設定の検証
	if c.Camera.ReadyTimeout <= 0 {
		return fmt.Errorf("無効なready_timeout: %s", c.Camera.ReadyTimeout)
	}
	if c.Camera.RefreshThrottle < 0 {
		return fmt.Errorf("無効なrefresh_throttle: %s", c.Camera.RefreshThrottle)
	}
	if c.Camera.PreviewWidth < 0 || c.Camera.PreviewHeight < 0 {
		return fmt.Errorf("無効なプレビューサイズ: %dx%d", c.Camera.PreviewWidth, c.Camera.PreviewHeight)
	}
	for i, d := range c.Camera.Devices {
		if d.ID == "" {
			return fmt.Errorf("devices[%d]: IDが指定されていません", i)
		}
		switch d.Facing {
		case "", "front", "back", "external":
		default:
			return fmt.Errorf("devices[%d]: 無効なfacing: %s", i, d.Facing)
		}
		if d.Rotation%90 != 0 || d.Rotation < 0 || d.Rotation >= 360 {
			return fmt.Errorf("devices[%d]: 無効なrotation: %d", i, d.Rotation)
		}
	}

	// キュー設定の検証
	if c.Queue.Backlog < 1 {
		return fmt.Errorf("無効なbacklog: %d", c.Queue.Backlog)
	}

	// ログ設定の検証
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("無効なログレベル: %s", c.Log.Level)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsBoolOrDefault は環境変数を真偽値として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
