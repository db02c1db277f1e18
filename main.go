package main

import (
	"context"
	"log"
	"os"

	_ "github.com/pion/mediadevices/pkg/driver/camera"

	"satsuei/internal/app"
	"satsuei/internal/config"
	"satsuei/internal/logging"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load(os.Getenv("SATSUEI_CONFIG"))
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("ロガーの作成に失敗しました: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// サーバーを起動
	if err := app.Run(context.Background(), cfg, false, logger); err != nil {
		log.Fatalf("サーバーの起動に失敗しました: %v", err)
	}
}
