// Package main はSatsueiサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	// Linuxのカメラドライバを登録する
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	"go.uber.org/zap"

	"satsuei/internal/app"
	"satsuei/internal/config"
	"satsuei/internal/logging"
)

func main() {
	// コマンドラインオプション
	var (
		configPath = flag.String("config", "", "設定ファイルのパス (YAML)")
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		mock       = flag.Bool("mock", false, "モックのカメラを使う")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("Satsuei")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("ロガーの作成に失敗しました: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Satsuei サーバーを起動します", zap.String("addr", cfg.ServerAddress()), zap.Bool("mock", *mock))
	if err := app.Run(context.Background(), cfg, *mock, logger); err != nil {
		logger.Fatal("サーバーの起動に失敗しました", zap.Error(err))
	}
}
