package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"satsuei/internal/camera"
	"satsuei/internal/config"
)

// Pipeline はサーバーが操作するカメラパイプライン
type Pipeline interface {
	Next() error
	Prev() error
	SetTargets(targets []camera.Target) error
	ToggleRecord() error
	Capture() error
	Status() camera.Status
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	pipeline   Pipeline
	hub        *Hub
	engine     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger

	mu    sync.Mutex
	sinks []*FrameCounter
	still *StillSink
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, pipeline Pipeline, hub *Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config:   cfg,
		pipeline: pipeline,
		hub:      hub,
		engine:   gin.New(),
		logger:   logger.Named("server"),
	}
	s.engine.Use(gin.Recovery(), s.accessLog())
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      s.engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Handler はHTTPハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	// ヘルスチェックエンドポイント
	s.engine.GET("/health", s.HealthCheck)

	api := s.engine.Group("/api")
	api.GET("/status", s.GetStatus)
	api.GET("/profiles", s.GetProfiles)
	api.GET("/events", gin.WrapH(s.hub))

	cam := api.Group("/camera")
	cam.POST("/next", s.Next)
	cam.POST("/prev", s.Prev)
	cam.PUT("/targets", s.PutTargets)
	cam.POST("/record", s.ToggleRecord)
	cam.POST("/capture", s.Capture)
	cam.GET("/still", s.GetStill)
}

// accessLog はリクエストをzapで記録するミドルウェア
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("リクエストを処理しました",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// Start はサーバーを起動する
func (s *Server) Start(ctx context.Context) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Info("HTTPサーバーを起動しています", zap.String("addr", s.config.ServerAddress()))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		s.logger.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.logger.Info("シグナルを受信しました", zap.Stringer("signal", sig))
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.logger.Info("サーバーをシャットダウンしています")

	// 5秒のタイムアウトを設定
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// WebSocket接続はShutdownの対象外なので先に切断する
	s.hub.Close()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}
