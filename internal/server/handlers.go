package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"satsuei/internal/camera"
)

const (
	// 1セッションに設定できるターゲット数の上限
	maxTargets = 8
	// 静止画のJPEG品質
	stillQuality = 90
)

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// SizeInfo は出力サイズ
type SizeInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ProfileInfo はカメラプロファイルの公開表現
type ProfileInfo struct {
	ID        string     `json:"id"`
	Facing    string     `json:"facing"`
	Rotation  int        `json:"rotation"`
	Level     string     `json:"level"`
	YUVSizes  []SizeInfo `json:"yuv_sizes"`
	JPEGSizes []SizeInfo `json:"jpeg_sizes"`
}

// StatusResponse はシステム状態のレスポンス
type StatusResponse struct {
	Status    string      `json:"status"`
	Profile   ProfileInfo `json:"profile"`
	Index     int         `json:"index"`
	Cameras   int         `json:"cameras"`
	Device    string      `json:"device"`
	Streaming string      `json:"streaming"`
	Recording bool        `json:"recording"`
	Targets   []SinkInfo  `json:"targets"`
	LastError string      `json:"last_error,omitempty"`
	Clients   int         `json:"clients"`
	UpdatedAt time.Time   `json:"updated_at"`
	Timestamp time.Time   `json:"timestamp"`
}

// ProfilesResponse はカメラ一覧のレスポンス
type ProfilesResponse struct {
	Profiles []ProfileInfo `json:"profiles"`
}

// TargetsRequest はターゲット設定のリクエスト
type TargetsRequest struct {
	Targets *int `json:"targets" binding:"required"`
}

// AcceptedResponse は受け付けたコマンドのレスポンス
type AcceptedResponse struct {
	Accepted  string    `json:"accepted"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse はエラーレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (s *Server) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Timestamp: time.Now()})
}

// GetStatus はシステム状態取得エンドポイントの実装
func (s *Server) GetStatus(c *gin.Context) {
	status := s.pipeline.Status()

	sinks := s.currentSinks()
	targets := make([]SinkInfo, 0, len(sinks))
	for _, sink := range sinks {
		targets = append(targets, sink.Info())
	}

	c.JSON(http.StatusOK, StatusResponse{
		Status:    "running",
		Profile:   profileInfo(status.Profile),
		Index:     status.Index,
		Cameras:   len(status.Profiles),
		Device:    status.Device.String(),
		Streaming: status.Streaming.String(),
		Recording: status.Recording,
		Targets:   targets,
		LastError: status.LastError,
		Clients:   s.hub.Clients(),
		UpdatedAt: status.UpdatedAt,
		Timestamp: time.Now(),
	})
}

// GetProfiles はカメラ一覧取得エンドポイントの実装
func (s *Server) GetProfiles(c *gin.Context) {
	status := s.pipeline.Status()
	profiles := make([]ProfileInfo, 0, len(status.Profiles))
	for _, p := range status.Profiles {
		profiles = append(profiles, profileInfo(p))
	}
	c.JSON(http.StatusOK, ProfilesResponse{Profiles: profiles})
}

// Next は次のカメラへ切り替える
func (s *Server) Next(c *gin.Context) {
	s.accept(c, "next", s.pipeline.Next())
}

// Prev は前のカメラへ切り替える
func (s *Server) Prev(c *gin.Context) {
	s.accept(c, "prev", s.pipeline.Prev())
}

// ToggleRecord は録画とプレビューを切り替える
func (s *Server) ToggleRecord(c *gin.Context) {
	s.accept(c, "record", s.pipeline.ToggleRecord())
}

// Capture は静止画を撮影する
func (s *Server) Capture(c *gin.Context) {
	s.accept(c, "capture", s.pipeline.Capture())
}

// PutTargets は指定数のフレームカウンターを出力ターゲットとして設定する
//
// 0はセッションの破棄を意味する。
func (s *Server) PutTargets(c *gin.Context) {
	var req TargetsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
		return
	}
	n := *req.Targets
	if n < 0 || n > maxTargets {
		c.JSON(http.StatusBadRequest, errorResponse("invalid_targets", "ターゲット数は0から8の範囲で指定してください"))
		return
	}

	// 最後のターゲットが静止画用になる
	var still *StillSink
	counters := make([]*FrameCounter, 0, n)
	targets := make([]camera.Target, 0, n)
	for i := 0; i < n; i++ {
		if i == n-1 {
			still = NewStillSink("still", stillQuality)
			counters = append(counters, still.FrameCounter)
			targets = append(targets, still)
			continue
		}
		sink := NewFrameCounter("stream")
		counters = append(counters, sink)
		targets = append(targets, sink)
	}
	if n == 0 {
		targets = nil
	}

	if err := s.pipeline.SetTargets(targets); err != nil {
		s.accept(c, "targets", err)
		return
	}
	s.mu.Lock()
	s.sinks = counters
	s.still = still
	s.mu.Unlock()
	s.accept(c, "targets", nil)
}

// GetStill は最後に撮影した静止画をJPEGで返す
func (s *Server) GetStill(c *gin.Context) {
	s.mu.Lock()
	still := s.still
	s.mu.Unlock()

	if still == nil {
		c.JSON(http.StatusNotFound, errorResponse("no_targets", "出力ターゲットが設定されていません"))
		return
	}
	data, ok := still.JPEG()
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse("no_still", "まだ静止画がありません"))
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (s *Server) currentSinks() []*FrameCounter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sinks
}

// accept はコマンドの投入結果をレスポンスに変換する
func (s *Server) accept(c *gin.Context, command string, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, AcceptedResponse{Accepted: command, Timestamp: time.Now()})
	case errors.Is(err, camera.ErrQueueFull):
		c.JSON(http.StatusTooManyRequests, errorResponse("queue_full", err.Error()))
	case errors.Is(err, camera.ErrPipelineClosed):
		c.JSON(http.StatusServiceUnavailable, errorResponse("pipeline_closed", err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, errorResponse("internal_error", err.Error()))
	}
}

// ヘルパー関数

func errorResponse(code, message string) ErrorResponse {
	return ErrorResponse{Error: code, Message: message, Timestamp: time.Now()}
}

// profileInfo はプロファイルを公開表現に変換する
func profileInfo(p camera.Profile) ProfileInfo {
	return ProfileInfo{
		ID:        p.ID(),
		Facing:    p.Facing().String(),
		Rotation:  p.Rotation().Degrees(),
		Level:     p.Level().String(),
		YUVSizes:  sizeInfos(p.YUVSizes()),
		JPEGSizes: sizeInfos(p.JPEGSizes()),
	}
}

func sizeInfos(sizes []camera.Size) []SizeInfo {
	out := make([]SizeInfo, 0, len(sizes))
	for _, s := range sizes {
		out = append(out, SizeInfo{Width: s.Width, Height: s.Height})
	}
	return out
}
