package server

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FrameCounter はフレームを数えるだけの出力ターゲット
type FrameCounter struct {
	name string

	mu     sync.Mutex
	frames int64
	last   time.Time
	bounds image.Rectangle
}

// NewFrameCounter は一意な名前を持つFrameCounterを作成する
func NewFrameCounter(prefix string) *FrameCounter {
	return &FrameCounter{name: prefix + "-" + uuid.NewString()}
}

// Name はターゲット名を返す
func (f *FrameCounter) Name() string { return f.name }

// WriteFrame はフレームを受け取る
func (f *FrameCounter) WriteFrame(img image.Image, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames++
	f.last = at
	if img != nil {
		f.bounds = img.Bounds()
	}
}

// SinkInfo はターゲットの状態
type SinkInfo struct {
	Name      string    `json:"name"`
	Frames    int64     `json:"frames"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	LastFrame time.Time `json:"last_frame,omitzero"`
}

// Info は現在の状態を返す
func (f *FrameCounter) Info() SinkInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return SinkInfo{
		Name:      f.name,
		Frames:    f.frames,
		Width:     f.bounds.Dx(),
		Height:    f.bounds.Dy(),
		LastFrame: f.last,
	}
}

// StillSink は最後に受け取ったフレームをJPEGとして保持する出力ターゲット
type StillSink struct {
	*FrameCounter
	quality int

	mu   sync.Mutex
	jpeg []byte
}

// NewStillSink は新しいStillSinkを作成する
func NewStillSink(prefix string, quality int) *StillSink {
	return &StillSink{FrameCounter: NewFrameCounter(prefix), quality: quality}
}

// WriteFrame はフレームをJPEGにエンコードして保持する
func (s *StillSink) WriteFrame(img image.Image, at time.Time) {
	s.FrameCounter.WriteFrame(img, at)
	if img == nil {
		return
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
		return
	}
	s.mu.Lock()
	s.jpeg = buf.Bytes()
	s.mu.Unlock()
}

// JPEG は最後の静止画を返す。まだない場合はfalse
func (s *StillSink) JPEG() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jpeg, s.jpeg != nil
}
