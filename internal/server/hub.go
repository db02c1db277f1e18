package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"satsuei/internal/camera"
)

const (
	// クライアントごとの送信バッファ
	clientBuffer = 64
	writeWait    = 5 * time.Second
)

// Event はWebSocketで配信するイベント
type Event struct {
	Type      string    `json:"type"` // instance / state / capture / error
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// InstanceEvent は選択変更イベントの内容
type InstanceEvent struct {
	Profile    ProfileInfo `json:"profile"`
	Index      int         `json:"index"`
	Generation uint64      `json:"generation"`
}

// StateEvent はストリーミング状態イベントの内容
type StateEvent struct {
	Streaming string `json:"streaming"`
}

// CaptureEventData はキャプチャイベントの内容
type CaptureEventData struct {
	Request     string          `json:"request"`
	Kind        string          `json:"kind"`
	FrameNumber int64           `json:"frame_number"`
	Metadata    camera.Metadata `json:"metadata,omitempty"`
	Reason      string          `json:"reason,omitempty"`
}

// ErrorEvent はエラーイベントの内容
type ErrorEvent struct {
	Message string `json:"message"`
}

// Hub はWebSocketクライアントへイベントを配信する
//
// Broadcast はブロックしない。送信が追いつかないクライアントは切断する。
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// NewHub は新しいHubを作成する
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger.Named("hub"),
		clients: make(map[*client]struct{}),
	}
}

// Attach はパイプラインのコールバックをHubへ接続する
func (h *Hub) Attach(opts *camera.Options) {
	opts.OnInstance = h.instance
	opts.OnState = h.state
	opts.OnError = h.fail
	if opts.Capture == nil {
		opts.Capture = &camera.CaptureOptions{}
	}
	opts.Capture.Listener = h.capture
}

func (h *Hub) instance(inst camera.Instance) {
	h.Broadcast(Event{Type: "instance", Data: InstanceEvent{
		Profile:    profileInfo(inst.Profile()),
		Index:      inst.Index(),
		Generation: inst.Generation(),
	}})
}

func (h *Hub) state(t camera.RequestType) {
	h.Broadcast(Event{Type: "state", Data: StateEvent{Streaming: t.String()}})
}

func (h *Hub) fail(err error) {
	h.Broadcast(Event{Type: "error", Data: ErrorEvent{Message: err.Error()}})
}

func (h *Hub) capture(t camera.RequestType, e camera.CaptureEvent) {
	data := CaptureEventData{
		Request:     t.String(),
		Kind:        e.Kind.String(),
		FrameNumber: e.FrameNumber,
	}
	if e.Result != nil {
		data.Metadata = e.Result.Metadata
	}
	if e.Failure != nil {
		data.Reason = e.Failure.Reason.String()
	}
	h.Broadcast(Event{Type: "capture", Data: data})
}

// Broadcast は全クライアントへイベントを送る
func (h *Hub) Broadcast(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("イベントのエンコードに失敗しました", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("送信が追いつかないクライアントを切断します", zap.String("remote", c.conn.RemoteAddr().String()))
			delete(h.clients, c)
			c.close()
		}
	}
}

// Clients は接続中のクライアント数を返す
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP はWebSocket接続を確立してイベントの配信を開始する
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocketのアップグレードに失敗しました", zap.Error(err))
		return
	}
	h.logger.Info("WebSocket接続を確立しました", zap.String("remote", r.RemoteAddr))

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

// readPump は切断を検出するまで受信を読み捨てる
func (h *Hub) readPump(c *client) {
	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			c.close()
		}
		h.mu.Unlock()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()

	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Debug("WebSocketへの書き込みに失敗しました", zap.Error(err))
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Close は全クライアントを切断する
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}
