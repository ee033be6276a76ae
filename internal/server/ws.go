package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// Message はWebSocketで配信するメッセージ
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Hub はWebSocketクライアントの集合とブロードキャストを管理する
type Hub struct {
	logger zerolog.Logger

	register   chan *client
	unregister chan *client
	broadcast  chan Message

	mu      sync.Mutex
	clients map[*client]bool
}

// NewHub は新しいHubを作成する
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Message, 64),
		clients:    make(map[*client]bool),
	}
}

// Run はハブのイベントループを実行する。ctxのキャンセルで全接続を閉じて戻る
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info().Str("client_id", c.id).Int("total_clients", total).Msg("WebSocketクライアントが接続しました")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info().Str("client_id", c.id).Int("total_clients", total).Msg("WebSocketクライアントが切断しました")

		case msg := <-h.broadcast:
			h.broadcastToClients(msg)
		}
	}
}

// Broadcast は全クライアントへメッセージを配信する
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn().Str("type", msg.Type).Msg("ブロードキャストバッファが一杯のため破棄します")
	}
}

// ClientCount は接続中のクライアント数を返す
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcastToClients はメッセージを各クライアントの送信キューへ積む
// 追い付いていないクライアントへの配信はスキップされる
func (h *Hub) broadcastToClients(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn().Str("client_id", c.id).Msg("送信キューが一杯のため配信をスキップします")
		}
	}
}

// closeAll は全クライアントを閉じる
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// client はWebSocket接続とハブの仲介役
type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan Message
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 配信専用のエンドポイントのためオリジンは制限しない
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// serveWS はHTTP接続をWebSocketへアップグレードしてハブに登録する
func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocketへのアップグレードに失敗しました")
		return
	}

	c := &client{
		id:   uuid.New().String(),
		hub:  h,
		conn: conn,
		send: make(chan Message, 64),
	}

	h.register <- c
	go c.writePump()
	go c.readPump()
}

// readPump は受信メッセージを読み捨てて接続の死活を監視する
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump は送信キューのメッセージを接続へ書き込む
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// ハブが閉じた
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(msg)
			if err != nil {
				c.hub.logger.Warn().Err(err).Msg("メッセージのエンコードに失敗しました")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
