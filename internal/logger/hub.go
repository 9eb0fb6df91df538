package logger

import (
	"context"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Kind 状态消息类型
type Kind string

const (
	KindStatus     Kind = "status"
	KindTranscript Kind = "transcript"
	KindState      Kind = "state"
	KindLog        Kind = "log"
)

const writeTimeout = time.Second

// StatusMessage 推送给页面的状态消息
type StatusMessage struct {
	Kind      Kind      `json:"kind"`
	Text      string    `json:"text,omitempty"`
	State     string    `json:"state,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SnapshotFunc 新订阅者连接时获取当前状态
type SnapshotFunc func() []StatusMessage

// Hub 状态消息广播器
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan StatusMessage
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex

	snapshot atomic.Value // SnapshotFunc
	dropped  atomic.Int64
	sent     atomic.Int64
}

// NewHub 创建广播器，bufferSize<=0 时使用 256
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan StatusMessage, bufferSize),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// SetSnapshot 设置订阅时的快照来源
func (h *Hub) SetSnapshot(fn SnapshotFunc) {
	h.snapshot.Store(fn)
}

// Run 运行广播循环直到 ctx 结束
func (h *Hub) Run(ctx context.Context) {
	defer h.stop()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("[hub] subscriber connected, total=%d", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("[hub] subscriber disconnected, total=%d", count)

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

func (h *Hub) stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// deliver 写给所有订阅者，写失败的订阅者被移除
func (h *Hub) deliver(message StatusMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := client.WriteJSON(message); err != nil {
			log.Printf("[hub] write failed, dropping subscriber: %v", err)
			delete(h.clients, client)
			client.Close()
			continue
		}
		h.sent.Add(1)
	}
}

// Publish 非阻塞发布，缓冲区满时丢弃并返回 false
func (h *Hub) Publish(message StatusMessage) bool {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- message:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

// Status 发布状态文本
func (h *Hub) Status(text, state string) {
	log.Printf("[status] %s", text)
	h.Publish(StatusMessage{Kind: KindStatus, Text: text, State: state})
}

// Transcript 发布完整的对话文本
func (h *Hub) Transcript(text string) {
	h.Publish(StatusMessage{Kind: KindTranscript, Text: text})
}

// State 发布连接阶段变化
func (h *Hub) State(state string) {
	h.Publish(StatusMessage{Kind: KindState, State: state})
}

// Log 发布日志行，同时输出到控制台
func (h *Hub) Log(module, text string) {
	log.Printf("[%s] %s", module, text)
	h.Publish(StatusMessage{Kind: KindLog, Text: "[" + module + "] " + text})
}

// ClientCount 当前订阅者数量
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetStats 获取统计信息
func (h *Hub) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"subscribers": h.ClientCount(),
		"sent":        h.sent.Load(),
		"dropped":     h.dropped.Load(),
		"pending":     len(h.broadcast),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 来源检查交给 CORS 配置
	},
}

// HandleWebSocket 处理订阅连接
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[hub] websocket upgrade failed: %v", err)
		return
	}

	// 快照在注册前写出，注册后只有广播循环写这个连接
	if fn, ok := h.snapshot.Load().(SnapshotFunc); ok && fn != nil {
		for _, message := range fn() {
			if message.Timestamp.IsZero() {
				message.Timestamp = time.Now()
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(message); err != nil {
				log.Printf("[hub] snapshot write failed: %v", err)
				conn.Close()
				return
			}
		}
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	defer func() {
		select {
		case h.unregister <- conn:
		case <-h.done:
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[hub] websocket error: %v", err)
			}
			return
		}
	}
}
