package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"PongVoiceBridge/internal/protocol"
	"PongVoiceBridge/internal/relay"
	"PongVoiceBridge/internal/rtcclient"
)

const maxBodyBytes = 64 << 10

// VoiceClient 语音会话的控制面
type VoiceClient interface {
	Connect(ctx context.Context) error
	Disconnect()
	SendUserText(text string) error
	State() rtcclient.ClientState
	IsReconnecting() bool
	TranscriptText() string
	GetStats() map[string]interface{}
}

// EventSink 游戏事件入口
type EventSink interface {
	Notify(ev relay.GameEvent) error
	GetStats() map[string]interface{}
}

// Timeline 会话时间线导出
type Timeline interface {
	ExportJSON() ([]byte, error)
}

// Backend API 依赖的组件，Timeline 与 Stream 可为空
type Backend struct {
	Client   VoiceClient
	Events   EventSink
	Timeline Timeline
	Stream   http.Handler
}

// APIServer 语音桥接 HTTP API
type APIServer struct {
	router  *mux.Router
	server  *http.Server
	handler http.Handler
	backend Backend

	requestCount atomic.Int64
	errorCount   atomic.Int64
	startTime    time.Time
}

// API响应结构
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Code      string      `json:"code,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// StatusData /api/v1/status 的数据
type StatusData struct {
	Phase        string                 `json:"phase"`
	Reconnecting bool                   `json:"reconnecting"`
	Transcript   string                 `json:"transcript"`
	Client       map[string]interface{} `json:"client"`
	Events       map[string]interface{} `json:"events,omitempty"`
}

type sayRequest struct {
	Text string `json:"text"`
}

type eventRequest struct {
	Kind   string         `json:"kind"`
	Fields map[string]any `json:"fields"`
}

// NewAPIServer 创建 HTTP API 服务器
func NewAPIServer(addr string, allowedOrigins []string, backend Backend) *APIServer {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	server := &APIServer{
		router:    mux.NewRouter(),
		backend:   backend,
		startTime: time.Now(),
	}
	server.setupRoutes()

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	server.handler = c.Handler(server.router)

	server.server = &http.Server{
		Addr:        addr,
		Handler:     server.handler,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return server
}

// setupRoutes 设置路由
func (s *APIServer) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.healthCheckHandler).Methods("GET")
	if s.backend.Stream != nil {
		s.router.Handle("/ws", s.backend.Stream).Methods("GET")
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.statusHandler).Methods("GET")
	api.HandleFunc("/connect", s.connectHandler).Methods("POST")
	api.HandleFunc("/disconnect", s.disconnectHandler).Methods("POST")
	api.HandleFunc("/say", s.sayHandler).Methods("POST")
	api.HandleFunc("/events", s.eventsHandler).Methods("POST")
	api.HandleFunc("/session", s.sessionHandler).Methods("GET")
}

// Handler 带 CORS 的完整处理器
func (s *APIServer) Handler() http.Handler {
	return s.handler
}

// statusRecorder 记录响应状态码
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack 让 /ws 升级穿过中间件
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *APIServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.requestCount.Add(1)
		log.Printf("[http] %s %s %d %v", r.Method, r.RequestURI, rec.status, time.Since(start))
	})
}

func (s *APIServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	client := s.backend.Client
	data := StatusData{
		Phase:        client.State().String(),
		Reconnecting: client.IsReconnecting(),
		Transcript:   client.TranscriptText(),
		Client:       client.GetStats(),
	}
	if s.backend.Events != nil {
		data.Events = s.backend.Events.GetStats()
	}
	s.writeSuccessResponse(w, http.StatusOK, data)
}

func (s *APIServer) connectHandler(w http.ResponseWriter, r *http.Request) {
	err := s.backend.Client.Connect(r.Context())
	switch {
	case err == nil:
		s.writeSuccessResponse(w, http.StatusAccepted, map[string]string{"phase": s.backend.Client.State().String()})
	case errors.Is(err, rtcclient.ErrBusy):
		s.writeErrorResponse(w, http.StatusConflict, "BUSY", err.Error())
	case errors.Is(err, rtcclient.ErrClosed):
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "CLOSED", err.Error())
	default:
		s.writeErrorResponse(w, http.StatusInternalServerError, "CONNECT_FAILED", err.Error())
	}
}

func (s *APIServer) disconnectHandler(w http.ResponseWriter, r *http.Request) {
	s.backend.Client.Disconnect()
	s.writeSuccessResponse(w, http.StatusOK, map[string]string{"phase": s.backend.Client.State().String()})
}

func (s *APIServer) sayHandler(w http.ResponseWriter, r *http.Request) {
	var req sayRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	err := s.backend.Client.SendUserText(req.Text)
	var perr *protocol.ProtocolError
	switch {
	case err == nil:
		s.writeSuccessResponse(w, http.StatusOK, nil)
	case errors.Is(err, rtcclient.ErrNotConnected), errors.Is(err, rtcclient.ErrClosed):
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "NOT_CONNECTED", err.Error())
	case errors.As(err, &perr):
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_MESSAGE", err.Error())
	default:
		s.writeErrorResponse(w, http.StatusInternalServerError, "SEND_FAILED", err.Error())
	}
}

func (s *APIServer) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if s.backend.Events == nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "NO_RELAY", "event relay not configured")
		return
	}

	var req eventRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	err := s.backend.Events.Notify(relay.GameEvent{Kind: relay.EventKind(req.Kind), Fields: req.Fields, At: time.Now()})
	switch {
	case err == nil:
		s.writeSuccessResponse(w, http.StatusAccepted, nil)
	case errors.Is(err, relay.ErrQueueFull):
		s.writeErrorResponse(w, http.StatusTooManyRequests, "QUEUE_FULL", err.Error())
	case errors.Is(err, relay.ErrMissingField), errors.Is(err, relay.ErrEmptyKind):
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_EVENT", err.Error())
	default:
		s.writeErrorResponse(w, http.StatusInternalServerError, "RELAY_FAILED", err.Error())
	}
}

func (s *APIServer) sessionHandler(w http.ResponseWriter, r *http.Request) {
	if s.backend.Timeline == nil {
		s.writeErrorResponse(w, http.StatusNotFound, "NO_TIMELINE", "session recorder not configured")
		return
	}
	data, err := s.backend.Timeline.ExportJSON()
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "EXPORT_FAILED", err.Error())
		return
	}
	s.writeSuccessResponse(w, http.StatusOK, json.RawMessage(data))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (s *APIServer) writeSuccessResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	response := APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
	s.writeJSONResponse(w, statusCode, response)
}

func (s *APIServer) writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	s.errorCount.Add(1)
	response := APIResponse{
		Success:   false,
		Message:   message,
		Code:      code,
		Timestamp: time.Now().UnixMilli(),
	}
	s.writeJSONResponse(w, statusCode, response)
}

func (s *APIServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[http] failed to encode response: %v", err)
	}
}

// Start 启动服务，阻塞直到关闭
func (s *APIServer) Start() error {
	log.Printf("[http] starting API server on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 优雅关闭
func (s *APIServer) Stop(ctx context.Context) error {
	log.Printf("[http] stopping API server")
	return s.server.Shutdown(ctx)
}

// GetStats 获取统计信息
func (s *APIServer) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"requests": s.requestCount.Load(),
		"errors":   s.errorCount.Load(),
		"uptime":   time.Since(s.startTime).String(),
	}
}
