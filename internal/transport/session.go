package transport

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"PongVoiceBridge/internal/media"
	"PongVoiceBridge/internal/protocol"
)

var (
	ErrChannelNotOpen = errors.New("control channel is not open")
	ErrClosed         = errors.New("transport session is closed")
)

// Health 传输层连通状态
type Health int32

const (
	HealthNew Health = iota
	HealthConnecting
	HealthConnected
	HealthDisconnected
	HealthFailed
	HealthClosed
)

func (h Health) String() string {
	switch h {
	case HealthNew:
		return "NEW"
	case HealthConnecting:
		return "CONNECTING"
	case HealthConnected:
		return "CONNECTED"
	case HealthDisconnected:
		return "DISCONNECTED"
	case HealthFailed:
		return "FAILED"
	case HealthClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// HealthFromState 将 PeerConnection 状态映射为 Health
func HealthFromState(state webrtc.PeerConnectionState) Health {
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		return HealthConnecting
	case webrtc.PeerConnectionStateConnected:
		return HealthConnected
	case webrtc.PeerConnectionStateDisconnected:
		return HealthDisconnected
	case webrtc.PeerConnectionStateFailed:
		return HealthFailed
	case webrtc.PeerConnectionStateClosed:
		return HealthClosed
	default:
		return HealthNew
	}
}

// HealthError 传输健康状态导致的失败
type HealthError struct {
	Health Health
	Reason string
}

func (e *HealthError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("transport %s: %s", e.Health, e.Reason)
	}
	return fmt.Sprintf("transport %s", e.Health)
}

// MessageHandler 入站控制消息处理器
type MessageHandler func(ev *protocol.Event)

// HealthHandler 健康状态变化处理器
type HealthHandler func(health Health, reason string)

// Session 一次协商得到的传输会话：音频上下行 + 控制通道
type Session struct {
	id      string
	pc      *webrtc.PeerConnection
	dc      *webrtc.DataChannel
	capture media.Capture

	mu        sync.RWMutex
	onMessage MessageHandler
	onHealth  HealthHandler

	health    atomic.Int32
	states    chan Health
	opened    chan struct{}
	openOnce  sync.Once
	closed    atomic.Bool
	closeOnce sync.Once
}

// New 包装已创建的 PeerConnection 与控制通道，并挂接事件回调
func New(pc *webrtc.PeerConnection, dc *webrtc.DataChannel, capture media.Capture) *Session {
	s := &Session{
		id:      uuid.NewString(),
		pc:      pc,
		dc:      dc,
		capture: capture,
		states:  make(chan Health, 16),
		opened:  make(chan struct{}),
	}
	s.health.Store(int32(HealthNew))

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.setHealth(HealthFromState(state), "peer connection "+state.String())
	})

	dc.OnOpen(func() {
		s.openOnce.Do(func() { close(s.opened) })
		log.Printf("[transport] control channel open: session=%s label=%s", s.id, dc.Label())
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			log.Printf("[transport] ignoring binary control frame (%d bytes)", len(msg.Data))
			return
		}
		s.handleRaw(msg.Data)
	})
	// 控制通道错误与 disconnected 等价处理
	dc.OnError(func(err error) {
		log.Printf("[transport] control channel error: session=%s err=%v", s.id, err)
		s.dispatchHealth(HealthDisconnected, "control channel error: "+err.Error())
	})

	return s
}

// ID 会话标识
func (s *Session) ID() string {
	return s.id
}

// OnControlMessage 设置入站消息处理器
func (s *Session) OnControlMessage(handler MessageHandler) {
	s.mu.Lock()
	s.onMessage = handler
	s.mu.Unlock()
}

// OnHealthChange 设置健康状态处理器
func (s *Session) OnHealthChange(handler HealthHandler) {
	s.mu.Lock()
	s.onHealth = handler
	s.mu.Unlock()
}

// States 健康状态流，供协商阶段等待连通使用；缓冲满时丢弃
func (s *Session) States() <-chan Health {
	return s.states
}

// Opened 控制通道打开后关闭
func (s *Session) Opened() <-chan struct{} {
	return s.opened
}

// Health 当前健康状态
func (s *Session) Health() Health {
	return Health(s.health.Load())
}

// ChannelOpen 控制通道是否可发送
func (s *Session) ChannelOpen() bool {
	return !s.closed.Load() && s.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// Send 发送一条控制消息。通道未就绪时立即返回 ErrChannelNotOpen，由调用方决定恢复策略。
func (s *Session) Send(msg protocol.Outbound) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if s.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := s.dc.SendText(string(data)); err != nil {
		return fmt.Errorf("send %s failed: %w", msg.EventType(), err)
	}
	return nil
}

// Close 释放采集音轨、关闭控制通道与连接。幂等，任何状态下可调用，从不 panic。
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[transport] recovered during close: session=%s panic=%v", s.id, r)
			}
			s.health.Store(int32(HealthClosed))
		}()

		var errs []error
		if s.capture != nil {
			if cerr := s.capture.Close(); cerr != nil {
				errs = append(errs, fmt.Errorf("release capture: %w", cerr))
			}
		}
		if cerr := s.dc.Close(); cerr != nil {
			errs = append(errs, fmt.Errorf("close control channel: %w", cerr))
		}
		if cerr := s.pc.Close(); cerr != nil {
			errs = append(errs, fmt.Errorf("close peer connection: %w", cerr))
		}
		if len(errs) > 0 {
			log.Printf("[transport] close finished with errors: session=%s err=%v", s.id, errors.Join(errs...))
		}
		log.Printf("[transport] session closed: %s", s.id)
	})
	return nil
}

// handleRaw 解析入站消息，格式错误只记录日志
func (s *Session) handleRaw(raw []byte) {
	ev, err := protocol.Decode(raw)
	if err != nil {
		log.Printf("[transport] dropping malformed control message: session=%s err=%v", s.id, err)
		return
	}

	s.mu.RLock()
	handler := s.onMessage
	s.mu.RUnlock()

	if handler != nil {
		handler(ev)
	}
}

func (s *Session) setHealth(h Health, reason string) {
	old := Health(s.health.Swap(int32(h)))
	if old == h {
		return
	}

	select {
	case s.states <- h:
	default:
	}

	s.dispatchHealth(h, reason)
}

// dispatchHealth 已关闭的会话不再上报，避免自身 Close 被误判为远端断开
func (s *Session) dispatchHealth(h Health, reason string) {
	if s.closed.Load() {
		return
	}

	s.mu.RLock()
	handler := s.onHealth
	s.mu.RUnlock()

	if handler != nil {
		handler(h, reason)
	}
}
