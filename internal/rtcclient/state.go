package rtcclient

import (
	"errors"
	"time"
)

var (
	ErrNotConnected = errors.New("voice session is not connected")
	ErrBusy         = errors.New("voice session is not idle")
	ErrClosed       = errors.New("client is closed")
)

// ClientState 连接生命周期状态
type ClientState int32

const (
	StateIdle ClientState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ClientState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

// 连接尝试的触发来源
const (
	TriggerUser      = "user"
	TriggerRetry     = "retry"
	TriggerReconnect = "reconnect"
)

// 连接尝试的结果
const (
	OutcomeConnected        = "connected"
	OutcomeMediaError       = "media_error"
	OutcomeNegotiationError = "negotiation_error"
	OutcomeCancelled        = "cancelled"
)

// AttemptRecord 一次 Connecting 尝试的记录
type AttemptRecord struct {
	SessionID  string    `json:"session_id"`
	Attempt    int       `json:"attempt"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
}

// StateChangeHandler 状态变化处理器
type StateChangeHandler func(oldState, newState ClientState)

// StatusHandler 面向用户的状态文本
type StatusHandler func(text string)

// TranscriptHandler 转写文本更新，参数为完整渲染文本
type TranscriptHandler func(text string)

// AttemptHandler 连接尝试结束时调用
type AttemptHandler func(record AttemptRecord)

// TrafficHandler 控制消息收发时调用
type TrafficHandler func(outbound bool, eventType string)
