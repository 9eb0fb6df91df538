package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"PongVoiceBridge/internal/rtcclient"
)

// EventType 事件类型
type EventType string

const (
	EventState          EventType = "STATE"
	EventAttempt        EventType = "ATTEMPT"
	EventReconnect      EventType = "RECONNECT"
	EventMessageSend    EventType = "MESSAGE_SEND"
	EventMessageReceive EventType = "MESSAGE_RECEIVE"
	EventError          EventType = "ERROR"
	EventClose          EventType = "CLOSE"
)

// DefaultMaxEvents 默认保留的最近事件数
const DefaultMaxEvents = 1000

// SessionEvent 会话事件
type SessionEvent struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// SessionStats 会话统计
type SessionStats struct {
	StartTime        time.Time     `json:"start_time"`
	Duration         time.Duration `json:"duration"`
	TotalEvents      int64         `json:"total_events"`
	RetainedEvents   int           `json:"retained_events"`
	Attempts         int64         `json:"attempts"`
	Reconnects       int64         `json:"reconnects"`
	Errors           int64         `json:"errors"`
	MessagesSent     int64         `json:"messages_sent"`
	MessagesReceived int64         `json:"messages_received"`
}

// SessionRecorder 记录语音会话生命周期事件，只保留最近 maxEvents 条
type SessionRecorder struct {
	id        string
	startTime time.Time
	maxEvents int
	events    []*SessionEvent

	// 统计计数器
	eventCounter   atomic.Int64
	attemptCount   atomic.Int64
	reconnectCount atomic.Int64
	errorCount     atomic.Int64
	sentCount      atomic.Int64
	receivedCount  atomic.Int64

	mu       sync.RWMutex
	isActive atomic.Bool
}

// NewSessionRecorder 创建录制器，maxEvents<=0 时使用 DefaultMaxEvents
func NewSessionRecorder(id string, maxEvents int) *SessionRecorder {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	r := &SessionRecorder{
		id:        id,
		startTime: time.Now(),
		maxEvents: maxEvents,
		events:    make([]*SessionEvent, 0, min(maxEvents, 256)),
	}
	r.isActive.Store(true)
	return r
}

// RecordEvent 记录事件
func (r *SessionRecorder) RecordEvent(eventType EventType, sessionID string, metadata map[string]interface{}) {
	r.record(eventType, sessionID, "", metadata)
}

func (r *SessionRecorder) record(eventType EventType, sessionID, errText string, metadata map[string]interface{}) {
	if !r.isActive.Load() {
		return
	}

	event := &SessionEvent{
		ID:        fmt.Sprintf("event_%d", r.eventCounter.Add(1)),
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Error:     errText,
		Metadata:  metadata,
	}

	r.mu.Lock()
	r.events = append(r.events, event)
	if over := len(r.events) - r.maxEvents; over > 0 {
		r.events = append(r.events[:0:0], r.events[over:]...)
	}
	r.mu.Unlock()
}

// RecordState 记录状态变化，可直接作为 rtcclient.StateChangeHandler 使用
func (r *SessionRecorder) RecordState(oldState, newState rtcclient.ClientState) {
	r.RecordEvent(EventState, "", map[string]interface{}{
		"from": oldState.String(),
		"to":   newState.String(),
	})
	if newState == rtcclient.StateReconnecting {
		r.RecordReconnect(oldState.String())
	}
}

// RecordAttempt 记录一次连接尝试，可直接作为 rtcclient.AttemptHandler 使用
func (r *SessionRecorder) RecordAttempt(record rtcclient.AttemptRecord) {
	r.attemptCount.Add(1)
	if record.Error != "" {
		r.errorCount.Add(1)
	}
	r.record(EventAttempt, record.SessionID, record.Error, map[string]interface{}{
		"attempt":     record.Attempt,
		"trigger":     record.Trigger,
		"outcome":     record.Outcome,
		"duration_ms": record.FinishedAt.Sub(record.StartedAt).Milliseconds(),
	})
}

// RecordReconnect 记录重连序列开始
func (r *SessionRecorder) RecordReconnect(from string) {
	r.reconnectCount.Add(1)
	r.RecordEvent(EventReconnect, "", map[string]interface{}{"from": from})
}

// RecordTraffic 记录控制通道消息，可直接作为 rtcclient.TrafficHandler 使用
func (r *SessionRecorder) RecordTraffic(outbound bool, eventType string) {
	kind := EventMessageReceive
	if outbound {
		kind = EventMessageSend
		r.sentCount.Add(1)
	} else {
		r.receivedCount.Add(1)
	}
	r.RecordEvent(kind, "", map[string]interface{}{"event_type": eventType})
}

// RecordError 记录错误事件
func (r *SessionRecorder) RecordError(err error, metadata map[string]interface{}) {
	if err == nil {
		return
	}
	r.errorCount.Add(1)
	r.record(EventError, "", err.Error(), metadata)
}

// RecordClose 记录关闭并停止录制
func (r *SessionRecorder) RecordClose(reason string) {
	r.RecordEvent(EventClose, "", map[string]interface{}{"reason": reason})
	r.Stop()
}

// Stop 停止录制，之后的事件被忽略
func (r *SessionRecorder) Stop() {
	r.isActive.Store(false)
}

// GetEvents 获取保留的事件列表
func (r *SessionRecorder) GetEvents() []*SessionEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*SessionEvent{}, r.events...)
}

// GetStats 获取统计信息
func (r *SessionRecorder) GetStats() *SessionStats {
	r.mu.RLock()
	retained := len(r.events)
	r.mu.RUnlock()

	return &SessionStats{
		StartTime:        r.startTime,
		Duration:         time.Since(r.startTime),
		TotalEvents:      r.eventCounter.Load(),
		RetainedEvents:   retained,
		Attempts:         r.attemptCount.Load(),
		Reconnects:       r.reconnectCount.Load(),
		Errors:           r.errorCount.Load(),
		MessagesSent:     r.sentCount.Load(),
		MessagesReceived: r.receivedCount.Load(),
	}
}

// GetSession 获取完整会话记录
func (r *SessionRecorder) GetSession() *Session {
	events := r.GetEvents()
	now := time.Now()
	session := &Session{
		ID:        r.id,
		StartTime: r.startTime,
		EndTime:   now,
		Events:    events,
		Phases:    BuildPhaseSpans(events, now),
		Stats:     r.GetStats(),
	}
	session.Stability = NewTimelineAnalyzer(session).AnalyzeConnectionStability()
	return session
}

// ExportJSON 导出为JSON格式
func (r *SessionRecorder) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(r.GetSession(), "", "  ")
}
