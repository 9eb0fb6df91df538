package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrMissingField = errors.New("game event missing required field")
	ErrQueueFull    = errors.New("game event queue is full")
	ErrEmptyKind    = errors.New("game event kind is empty")
)

// EventKind 游戏事件类型
type EventKind string

const (
	GameStarted  EventKind = "game_started"
	PlayerScored EventKind = "player_scored"
	AIScored     EventKind = "ai_scored"
	TimerStarted EventKind = "timer_started"
	TimerWarning EventKind = "timer_warning"
	TimerExpired EventKind = "timer_expired"
	LongRally    EventKind = "long_rally"
	GameOver     EventKind = "game_over"
)

// requiredFields 每类事件必须携带的字段，未列出的类型不做检查
var requiredFields = map[EventKind][]string{
	PlayerScored: {"playerScore", "aiScore"},
	AIScored:     {"playerScore", "aiScore"},
	GameOver:     {"playerScore", "aiScore"},
	TimerStarted: {"timeLeft"},
	TimerWarning: {"timeLeft"},
	TimerExpired: {"timeLeft"},
	LongRally:    {"rallyDuration"},
}

// GameEvent 游戏侧产生的事件
type GameEvent struct {
	Kind   EventKind      `json:"kind"`
	Fields map[string]any `json:"fields,omitempty"`
	At     time.Time      `json:"at"`
}

// Validate 只检查字段是否存在，不校验取值
func (e GameEvent) Validate() error {
	if e.Kind == "" {
		return ErrEmptyKind
	}
	for _, name := range requiredFields[e.Kind] {
		if _, ok := e.Fields[name]; !ok {
			return fmt.Errorf("%w: %s requires %q", ErrMissingField, e.Kind, name)
		}
	}
	return nil
}

// Sender 把游戏事件转发给语音会话，*rtcclient.Client 实现了该接口
type Sender interface {
	SendGameStateUpdate(kind string, fields map[string]any) error
}

// Relay 游戏事件中继。Notify 永不阻塞，事件由 Run 在独立 goroutine 中按序转发。
type Relay struct {
	sender Sender
	queue  chan GameEvent

	phaseMu sync.RWMutex
	phase   string

	queued    atomic.Int64
	forwarded atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	rejected  atomic.Int64
}

// New 创建中继
func New(sender Sender, queueSize int) *Relay {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Relay{
		sender: sender,
		queue:  make(chan GameEvent, queueSize),
		phase:  "IDLE",
	}
}

// Notify 提交事件，不等待转发结果
func (r *Relay) Notify(ev GameEvent) error {
	if err := ev.Validate(); err != nil {
		r.rejected.Add(1)
		return err
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	select {
	case r.queue <- ev:
		r.queued.Add(1)
		return nil
	default:
		r.dropped.Add(1)
		log.Printf("[relay] queue full, dropping %s", ev.Kind)
		return ErrQueueFull
	}
}

// Run 转发直到 ctx 结束。转发失败只记录，不重试。
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.queue:
			r.forward(ev)
		}
	}
}

func (r *Relay) forward(ev GameEvent) {
	if err := r.sender.SendGameStateUpdate(string(ev.Kind), ev.Fields); err != nil {
		r.failed.Add(1)
		log.Printf("[relay] %s not delivered (phase=%s): %v", ev.Kind, r.Phase(), err)
		return
	}
	r.forwarded.Add(1)
}

// SetPhase 记录语音会话当前阶段，供界面展示
func (r *Relay) SetPhase(phase string) {
	r.phaseMu.Lock()
	r.phase = phase
	r.phaseMu.Unlock()
}

// Phase 语音会话当前阶段
func (r *Relay) Phase() string {
	r.phaseMu.RLock()
	defer r.phaseMu.RUnlock()
	return r.phase
}

// GetStats 获取统计信息
func (r *Relay) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"phase":     r.Phase(),
		"queued":    r.queued.Load(),
		"forwarded": r.forwarded.Load(),
		"failed":    r.failed.Load(),
		"dropped":   r.dropped.Load(),
		"rejected":  r.rejected.Load(),
		"pending":   len(r.queue),
	}
}
