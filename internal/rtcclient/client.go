package rtcclient

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"PongVoiceBridge/internal/media"
	"PongVoiceBridge/internal/protocol"
	"PongVoiceBridge/internal/transport"
)

// Config 生命周期配置
type Config struct {
	SettleDelay           time.Duration // 协商成功后到宣布可用之间的去抖时间
	GreetingDelay         time.Duration
	GreetingText          string // 为空时不发送问候
	GreetingRetryInterval time.Duration
	GreetingMaxRetries    int
	ResponseDelay         time.Duration // 对话条目与 response.create 之间的间隔
	InitialRetryDelay     time.Duration // 首次连接失败后的重试等待
	RetryBackoff          time.Duration // 重连失败后的固定等待
	Cooldown              time.Duration // 拆除旧会话后等待资源释放
	MaxReconnectAttempts  int           // 0 表示不设上限
	Instructions          string
	Voice                 string
	Modalities            []string
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		SettleDelay:           3 * time.Second,
		GreetingDelay:         2 * time.Second,
		GreetingText:          "The player just joined the VR Pong arena. Say a short hello and offer to commentate the match.",
		GreetingRetryInterval: 2 * time.Second,
		GreetingMaxRetries:    3,
		ResponseDelay:         500 * time.Millisecond,
		InitialRetryDelay:     5 * time.Second,
		RetryBackoff:          10 * time.Second,
		Cooldown:              3 * time.Second,
		MaxReconnectAttempts:  0,
		Modalities:            protocol.DefaultModalities,
	}
}

// Client 语音会话生命周期管理器。
// 所有状态迁移都在单一事件循环 goroutine 中执行，阻塞操作在独立 goroutine 完成后把结果投递回循环。
// 每次拆除会话都会递增 generation，过期的回调与定时器据此丢弃。
type Client struct {
	config     *Config
	media      MediaSource
	negotiator Negotiator
	transcript *Transcript

	state        atomic.Int32
	reconnecting atomic.Bool // 重入保护：同一时刻至多一个重连序列
	sessionID    atomic.Value

	// 以下字段只在事件循环中访问
	session       Transport
	pending       *AttemptRecord // 协商成功、尚在去抖期的尝试
	generation    uint64
	armed         bool // 最近一次显式操作是 Connect
	cancelAttempt context.CancelFunc
	timers        map[*time.Timer]struct{}
	retry         backoff.BackOff
	schedule      *fixedSchedule // retry 包装的底层序列，热更新时原地调整
	retryInitial  bool           // 当前序列始于用户连接（首次等待 InitialRetryDelay）
	attemptSeq    int

	mu            sync.RWMutex
	onStateChange StateChangeHandler
	onStatus      StatusHandler
	onTranscript  TranscriptHandler
	onAttempt     AttemptHandler
	onTraffic     TrafficHandler

	events     chan func()
	notify     chan func()
	stopChan   chan struct{}
	loopDone   chan struct{}
	notifyDone chan struct{}
	closeOnce  sync.Once

	attempts   atomic.Int32
	reconnects atomic.Int32
	failures   atomic.Int32
	sent       atomic.Int64
	received   atomic.Int64
	lastError  atomic.Value
}

// New 创建生命周期管理器并启动事件循环
func New(config *Config, source MediaSource, negotiator Negotiator) *Client {
	if source == nil || negotiator == nil {
		panic("media source and negotiator cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}

	c := &Client{
		config:     config,
		media:      source,
		negotiator: negotiator,
		transcript: NewTranscript(),
		timers:     make(map[*time.Timer]struct{}),
		events:     make(chan func(), 64),
		notify:     make(chan func(), 256),
		stopChan:   make(chan struct{}),
		loopDone:   make(chan struct{}),
		notifyDone: make(chan struct{}),
	}
	c.sessionID.Store("")
	c.lastError.Store("")
	c.resetRetry(true)

	go c.run()
	go c.notifyLoop()
	return c
}

// SetStateChangeHandler 设置状态变化处理器
func (c *Client) SetStateChangeHandler(handler StateChangeHandler) {
	c.mu.Lock()
	c.onStateChange = handler
	c.mu.Unlock()
}

// SetStatusHandler 设置状态文本处理器
func (c *Client) SetStatusHandler(handler StatusHandler) {
	c.mu.Lock()
	c.onStatus = handler
	c.mu.Unlock()
}

// SetTranscriptHandler 设置转写处理器
func (c *Client) SetTranscriptHandler(handler TranscriptHandler) {
	c.mu.Lock()
	c.onTranscript = handler
	c.mu.Unlock()
}

// SetAttemptHandler 设置连接尝试处理器
func (c *Client) SetAttemptHandler(handler AttemptHandler) {
	c.mu.Lock()
	c.onAttempt = handler
	c.mu.Unlock()
}

// SetTrafficHandler 设置控制消息收发处理器
func (c *Client) SetTrafficHandler(handler TrafficHandler) {
	c.mu.Lock()
	c.onTraffic = handler
	c.mu.Unlock()
}

// Connect 用户发起连接。仅在 Idle 时有效；立即返回，结果通过回调通知。
// 会取消尚未触发的自动重试，并清空转写。
func (c *Client) Connect(ctx context.Context) error {
	var err error
	if cerr := c.call(ctx, func() {
		if st := c.getState(); st != StateIdle {
			err = fmt.Errorf("%w: %s", ErrBusy, st)
			return
		}
		c.teardown()
		c.reconnecting.Store(false)
		c.armed = true
		c.transcript.Reset()
		c.emitTranscript()
		c.resetRetry(true)
		c.startAttempt(TriggerUser)
	}); cerr != nil {
		return cerr
	}
	return err
}

// Disconnect 用户断开。任何状态下可调用，拆除会话并回到 Idle，不再自动重连。
func (c *Client) Disconnect() {
	_ = c.call(context.Background(), func() {
		c.shutdownSession("disconnected")
	})
}

// SendUserText 发送一条用户文本并请求回应
func (c *Client) SendUserText(text string) error {
	item, err := protocol.NewConversationItem(protocol.RoleUser, text)
	if err != nil {
		return err
	}
	return c.submit(item)
}

// SendGameStateUpdate 把一条游戏事件作为 system 条目发送并请求回应
func (c *Client) SendGameStateUpdate(kind string, fields map[string]any) error {
	item, err := protocol.NewConversationItem(protocol.RoleSystem, protocol.FormatGameEvent(kind, fields))
	if err != nil {
		return err
	}
	return c.submit(item)
}

// State 当前状态
func (c *Client) State() ClientState {
	return c.getState()
}

// IsReconnecting 是否有重连序列在进行
func (c *Client) IsReconnecting() bool {
	return c.reconnecting.Load()
}

// SessionID 当前会话标识，无会话时为空
func (c *Client) SessionID() string {
	return c.sessionID.Load().(string)
}

// TranscriptText 渲染后的转写文本
func (c *Client) TranscriptText() string {
	return c.transcript.Text()
}

// TranscriptEntries 已定稿的转写条目
func (c *Client) TranscriptEntries() []TranscriptEntry {
	return c.transcript.Entries()
}

// UpdateConfig 替换配置，下一次尝试生效。
// 进行中的重试序列立即采用新的等待时间；已排定的定时器和重试上限不变，上限从下一个序列起生效。
func (c *Client) UpdateConfig(config *Config) {
	if config == nil {
		return
	}
	_ = c.call(context.Background(), func() {
		c.config = config
		first := config.RetryBackoff
		if c.retryInitial {
			first = config.InitialRetryDelay
		}
		c.schedule.retime(first, config.RetryBackoff)
	})
}

// Close 断开并停止事件循环
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		var closed <-chan struct{}
		_ = c.call(context.Background(), func() {
			closed = c.shutdownSession("client closed")
		})

		close(c.stopChan)
		<-c.loopDone
		close(c.notify)
		<-c.notifyDone

		if closed != nil {
			select {
			case <-closed:
			case <-time.After(5 * time.Second):
				log.Printf("[rtcclient] timed out waiting for session teardown")
			}
		}
	})
	return nil
}

// GetStats 获取统计信息
func (c *Client) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"state":              c.getState().String(),
		"reconnecting":       c.reconnecting.Load(),
		"session_id":         c.SessionID(),
		"attempts":           c.attempts.Load(),
		"reconnects":         c.reconnects.Load(),
		"failures":           c.failures.Load(),
		"messages_sent":      c.sent.Load(),
		"messages_received":  c.received.Load(),
		"transcript_entries": len(c.transcript.Entries()),
		"last_error":         c.lastError.Load().(string),
	}
}

// run 事件循环
func (c *Client) run() {
	defer close(c.loopDone)
	for {
		select {
		case fn := <-c.events:
			c.safely(fn)
		case <-c.stopChan:
			return
		}
	}
}

// notifyLoop 在独立 goroutine 中执行回调，回调阻塞不会拖住事件循环
func (c *Client) notifyLoop() {
	defer close(c.notifyDone)
	for fn := range c.notify {
		c.safely(fn)
	}
}

func (c *Client) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[rtcclient] recovered from panic: %v", r)
		}
	}()
	fn()
}

// post 投递到事件循环，循环已停止时返回 false
func (c *Client) post(fn func()) bool {
	select {
	case c.events <- fn:
		return true
	case <-c.stopChan:
		return false
	}
}

// call 投递并等待执行完成
func (c *Client) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}

	select {
	case c.events <- wrapped:
	case <-c.stopChan:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-c.stopChan:
		return ErrClosed
	}
}

// after 在当前 generation 内延迟执行；会话被拆除后自动失效
func (c *Client) after(d time.Duration, fn func()) {
	gen := c.generation
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		c.post(func() {
			delete(c.timers, t)
			if gen != c.generation {
				return
			}
			fn()
		})
	})
	c.timers[t] = struct{}{}
}

// teardown 取消进行中的尝试、停止定时器并关闭当前会话。
// 返回的通道在会话关闭完成后关闭。
func (c *Client) teardown() <-chan struct{} {
	c.generation++
	for t := range c.timers {
		t.Stop()
	}
	c.timers = make(map[*time.Timer]struct{})

	if c.cancelAttempt != nil {
		c.cancelAttempt()
		c.cancelAttempt = nil
	}
	c.pending = nil

	done := make(chan struct{})
	s := c.session
	c.session = nil
	c.sessionID.Store("")
	if s == nil {
		close(done)
		return done
	}

	go func() {
		defer close(done)
		s.Close()
	}()
	return done
}

// resetRetry 开始新的重试序列。initial 为 true 时首次等待 InitialRetryDelay，否则全程 RetryBackoff。
func (c *Client) resetRetry(initial bool) {
	first := c.config.RetryBackoff
	if initial {
		first = c.config.InitialRetryDelay
	}
	c.schedule = &fixedSchedule{first: first, then: c.config.RetryBackoff}
	c.retryInitial = initial
	c.retry = withCeiling(c.schedule, c.config.MaxReconnectAttempts)
}

func (c *Client) shutdownSession(reason string) <-chan struct{} {
	c.armed = false
	c.reconnecting.Store(false)
	done := c.teardown()
	c.setState(StateIdle)
	c.publishStatus("Disconnected")
	log.Printf("[rtcclient] session shut down: %s", reason)
	return done
}

// startAttempt Idle/Reconnecting -> Connecting：先获取媒体，再协商
func (c *Client) startAttempt(trigger string) {
	c.generation++
	gen := c.generation
	c.attemptSeq++
	c.attempts.Add(1)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelAttempt = cancel

	record := AttemptRecord{Attempt: c.attemptSeq, Trigger: trigger, StartedAt: time.Now()}
	c.setState(StateConnecting)
	c.publishStatus("Connecting...")
	log.Printf("[rtcclient] connect attempt %d started (trigger=%s)", record.Attempt, trigger)

	source, negotiator := c.media, c.negotiator
	go func() {
		capture, err := source.Acquire(ctx)
		if err != nil {
			c.post(func() { c.finishAttempt(ctx, gen, record, nil, err) })
			return
		}

		tr, err := negotiator.Negotiate(ctx, capture)
		if !c.post(func() { c.finishAttempt(ctx, gen, record, tr, err) }) && tr != nil {
			tr.Close()
		}
	}()
}

func (c *Client) finishAttempt(ctx context.Context, gen uint64, record AttemptRecord, tr Transport, err error) {
	record.FinishedAt = time.Now()

	// 已被断开或新尝试取代
	if gen != c.generation {
		if tr != nil {
			tr.Close()
		}
		record.Outcome = OutcomeCancelled
		if err != nil {
			record.Error = err.Error()
		}
		c.emitAttempt(record)
		log.Printf("[rtcclient] attempt %d superseded, result discarded", record.Attempt)
		return
	}

	if err != nil {
		c.attemptFailed(record, err)
		return
	}

	c.session = tr
	c.sessionID.Store(tr.ID())
	record.SessionID = tr.ID()
	c.pending = &record

	tr.OnControlMessage(func(ev *protocol.Event) {
		c.post(func() { c.handleInbound(gen, ev) })
	})
	tr.OnHealthChange(func(h transport.Health, reason string) {
		c.post(func() { c.handleHealth(gen, h, reason) })
	})
	go func() {
		select {
		case <-tr.Opened():
			c.post(func() { c.handleChannelOpen(gen) })
		case <-ctx.Done():
		}
	}()

	log.Printf("[rtcclient] negotiated session %s, settling for %s", tr.ID(), c.config.SettleDelay)
	c.after(c.config.SettleDelay, c.declareConnected)
}

// declareConnected Connecting -> Connected，并安排问候
func (c *Client) declareConnected() {
	if c.session == nil {
		return
	}
	if c.pending != nil {
		c.pending.Outcome = OutcomeConnected
		c.emitAttempt(*c.pending)
		c.pending = nil
	}

	c.reconnecting.Store(false)
	c.retry.Reset()
	c.setState(StateConnected)
	c.publishStatus("Connected")

	if c.config.GreetingText != "" {
		schedule := newGreetingSchedule(c.config.GreetingRetryInterval, c.config.GreetingMaxRetries)
		c.after(c.config.GreetingDelay, func() { c.sendGreeting(schedule) })
	}
}

// sendGreeting 问候只在自己的重试序列内重发，不触发重连
func (c *Client) sendGreeting(schedule backoff.BackOff) {
	item, err := protocol.NewConversationItem(protocol.RoleSystem, c.config.GreetingText)
	if err != nil {
		log.Printf("[rtcclient] greeting rejected locally: %v", err)
		return
	}

	if err := c.sendTurn(item, false); err != nil {
		next := schedule.NextBackOff()
		if next == backoff.Stop {
			log.Printf("[rtcclient] greeting not delivered, giving up: %v", err)
			return
		}
		log.Printf("[rtcclient] greeting failed (%v), retrying in %s", err, next)
		c.after(next, func() { c.sendGreeting(schedule) })
		return
	}
	log.Printf("[rtcclient] greeting sent")
}

// attemptFailed Connecting -> Idle。媒体错误终止本次连接；协商错误按重试序列安排下一次尝试。
func (c *Client) attemptFailed(record AttemptRecord, err error) {
	c.failures.Add(1)
	c.recordError(err)
	record.FinishedAt = time.Now()
	record.Error = err.Error()
	c.teardown()

	var mediaErr *media.MediaError
	if errors.As(err, &mediaErr) {
		record.Outcome = OutcomeMediaError
		c.emitAttempt(record)
		// 需要用户重新连接，后续发送不得自动恢复
		c.armed = false
		c.reconnecting.Store(false)
		c.setState(StateIdle)
		c.publishStatus(mediaErr.UserMessage())
		log.Printf("[rtcclient] attempt %d aborted, media unavailable: %v", record.Attempt, err)
		return
	}

	record.Outcome = OutcomeNegotiationError
	c.emitAttempt(record)
	c.setState(StateIdle)

	delay := c.retry.NextBackOff()
	if delay == backoff.Stop {
		c.reconnecting.Store(false)
		c.publishStatus(fmt.Sprintf("Connection failed: %v", err))
		log.Printf("[rtcclient] attempt %d failed, retry ceiling reached: %v", record.Attempt, err)
		return
	}

	c.reconnecting.Store(true)
	c.publishStatus(fmt.Sprintf("Connection failed, retrying in %s", delay))
	log.Printf("[rtcclient] attempt %d failed: %v (next attempt in %s)", record.Attempt, err, delay)
	c.after(delay, func() { c.startAttempt(TriggerRetry) })
}

// beginReconnect Connected -> Reconnecting：拆除旧会话，等待关闭完成和冷却后重新连接
func (c *Client) beginReconnect(reason string) {
	if c.reconnecting.Load() {
		log.Printf("[rtcclient] reconnect already in progress, dropping signal: %s", reason)
		return
	}
	c.reconnecting.Store(true)
	c.reconnects.Add(1)

	c.setState(StateReconnecting)
	c.publishStatus("Connection lost, reconnecting...")
	log.Printf("[rtcclient] reconnecting: %s", reason)

	closed := c.teardown()
	gen := c.generation
	c.resetRetry(false)

	go func() {
		<-closed
		c.post(func() {
			if gen != c.generation {
				return
			}
			c.after(c.config.Cooldown, func() { c.startAttempt(TriggerReconnect) })
		})
	}()
}

// maybeRecover 发送失败时的恢复入口
func (c *Client) maybeRecover(reason string) {
	if !c.armed {
		log.Printf("[rtcclient] not recovering after %s: session was disconnected", reason)
		return
	}
	if c.reconnecting.Load() {
		return
	}
	switch c.getState() {
	case StateConnecting, StateReconnecting:
		return
	}
	c.beginReconnect(reason)
}

func (c *Client) handleHealth(gen uint64, h transport.Health, reason string) {
	if gen != c.generation || c.session == nil {
		return
	}

	switch h {
	case transport.HealthDisconnected, transport.HealthFailed:
		herr := &transport.HealthError{Health: h, Reason: reason}
		// 去抖期内的失败属于本次尝试自身的结果
		if c.pending != nil {
			c.attemptFailed(*c.pending, herr)
			return
		}
		c.recordError(herr)
		c.beginReconnect(herr.Error())

	case transport.HealthClosed:
		log.Printf("[rtcclient] transport closed by remote: %s", reason)
		c.teardown()
		c.armed = false
		c.reconnecting.Store(false)
		c.setState(StateIdle)
		c.publishStatus("Session closed")
	}
}

func (c *Client) handleChannelOpen(gen uint64) {
	if gen != c.generation || c.session == nil {
		return
	}
	if c.config.Instructions == "" && c.config.Voice == "" {
		return
	}

	update := protocol.NewSessionUpdate(c.config.Instructions, c.config.Voice)
	if err := c.session.Send(update); err != nil {
		log.Printf("[rtcclient] session.update failed: %v", err)
		return
	}
	c.sent.Add(1)
	c.emitTraffic(true, update.EventType())
}

func (c *Client) handleInbound(gen uint64, ev *protocol.Event) {
	if gen != c.generation {
		return
	}
	c.received.Add(1)
	c.emitTraffic(false, ev.Type)

	switch ev.Kind() {
	case protocol.KindTranscriptDelta:
		c.transcript.AppendDelta(ev.Delta)
		c.emitTranscript()
	case protocol.KindTranscriptFinal:
		c.transcript.Finalize(ev.Transcript)
		c.emitTranscript()
	case protocol.KindItemCreated:
		if text := ev.Item.Text(); text != "" {
			c.transcript.Add(protocol.RoleAssistant, text)
			c.emitTranscript()
		}
	case protocol.KindError:
		perr := protocol.FromEvent(ev)
		c.recordError(perr)
		log.Printf("[rtcclient] remote rejected a message: %v", perr)
		c.publishStatus("Service error: " + perr.Message)
	}
}

func (c *Client) submit(item *protocol.ItemCreate) error {
	var err error
	if cerr := c.call(context.Background(), func() {
		err = c.sendTurn(item, true)
	}); cerr != nil {
		return cerr
	}
	return err
}

// sendTurn 发送对话条目，随后延迟发送 response.create；两者互不依赖
func (c *Client) sendTurn(item *protocol.ItemCreate, recoverOnFailure bool) error {
	st := c.getState()
	if st != StateConnected || c.session == nil {
		if recoverOnFailure {
			c.maybeRecover("send while " + st.String())
		}
		return ErrNotConnected
	}

	if err := c.session.Send(item); err != nil {
		if errors.Is(err, transport.ErrChannelNotOpen) || errors.Is(err, transport.ErrClosed) {
			if recoverOnFailure {
				c.maybeRecover(err.Error())
			}
			return fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
		c.recordError(err)
		return err
	}

	c.sent.Add(1)
	c.emitTraffic(true, item.EventType())
	c.after(c.config.ResponseDelay, c.requestResponse)
	return nil
}

func (c *Client) requestResponse() {
	if c.getState() != StateConnected || c.session == nil {
		log.Printf("[rtcclient] response request skipped: state=%s", c.getState())
		return
	}

	msg := protocol.NewResponseCreate(c.config.Modalities...)
	if err := c.session.Send(msg); err != nil {
		log.Printf("[rtcclient] response request failed, item recorded without reply: %v", err)
		return
	}
	c.sent.Add(1)
	c.emitTraffic(true, msg.EventType())
}

// getState 获取当前状态
func (c *Client) getState() ClientState {
	return ClientState(c.state.Load())
}

// setState 设置状态，只在事件循环中调用
func (c *Client) setState(newState ClientState) {
	oldState := ClientState(c.state.Swap(int32(newState)))
	if oldState == newState {
		return
	}
	log.Printf("[rtcclient] state %s -> %s", oldState, newState)

	c.mu.RLock()
	handler := c.onStateChange
	c.mu.RUnlock()
	if handler != nil {
		c.emit(func() { handler(oldState, newState) })
	}
}

func (c *Client) recordError(err error) {
	c.lastError.Store(err.Error())
}

// emit 非阻塞地排入回调队列，队列满时丢弃
func (c *Client) emit(fn func()) {
	select {
	case c.notify <- fn:
	default:
		log.Printf("[rtcclient] notification queue full, dropping callback")
	}
}

func (c *Client) publishStatus(text string) {
	c.mu.RLock()
	handler := c.onStatus
	c.mu.RUnlock()
	if handler != nil {
		c.emit(func() { handler(text) })
	}
}

func (c *Client) emitTranscript() {
	c.mu.RLock()
	handler := c.onTranscript
	c.mu.RUnlock()
	if handler != nil {
		text := c.transcript.Text()
		c.emit(func() { handler(text) })
	}
}

func (c *Client) emitAttempt(record AttemptRecord) {
	c.mu.RLock()
	handler := c.onAttempt
	c.mu.RUnlock()
	if handler != nil {
		c.emit(func() { handler(record) })
	}
}

func (c *Client) emitTraffic(outbound bool, eventType string) {
	c.mu.RLock()
	handler := c.onTraffic
	c.mu.RUnlock()
	if handler != nil {
		c.emit(func() { handler(outbound, eventType) })
	}
}
