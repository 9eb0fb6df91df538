package rtcclient

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"PongVoiceBridge/internal/media"
	"PongVoiceBridge/internal/negotiate"
	"PongVoiceBridge/internal/protocol"
	"PongVoiceBridge/internal/transport"
)

type fakeCapture struct {
	closes atomic.Int32
}

func (c *fakeCapture) Track() webrtc.TrackLocal { return nil }
func (c *fakeCapture) Close() error {
	c.closes.Add(1)
	return nil
}

type fakeMedia struct {
	err      error
	acquires atomic.Int32
}

func (m *fakeMedia) Acquire(ctx context.Context) (media.Capture, error) {
	m.acquires.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return &fakeCapture{}, nil
}

type sentMessage struct {
	msg protocol.Outbound
	at  time.Time
}

type fakeTransport struct {
	id string

	mu       sync.Mutex
	sent     []sentMessage
	tries    int
	sendErr  error
	onMsg    transport.MessageHandler
	onHealth transport.HealthHandler

	opened chan struct{}
	closes atomic.Int32
}

func newFakeTransport(id string) *fakeTransport {
	t := &fakeTransport{id: id, opened: make(chan struct{})}
	close(t.opened)
	return t
}

func (t *fakeTransport) ID() string { return t.id }

func (t *fakeTransport) Send(msg protocol.Outbound) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tries++
	if t.closes.Load() > 0 {
		return transport.ErrClosed
	}
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, sentMessage{msg: msg, at: time.Now()})
	return nil
}

func (t *fakeTransport) OnControlMessage(h transport.MessageHandler) {
	t.mu.Lock()
	t.onMsg = h
	t.mu.Unlock()
}

func (t *fakeTransport) OnHealthChange(h transport.HealthHandler) {
	t.mu.Lock()
	t.onHealth = h
	t.mu.Unlock()
}

func (t *fakeTransport) Opened() <-chan struct{} { return t.opened }

func (t *fakeTransport) Close() error {
	t.closes.Add(1)
	return nil
}

func (t *fakeTransport) setSendErr(err error) {
	t.mu.Lock()
	t.sendErr = err
	t.mu.Unlock()
}

func (t *fakeTransport) fireHealth(h transport.Health) {
	t.mu.Lock()
	handler := t.onHealth
	t.mu.Unlock()
	if handler != nil {
		handler(h, "test signal")
	}
}

func (t *fakeTransport) deliver(ev *protocol.Event) {
	t.mu.Lock()
	handler := t.onMsg
	t.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

func (t *fakeTransport) sentMessages() []sentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]sentMessage, len(t.sent))
	copy(out, t.sent)
	return out
}

func (t *fakeTransport) sentTypes() []string {
	var types []string
	for _, m := range t.sentMessages() {
		types = append(types, m.msg.EventType())
	}
	return types
}

func (t *fakeTransport) sendTries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tries
}

var errEndpoint = &negotiate.NegotiationError{Status: 503, Body: "overloaded", Reason: negotiate.ReasonHTTP}

type fakeNegotiator struct {
	mu         sync.Mutex
	results    []error // 按调用顺序，超出部分视为成功
	transports []*fakeTransport
	callTimes  []time.Time
	sendErr    error
	block      chan struct{}

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	cancelled   atomic.Int32
}

func (n *fakeNegotiator) Negotiate(ctx context.Context, capture media.Capture) (Transport, error) {
	cur := n.inFlight.Add(1)
	defer n.inFlight.Add(-1)
	for {
		old := n.maxInFlight.Load()
		if cur <= old || n.maxInFlight.CompareAndSwap(old, cur) {
			break
		}
	}

	n.mu.Lock()
	call := len(n.callTimes)
	n.callTimes = append(n.callTimes, time.Now())
	block := n.block
	var err error
	if call < len(n.results) {
		err = n.results[call]
	}
	n.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			n.cancelled.Add(1)
			capture.Close()
			return nil, &negotiate.NegotiationError{Reason: negotiate.ReasonCancelled, Err: ctx.Err()}
		}
	}

	if err != nil {
		capture.Close()
		return nil, err
	}

	tr := newFakeTransport(fmt.Sprintf("session-%d", call))
	n.mu.Lock()
	tr.sendErr = n.sendErr
	n.transports = append(n.transports, tr)
	n.mu.Unlock()
	return tr, nil
}

func (n *fakeNegotiator) calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.callTimes)
}

func (n *fakeNegotiator) transport(i int) *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	if i >= len(n.transports) {
		return nil
	}
	return n.transports[i]
}

func (n *fakeNegotiator) callTime(i int) time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.callTimes[i]
}

// recorder 收集回调
type recorder struct {
	mu          sync.Mutex
	transitions []ClientState
	statuses    []string
	transcripts []string
	attempts    []AttemptRecord
}

func attach(c *Client) *recorder {
	r := &recorder{}
	c.SetStateChangeHandler(func(_, newState ClientState) {
		r.mu.Lock()
		r.transitions = append(r.transitions, newState)
		r.mu.Unlock()
	})
	c.SetStatusHandler(func(text string) {
		r.mu.Lock()
		r.statuses = append(r.statuses, text)
		r.mu.Unlock()
	})
	c.SetTranscriptHandler(func(text string) {
		r.mu.Lock()
		r.transcripts = append(r.transcripts, text)
		r.mu.Unlock()
	})
	c.SetAttemptHandler(func(rec AttemptRecord) {
		r.mu.Lock()
		r.attempts = append(r.attempts, rec)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) states() []ClientState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ClientState(nil), r.transitions...)
}

func (r *recorder) attemptRecords() []AttemptRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AttemptRecord(nil), r.attempts...)
}

func (r *recorder) hasStatus(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.statuses {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func (r *recorder) lastTranscript() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.transcripts) == 0 {
		return ""
	}
	return r.transcripts[len(r.transcripts)-1]
}

var errDenied = &media.MediaError{Kind: media.KindPermission, Device: "denied", Err: media.ErrPermissionDenied}
