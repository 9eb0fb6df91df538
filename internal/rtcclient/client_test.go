package rtcclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PongVoiceBridge/internal/protocol"
	"PongVoiceBridge/internal/transport"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func testConfig() *Config {
	return &Config{
		SettleDelay:           20 * time.Millisecond,
		GreetingDelay:         40 * time.Millisecond,
		GreetingText:          "",
		GreetingRetryInterval: 20 * time.Millisecond,
		GreetingMaxRetries:    2,
		ResponseDelay:         30 * time.Millisecond,
		InitialRetryDelay:     40 * time.Millisecond,
		RetryBackoff:          60 * time.Millisecond,
		Cooldown:              20 * time.Millisecond,
		Modalities:            protocol.DefaultModalities,
	}
}

func newTestClient(t *testing.T, cfg *Config, m *fakeMedia, n *fakeNegotiator) (*Client, *recorder) {
	t.Helper()
	c := New(cfg, m, n)
	r := attach(c)
	t.Cleanup(func() { c.Close() })
	return c, r
}

func waitState(t *testing.T, c *Client, want ClientState) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, waitFor, tick,
		"state never reached %s (now %s)", want, c.State())
}

func connect(t *testing.T, c *Client) {
	t.Helper()
	require.NoError(t, c.Connect(context.Background()))
	waitState(t, c, StateConnected)
}

func TestConnectReachesConnectedAndGreets(t *testing.T) {
	cfg := testConfig()
	cfg.GreetingText = "hello player"
	n := &fakeNegotiator{}
	c, r := newTestClient(t, cfg, &fakeMedia{}, n)

	connect(t, c)
	tr := n.transport(0)
	require.NotNil(t, tr)
	assert.Equal(t, "session-0", c.SessionID())

	require.Eventually(t, func() bool { return len(tr.sentTypes()) == 2 }, waitFor, tick)
	sent := tr.sentMessages()
	item, ok := sent[0].msg.(*protocol.ItemCreate)
	require.True(t, ok)
	assert.Equal(t, protocol.RoleSystem, item.Item.Role)
	assert.Equal(t, "hello player", item.Item.Text())
	assert.Equal(t, protocol.TypeResponseCreate, sent[1].msg.EventType())

	assert.Equal(t, []ClientState{StateConnecting, StateConnected}, r.states())
	records := r.attemptRecords()
	require.Len(t, records, 1)
	assert.Equal(t, OutcomeConnected, records[0].Outcome)
	assert.Equal(t, TriggerUser, records[0].Trigger)
	t.Logf("✅ connected with session %s", c.SessionID())
}

func TestConnectRejectedWhenNotIdle(t *testing.T) {
	n := &fakeNegotiator{block: make(chan struct{})}
	c, _ := newTestClient(t, testConfig(), &fakeMedia{}, n)

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StateConnecting, c.State())

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	close(n.block)
	waitState(t, c, StateConnected)
}

func TestSendWhileNotConnectedFails(t *testing.T) {
	n := &fakeNegotiator{}
	c, _ := newTestClient(t, testConfig(), &fakeMedia{}, n)

	assert.ErrorIs(t, c.SendUserText("hi"), ErrNotConnected)
	assert.ErrorIs(t, c.SendGameStateUpdate("player_scored", map[string]any{"playerScore": 1, "aiScore": 0}), ErrNotConnected)

	// 从未 Connect 过，不会自动恢复
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, n.calls())
	assert.Equal(t, StateIdle, c.State())
}

func TestSendGameStateUpdateSendsItemThenResponse(t *testing.T) {
	cfg := testConfig()
	n := &fakeNegotiator{}
	c, _ := newTestClient(t, cfg, &fakeMedia{}, n)
	connect(t, c)
	tr := n.transport(0)

	require.NoError(t, c.SendGameStateUpdate("player_scored", map[string]any{"playerScore": 1, "aiScore": 0}))

	require.Eventually(t, func() bool { return len(tr.sentTypes()) == 2 }, waitFor, tick)
	sent := tr.sentMessages()

	item, ok := sent[0].msg.(*protocol.ItemCreate)
	require.True(t, ok)
	assert.Equal(t, protocol.RoleSystem, item.Item.Role)
	require.Len(t, item.Item.Content, 1)
	assert.Equal(t, "input_text", item.Item.Content[0].Type)
	assert.Contains(t, item.Item.Content[0].Text, `"playerScore":1`)
	assert.Contains(t, item.Item.Content[0].Text, `"aiScore":0`)

	resp, ok := sent[1].msg.(*protocol.ResponseCreate)
	require.True(t, ok)
	assert.Equal(t, []string{"text", "audio"}, resp.Response.Modalities)
	assert.GreaterOrEqual(t, sent[1].at.Sub(sent[0].at), cfg.ResponseDelay-5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, tr.sentTypes(), 2, "exactly one item and one response request")
}

func TestHealthFailedBeforeGreetingReconnects(t *testing.T) {
	cfg := testConfig()
	cfg.GreetingText = "hello"
	cfg.GreetingDelay = 300 * time.Millisecond
	n := &fakeNegotiator{}
	c, r := newTestClient(t, cfg, &fakeMedia{}, n)

	connect(t, c)
	old := n.transport(0)
	old.fireHealth(transport.HealthFailed)

	require.Eventually(t, func() bool { return n.calls() == 2 }, waitFor, tick)
	waitState(t, c, StateConnected)

	assert.EqualValues(t, 1, old.closes.Load(), "old session torn down once")
	assert.Empty(t, old.sentTypes(), "greeting never sent on the old session")
	require.Eventually(t, func() bool { return len(r.states()) == 5 }, waitFor, tick)
	assert.Equal(t, []ClientState{StateConnecting, StateConnected, StateReconnecting, StateConnecting, StateConnected}, r.states())

	// 旧会话的延迟信号不会再触发重连
	old.fireHealth(transport.HealthFailed)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, n.calls())
	assert.EqualValues(t, 1, c.GetStats()["reconnects"])
}

func TestHealthClosedIsTerminal(t *testing.T) {
	n := &fakeNegotiator{}
	c, r := newTestClient(t, testConfig(), &fakeMedia{}, n)
	connect(t, c)

	n.transport(0).fireHealth(transport.HealthClosed)
	waitState(t, c, StateIdle)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, n.calls(), "closed never triggers a reconnect")
	assert.False(t, c.IsReconnecting())
	assert.NotContains(t, r.states(), StateReconnecting)
	assert.EqualValues(t, 1, n.transport(0).closes.Load())
}

func TestHealthDisconnectedReconnects(t *testing.T) {
	n := &fakeNegotiator{}
	c, _ := newTestClient(t, testConfig(), &fakeMedia{}, n)
	connect(t, c)

	n.transport(0).fireHealth(transport.HealthDisconnected)
	require.Eventually(t, func() bool { return n.calls() == 2 }, waitFor, tick)
	waitState(t, c, StateConnected)
}

func TestSignalStormRunsSingleReconnect(t *testing.T) {
	n := &fakeNegotiator{}
	c, _ := newTestClient(t, testConfig(), &fakeMedia{}, n)
	connect(t, c)
	tr := n.transport(0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				tr.fireHealth(transport.HealthFailed)
			} else {
				tr.fireHealth(transport.HealthDisconnected)
			}
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return n.calls() == 2 }, waitFor, tick)
	waitState(t, c, StateConnected)
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, 2, n.calls())
	assert.EqualValues(t, 1, n.maxInFlight.Load())
	assert.EqualValues(t, 1, c.GetStats()["reconnects"])
}

func TestInitialFailureSchedulesOneRetry(t *testing.T) {
	cfg := testConfig()
	cfg.InitialRetryDelay = 150 * time.Millisecond
	n := &fakeNegotiator{results: []error{errEndpoint}}
	c, r := newTestClient(t, cfg, &fakeMedia{}, n)

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return c.State() == StateIdle && c.IsReconnecting() }, waitFor, tick)

	waitState(t, c, StateConnected)
	assert.Equal(t, 2, n.calls())
	assert.GreaterOrEqual(t, n.callTime(1).Sub(n.callTime(0)), cfg.InitialRetryDelay)
	assert.False(t, c.IsReconnecting())

	require.Eventually(t, func() bool { return len(r.attemptRecords()) == 2 }, waitFor, tick)
	records := r.attemptRecords()
	assert.Equal(t, OutcomeNegotiationError, records[0].Outcome)
	assert.Equal(t, TriggerUser, records[0].Trigger)
	assert.Equal(t, OutcomeConnected, records[1].Outcome)
	assert.Equal(t, TriggerRetry, records[1].Trigger)
	assert.True(t, r.hasStatus("retrying"))
}

func TestRepeatedFailuresUseFixedBackoff(t *testing.T) {
	cfg := testConfig()
	n := &fakeNegotiator{results: []error{errEndpoint, errEndpoint, errEndpoint}}
	c, _ := newTestClient(t, cfg, &fakeMedia{}, n)

	require.NoError(t, c.Connect(context.Background()))
	waitState(t, c, StateConnected)
	require.Equal(t, 4, n.calls())

	assert.GreaterOrEqual(t, n.callTime(1).Sub(n.callTime(0)), cfg.InitialRetryDelay)
	assert.GreaterOrEqual(t, n.callTime(2).Sub(n.callTime(1)), cfg.RetryBackoff)
	assert.GreaterOrEqual(t, n.callTime(3).Sub(n.callTime(2)), cfg.RetryBackoff)
}

func TestUpdateConfigRetimesActiveRetrySequence(t *testing.T) {
	cfg := testConfig()
	cfg.InitialRetryDelay = 150 * time.Millisecond
	cfg.RetryBackoff = time.Minute
	n := &fakeNegotiator{results: []error{errEndpoint, errEndpoint}}
	c, _ := newTestClient(t, cfg, &fakeMedia{}, n)

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return n.calls() == 1 && c.IsReconnecting() }, waitFor, tick)

	updated := *cfg
	updated.RetryBackoff = 60 * time.Millisecond
	c.UpdateConfig(&updated)

	// 第二次失败后按新的 RetryBackoff 等待，而不是旧的一分钟
	waitState(t, c, StateConnected)
	assert.Equal(t, 3, n.calls())
	assert.GreaterOrEqual(t, n.callTime(2).Sub(n.callTime(1)), updated.RetryBackoff)
	t.Logf("🔁 retry gap after reload: %s", n.callTime(2).Sub(n.callTime(1)))
}

func TestMaxReconnectAttemptsCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReconnectAttempts = 2
	n := &fakeNegotiator{results: []error{errEndpoint, errEndpoint, errEndpoint, errEndpoint}}
	c, r := newTestClient(t, cfg, &fakeMedia{}, n)

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return n.calls() == 3 && !c.IsReconnecting() }, waitFor, tick)
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, 3, n.calls())
	assert.Equal(t, StateIdle, c.State())
	assert.True(t, r.hasStatus("Connection failed"))
}

func TestMediaErrorIsFatal(t *testing.T) {
	n := &fakeNegotiator{}
	m := &fakeMedia{err: errDenied}
	c, r := newTestClient(t, testConfig(), m, n)

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return len(r.attemptRecords()) == 1 }, waitFor, tick)
	waitState(t, c, StateIdle)

	time.Sleep(150 * time.Millisecond)
	assert.EqualValues(t, 1, m.acquires.Load(), "media failure is never retried")
	assert.Equal(t, 0, n.calls())
	assert.False(t, c.IsReconnecting())
	assert.Equal(t, OutcomeMediaError, r.attemptRecords()[0].Outcome)
	assert.True(t, r.hasStatus(errDenied.UserMessage()))
}

func TestGameEventsAfterMediaErrorDoNotReacquire(t *testing.T) {
	n := &fakeNegotiator{}
	m := &fakeMedia{err: errDenied}
	c, _ := newTestClient(t, testConfig(), m, n)

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return m.acquires.Load() == 1 }, waitFor, tick)
	waitState(t, c, StateIdle)

	for i := 1; i <= 3; i++ {
		err := c.SendGameStateUpdate("player_scored", map[string]any{"playerScore": i, "aiScore": 0})
		assert.ErrorIs(t, err, ErrNotConnected)
		time.Sleep(100 * time.Millisecond)
	}

	assert.EqualValues(t, 1, m.acquires.Load(), "microphone is only requested again by an explicit connect")
	assert.Equal(t, 0, n.calls())
	assert.Equal(t, StateIdle, c.State())
	assert.False(t, c.IsReconnecting())
}

func TestDisconnectTearsDownAndDisarms(t *testing.T) {
	n := &fakeNegotiator{}
	c, _ := newTestClient(t, testConfig(), &fakeMedia{}, n)
	connect(t, c)

	c.Disconnect()
	assert.Equal(t, StateIdle, c.State())
	require.Eventually(t, func() bool { return n.transport(0).closes.Load() == 1 }, waitFor, tick)
	assert.Empty(t, c.SessionID())

	assert.ErrorIs(t, c.SendUserText("anyone there?"), ErrNotConnected)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, n.calls(), "explicit disconnect disarms recovery")
}

func TestDisconnectCancelsInFlightAttempt(t *testing.T) {
	n := &fakeNegotiator{block: make(chan struct{})}
	c, r := newTestClient(t, testConfig(), &fakeMedia{}, n)

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return n.inFlight.Load() == 1 }, waitFor, tick)

	c.Disconnect()
	require.Eventually(t, func() bool { return n.cancelled.Load() == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return len(r.attemptRecords()) == 1 }, waitFor, tick)

	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, OutcomeCancelled, r.attemptRecords()[0].Outcome)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, n.calls())
}

func TestSendOnClosedChannelTriggersRecovery(t *testing.T) {
	n := &fakeNegotiator{}
	c, _ := newTestClient(t, testConfig(), &fakeMedia{}, n)
	connect(t, c)

	n.transport(0).setSendErr(transport.ErrChannelNotOpen)
	err := c.SendUserText("are you there?")
	assert.ErrorIs(t, err, ErrNotConnected)

	require.Eventually(t, func() bool { return n.calls() == 2 }, waitFor, tick)
	waitState(t, c, StateConnected)

	require.NoError(t, c.SendUserText("back again"))
	require.Eventually(t, func() bool { return len(n.transport(1).sentTypes()) == 2 }, waitFor, tick)
}

func TestSendAfterRemoteCloseStaysIdle(t *testing.T) {
	n := &fakeNegotiator{}
	c, _ := newTestClient(t, testConfig(), &fakeMedia{}, n)
	connect(t, c)

	n.transport(0).fireHealth(transport.HealthClosed)
	waitState(t, c, StateIdle)

	err := c.SendGameStateUpdate("ai_scored", map[string]any{"playerScore": 0, "aiScore": 1})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.SendUserText("hello?"), ErrNotConnected)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, n.calls(), "closed session must not be renegotiated by a send")
	assert.Equal(t, StateIdle, c.State())
	assert.False(t, c.IsReconnecting())

	// 只有显式连接才会重新建立会话
	connect(t, c)
	assert.Equal(t, 2, n.calls())
	t.Log("✅ remote close stays idle until the user connects again")
}

func TestResponseRequestDroppedWhenSessionLost(t *testing.T) {
	cfg := testConfig()
	cfg.ResponseDelay = 100 * time.Millisecond
	n := &fakeNegotiator{}
	c, _ := newTestClient(t, cfg, &fakeMedia{}, n)
	connect(t, c)
	tr := n.transport(0)

	require.NoError(t, c.SendUserText("quick question"))
	tr.fireHealth(transport.HealthClosed)
	waitState(t, c, StateIdle)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, []string{protocol.TypeItemCreate}, tr.sentTypes(), "item recorded, no response requested")
}

func TestGreetingRetriesWithoutReconnecting(t *testing.T) {
	cfg := testConfig()
	cfg.GreetingText = "hello"
	n := &fakeNegotiator{sendErr: transport.ErrChannelNotOpen}
	c, _ := newTestClient(t, cfg, &fakeMedia{}, n)
	connect(t, c)
	tr := n.transport(0)

	require.Eventually(t, func() bool { return tr.sendTries() == 1+cfg.GreetingMaxRetries }, waitFor, tick)
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, 1+cfg.GreetingMaxRetries, tr.sendTries())
	assert.Equal(t, 1, n.calls())
	assert.Equal(t, StateConnected, c.State())
}

func TestFailureDuringSettleRetriesAttempt(t *testing.T) {
	cfg := testConfig()
	cfg.SettleDelay = 200 * time.Millisecond
	n := &fakeNegotiator{}
	c, r := newTestClient(t, cfg, &fakeMedia{}, n)

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return n.transport(0) != nil }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	n.transport(0).fireHealth(transport.HealthFailed)

	require.Eventually(t, func() bool { return n.calls() == 2 }, waitFor, tick)
	waitState(t, c, StateConnected)

	require.Eventually(t, func() bool { return len(r.attemptRecords()) == 2 }, waitFor, tick)
	records := r.attemptRecords()
	assert.Equal(t, OutcomeNegotiationError, records[0].Outcome)
	assert.EqualValues(t, 1, n.transport(0).closes.Load())
}

func TestInboundTranscript(t *testing.T) {
	n := &fakeNegotiator{}
	c, r := newTestClient(t, testConfig(), &fakeMedia{}, n)
	connect(t, c)
	tr := n.transport(0)

	tr.deliver(&protocol.Event{Type: protocol.TypeTranscriptDelta, Delta: "Hel"})
	tr.deliver(&protocol.Event{Type: protocol.TypeTranscriptDelta, Delta: "lo"})
	require.Eventually(t, func() bool { return c.TranscriptText() == "Hello" }, waitFor, tick)

	tr.deliver(&protocol.Event{Type: protocol.TypeTranscriptDone, Transcript: "Hello there"})
	require.Eventually(t, func() bool { return r.lastTranscript() == "Hello there" }, waitFor, tick)
	assert.Equal(t, "Hello there", c.TranscriptText())

	tr.deliver(&protocol.Event{Type: protocol.TypeItemCreated, Item: &protocol.Item{
		Type: "message", Role: protocol.RoleAssistant,
		Content: []protocol.Content{{Type: "text", Text: "Nice shot!"}},
	}})
	require.Eventually(t, func() bool { return c.TranscriptText() == "Hello there\nNice shot!" }, waitFor, tick)

	entries := c.TranscriptEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, protocol.RoleAssistant, entries[1].Role)
}

func TestTranscriptResetOnlyOnUserConnect(t *testing.T) {
	n := &fakeNegotiator{}
	c, _ := newTestClient(t, testConfig(), &fakeMedia{}, n)
	connect(t, c)

	n.transport(0).deliver(&protocol.Event{Type: protocol.TypeTranscriptDone, Transcript: "first"})
	require.Eventually(t, func() bool { return c.TranscriptText() == "first" }, waitFor, tick)

	// 自动重连保留转写
	n.transport(0).fireHealth(transport.HealthFailed)
	require.Eventually(t, func() bool { return n.calls() == 2 }, waitFor, tick)
	waitState(t, c, StateConnected)
	assert.Equal(t, "first", c.TranscriptText())

	c.Disconnect()
	connect(t, c)
	assert.Empty(t, c.TranscriptText())
}

func TestInboundErrorSurfacedAsStatus(t *testing.T) {
	n := &fakeNegotiator{}
	c, r := newTestClient(t, testConfig(), &fakeMedia{}, n)
	connect(t, c)

	n.transport(0).deliver(&protocol.Event{Type: protocol.TypeError, Error: &protocol.ErrorDetail{
		Type: "invalid_request_error", Code: "invalid_value", Message: "Invalid value: 'input_text'",
	}})

	require.Eventually(t, func() bool { return r.hasStatus("Invalid value") }, waitFor, tick)
	assert.Equal(t, StateConnected, c.State(), "protocol errors are not retried")
	assert.Equal(t, 1, n.calls())
	assert.Contains(t, c.GetStats()["last_error"], "invalid_value")
}

func TestSessionUpdateSentWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Instructions = "You are a friendly pong coach."
	cfg.Voice = "verse"
	n := &fakeNegotiator{}
	c, _ := newTestClient(t, cfg, &fakeMedia{}, n)
	connect(t, c)

	require.Eventually(t, func() bool { return len(n.transport(0).sentTypes()) == 1 }, waitFor, tick)
	update, ok := n.transport(0).sentMessages()[0].msg.(*protocol.SessionUpdate)
	require.True(t, ok)
	assert.Equal(t, "verse", update.Session.Voice)
}

func TestPanickingHandlerDoesNotStopLoop(t *testing.T) {
	n := &fakeNegotiator{}
	c := New(testConfig(), &fakeMedia{}, n)
	defer c.Close()
	c.SetStateChangeHandler(func(_, _ ClientState) { panic("handler bug") })

	connect(t, c)
	require.NoError(t, c.SendUserText("still alive"))
}

func TestCloseStopsClient(t *testing.T) {
	n := &fakeNegotiator{}
	c := New(testConfig(), &fakeMedia{}, n)
	connect(t, c)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.EqualValues(t, 1, n.transport(0).closes.Load())
	assert.ErrorIs(t, c.Connect(context.Background()), ErrClosed)
	assert.ErrorIs(t, c.SendUserText("late"), ErrClosed)
}

func TestRetrySchedule(t *testing.T) {
	b := NewRetrySchedule(5*time.Second, 10*time.Second, 0)
	assert.Equal(t, 5*time.Second, b.NextBackOff())
	for i := 0; i < 5; i++ {
		assert.Equal(t, 10*time.Second, b.NextBackOff())
	}
	b.Reset()
	assert.Equal(t, 5*time.Second, b.NextBackOff())

	capped := NewRetrySchedule(5*time.Second, 10*time.Second, 2)
	assert.Equal(t, 5*time.Second, capped.NextBackOff())
	assert.Equal(t, 10*time.Second, capped.NextBackOff())
	assert.Equal(t, backoff.Stop, capped.NextBackOff())
}

func TestTranscriptRoundTrip(t *testing.T) {
	tr := NewTranscript()
	tr.AppendDelta("Hel")
	tr.AppendDelta("lo")
	assert.Equal(t, "Hello", tr.Text())

	tr.Finalize("Hello there")
	assert.Equal(t, "Hello there", tr.Text())

	tr.AppendDelta("Next")
	tr.Finalize("")
	assert.Equal(t, "Hello there\nNext", tr.Text())

	tr.Reset()
	assert.Empty(t, tr.Text())
}

func TestClientStateString(t *testing.T) {
	assert.Equal(t, "IDLE", StateIdle.String())
	assert.Equal(t, "RECONNECTING", StateReconnecting.String())
}
