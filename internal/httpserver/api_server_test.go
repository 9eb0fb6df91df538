package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PongVoiceBridge/internal/logger"
	"PongVoiceBridge/internal/protocol"
	"PongVoiceBridge/internal/relay"
	"PongVoiceBridge/internal/rtcclient"
)

type fakeClient struct {
	mu          sync.Mutex
	state       rtcclient.ClientState
	connects    int
	disconnects int
	said        []string
}

func (c *fakeClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != rtcclient.StateIdle {
		return fmt.Errorf("%w: %s", rtcclient.ErrBusy, c.state)
	}
	c.connects++
	c.state = rtcclient.StateConnecting
	return nil
}

func (c *fakeClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	c.state = rtcclient.StateIdle
}

func (c *fakeClient) SendUserText(text string) error {
	if _, err := protocol.NewConversationItem(protocol.RoleUser, text); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != rtcclient.StateConnected {
		return rtcclient.ErrNotConnected
	}
	c.said = append(c.said, text)
	return nil
}

func (c *fakeClient) State() rtcclient.ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeClient) IsReconnecting() bool   { return false }
func (c *fakeClient) TranscriptText() string { return "Hello there" }
func (c *fakeClient) GetStats() map[string]interface{} {
	return map[string]interface{}{"attempts": 1}
}

func (c *fakeClient) setState(s rtcclient.ClientState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

type fakeTimeline struct{}

func (fakeTimeline) ExportJSON() ([]byte, error) {
	return []byte(`{"events":[{"type":"STATE"}]}`), nil
}

type nopSender struct{}

func (nopSender) SendGameStateUpdate(string, map[string]any) error { return nil }

type fixture struct {
	client *fakeClient
	relay  *relay.Relay
	hub    *logger.Hub
	server *httptest.Server
}

func newFixture(t *testing.T, queueSize int) *fixture {
	t.Helper()
	f := &fixture{
		client: &fakeClient{},
		relay:  relay.New(nopSender{}, queueSize),
		hub:    logger.NewHub(16),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go f.hub.Run(ctx)

	api := NewAPIServer(":0", []string{"http://game.example"}, Backend{
		Client:   f.client,
		Events:   f.relay,
		Timeline: fakeTimeline{},
		Stream:   http.HandlerFunc(f.hub.HandleWebSocket),
	})
	f.server = httptest.NewServer(api.Handler())
	t.Cleanup(func() {
		f.server.Close()
		cancel()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, APIResponse) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, 4)
	resp, err := http.Get(f.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestConnectAcceptedThenConflict(t *testing.T) {
	f := newFixture(t, 4)

	resp, out := f.do(t, http.MethodPost, "/api/v1/connect", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, out.Success)

	resp, out = f.do(t, http.MethodPost, "/api/v1/connect", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "BUSY", out.Code)
	assert.Equal(t, 1, f.client.connects)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/disconnect", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, rtcclient.StateIdle, f.client.State())
}

func TestSayRequiresConnection(t *testing.T) {
	f := newFixture(t, 4)

	resp, out := f.do(t, http.MethodPost, "/api/v1/say", `{"text":"nice shot"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "NOT_CONNECTED", out.Code)

	f.client.setState(rtcclient.StateConnected)
	resp, out = f.do(t, http.MethodPost, "/api/v1/say", `{"text":"nice shot"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Success)
	assert.Equal(t, []string{"nice shot"}, f.client.said)

	resp, out = f.do(t, http.MethodPost, "/api/v1/say", `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_MESSAGE", out.Code)

	resp, out = f.do(t, http.MethodPost, "/api/v1/say", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_REQUEST", out.Code)
}

func TestEventsStatusCodes(t *testing.T) {
	// 不运行中继循环，队列容量 1 便于触发 429
	f := newFixture(t, 1)

	resp, out := f.do(t, http.MethodPost, "/api/v1/events", `{"kind":"player_scored","fields":{"playerScore":1}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_EVENT", out.Code)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/events", `{"kind":"player_scored","fields":{"playerScore":1,"aiScore":0}}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, out = f.do(t, http.MethodPost, "/api/v1/events", `{"kind":"game_started"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "QUEUE_FULL", out.Code)

	t.Logf("📊 relay stats: %v", f.relay.GetStats())
}

func TestStatusAndSession(t *testing.T) {
	f := newFixture(t, 4)
	f.client.setState(rtcclient.StateConnected)

	resp, out := f.do(t, http.MethodGet, "/api/v1/status", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data, ok := out.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "CONNECTED", data["phase"])
	assert.Equal(t, "Hello there", data["transcript"])
	assert.NotNil(t, data["events"])

	resp, out = f.do(t, http.MethodGet, "/api/v1/session", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	session, ok := out.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, session["events"], 1)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, 4)
	req, err := http.NewRequest(http.MethodOptions, f.server.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://game.example")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://game.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStatusStreamThroughRouter(t *testing.T) {
	f := newFixture(t, 4)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	f.hub.Status("Connected", "CONNECTED")

	var msg logger.StatusMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, logger.KindStatus, msg.Kind)
	assert.Equal(t, "Connected", msg.Text)
	t.Log("✅ status stream reachable through the router")
}
