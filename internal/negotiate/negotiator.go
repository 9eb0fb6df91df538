package negotiate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"PongVoiceBridge/internal/media"
	"PongVoiceBridge/internal/transport"
)

// maxAnswerSize SDP 应答正文上限
const maxAnswerSize = 1 << 20

// Config 协商配置
type Config struct {
	Endpoint           string
	Model              string
	ConnectTimeout     time.Duration // 连接建立硬上限
	GatherPollInterval time.Duration // ICE 收集轮询间隔，无总时限
	AcceptConnecting   bool          // connecting 状态即视为协商完成
	ICEServers         []string
	RequestTimeout     time.Duration
	ChannelLabel       string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Endpoint:           "https://api.openai.com/v1/realtime",
		Model:              "gpt-4o-realtime-preview",
		ConnectTimeout:     15 * time.Second,
		GatherPollInterval: 100 * time.Millisecond,
		AcceptConnecting:   true,
		ICEServers:         []string{"stun:stun.l.google.com:19302"},
		RequestTimeout:     30 * time.Second,
		ChannelLabel:       "oai-events",
	}
}

// Option 协商器选项
type Option func(*Negotiator)

// WithHTTPClient 指定协商请求使用的 HTTP 客户端
func WithHTTPClient(client *http.Client) Option {
	return func(n *Negotiator) {
		n.client = client
	}
}

// WithAPI 指定 pion API（自定义 SettingEngine / MediaEngine 时使用）
func WithAPI(api *webrtc.API) Option {
	return func(n *Negotiator) {
		n.api = api
	}
}

// Negotiator 执行 offer/answer 交换，产出已建立的传输会话
type Negotiator struct {
	config Config
	api    *webrtc.API
	client *http.Client
	sink   media.PlaybackSink
}

// New 创建协商器
func New(config Config, sink media.PlaybackSink, opts ...Option) *Negotiator {
	if sink == nil {
		sink = media.NewCountingSink()
	}
	n := &Negotiator{
		config: config,
		api:    webrtc.NewAPI(),
		client: &http.Client{},
		sink:   sink,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Negotiate 建立一次传输会话。
// 失败时已创建的资源（包括 capture）全部释放，并返回 *NegotiationError。
func (n *Negotiator) Negotiate(ctx context.Context, capture media.Capture, credential string) (*transport.Session, error) {
	release := func() {
		if capture != nil {
			capture.Close()
		}
	}

	pc, err := n.api.NewPeerConnection(webrtc.Configuration{ICEServers: n.iceServers()})
	if err != nil {
		release()
		return nil, &NegotiationError{Reason: ReasonTransport, Err: fmt.Errorf("create peer connection: %w", err)}
	}

	// 1. 本地 offer：采集音轨 + 一个双向控制通道
	if capture != nil && capture.Track() != nil {
		_, err = pc.AddTrack(capture.Track())
	} else {
		_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
	}
	if err != nil {
		pc.Close()
		release()
		return nil, &NegotiationError{Reason: ReasonTransport, Err: fmt.Errorf("add audio track: %w", err)}
	}

	dc, err := pc.CreateDataChannel(n.config.ChannelLabel, nil)
	if err != nil {
		pc.Close()
		release()
		return nil, &NegotiationError{Reason: ReasonTransport, Err: fmt.Errorf("create control channel: %w", err)}
	}

	session := transport.New(pc, dc, capture)
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go transport.PumpRemoteAudio(track, n.sink)
	})

	fail := func(err error) (*transport.Session, error) {
		session.Close()
		return nil, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail(&NegotiationError{Reason: ReasonTransport, Err: fmt.Errorf("create offer: %w", err)})
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail(&NegotiationError{Reason: ReasonTransport, Err: fmt.Errorf("set local description: %w", err)})
	}
	if err := n.awaitGathering(ctx, gathered); err != nil {
		return fail(err)
	}

	// 2-3. 发送 offer，非成功状态直接失败
	answer, err := n.exchange(ctx, pc.LocalDescription().SDP, credential)
	if err != nil {
		return fail(err)
	}

	// 4. 应用 answer
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return fail(&NegotiationError{Reason: ReasonTransport, Err: fmt.Errorf("set remote description: %w", err)})
	}

	// 5. 等待连通，硬上限 ConnectTimeout
	if err := WaitForConnection(ctx, session.States(), n.config.ConnectTimeout, n.config.AcceptConnecting); err != nil {
		return fail(err)
	}

	log.Printf("[negotiate] transport established: session=%s health=%s", session.ID(), session.Health())
	return session, nil
}

// awaitGathering 轮询等待 ICE 候选收集完成，仅受 ctx 约束
func (n *Negotiator) awaitGathering(ctx context.Context, gathered <-chan struct{}) error {
	interval := n.config.GatherPollInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	polls := 0
	for {
		select {
		case <-gathered:
			return nil
		case <-ctx.Done():
			return &NegotiationError{Reason: ReasonCancelled, Err: ctx.Err()}
		case <-ticker.C:
			polls++
			if polls%50 == 0 {
				log.Printf("[negotiate] still gathering ICE candidates (%s elapsed)", time.Duration(polls)*interval)
			}
		}
	}
}

// exchange 向协商端点发送 offer 并返回 answer SDP
func (n *Negotiator) exchange(ctx context.Context, offerSDP, credential string) (string, error) {
	endpoint, err := n.endpointURL()
	if err != nil {
		return "", &NegotiationError{Reason: ReasonTransport, Err: err}
	}

	if n.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.config.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(offerSDP))
	if err != nil {
		return "", &NegotiationError{Reason: ReasonTransport, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/sdp")

	start := time.Now()
	resp, err := n.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", &NegotiationError{Reason: ReasonCancelled, Err: err}
		}
		return "", &NegotiationError{Reason: ReasonTransport, Err: fmt.Errorf("post offer: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAnswerSize))
	if err != nil {
		return "", &NegotiationError{Reason: ReasonTransport, Err: fmt.Errorf("read answer: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &NegotiationError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body)), Reason: ReasonHTTP}
	}
	answer := string(body)
	if strings.TrimSpace(answer) == "" {
		return "", &NegotiationError{Status: resp.StatusCode, Reason: ReasonHTTP, Err: errors.New("empty answer")}
	}

	log.Printf("[negotiate] answer received: status=%d bytes=%d latency=%s", resp.StatusCode, len(body), time.Since(start))
	return answer, nil
}

func (n *Negotiator) endpointURL() (string, error) {
	u, err := url.Parse(n.config.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", n.config.Endpoint, err)
	}
	if n.config.Model != "" {
		q := u.Query()
		q.Set("model", n.config.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (n *Negotiator) iceServers() []webrtc.ICEServer {
	if len(n.config.ICEServers) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: n.config.ICEServers}}
}

// WaitForConnection 等待传输进入 connected（或允许时 connecting），
// 超时或出现 failed/closed 时返回 *NegotiationError。
func WaitForConnection(ctx context.Context, states <-chan transport.Health, timeout time.Duration, acceptConnecting bool) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return &NegotiationError{Reason: ReasonCancelled, Err: ctx.Err()}
		case <-timer.C:
			return &NegotiationError{Reason: ReasonTimeout, Err: fmt.Errorf("transport not connected within %s", timeout)}
		case h := <-states:
			switch h {
			case transport.HealthConnected:
				return nil
			case transport.HealthConnecting:
				if acceptConnecting {
					return nil
				}
			case transport.HealthFailed, transport.HealthClosed:
				return &NegotiationError{Reason: ReasonFailed, Err: &transport.HealthError{Health: h, Reason: "during negotiation"}}
			}
		}
	}
}
