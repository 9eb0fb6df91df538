package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"PongVoiceBridge/internal/relay"
)

// MatchConfig 比赛模拟配置
type MatchConfig struct {
	BaseURL         string
	PointsToWin     int
	EventsPerSecond float64
	Duration        time.Duration // 0 表示直到比赛结束
	Timeout         time.Duration
	Seed            uint64
	Connect         bool // 开始前 POST /api/v1/connect
}

// DefaultMatchConfig 默认配置
func DefaultMatchConfig(baseURL string) *MatchConfig {
	return &MatchConfig{
		BaseURL:         baseURL,
		PointsToWin:     11,
		EventsPerSecond: 2,
		Timeout:         5 * time.Second,
		Seed:            1,
	}
}

// MatchResult 模拟结果
type MatchResult struct {
	TotalEvents int64
	Accepted    int64 // 202
	Rejected    int64 // 400
	Throttled   int64 // 429
	Failed      int64 // 其它状态码或请求错误
	Duration    time.Duration

	// 延迟指标 (毫秒)
	MinLatency float64
	MaxLatency float64
	AvgLatency float64
	P50Latency float64
	P95Latency float64

	StatusCodes map[int]int64
	FinalScore  [2]int
}

// BuildMatchScript 生成一场比赛的事件序列：开局、计时、得分、长回合与结束
func BuildMatchScript(pointsToWin int, rng *rand.Rand) []relay.GameEvent {
	if pointsToWin <= 0 {
		pointsToWin = 11
	}

	timeLeft := 180
	script := []relay.GameEvent{
		{Kind: relay.GameStarted},
		{Kind: relay.TimerStarted, Fields: map[string]any{"timeLeft": timeLeft}},
	}

	player, ai := 0, 0
	warned := false
	for player < pointsToWin && ai < pointsToWin {
		rally := 2 + rng.IntN(20)
		timeLeft -= rally / 2
		if rally > 15 {
			script = append(script, relay.GameEvent{Kind: relay.LongRally, Fields: map[string]any{"rallyDuration": rally}})
		}

		kind := relay.AIScored
		if rng.IntN(2) == 0 {
			player++
			kind = relay.PlayerScored
		} else {
			ai++
		}
		script = append(script, relay.GameEvent{Kind: kind, Fields: map[string]any{"playerScore": player, "aiScore": ai}})

		if !warned && timeLeft <= 30 {
			warned = true
			script = append(script, relay.GameEvent{Kind: relay.TimerWarning, Fields: map[string]any{"timeLeft": timeLeft}})
		}
		if timeLeft <= 0 {
			script = append(script, relay.GameEvent{Kind: relay.TimerExpired, Fields: map[string]any{"timeLeft": 0}})
			break
		}
	}

	return append(script, relay.GameEvent{Kind: relay.GameOver, Fields: map[string]any{"playerScore": player, "aiScore": ai}})
}

// MatchSimulator 按固定速率向桥接服务上报比赛事件
type MatchSimulator struct {
	config *MatchConfig
	client *http.Client

	mu          sync.Mutex
	latencies   []time.Duration
	statusCodes map[int]int64
	result      *MatchResult
}

// NewMatchSimulator 创建模拟器
func NewMatchSimulator(config *MatchConfig) *MatchSimulator {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &MatchSimulator{
		config:      config,
		client:      &http.Client{Timeout: config.Timeout},
		statusCodes: make(map[int]int64),
	}
}

func (s *MatchSimulator) validateConfig() error {
	if s.config.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if s.config.EventsPerSecond <= 0 {
		return fmt.Errorf("events per second must be positive")
	}
	return nil
}

// Run 播放整场比赛，返回统计结果
func (s *MatchSimulator) Run(ctx context.Context) (*MatchResult, error) {
	if err := s.validateConfig(); err != nil {
		return nil, err
	}
	if s.config.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Duration)
		defer cancel()
	}

	if s.config.Connect {
		if err := s.RequestConnect(ctx); err != nil {
			return nil, err
		}
	}

	rng := rand.New(rand.NewPCG(s.config.Seed, s.config.Seed^0x9e3779b97f4a7c15))
	script := BuildMatchScript(s.config.PointsToWin, rng)
	log.Printf("[loadtest] playing %d events at %.1f/s against %s", len(script), s.config.EventsPerSecond, s.config.BaseURL)

	result := &MatchResult{StatusCodes: make(map[int]int64)}
	start := time.Now()

	ticker := time.NewTicker(time.Duration(float64(time.Second) / s.config.EventsPerSecond))
	defer ticker.Stop()

loop:
	for i, ev := range script {
		if i > 0 {
			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
			}
		}
		s.sendEvent(ctx, ev, result)
		if score, ok := scoreOf(ev); ok {
			result.FinalScore = score
		}
	}

	result.Duration = time.Since(start)
	s.finish(result)
	return result, nil
}

// RequestConnect 请求桥接服务建立语音会话；已在连接中(409)也算成功
func (s *MatchSimulator) RequestConnect(ctx context.Context) error {
	code, err := s.post(ctx, "/api/v1/connect", nil)
	if err != nil {
		return fmt.Errorf("connect request failed: %w", err)
	}
	if code != http.StatusAccepted && code != http.StatusConflict {
		return fmt.Errorf("connect request returned %d", code)
	}
	return nil
}

func (s *MatchSimulator) sendEvent(ctx context.Context, ev relay.GameEvent, result *MatchResult) {
	result.TotalEvents++
	began := time.Now()
	code, err := s.post(ctx, "/api/v1/events", map[string]any{"kind": ev.Kind, "fields": ev.Fields})
	latency := time.Since(began)

	s.mu.Lock()
	s.latencies = append(s.latencies, latency)
	if err == nil {
		s.statusCodes[code]++
	}
	s.mu.Unlock()

	switch {
	case err != nil:
		result.Failed++
		log.Printf("[loadtest] %s failed: %v", ev.Kind, err)
	case code == http.StatusAccepted:
		result.Accepted++
	case code == http.StatusBadRequest:
		result.Rejected++
	case code == http.StatusTooManyRequests:
		result.Throttled++
	default:
		result.Failed++
	}
}

func (s *MatchSimulator) post(ctx context.Context, path string, body any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(s.config.BaseURL, "/")+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// finish 计算延迟统计
func (s *MatchSimulator) finish(result *MatchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for code, n := range s.statusCodes {
		result.StatusCodes[code] = n
	}

	if len(s.latencies) > 0 {
		latencies := make([]time.Duration, len(s.latencies))
		copy(latencies, s.latencies)
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})

		result.MinLatency = float64(latencies[0].Nanoseconds()) / 1e6
		result.MaxLatency = float64(latencies[len(latencies)-1].Nanoseconds()) / 1e6
		result.P50Latency = float64(latencies[len(latencies)/2].Nanoseconds()) / 1e6
		result.P95Latency = float64(latencies[int(float64(len(latencies))*0.95)].Nanoseconds()) / 1e6

		var total time.Duration
		for _, lat := range latencies {
			total += lat
		}
		result.AvgLatency = float64(total.Nanoseconds()) / float64(len(latencies)) / 1e6
	}
	s.result = result
}

// GetResult 最近一次运行的结果
func (s *MatchSimulator) GetResult() *MatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func scoreOf(ev relay.GameEvent) ([2]int, bool) {
	p, okP := ev.Fields["playerScore"].(int)
	a, okA := ev.Fields["aiScore"].(int)
	return [2]int{p, a}, okP && okA
}
