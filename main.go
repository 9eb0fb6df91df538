package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"PongVoiceBridge/internal/config"
	"PongVoiceBridge/internal/database"
	"PongVoiceBridge/internal/grpcserver"
	"PongVoiceBridge/internal/httpserver"
	"PongVoiceBridge/internal/logger"
	"PongVoiceBridge/internal/media"
	"PongVoiceBridge/internal/negotiate"
	"PongVoiceBridge/internal/relay"
	"PongVoiceBridge/internal/rtcclient"
	"PongVoiceBridge/internal/session"
)

func main() {
	var (
		mode       = flag.String("mode", "serve", "运行模式: serve, connect, demo")
		configPath = flag.String("config", "", "配置文件路径（默认搜索 ./configs、../configs、.）")
		say        = flag.String("say", "", "connect 模式下连接成功后发送的一句话")
		watch      = flag.Bool("watch", true, "监控配置文件变化并热重载")
	)
	flag.Parse()

	if *mode == "demo" {
		runDemo()
		return
	}

	manager := config.NewManager(config.WithConfigPath(*configPath), config.WithWatchEnabled(*watch))
	cfg, err := manager.Load()
	if err != nil {
		log.Fatalf("[main] failed to load config: %v", err)
	}
	logger.InitLogger(cfg.Logging.Level)

	switch *mode {
	case "serve":
		runServe(manager, cfg)
	case "connect":
		runConnect(manager, cfg, *say)
	default:
		fmt.Printf("未知模式: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// bridge 语音桥接的全部运行时组件
type bridge struct {
	client   *rtcclient.Client
	relay    *relay.Relay
	hub      *logger.Hub
	recorder *session.SessionRecorder
	sink     *media.CountingSink

	health *grpcserver.HealthServer // 只在 serve 模式下创建

	mu        sync.RWMutex
	onState   []rtcclient.StateChangeHandler
	onStatus  []rtcclient.StatusHandler
	onAttempt []rtcclient.AttemptHandler
}

// newBridge 按配置装配媒体、协商器与生命周期管理器
func newBridge(cfg *config.VoiceConfig) (*bridge, error) {
	device, err := media.NewDevice(cfg.Media.Device)
	if err != nil {
		return nil, err
	}
	if cfg.Service.APIKey == "" && cfg.Service.TokenURL == "" {
		log.Printf("[main] warning: no API key configured, negotiation will fail until one is set")
	}

	sink := media.NewCountingSink()
	acquirer := media.NewAcquirer(device, sink, cfg.AcquirerConfig())
	negotiator := &rtcclient.PeerNegotiator{
		Negotiator:  negotiate.New(cfg.NegotiatorConfig(), sink),
		Credentials: cfg.Credentials(),
	}

	b := &bridge{
		client:   rtcclient.New(cfg.ClientConfig(), acquirer, negotiator),
		hub:      logger.NewHub(256),
		recorder: session.NewSessionRecorder(uuid.NewString(), session.DefaultMaxEvents),
		sink:     sink,
	}
	b.relay = relay.New(b.client, cfg.Server.EventQueueSize)
	b.hub.SetSnapshot(b.snapshot)
	b.wire()
	return b, nil
}

// wire 把生命周期回调分发给各个观察者
func (b *bridge) wire() {
	b.client.SetStateChangeHandler(func(oldState, newState rtcclient.ClientState) {
		log.Printf("[main] phase %s -> %s", oldState, newState)
		b.relay.SetPhase(newState.String())
		b.hub.State(newState.String())
		b.recorder.RecordState(oldState, newState)

		b.mu.RLock()
		handlers := b.onState
		b.mu.RUnlock()
		for _, fn := range handlers {
			fn(oldState, newState)
		}
	})

	b.client.SetStatusHandler(func(text string) {
		b.hub.Status(text, b.client.State().String())

		b.mu.RLock()
		handlers := b.onStatus
		b.mu.RUnlock()
		for _, fn := range handlers {
			fn(text)
		}
	})

	b.client.SetTranscriptHandler(func(text string) {
		b.hub.Transcript(text)
	})

	b.client.SetAttemptHandler(func(record rtcclient.AttemptRecord) {
		b.recorder.RecordAttempt(record)
		if record.Error != "" {
			b.hub.Log("rtcclient", fmt.Sprintf("attempt %d (%s) failed: %s", record.Attempt, record.Trigger, record.Error))
		}

		b.mu.RLock()
		handlers := b.onAttempt
		b.mu.RUnlock()
		for _, fn := range handlers {
			fn(record)
		}
	})

	b.client.SetTrafficHandler(func(outbound bool, eventType string) {
		b.recorder.RecordTraffic(outbound, eventType)
		logger.Debugf("[main] traffic outbound=%v type=%s", outbound, eventType)
	})
}

func (b *bridge) addStateHandler(fn rtcclient.StateChangeHandler) {
	b.mu.Lock()
	b.onState = append(b.onState, fn)
	b.mu.Unlock()
}

func (b *bridge) addStatusHandler(fn rtcclient.StatusHandler) {
	b.mu.Lock()
	b.onStatus = append(b.onStatus, fn)
	b.mu.Unlock()
}

func (b *bridge) addAttemptHandler(fn rtcclient.AttemptHandler) {
	b.mu.Lock()
	b.onAttempt = append(b.onAttempt, fn)
	b.mu.Unlock()
}

// snapshot 新订阅者看到的当前阶段与转写
func (b *bridge) snapshot() []logger.StatusMessage {
	state := b.client.State().String()
	messages := []logger.StatusMessage{{Kind: logger.KindState, State: state}}
	if text := b.client.TranscriptText(); text != "" {
		messages = append(messages, logger.StatusMessage{Kind: logger.KindTranscript, Text: text})
	}
	return messages
}

// subscribeConfig 热重载时更新生命周期时序与日志级别
func (b *bridge) subscribeConfig(manager *config.Manager) {
	manager.OnChange(func(cfg *config.VoiceConfig) {
		b.client.UpdateConfig(cfg.ClientConfig())
		logger.SetLevel(cfg.Logging.Level)
		b.hub.Log("config", "configuration reloaded")
	})
}

// openStore 配置了 DSN 时打开连接历史存储，失败只告警
func (b *bridge) openStore(ctx context.Context, cfg *config.VoiceConfig) func() {
	if cfg.Database.DSN == "" {
		log.Printf("[main] database.dsn not set, attempt history disabled")
		return func() {}
	}

	pool, err := database.ConnectPgx(ctx, database.Config{DSN: cfg.Database.DSN, MaxConns: cfg.Database.MaxConns})
	if err != nil {
		log.Printf("[main] attempt history disabled: %v", err)
		return func() {}
	}

	store := database.NewAttemptStore(pool, 128)
	if err := store.EnsureSchema(ctx); err != nil {
		log.Printf("[main] attempt history disabled: %v", err)
		store.Close()
		pool.Close()
		return func() {}
	}

	b.addAttemptHandler(store.Record)
	return func() {
		store.Close()
		pool.Close()
	}
}

// runServe 启动 HTTP 与 gRPC 服务，等待信号后优雅关闭
func runServe(manager *config.Manager, cfg *config.VoiceConfig) {
	fmt.Println("🏓 PongVoiceBridge - VR Pong 语音助手桥接服务")
	fmt.Println("=================================================")

	b, err := newBridge(cfg)
	if err != nil {
		log.Fatalf("[main] failed to build bridge: %v", err)
	}
	b.subscribeConfig(manager)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	closeStore := b.openStore(ctx, cfg)

	b.health = grpcserver.NewHealthServer(cfg.Server.GRPCAddr)
	b.addStateHandler(func(_, newState rtcclient.ClientState) {
		b.health.UpdatePhase(newState)
	})

	go b.hub.Run(ctx)
	go b.relay.Run(ctx)

	api := httpserver.NewAPIServer(cfg.Server.HTTPAddr, cfg.Server.AllowedOrigins, httpserver.Backend{
		Client:   b.client,
		Events:   b.relay,
		Timeline: b.recorder,
		Stream:   http.HandlerFunc(b.hub.HandleWebSocket),
	})

	go func() {
		if err := api.Start(); err != nil {
			log.Printf("[main] HTTP server error: %v", err)
			cancel()
		}
	}()
	go func() {
		if err := b.health.Start(); err != nil {
			log.Printf("[main] gRPC server error: %v", err)
			cancel()
		}
	}()

	fmt.Printf("✅ HTTP API: http://localhost%s/api/v1/status\n", cfg.Server.HTTPAddr)
	fmt.Printf("🎮 状态流: ws://localhost%s/ws\n", cfg.Server.HTTPAddr)
	fmt.Printf("🩺 gRPC 健康检查: %s (service=%s)\n", cfg.Server.GRPCAddr, grpcserver.ServiceName)

	waitForSignal(ctx)
	fmt.Println("\n🔄 正在关闭服务...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := api.Stop(shutdownCtx); err != nil {
		log.Printf("[main] HTTP shutdown error: %v", err)
	}
	b.health.Stop()
	b.client.Close()
	b.recorder.RecordClose("shutdown")
	cancel()
	closeStore()

	fmt.Println("✅ 服务已关闭")
}

// runConnect 无界面模式：直接连接并把状态与转写打印到标准输出
func runConnect(manager *config.Manager, cfg *config.VoiceConfig, say string) {
	b, err := newBridge(cfg)
	if err != nil {
		log.Fatalf("[main] failed to build bridge: %v", err)
	}
	b.subscribeConfig(manager)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.relay.Run(ctx)

	b.addStatusHandler(func(text string) {
		fmt.Printf("📣 %s\n", text)
	})
	b.client.SetTranscriptHandler(func(text string) {
		fmt.Printf("💬 %s\n", text)
	})

	var sayOnce sync.Once
	b.addStateHandler(func(_, newState rtcclient.ClientState) {
		if say == "" || newState != rtcclient.StateConnected {
			return
		}
		sayOnce.Do(func() {
			if err := b.client.SendUserText(say); err != nil {
				log.Printf("[main] failed to send %q: %v", say, err)
			}
		})
	})

	if err := b.client.Connect(ctx); err != nil {
		log.Fatalf("[main] connect failed: %v", err)
	}

	waitForSignal(ctx)
	b.client.Close()
	b.recorder.RecordClose("interrupted")

	stats := b.recorder.GetStats()
	fmt.Printf("📊 attempts=%d reconnects=%d errors=%d sent=%d received=%d remote_audio=%v\n",
		stats.Attempts, stats.Reconnects, stats.Errors, stats.MessagesSent, stats.MessagesReceived,
		b.sink.GetStats()["remote_bytes"])
}

func waitForSignal(ctx context.Context) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case <-c:
	case <-ctx.Done():
	}
}

// runDemo 运行演示模式
func runDemo() {
	fmt.Println("🏓 PongVoiceBridge - VR Pong 语音助手桥接服务")
	fmt.Println("=================================================")
	fmt.Println()

	fmt.Println("📋 项目特性:")
	fmt.Println("  ✅ WebRTC 语音会话 (SDP offer/answer over HTTP)")
	fmt.Println("  ✅ 连接生命周期管理 + 自动重连 (首次 5s，之后固定 10s)")
	fmt.Println("  ✅ 游戏事件中继，永不阻塞游戏循环")
	fmt.Println("  ✅ WebSocket 状态流 + gRPC 健康检查")
	fmt.Println("  ✅ PostgreSQL 连接历史 (可选)")
	fmt.Println()

	fmt.Println("🔧 快速开始:")
	fmt.Println("  # 启动桥接服务")
	fmt.Println("  OPENAI_API_KEY=sk-... go run main.go -mode=serve")
	fmt.Println()
	fmt.Println("  # 页面触发连接并上报比分")
	fmt.Println("  curl -X POST localhost:8088/api/v1/connect")
	fmt.Println(`  curl -X POST localhost:8088/api/v1/events -d '{"kind":"player_scored","fields":{"playerScore":3,"aiScore":1}}'`)
	fmt.Println()
	fmt.Println("  # 无界面模式，连接后说一句话")
	fmt.Println(`  go run main.go -mode=connect -say="Who is winning?"`)
	fmt.Println()

	fmt.Println("📚 配置:")
	fmt.Println("  configs/voice-config.yaml，环境变量前缀 VOICE_ (如 VOICE_LIFECYCLE_COOLDOWN=5s)")
}
