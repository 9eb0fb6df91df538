package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// VoiceConfig 语音桥接服务配置
type VoiceConfig struct {
	Service     ServiceConfig     `mapstructure:"service"`
	Negotiation NegotiationConfig `mapstructure:"negotiation"`
	Lifecycle   LifecycleConfig   `mapstructure:"lifecycle"`
	Media       MediaConfig       `mapstructure:"media"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type ServiceConfig struct {
	Endpoint     string `mapstructure:"endpoint"`
	Model        string `mapstructure:"model"`
	APIKey       string `mapstructure:"api_key"`
	TokenURL     string `mapstructure:"token_url"` // 设置后每次协商前换取临时 key
	Voice        string `mapstructure:"voice"`
	Instructions string `mapstructure:"instructions"`
}

type NegotiationConfig struct {
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	GatherPollInterval time.Duration `mapstructure:"gather_poll_interval"`
	AcceptConnecting   bool          `mapstructure:"accept_connecting"`
	ICEServers         []string      `mapstructure:"ice_servers"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
}

type LifecycleConfig struct {
	SettleDelay           time.Duration `mapstructure:"settle_delay"`
	GreetingDelay         time.Duration `mapstructure:"greeting_delay"`
	GreetingText          string        `mapstructure:"greeting_text"`
	GreetingRetryInterval time.Duration `mapstructure:"greeting_retry_interval"`
	GreetingMaxRetries    int           `mapstructure:"greeting_max_retries"`
	ResponseDelay         time.Duration `mapstructure:"response_delay"`
	InitialRetryDelay     time.Duration `mapstructure:"initial_retry_delay"`
	RetryBackoff          time.Duration `mapstructure:"retry_backoff"`
	Cooldown              time.Duration `mapstructure:"cooldown"`
	MaxReconnectAttempts  int           `mapstructure:"max_reconnect_attempts"` // 0 表示不设上限
}

type MediaConfig struct {
	SampleRate       int           `mapstructure:"sample_rate"`
	Channels         int           `mapstructure:"channels"`
	EchoCancellation bool          `mapstructure:"echo_cancellation"`
	NoiseSuppression bool          `mapstructure:"noise_suppression"`
	AutoGain         bool          `mapstructure:"auto_gain"`
	SelfTestTone     bool          `mapstructure:"self_test_tone"`
	ToneFrequency    float64       `mapstructure:"tone_frequency"`
	ToneDuration     time.Duration `mapstructure:"tone_duration"`
	Device           string        `mapstructure:"device"`
}

type ServerConfig struct {
	HTTPAddr       string   `mapstructure:"http_addr"`
	GRPCAddr       string   `mapstructure:"grpc_addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	EventQueueSize int      `mapstructure:"event_queue_size"`
}

type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"` // 为空时不记录连接历史
	MaxConns int32  `mapstructure:"max_conns"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

const (
	configName = "voice-config"
	envPrefix  = "VOICE"
)

// loadEnvFile 加载 .env，文件不存在不算错误
func loadEnvFile(path string) {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[config] failed to load %s: %v", path, err)
	}
}

// newViper 创建带默认值与环境变量映射的 viper 实例
func newViper(path string) *viper.Viper {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath(".")
	}

	// VOICE_LIFECYCLE_COOLDOWN -> lifecycle.cooldown
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaultValues(v)
	return v
}

// loadConfigFromFile 使用 Viper 从文件加载配置
func loadConfigFromFile(path string) (*VoiceConfig, *viper.Viper, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, v, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Printf("[config] %s.yaml not found, using defaults", configName)
	}

	config, err := decode(v)
	if err != nil {
		return nil, v, err
	}
	return config, v, nil
}

// decode 解析并校验
func decode(v *viper.Viper) (*VoiceConfig, error) {
	var config VoiceConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Service.APIKey == "" {
		config.Service.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// setDefaultValues 设置默认配置值
func setDefaultValues(v *viper.Viper) {
	// 远端服务
	v.SetDefault("service.endpoint", "https://api.openai.com/v1/realtime")
	v.SetDefault("service.model", "gpt-4o-realtime-preview")
	v.SetDefault("service.api_key", "")
	v.SetDefault("service.token_url", "")
	v.SetDefault("service.voice", "")
	v.SetDefault("service.instructions", "")

	// 协商
	v.SetDefault("negotiation.connect_timeout", "15s")
	v.SetDefault("negotiation.gather_poll_interval", "100ms")
	v.SetDefault("negotiation.accept_connecting", true)
	v.SetDefault("negotiation.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("negotiation.request_timeout", "30s")

	// 生命周期
	v.SetDefault("lifecycle.settle_delay", "3s")
	v.SetDefault("lifecycle.greeting_delay", "2s")
	v.SetDefault("lifecycle.greeting_text", "The player just joined the VR Pong arena. Say a short hello and offer to commentate the match.")
	v.SetDefault("lifecycle.greeting_retry_interval", "2s")
	v.SetDefault("lifecycle.greeting_max_retries", 3)
	v.SetDefault("lifecycle.response_delay", "500ms")
	v.SetDefault("lifecycle.initial_retry_delay", "5s")
	v.SetDefault("lifecycle.retry_backoff", "10s")
	v.SetDefault("lifecycle.cooldown", "3s")
	v.SetDefault("lifecycle.max_reconnect_attempts", 0)

	// 媒体
	v.SetDefault("media.sample_rate", 24000)
	v.SetDefault("media.channels", 1)
	v.SetDefault("media.echo_cancellation", true)
	v.SetDefault("media.noise_suppression", true)
	v.SetDefault("media.auto_gain", true)
	v.SetDefault("media.self_test_tone", true)
	v.SetDefault("media.tone_frequency", 440.0)
	v.SetDefault("media.tone_duration", "150ms")
	v.SetDefault("media.device", "silence")

	// 服务端
	v.SetDefault("server.http_addr", ":8088")
	v.SetDefault("server.grpc_addr", ":8089")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.event_queue_size", 64)

	// 数据库
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 5)

	// 日志
	v.SetDefault("logging.level", "info")
}

// validateConfig 验证配置有效性
func validateConfig(config *VoiceConfig) error {
	if config.Service.Endpoint == "" {
		return fmt.Errorf("service.endpoint is required")
	}

	timeouts := map[string]time.Duration{
		"negotiation.connect_timeout":       config.Negotiation.ConnectTimeout,
		"negotiation.gather_poll_interval":  config.Negotiation.GatherPollInterval,
		"negotiation.request_timeout":       config.Negotiation.RequestTimeout,
		"lifecycle.settle_delay":            config.Lifecycle.SettleDelay,
		"lifecycle.greeting_delay":          config.Lifecycle.GreetingDelay,
		"lifecycle.greeting_retry_interval": config.Lifecycle.GreetingRetryInterval,
		"lifecycle.response_delay":          config.Lifecycle.ResponseDelay,
		"lifecycle.initial_retry_delay":     config.Lifecycle.InitialRetryDelay,
		"lifecycle.retry_backoff":           config.Lifecycle.RetryBackoff,
		"lifecycle.cooldown":                config.Lifecycle.Cooldown,
	}
	for key, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("invalid %s: %v (must be positive)", key, d)
		}
	}

	if config.Lifecycle.GreetingMaxRetries < 0 {
		return fmt.Errorf("invalid lifecycle.greeting_max_retries: %d", config.Lifecycle.GreetingMaxRetries)
	}
	if config.Lifecycle.MaxReconnectAttempts < 0 {
		return fmt.Errorf("invalid lifecycle.max_reconnect_attempts: %d", config.Lifecycle.MaxReconnectAttempts)
	}

	if config.Media.SampleRate < 8000 || config.Media.SampleRate > 48000 {
		return fmt.Errorf("invalid media.sample_rate: %d (must be between 8000 and 48000)", config.Media.SampleRate)
	}
	if config.Media.Channels != 1 {
		return fmt.Errorf("invalid media.channels: %d (only mono capture is supported)", config.Media.Channels)
	}

	if config.Database.MaxConns < 1 {
		return fmt.Errorf("invalid database.max_conns: %d", config.Database.MaxConns)
	}

	return nil
}

// createMinimalConfig 创建最小可用配置，与默认值一致
func createMinimalConfig() *VoiceConfig {
	return &VoiceConfig{
		Service: ServiceConfig{
			Endpoint: "https://api.openai.com/v1/realtime",
			Model:    "gpt-4o-realtime-preview",
			APIKey:   os.Getenv("OPENAI_API_KEY"),
		},
		Negotiation: NegotiationConfig{
			ConnectTimeout:     15 * time.Second,
			GatherPollInterval: 100 * time.Millisecond,
			AcceptConnecting:   true,
			ICEServers:         []string{"stun:stun.l.google.com:19302"},
			RequestTimeout:     30 * time.Second,
		},
		Lifecycle: LifecycleConfig{
			SettleDelay:           3 * time.Second,
			GreetingDelay:         2 * time.Second,
			GreetingText:          "The player just joined the VR Pong arena. Say a short hello and offer to commentate the match.",
			GreetingRetryInterval: 2 * time.Second,
			GreetingMaxRetries:    3,
			ResponseDelay:         500 * time.Millisecond,
			InitialRetryDelay:     5 * time.Second,
			RetryBackoff:          10 * time.Second,
			Cooldown:              3 * time.Second,
		},
		Media: MediaConfig{
			SampleRate:       24000,
			Channels:         1,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGain:         true,
			SelfTestTone:     true,
			ToneFrequency:    440,
			ToneDuration:     150 * time.Millisecond,
			Device:           "silence",
		},
		Server: ServerConfig{
			HTTPAddr:       ":8088",
			GRPCAddr:       ":8089",
			AllowedOrigins: []string{"*"},
			EventQueueSize: 64,
		},
		Database: DatabaseConfig{MaxConns: 5},
		Logging:  LoggingConfig{Level: "info"},
	}
}
