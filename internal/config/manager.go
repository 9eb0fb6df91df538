package config

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Manager 配置管理器：加载、热重载与变更通知
type Manager struct {
	mu          sync.RWMutex
	config      *VoiceConfig
	v           *viper.Viper
	configPath  string
	envFile     string
	watchEnable bool
	subscribers []func(*VoiceConfig)
}

// ManagerOption 配置管理器选项
type ManagerOption func(*Manager)

// WithConfigPath 指定配置文件路径，跳过默认搜索路径
func WithConfigPath(path string) ManagerOption {
	return func(m *Manager) {
		m.configPath = path
	}
}

// WithEnvFile 指定 .env 文件
func WithEnvFile(path string) ManagerOption {
	return func(m *Manager) {
		m.envFile = path
	}
}

// WithWatchEnabled 启用配置文件监控
func WithWatchEnabled(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.watchEnable = enabled
	}
}

// NewManager 创建配置管理器
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load 加载配置。文件无法解析或校验失败时退回最小配置并告警；
// 显式指定的文件不存在时返回错误。
func (m *Manager) Load() (*VoiceConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config != nil {
		return m.config, nil
	}

	loadEnvFile(m.envFile)

	if m.configPath != "" {
		if _, err := os.Stat(m.configPath); err != nil {
			return nil, fmt.Errorf("config file %s: %w", m.configPath, err)
		}
	}

	config, v, err := loadConfigFromFile(m.configPath)
	if err != nil {
		log.Printf("[config] warning: %v, using minimal config", err)
		config = createMinimalConfig()
	}

	m.config = config
	m.v = v

	if m.watchEnable && v != nil && v.ConfigFileUsed() != "" {
		v.OnConfigChange(m.handleChange)
		v.WatchConfig()
		log.Printf("[config] watching %s", v.ConfigFileUsed())
	}
	return m.config, nil
}

// Get 当前配置，未加载时先加载
func (m *Manager) Get() *VoiceConfig {
	m.mu.RLock()
	config := m.config
	m.mu.RUnlock()
	if config != nil {
		return config
	}

	config, err := m.Load()
	if err != nil {
		log.Printf("[config] warning: %v, using minimal config", err)
		return createMinimalConfig()
	}
	return config
}

// OnChange 订阅热重载后的新配置
func (m *Manager) OnChange(fn func(*VoiceConfig)) {
	m.mu.Lock()
	m.subscribers = append(m.subscribers, fn)
	m.mu.Unlock()
}

// ConfigFileUsed 实际使用的配置文件
func (m *Manager) ConfigFileUsed() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.v == nil {
		return ""
	}
	return m.v.ConfigFileUsed()
}

// handleChange 文件变化时重新读取；校验失败则保留旧配置
func (m *Manager) handleChange(e fsnotify.Event) {
	log.Printf("[config] config file changed: %s (%s)", e.Name, e.Op)
	if err := m.reload(); err != nil {
		log.Printf("[config] reload rejected, keeping previous config: %v", err)
	}
}

// reload 重新加载配置
func (m *Manager) reload() error {
	m.mu.Lock()
	v := m.v
	m.mu.Unlock()
	if v == nil {
		return fmt.Errorf("configuration not loaded")
	}

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to re-read config: %w", err)
	}
	config, err := decode(v)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.config = config
	subscribers := append([]func(*VoiceConfig){}, m.subscribers...)
	m.mu.Unlock()

	for _, fn := range subscribers {
		fn(config)
	}
	log.Printf("[config] configuration reloaded")
	return nil
}
