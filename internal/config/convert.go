package config

import (
	"PongVoiceBridge/internal/media"
	"PongVoiceBridge/internal/negotiate"
	"PongVoiceBridge/internal/protocol"
	"PongVoiceBridge/internal/rtcclient"
)

// ClientConfig 生命周期管理器配置
func (c *VoiceConfig) ClientConfig() *rtcclient.Config {
	l := c.Lifecycle
	return &rtcclient.Config{
		SettleDelay:           l.SettleDelay,
		GreetingDelay:         l.GreetingDelay,
		GreetingText:          l.GreetingText,
		GreetingRetryInterval: l.GreetingRetryInterval,
		GreetingMaxRetries:    l.GreetingMaxRetries,
		ResponseDelay:         l.ResponseDelay,
		InitialRetryDelay:     l.InitialRetryDelay,
		RetryBackoff:          l.RetryBackoff,
		Cooldown:              l.Cooldown,
		MaxReconnectAttempts:  l.MaxReconnectAttempts,
		Instructions:          c.Service.Instructions,
		Voice:                 c.Service.Voice,
		Modalities:            protocol.DefaultModalities,
	}
}

// NegotiatorConfig 协商器配置
func (c *VoiceConfig) NegotiatorConfig() negotiate.Config {
	cfg := negotiate.DefaultConfig()
	cfg.Endpoint = c.Service.Endpoint
	cfg.Model = c.Service.Model
	cfg.ConnectTimeout = c.Negotiation.ConnectTimeout
	cfg.GatherPollInterval = c.Negotiation.GatherPollInterval
	cfg.AcceptConnecting = c.Negotiation.AcceptConnecting
	cfg.ICEServers = c.Negotiation.ICEServers
	cfg.RequestTimeout = c.Negotiation.RequestTimeout
	return cfg
}

// AcquirerConfig 媒体获取配置
func (c *VoiceConfig) AcquirerConfig() media.Config {
	m := c.Media
	return media.Config{
		Constraints: media.Constraints{
			EchoCancellation: m.EchoCancellation,
			NoiseSuppression: m.NoiseSuppression,
			AutoGainControl:  m.AutoGain,
			ChannelCount:     m.Channels,
			SampleRate:       m.SampleRate,
		},
		SelfTest:      m.SelfTestTone,
		ToneFrequency: m.ToneFrequency,
		ToneDuration:  m.ToneDuration,
	}
}

// Credentials 协商凭证来源
func (c *VoiceConfig) Credentials() negotiate.CredentialSource {
	return negotiate.NewCredentialSource(c.Service.APIKey, c.Service.TokenURL, c.Service.Model, c.Service.Voice)
}
