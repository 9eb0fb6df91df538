package media

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// Constraints 麦克风采集约束
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	ChannelCount     int
	SampleRate       int
}

// DefaultConstraints 语音场景的固定约束：回声消除、降噪、自动增益、单声道、低采样率
func DefaultConstraints() Constraints {
	return Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		ChannelCount:     1,
		SampleRate:       24000,
	}
}

// SampleSource 采集设备输出的已编码音频帧
type SampleSource interface {
	ReadSample(ctx context.Context) (pionmedia.Sample, error)
	Close() error
}

// Device 采集设备
type Device interface {
	Name() string
	Open(c Constraints) (SampleSource, error)
}

// PlaybackSink 本地播放出口
type PlaybackSink interface {
	// PlayPCM 播放一段 16bit PCM，用于自检提示音
	PlayPCM(samples []int16, sampleRate int) error
	// WriteRemote 写入远端音轨的一个编码负载
	WriteRemote(payload []byte) error
}

// Capture 已获取的采集句柄，由传输会话持有并在 Close 时释放
type Capture interface {
	Track() webrtc.TrackLocal
	Close() error
}

// Config 媒体获取配置
type Config struct {
	Constraints   Constraints
	SelfTest      bool
	ToneFrequency float64
	ToneDuration  time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Constraints:   DefaultConstraints(),
		SelfTest:      true,
		ToneFrequency: 440,
		ToneDuration:  150 * time.Millisecond,
	}
}

// Acquirer 负责获取采集流并在协商前自检播放链路
type Acquirer struct {
	device Device
	sink   PlaybackSink
	config Config
}

// NewAcquirer 创建媒体获取器
func NewAcquirer(device Device, sink PlaybackSink, config Config) *Acquirer {
	if device == nil {
		panic("device cannot be nil")
	}
	if sink == nil {
		sink = NewCountingSink()
	}
	return &Acquirer{device: device, sink: sink, config: config}
}

// Sink 返回播放出口，协商器用它承接远端音轨
func (a *Acquirer) Sink() PlaybackSink {
	return a.sink
}

// newLocalTrack 创建本地 Opus 音轨
var newLocalTrack = func() (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "pong-voice-mic",
	)
}

// Acquire 打开采集设备、执行提示音自检并创建本地音轨。
// 失败一律返回 *MediaError，调用方不应自动重试。
func (a *Acquirer) Acquire(ctx context.Context) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	source, err := a.device.Open(a.config.Constraints)
	if err != nil {
		kind := KindNoDevice
		if errors.Is(err, ErrPermissionDenied) {
			kind = KindPermission
		}
		return nil, &MediaError{Kind: kind, Device: a.device.Name(), Err: err}
	}

	if a.config.SelfTest {
		tone := GenerateTone(a.config.ToneFrequency, a.config.ToneDuration, a.config.Constraints.SampleRate)
		if err := a.sink.PlayPCM(tone, a.config.Constraints.SampleRate); err != nil {
			source.Close()
			return nil, &MediaError{Kind: KindOutput, Device: a.device.Name(), Err: err}
		}
	}

	track, err := newLocalTrack()
	if err != nil {
		source.Close()
		return nil, &MediaError{Kind: KindTrack, Device: a.device.Name(), Err: fmt.Errorf("create local audio track: %w", err)}
	}

	handle := newCaptureHandle(track, source)
	log.Printf("[media] capture acquired: device=%s rate=%d channels=%d",
		a.device.Name(), a.config.Constraints.SampleRate, a.config.Constraints.ChannelCount)
	return handle, nil
}

// CaptureHandle 采集句柄：后台把设备帧写入本地音轨
type CaptureHandle struct {
	track  *webrtc.TrackLocalStaticSample
	source SampleSource

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newCaptureHandle(track *webrtc.TrackLocalStaticSample, source SampleSource) *CaptureHandle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &CaptureHandle{
		track:  track,
		source: source,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go h.pump(ctx)
	return h
}

// Track 返回本地音轨
func (h *CaptureHandle) Track() webrtc.TrackLocal {
	return h.track
}

// Close 停止采集并释放设备，可重复调用
func (h *CaptureHandle) Close() error {
	h.closeOnce.Do(func() {
		h.cancel()
		h.closeErr = h.source.Close()
		<-h.done
	})
	return h.closeErr
}

func (h *CaptureHandle) pump(ctx context.Context) {
	defer close(h.done)
	for {
		sample, err := h.source.ReadSample(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[media] capture source stopped: %v", err)
			}
			return
		}
		// 未绑定到连接时写入会被丢弃，这里不视为错误
		if err := h.track.WriteSample(sample); err != nil && ctx.Err() == nil {
			log.Printf("[media] write sample failed: %v", err)
		}
	}
}
