package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// FrameDuration 每个编码帧的时长
const FrameDuration = 20 * time.Millisecond

// opusSilenceFrame 20ms Opus 静音帧
var opusSilenceFrame = []byte{0xf8, 0xff, 0xfe}

var errSourceClosed = errors.New("capture source closed")

// NewDevice 根据名称创建采集设备
func NewDevice(name string) (Device, error) {
	switch name {
	case "", "silence":
		return &SilenceDevice{}, nil
	case "none":
		return &UnavailableDevice{DeviceName: name, Err: ErrNoDevice}, nil
	case "denied":
		return &UnavailableDevice{DeviceName: name, Err: ErrPermissionDenied}, nil
	default:
		return nil, fmt.Errorf("unknown capture device %q", name)
	}
}

// SilenceDevice 按 20ms 节奏输出 Opus 静音帧，保证上行音轨始终存在
type SilenceDevice struct{}

func (d *SilenceDevice) Name() string { return "silence" }

func (d *SilenceDevice) Open(c Constraints) (SampleSource, error) {
	if c.ChannelCount != 1 {
		return nil, fmt.Errorf("%w: silence device is mono only", ErrNoDevice)
	}
	return &silenceSource{
		ticker: time.NewTicker(FrameDuration),
		closed: make(chan struct{}),
	}, nil
}

type silenceSource struct {
	ticker    *time.Ticker
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *silenceSource) ReadSample(ctx context.Context) (pionmedia.Sample, error) {
	select {
	case <-ctx.Done():
		return pionmedia.Sample{}, ctx.Err()
	case <-s.closed:
		return pionmedia.Sample{}, errSourceClosed
	case <-s.ticker.C:
		return pionmedia.Sample{Data: opusSilenceFrame, Duration: FrameDuration}, nil
	}
}

func (s *silenceSource) Close() error {
	s.closeOnce.Do(func() {
		s.ticker.Stop()
		close(s.closed)
	})
	return nil
}

// UnavailableDevice 总是打开失败的设备（无设备或权限被拒）
type UnavailableDevice struct {
	DeviceName string
	Err        error
}

func (d *UnavailableDevice) Name() string { return d.DeviceName }

func (d *UnavailableDevice) Open(Constraints) (SampleSource, error) {
	return nil, d.Err
}

// CountingSink 无声卡环境下的播放出口，只做计数
type CountingSink struct {
	tonesPlayed   atomic.Int64
	remotePackets atomic.Int64
	remoteBytes   atomic.Int64
}

// NewCountingSink 创建计数播放出口
func NewCountingSink() *CountingSink {
	return &CountingSink{}
}

func (s *CountingSink) PlayPCM(samples []int16, sampleRate int) error {
	if len(samples) == 0 || sampleRate <= 0 {
		return errors.New("empty playback buffer")
	}
	s.tonesPlayed.Add(1)
	return nil
}

func (s *CountingSink) WriteRemote(payload []byte) error {
	s.remotePackets.Add(1)
	s.remoteBytes.Add(int64(len(payload)))
	return nil
}

// GetStats 获取播放统计
func (s *CountingSink) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"tones_played":   s.tonesPlayed.Load(),
		"remote_packets": s.remotePackets.Load(),
		"remote_bytes":   s.remoteBytes.Load(),
	}
}
