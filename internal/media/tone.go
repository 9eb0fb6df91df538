package media

import (
	"math"
	"time"
)

const (
	toneAmplitude = 0.2
	toneFade      = 10 * time.Millisecond
)

// GenerateTone 生成带淡入淡出的正弦提示音（16bit PCM，单声道）
func GenerateTone(frequency float64, duration time.Duration, sampleRate int) []int16 {
	if frequency <= 0 || duration <= 0 || sampleRate <= 0 {
		return nil
	}

	n := int(duration.Seconds() * float64(sampleRate))
	fade := int(toneFade.Seconds() * float64(sampleRate))
	if fade*2 > n {
		fade = n / 2
	}

	out := make([]int16, n)
	for i := 0; i < n; i++ {
		gain := toneAmplitude
		switch {
		case fade > 0 && i < fade:
			gain *= float64(i) / float64(fade)
		case fade > 0 && i >= n-fade:
			gain *= float64(n-1-i) / float64(fade)
		}
		v := math.Sin(2 * math.Pi * frequency * float64(i) / float64(sampleRate))
		out[i] = int16(v * gain * math.MaxInt16)
	}
	return out
}

// PeakAmplitude 返回 PCM 峰值（0.0-1.0）
func PeakAmplitude(samples []int16) float64 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	return peak / 32768.0
}
