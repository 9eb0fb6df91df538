package rtcclient

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// fixedSchedule 第一次返回 first，此后固定返回 then（非指数）
type fixedSchedule struct {
	first time.Duration
	then  time.Duration
	calls int
}

func (s *fixedSchedule) NextBackOff() time.Duration {
	s.calls++
	if s.calls == 1 {
		return s.first
	}
	return s.then
}

func (s *fixedSchedule) Reset() {
	s.calls = 0
}

// retime 调整等待时间，不影响已经计数的次数
func (s *fixedSchedule) retime(first, then time.Duration) {
	s.first = first
	s.then = then
}

// NewRetrySchedule 自动重连的等待序列。maxRetries 为 0 时不设上限。
func NewRetrySchedule(first, then time.Duration, maxRetries int) backoff.BackOff {
	return withCeiling(&fixedSchedule{first: first, then: then}, maxRetries)
}

func withCeiling(b backoff.BackOff, maxRetries int) backoff.BackOff {
	if maxRetries > 0 {
		return backoff.WithMaxRetries(b, uint64(maxRetries))
	}
	return b
}

// newGreetingSchedule 问候消息自己的重试序列，与重连无关
func newGreetingSchedule(interval time.Duration, maxRetries int) backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(maxRetries))
}
