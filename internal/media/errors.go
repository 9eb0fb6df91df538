package media

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrNoDevice         = errors.New("no capture device available")
)

// ErrorKind 媒体错误分类
type ErrorKind string

const (
	KindPermission ErrorKind = "permission"
	KindNoDevice   ErrorKind = "no_device"
	KindOutput     ErrorKind = "output"
	KindTrack      ErrorKind = "track"
)

// MediaError 媒体获取失败，对本次连接尝试是致命的，需要用户介入
type MediaError struct {
	Kind   ErrorKind
	Device string
	Err    error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("media %s error on device %q: %v", e.Kind, e.Device, e.Err)
}

func (e *MediaError) Unwrap() error {
	return e.Err
}

// UserMessage 面向用户的提示文本
func (e *MediaError) UserMessage() string {
	switch e.Kind {
	case KindPermission:
		return "Microphone access was denied. Allow microphone access and connect again."
	case KindNoDevice:
		return "No microphone was found. Plug one in and connect again."
	case KindOutput:
		return "Audio output check failed. Check your speakers and connect again."
	case KindTrack:
		return "The microphone stream could not be prepared. Connect again."
	default:
		return "Audio setup failed."
	}
}
