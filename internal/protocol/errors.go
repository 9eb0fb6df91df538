package protocol

import "fmt"

// ProtocolError 协议契约错误：负载被远端拒绝，或在本地校验时就已不合法。
// 重发同一负载不可能成功，因此不会触发自动重试。
type ProtocolError struct {
	Type      string // 远端错误类型，如 invalid_request_error
	Code      string
	Message   string
	EventType string // 出错的出站事件类型（已知时）
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Code != "" && e.EventType != "":
		return fmt.Sprintf("protocol error (%s) on %s: %s", e.Code, e.EventType, e.Message)
	case e.Code != "":
		return fmt.Sprintf("protocol error (%s): %s", e.Code, e.Message)
	default:
		return fmt.Sprintf("protocol error: %s", e.Message)
	}
}

// FromEvent 将入站 error 事件转换为 ProtocolError
func FromEvent(ev *Event) *ProtocolError {
	if ev == nil || ev.Error == nil {
		return &ProtocolError{Message: "remote reported an error without detail"}
	}
	return &ProtocolError{
		Type:    ev.Error.Type,
		Code:    ev.Error.Code,
		Message: ev.Error.Message,
	}
}
