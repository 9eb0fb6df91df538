package negotiate

import "fmt"

// 协商失败原因
const (
	ReasonHTTP       = "http"
	ReasonTimeout    = "timeout"
	ReasonFailed     = "failed"
	ReasonTransport  = "transport"
	ReasonCredential = "credential"
	ReasonCancelled  = "cancelled"
)

// NegotiationError 协商失败。本组件不重试，重试策略由生命周期管理器决定。
type NegotiationError struct {
	Status int    // 协商端点返回的 HTTP 状态码（ReasonHTTP 时有效）
	Body   string // 协商端点返回的错误正文
	Reason string
	Err    error
}

func (e *NegotiationError) Error() string {
	switch e.Reason {
	case ReasonHTTP:
		return fmt.Sprintf("negotiation rejected: status=%d body=%q", e.Status, e.Body)
	default:
		if e.Err != nil {
			return fmt.Sprintf("negotiation %s: %v", e.Reason, e.Err)
		}
		return fmt.Sprintf("negotiation %s", e.Reason)
	}
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// IsTimeout 是否为连接建立超时
func (e *NegotiationError) IsTimeout() bool {
	return e.Reason == ReasonTimeout
}
