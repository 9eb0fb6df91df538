package rtcclient

import (
	"context"

	"PongVoiceBridge/internal/media"
	"PongVoiceBridge/internal/negotiate"
	"PongVoiceBridge/internal/protocol"
	"PongVoiceBridge/internal/transport"
)

// MediaSource 获取采集句柄，*media.Acquirer 实现了该接口
type MediaSource interface {
	Acquire(ctx context.Context) (media.Capture, error)
}

// Transport 已协商的传输会话，*transport.Session 实现了该接口
type Transport interface {
	ID() string
	Send(msg protocol.Outbound) error
	OnControlMessage(handler transport.MessageHandler)
	OnHealthChange(handler transport.HealthHandler)
	Opened() <-chan struct{}
	Close() error
}

// Negotiator 用采集句柄建立传输会话。失败时须释放 capture。
type Negotiator interface {
	Negotiate(ctx context.Context, capture media.Capture) (Transport, error)
}

// PeerNegotiator 先取凭证再执行 WebRTC 协商
type PeerNegotiator struct {
	Negotiator  *negotiate.Negotiator
	Credentials negotiate.CredentialSource
}

func (p *PeerNegotiator) Negotiate(ctx context.Context, capture media.Capture) (Transport, error) {
	credential, err := p.Credentials.Credential(ctx)
	if err != nil {
		if capture != nil {
			capture.Close()
		}
		return nil, err
	}

	session, err := p.Negotiator.Negotiate(ctx, capture, credential)
	if err != nil {
		return nil, err
	}
	return session, nil
}
