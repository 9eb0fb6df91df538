package loadtest

import (
	"context"
	"fmt"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthProbe 查询桥接服务的 gRPC 健康状态
type HealthProbe struct {
	conn    *grpc.ClientConn
	client  healthpb.HealthClient
	service string
}

// NewHealthProbe 创建探针，opts 为空时使用明文连接
func NewHealthProbe(target, service string, opts ...grpc.DialOption) (*HealthProbe, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	return &HealthProbe{conn: conn, client: healthpb.NewHealthClient(conn), service: service}, nil
}

// Serving 当前是否 SERVING
func (p *HealthProbe) Serving(ctx context.Context) (bool, error) {
	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// WaitServing 轮询直到 SERVING 或 ctx 结束
func (p *HealthProbe) WaitServing(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := p.Serving(ctx)
		if ok {
			return nil
		}
		if err != nil {
			log.Printf("[loadtest] health check failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s not serving: %w", p.service, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close 关闭连接
func (p *HealthProbe) Close() error {
	return p.conn.Close()
}
