package grpcserver

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"PongVoiceBridge/internal/rtcclient"
)

// ServiceName 语音会话在健康检查中的服务名
const ServiceName = "pongvoice.Session"

// HealthServer 通过标准 grpc.health.v1 暴露语音会话阶段。
// 整体状态 "" 始终 SERVING；ServiceName 仅在 Connected 时 SERVING。
type HealthServer struct {
	addr   string
	server *grpc.Server
	health *health.Server

	mu    sync.RWMutex
	phase rtcclient.ClientState
}

// NewHealthServer 创建健康检查服务
func NewHealthServer(addr string) *HealthServer {
	s := &HealthServer{
		addr:   addr,
		server: grpc.NewServer(),
		health: health.NewServer(),
		phase:  rtcclient.StateIdle,
	}

	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// UpdatePhase 生命周期状态变化时调用
func (s *HealthServer) UpdatePhase(state rtcclient.ClientState) {
	s.mu.Lock()
	s.phase = state
	s.mu.Unlock()

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if state == rtcclient.StateConnected {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
}

// Phase 最近一次上报的阶段
func (s *HealthServer) Phase() rtcclient.ClientState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Start 监听配置的地址并阻塞服务
func (s *HealthServer) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(lis)
}

// Serve 在给定 listener 上服务
func (s *HealthServer) Serve(lis net.Listener) error {
	log.Printf("[grpc] health service listening on %s", lis.Addr())
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop 优雅关闭，所有状态置为 NOT_SERVING
func (s *HealthServer) Stop() {
	log.Printf("[grpc] stopping health service")
	s.health.Shutdown()
	s.server.GracefulStop()
}
