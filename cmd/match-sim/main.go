// Command match-sim 模拟一场 VR Pong 比赛，向语音桥接服务上报游戏事件
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PongVoiceBridge/internal/grpcserver"
	"PongVoiceBridge/internal/loadtest"
)

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:8088", "桥接服务 HTTP 地址")
		grpcAddr = flag.String("grpc", "", "gRPC 健康检查地址，设置后等待会话 SERVING 再开始")
		points   = flag.Int("points", 11, "获胜分数")
		rate     = flag.Float64("rate", 2, "每秒事件数")
		duration = flag.Duration("duration", 0, "最长运行时间 (0 表示打完整场)")
		seed     = flag.Uint64("seed", uint64(time.Now().UnixNano()), "随机种子")
		connect  = flag.Bool("connect", true, "开始前请求桥接服务建立语音会话")
		wait     = flag.Duration("wait", 30*time.Second, "等待会话 SERVING 的超时")
	)
	flag.Parse()

	fmt.Println("🏓 VR Pong 比赛模拟器")
	fmt.Println("=================================")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	config := loadtest.DefaultMatchConfig(*baseURL)
	config.PointsToWin = *points
	config.EventsPerSecond = *rate
	config.Duration = *duration
	config.Seed = *seed
	config.Connect = *connect

	if *grpcAddr != "" {
		if *connect {
			// 先发起连接，再等待健康状态
			config.Connect = false
			if err := loadtest.NewMatchSimulator(config).RequestConnect(ctx); err != nil {
				log.Fatalf("❌ %v", err)
			}
		}
		if err := waitServing(ctx, *grpcAddr, *wait); err != nil {
			log.Fatalf("❌ %v", err)
		}
		fmt.Println("✅ 语音会话已就绪")
	}

	result, err := loadtest.NewMatchSimulator(config).Run(ctx)
	if err != nil {
		log.Fatalf("❌ 模拟失败: %v", err)
	}

	fmt.Printf("\n📊 比赛结束 %d:%d (用时 %v)\n", result.FinalScore[0], result.FinalScore[1], result.Duration.Round(time.Millisecond))
	fmt.Printf("   事件总数: %d  已接收: %d  校验失败: %d  队列满: %d  失败: %d\n",
		result.TotalEvents, result.Accepted, result.Rejected, result.Throttled, result.Failed)
	fmt.Printf("   延迟 min/avg/p50/p95/max: %.2f/%.2f/%.2f/%.2f/%.2f ms\n",
		result.MinLatency, result.AvgLatency, result.P50Latency, result.P95Latency, result.MaxLatency)
	for code, n := range result.StatusCodes {
		fmt.Printf("   HTTP %d: %d\n", code, n)
	}
}

func waitServing(ctx context.Context, addr string, timeout time.Duration) error {
	probe, err := loadtest.NewHealthProbe(addr, grpcserver.ServiceName)
	if err != nil {
		return err
	}
	defer probe.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return probe.WaitServing(ctx, 500*time.Millisecond)
}
