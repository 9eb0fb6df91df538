package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config 数据库配置
type Config struct {
	DSN      string
	MaxConns int32
}

// NewPoolConfig 解析 DSN 并设置连接池参数
func NewPoolConfig(config Config) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	maxConns := config.MaxConns
	if maxConns < 1 {
		maxConns = 5
	}
	poolConfig.MaxConns = maxConns                 // 最大连接数
	poolConfig.MinConns = 1                        // 最小连接数
	poolConfig.MaxConnLifetime = time.Hour         // 连接最大生命周期
	poolConfig.MaxConnIdleTime = 30 * time.Minute  // 连接最大空闲时间
	poolConfig.HealthCheckPeriod = 1 * time.Minute // 健康检查周期
	return poolConfig, nil
}

// ConnectPgx 创建连接池并测试连接
func ConnectPgx(ctx context.Context, config Config) (*pgxpool.Pool, error) {
	poolConfig, err := NewPoolConfig(config)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("[database] connection pool ready (max_conns=%d)", poolConfig.MaxConns)
	return pool, nil
}
