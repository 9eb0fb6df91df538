package database

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"PongVoiceBridge/internal/rtcclient"
)

const createAttemptsTable = `
CREATE TABLE IF NOT EXISTS voice_session_attempts (
    id          uuid PRIMARY KEY,
    session_id  text NOT NULL DEFAULT '',
    attempt     int NOT NULL,
    trigger     text NOT NULL,
    started_at  timestamptz NOT NULL,
    finished_at timestamptz NOT NULL,
    outcome     text NOT NULL,
    error       text NOT NULL DEFAULT ''
)`

const insertAttempt = `
INSERT INTO voice_session_attempts (id, session_id, attempt, trigger, started_at, finished_at, outcome, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const selectRecentAttempts = `
SELECT session_id, attempt, trigger, started_at, finished_at, outcome, error
FROM voice_session_attempts
ORDER BY started_at DESC
LIMIT $1`

// DB 存储需要的最小接口，*pgxpool.Pool 实现了它
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// AttemptStore 异步写入连接尝试历史。写入失败只记录日志，不影响会话。
type AttemptStore struct {
	db      DB
	queue   chan rtcclient.AttemptRecord
	timeout time.Duration

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	inserted atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64
}

// NewAttemptStore 创建存储并启动写入 goroutine
func NewAttemptStore(db DB, queueSize int) *AttemptStore {
	if queueSize <= 0 {
		queueSize = 128
	}
	s := &AttemptStore{
		db:      db,
		queue:   make(chan rtcclient.AttemptRecord, queueSize),
		timeout: 5 * time.Second,
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s
}

// EnsureSchema 建表
func (s *AttemptStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createAttemptsTable); err != nil {
		return fmt.Errorf("failed to create voice_session_attempts: %w", err)
	}
	return nil
}

// Record 非阻塞提交一条记录，可直接作为 rtcclient.AttemptHandler 使用
func (s *AttemptStore) Record(record rtcclient.AttemptRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}

	select {
	case s.queue <- record:
	default:
		s.dropped.Add(1)
		log.Printf("[database] attempt queue full, dropping attempt %d", record.Attempt)
	}
}

func (s *AttemptStore) writeLoop() {
	defer s.wg.Done()
	for record := range s.queue {
		s.insert(record)
	}
}

func (s *AttemptStore) insert(record rtcclient.AttemptRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err := s.db.Exec(ctx, insertAttempt,
		uuid.New(),
		record.SessionID,
		record.Attempt,
		record.Trigger,
		record.StartedAt,
		record.FinishedAt,
		record.Outcome,
		record.Error,
	)
	if err != nil {
		s.failed.Add(1)
		log.Printf("[database] failed to store attempt %d (%s): %v", record.Attempt, record.Outcome, err)
		return
	}
	s.inserted.Add(1)
}

// Recent 最近的尝试记录，按开始时间倒序
func (s *AttemptStore) Recent(ctx context.Context, limit int) ([]rtcclient.AttemptRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, selectRecentAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var records []rtcclient.AttemptRecord
	for rows.Next() {
		var r rtcclient.AttemptRecord
		if err := rows.Scan(&r.SessionID, &r.Attempt, &r.Trigger, &r.StartedAt, &r.FinishedAt, &r.Outcome, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close 写完队列中剩余记录后返回
func (s *AttemptStore) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
}

// GetStats 获取统计信息
func (s *AttemptStore) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"inserted": s.inserted.Load(),
		"failed":   s.failed.Load(),
		"dropped":  s.dropped.Load(),
		"pending":  len(s.queue),
	}
}
