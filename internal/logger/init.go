package logger

import (
	"log"
	"strings"
	"sync/atomic"
)

// 日志级别
const (
	LevelDebug int32 = iota
	LevelInfo
	LevelWarn
	LevelError
)

var level atomic.Int32

func init() {
	level.Store(LevelInfo)
}

// InitLogger 初始化日志器
func InitLogger(levelName string) {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	SetLevel(levelName)
	log.Printf("[logger] initialized, level=%s", strings.ToLower(levelName))
}

// SetLevel 设置日志级别，未知名称按 info 处理
func SetLevel(name string) {
	level.Store(ParseLevel(name))
}

// ParseLevel 解析级别名称
func ParseLevel(name string) int32 {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Enabled 指定级别当前是否输出
func Enabled(l int32) bool {
	return l >= level.Load()
}

// Debugf 仅在 debug 级别输出
func Debugf(format string, args ...interface{}) {
	if Enabled(LevelDebug) {
		log.Printf(format, args...)
	}
}
