package rtcclient

import (
	"strings"
	"sync"
	"time"

	"PongVoiceBridge/internal/protocol"
)

// TranscriptEntry 一条转写记录
type TranscriptEntry struct {
	Role protocol.Role `json:"role"`
	Text string        `json:"text"`
	At   time.Time     `json:"at"`
}

// Transcript 只追加的对话转写。delta 追加到进行中的文本，final 用定稿文本替换进行中的文本。
type Transcript struct {
	mu      sync.RWMutex
	entries []TranscriptEntry
	pending strings.Builder
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

// AppendDelta 追加增量文本
func (t *Transcript) AppendDelta(delta string) {
	t.mu.Lock()
	t.pending.WriteString(delta)
	t.mu.Unlock()
}

// Finalize 丢弃进行中的增量，记入定稿文本
func (t *Transcript) Finalize(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if text == "" {
		text = t.pending.String()
	}
	t.pending.Reset()
	if text != "" {
		t.entries = append(t.entries, TranscriptEntry{Role: protocol.RoleAssistant, Text: text, At: time.Now()})
	}
}

// Add 记入一条完整条目
func (t *Transcript) Add(role protocol.Role, text string) {
	if text == "" {
		return
	}
	t.mu.Lock()
	t.entries = append(t.entries, TranscriptEntry{Role: role, Text: text, At: time.Now()})
	t.mu.Unlock()
}

// Reset 清空，仅在用户发起的新连接时调用
func (t *Transcript) Reset() {
	t.mu.Lock()
	t.entries = nil
	t.pending.Reset()
	t.mu.Unlock()
}

// Entries 已定稿条目的副本
func (t *Transcript) Entries() []TranscriptEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Text 渲染文本：定稿条目按行拼接，末尾是进行中的增量
func (t *Transcript) Text() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	lines := make([]string, 0, len(t.entries)+1)
	for _, e := range t.entries {
		lines = append(lines, e.Text)
	}
	if t.pending.Len() > 0 {
		lines = append(lines, t.pending.String())
	}
	return strings.Join(lines, "\n")
}
