package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MaxMessageSize 单条控制消息上限
const MaxMessageSize = 256 * 1024

var (
	ErrEmptyMessage   = errors.New("empty control message")
	ErrMessageTooBig  = errors.New("control message too large")
	ErrMissingType    = errors.New("control message has no type")
	ErrNotOutbound    = errors.New("event type is not sendable")
	DefaultModalities = []string{"text", "audio"}
)

// Role 对话条目的作者
type Role string

const (
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
)

// Content 对话条目的内容片段
type Content struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// Item 对话条目
type Item struct {
	ID      string    `json:"id,omitempty"`
	Type    string    `json:"type"`
	Role    Role      `json:"role,omitempty"`
	Content []Content `json:"content,omitempty"`
}

// Text 返回条目中第一段非空文本
func (i *Item) Text() string {
	if i == nil {
		return ""
	}
	for _, c := range i.Content {
		if c.Text != "" {
			return c.Text
		}
		if c.Transcript != "" {
			return c.Transcript
		}
	}
	return ""
}

// ErrorDetail 远端返回的错误详情
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// Event 入站控制消息
type Event struct {
	Type       string       `json:"type"`
	EventID    string       `json:"event_id,omitempty"`
	ItemID     string       `json:"item_id,omitempty"`
	Delta      string       `json:"delta,omitempty"`
	Transcript string       `json:"transcript,omitempty"`
	Item       *Item        `json:"item,omitempty"`
	Error      *ErrorDetail `json:"error,omitempty"`
}

// Kind 返回事件分类
func (e *Event) Kind() Kind {
	return KindOf(e.Type)
}

// Outbound 可通过控制通道发送的消息
type Outbound interface {
	EventType() string
}

// ItemCreate conversation.item.create
type ItemCreate struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
	Item    Item   `json:"item"`
}

func (m *ItemCreate) EventType() string { return m.Type }

// ResponseOptions response.create 的参数
type ResponseOptions struct {
	Modalities []string `json:"modalities,omitempty"`
}

// ResponseCreate response.create
type ResponseCreate struct {
	Type     string          `json:"type"`
	EventID  string          `json:"event_id,omitempty"`
	Response ResponseOptions `json:"response"`
}

func (m *ResponseCreate) EventType() string { return m.Type }

// SessionOptions session.update 的参数
type SessionOptions struct {
	Instructions string   `json:"instructions,omitempty"`
	Voice        string   `json:"voice,omitempty"`
	Modalities   []string `json:"modalities,omitempty"`
}

// SessionUpdate session.update
type SessionUpdate struct {
	Type    string         `json:"type"`
	EventID string         `json:"event_id,omitempty"`
	Session SessionOptions `json:"session"`
}

func (m *SessionUpdate) EventType() string { return m.Type }

// ContentTypeFor 返回角色对应的内容类型标签
func ContentTypeFor(role Role) (string, bool) {
	switch role {
	case RoleUser, RoleSystem:
		return "input_text", true
	case RoleAssistant:
		return "text", true
	default:
		return "", false
	}
}

// NewConversationItem 构造并校验一条文本对话条目
func NewConversationItem(role Role, text string) (*ItemCreate, error) {
	contentType, _ := ContentTypeFor(role)
	msg := &ItemCreate{
		Type:    TypeItemCreate,
		EventID: newEventID(),
		Item: Item{
			Type:    "message",
			Role:    role,
			Content: []Content{{Type: contentType, Text: text}},
		},
	}
	if err := ValidateItem(&msg.Item); err != nil {
		return nil, err
	}
	return msg, nil
}

// ValidateItem 校验条目是否符合角色对应的内容结构
func ValidateItem(item *Item) error {
	want, ok := ContentTypeFor(item.Role)
	if !ok {
		return &ProtocolError{Code: "invalid_role", Message: fmt.Sprintf("unsupported role %q", item.Role), EventType: TypeItemCreate}
	}
	if item.Type != "message" {
		return &ProtocolError{Code: "invalid_item_type", Message: fmt.Sprintf("item type %q is not message", item.Type), EventType: TypeItemCreate}
	}
	if len(item.Content) == 0 {
		return &ProtocolError{Code: "missing_content", Message: "item has no content", EventType: TypeItemCreate}
	}
	for i, c := range item.Content {
		if c.Type != want {
			return &ProtocolError{
				Code:      "invalid_content_type",
				Message:   fmt.Sprintf("content[%d] type %q does not match role %s (want %q)", i, c.Type, item.Role, want),
				EventType: TypeItemCreate,
			}
		}
		if strings.TrimSpace(c.Text) == "" {
			return &ProtocolError{Code: "empty_text", Message: fmt.Sprintf("content[%d] has no text", i), EventType: TypeItemCreate}
		}
	}
	return nil
}

// NewResponseCreate 构造 response.create，未指定时使用 text+audio
func NewResponseCreate(modalities ...string) *ResponseCreate {
	if len(modalities) == 0 {
		modalities = DefaultModalities
	}
	return &ResponseCreate{
		Type:     TypeResponseCreate,
		EventID:  newEventID(),
		Response: ResponseOptions{Modalities: modalities},
	}
}

// NewSessionUpdate 构造 session.update
func NewSessionUpdate(instructions, voice string) *SessionUpdate {
	return &SessionUpdate{
		Type:    TypeSessionUpdate,
		EventID: newEventID(),
		Session: SessionOptions{
			Instructions: instructions,
			Voice:        voice,
			Modalities:   DefaultModalities,
		},
	}
}

// FormatGameEvent 将游戏事件渲染为系统消息文本，字段按键名排序
func FormatGameEvent(kind string, fields map[string]any) string {
	if len(fields) == 0 {
		return fmt.Sprintf("[game event] %s", kind)
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Sprintf("[game event] %s %v", kind, fields)
	}
	return fmt.Sprintf("[game event] %s %s", kind, body)
}

// Encode 序列化出站消息
func Encode(msg Outbound) ([]byte, error) {
	if msg == nil {
		return nil, ErrEmptyMessage
	}
	if !IsOutboundType(msg.EventType()) {
		return nil, fmt.Errorf("%w: %q", ErrNotOutbound, msg.EventType())
	}
	if ic, ok := msg.(*ItemCreate); ok {
		if err := ValidateItem(&ic.Item); err != nil {
			return nil, err
		}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s failed: %w", msg.EventType(), err)
	}
	if len(data) > MaxMessageSize {
		return nil, ErrMessageTooBig
	}
	return data, nil
}

// Decode 解析入站消息
func Decode(raw []byte) (*Event, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyMessage
	}
	if len(raw) > MaxMessageSize {
		return nil, ErrMessageTooBig
	}

	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal control message failed: %w", err)
	}
	if ev.Type == "" {
		return nil, ErrMissingType
	}
	return &ev, nil
}

func newEventID() string {
	return "evt_" + uuid.NewString()
}
