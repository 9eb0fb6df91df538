package protocol

// 控制通道事件类型 - JSON 消息的 type 字段
const (
	// 入站：转写相关
	TypeTranscriptDelta       = "response.audio_transcript.delta"
	TypeTranscriptDone        = "response.audio_transcript.done"
	TypeOutputTranscriptDelta = "response.output_audio_transcript.delta"
	TypeOutputTranscriptDone  = "response.output_audio_transcript.done"

	// 入站：会话与对话
	TypeSessionCreated = "session.created"
	TypeSessionUpdated = "session.updated"
	TypeItemCreated    = "conversation.item.created"
	TypeResponseDone   = "response.done"

	// 入站：错误
	TypeError = "error"

	// 出站
	TypeItemCreate     = "conversation.item.create"
	TypeResponseCreate = "response.create"
	TypeSessionUpdate  = "session.update"
)

// Kind 入站事件分类，生命周期管理器只按分类处理
type Kind int

const (
	KindUnknown Kind = iota
	KindTranscriptDelta
	KindTranscriptFinal
	KindItemCreated
	KindSession
	KindResponse
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindTranscriptDelta:
		return "TRANSCRIPT_DELTA"
	case KindTranscriptFinal:
		return "TRANSCRIPT_FINAL"
	case KindItemCreated:
		return "ITEM_CREATED"
	case KindSession:
		return "SESSION"
	case KindResponse:
		return "RESPONSE"
	case KindError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// KindOf 将事件类型映射为分类
func KindOf(eventType string) Kind {
	switch eventType {
	case TypeTranscriptDelta, TypeOutputTranscriptDelta:
		return KindTranscriptDelta
	case TypeTranscriptDone, TypeOutputTranscriptDone:
		return KindTranscriptFinal
	case TypeItemCreated:
		return KindItemCreated
	case TypeSessionCreated, TypeSessionUpdated:
		return KindSession
	case TypeResponseDone:
		return KindResponse
	case TypeError:
		return KindError
	default:
		return KindUnknown
	}
}

// IsOutboundType 判断是否为客户端可发送的事件类型
func IsOutboundType(eventType string) bool {
	switch eventType {
	case TypeItemCreate, TypeResponseCreate, TypeSessionUpdate:
		return true
	default:
		return false
	}
}
