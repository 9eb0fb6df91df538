package session

import (
	"sort"
	"time"
)

// PhaseSpan 会话停留在某个阶段的一段时间
type PhaseSpan struct {
	Phase    string        `json:"phase"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
	Open     bool          `json:"open,omitempty"` // 仍处于该阶段
}

// Stability 连接稳定性指标
type Stability struct {
	TimeInPhase      map[string]time.Duration `json:"time_in_phase"`
	ConnectedRatio   float64                  `json:"connected_ratio"`
	ConnectSpans     int                      `json:"connect_spans"`
	AvgTimeToConnect time.Duration            `json:"avg_time_to_connect"`
	Outages          int                      `json:"outages"`
	LongestOutage    time.Duration            `json:"longest_outage"`
}

// BuildPhaseSpans 从 STATE 事件还原阶段区间，最后一段截止到 now
func BuildPhaseSpans(events []*SessionEvent, now time.Time) []*PhaseSpan {
	states := make([]*SessionEvent, 0, len(events))
	for _, event := range events {
		if event.Type == EventState {
			states = append(states, event)
		}
	}
	sort.SliceStable(states, func(i, j int) bool {
		return states[i].Timestamp.Before(states[j].Timestamp)
	})

	spans := make([]*PhaseSpan, 0, len(states))
	for i, event := range states {
		phase, _ := event.Metadata["to"].(string)
		span := &PhaseSpan{Phase: phase, Start: event.Timestamp}
		if i+1 < len(states) {
			span.End = states[i+1].Timestamp
		} else {
			span.End = now
			span.Open = true
		}
		span.Duration = span.End.Sub(span.Start)
		spans = append(spans, span)
	}
	return spans
}

// TimelineAnalyzer 时间线分析器
type TimelineAnalyzer struct {
	spans []*PhaseSpan
}

// NewTimelineAnalyzer 创建时间线分析器
func NewTimelineAnalyzer(session *Session) *TimelineAnalyzer {
	spans := session.Phases
	if spans == nil {
		spans = BuildPhaseSpans(session.Events, session.EndTime)
	}
	return &TimelineAnalyzer{spans: spans}
}

// AnalyzeConnectionStability 统计各阶段时长、建连耗时与掉线情况。
// 掉线指从 CONNECTED 离开到下一次回到 CONNECTED 之间的时间。
func (a *TimelineAnalyzer) AnalyzeConnectionStability() *Stability {
	st := &Stability{TimeInPhase: make(map[string]time.Duration)}

	var total, connectTotal time.Duration
	var outageStart time.Time
	inOutage := false

	for _, span := range a.spans {
		st.TimeInPhase[span.Phase] += span.Duration
		total += span.Duration

		switch span.Phase {
		case "CONNECTING":
			st.ConnectSpans++
			connectTotal += span.Duration
		case "CONNECTED":
			if inOutage {
				if d := span.Start.Sub(outageStart); d > st.LongestOutage {
					st.LongestOutage = d
				}
				inOutage = false
			}
		case "RECONNECTING":
			if !inOutage {
				st.Outages++
				outageStart = span.Start
				inOutage = true
			}
		}
	}

	if inOutage && len(a.spans) > 0 {
		if d := a.spans[len(a.spans)-1].End.Sub(outageStart); d > st.LongestOutage {
			st.LongestOutage = d
		}
	}
	if total > 0 {
		st.ConnectedRatio = float64(st.TimeInPhase["CONNECTED"]) / float64(total)
	}
	if st.ConnectSpans > 0 {
		st.AvgTimeToConnect = connectTotal / time.Duration(st.ConnectSpans)
	}
	return st
}
