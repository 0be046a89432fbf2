package monitor

import (
	"time"

	"riskgate/internal/orchestrator"
	"riskgate/internal/protection"
	"riskgate/internal/rule"
)

// EventType 表示审计事件类型。
type EventType string

const (
	EventFastCheck  EventType = "fast_check"
	EventRuleResult EventType = "rule_result"
	EventAIResponse EventType = "ai_response"
	EventError      EventType = "error"
)

// Event 封装通用审计事件。
type Event struct {
	Type      EventType   `json:"type"`
	UserID    string      `json:"user_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// FastCheckPayload 记录快速预检命中。
type FastCheckPayload struct {
	Trade  rule.TradeIntent  `json:"trade"`
	Result protection.Result `json:"result"`
}

// RuleResultPayload 记录规则引擎评估。
type RuleResultPayload struct {
	Trade  rule.TradeIntent  `json:"trade"`
	Result rule.EngineResult `json:"result"`
}

// AIResponsePayload 记录编排层最终响应。
type AIResponsePayload struct {
	RequestType string                `json:"request_type"`
	Response    orchestrator.Response `json:"response"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
