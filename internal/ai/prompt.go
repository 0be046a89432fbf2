package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"
)

const tradeEvalTemplate = `
你是一名交易行为守护教练。你的任务不是预测行情，而是保护交易者免受冲动、报复性交易和过度交易的伤害。

本次交易请求（规则引擎未能给出确定结论，需要你做行为层面的判断）：
{{ .ParamsJSON }}

评估准则：
1. 连续亏损达到 2 次及以上时，高度警惕报复性交易，倾向 BLOCK；
2. 仓位明显超出限额、缺少止损、接近当日交易上限时，至少 WARN；
3. 交易计划清晰、风险控制到位且无情绪红旗时，才可 ALLOW；
4. 处于交易者设定的休息时段时，提醒其谨慎行事；
5. 回答要简洁，直接针对这一笔交易。

请严格输出唯一的 JSON 对象，格式如下：
{
  "decision": "ALLOW|WARN|BLOCK",
  "reason": "...",                                // 15 字以内的核心理由
  "behavioral_insight": "...",                   // 对当前行为模式的心理学观察
  "alternatives": [
    {"type": "SCALE_IN|WAIT_FOR_CONFIRMATION|PAPER_TRADE|REDUCE_SIZE", "description": "...", "rationale": "..."}
  ],
  "coaching_question": "...",                    // 引导自我觉察的提问
  "immediate_action": "...",                     // 此刻应该做的一件事
  "tone": "SUPPORTIVE|CAUTIOUS|EMPOWERING",
  "risk_score": 0-100
}

注意事项：
- 所有字段均需填写，risk_score 为 0 到 100 的数值。
- 除 JSON 对象外不要输出任何其他内容。
`

const marketAnalysisTemplate = `
你是一名市场风险评估员。请根据以下市场上下文判断当前环境对短线交易者的危险程度。

市场上下文：
{{ .ParamsJSON }}

请严格输出唯一的 JSON 对象，格式如下：
{
  "danger_level": "SAFE|CAUTION|DANGER",
  "danger_score": 0-100,
  "summary": "...",
  "recommendation": "NORMAL|REDUCE_SIZE|STAY_OUT"
}
`

const genericTemplate = `
你是一名交易行为守护教练，帮助交易者保持纪律与情绪稳定。

请求类型: {{ .RequestType }}
请求内容：
{{ .ParamsJSON }}

请结合请求内容给出简洁、可执行的回应，并严格输出唯一的 JSON 对象。
对话类请求请返回 {"reply": "...", "tone": "SUPPORTIVE|CAUTIOUS|EMPOWERING"}；
分析类请求请返回 {"summary": "...", "insights": ["..."], "suggestion": "..."}。
除 JSON 对象外不要输出任何其他内容。
`

var (
	tradeEvalTmpl      = template.Must(template.New("trade_eval").Parse(tradeEvalTemplate))
	marketAnalysisTmpl = template.Must(template.New("market_analysis").Parse(marketAnalysisTemplate))
	genericTmpl        = template.Must(template.New("generic").Parse(genericTemplate))
)

// PromptContext 用于渲染提示词。
type PromptContext struct {
	RequestType string
	ParamsJSON  string
}

// BuildPrompt 按请求类型选择模板，将请求参数渲染成提示词字符串。
func BuildPrompt(requestType string, params map[string]interface{}) (string, error) {
	paramsJSON, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化请求参数失败: %w", err)
	}

	ctx := PromptContext{
		RequestType: requestType,
		ParamsJSON:  string(paramsJSON),
	}

	tmpl := genericTmpl
	switch requestType {
	case "trade_eval":
		tmpl = tradeEvalTmpl
	case "market_analysis":
		tmpl = marketAnalysisTmpl
	}

	var buf bytes.Buffer
	if err = tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("渲染提示词失败: %w", err)
	}

	return buf.String(), nil
}
