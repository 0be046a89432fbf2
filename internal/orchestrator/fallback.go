package orchestrator

// fallbackData 返回某一请求类型的降级响应载荷。
// 内容偏保守：系统越不稳定，越应该把决定权交还给纪律本身。
// 每次调用都返回新的 map，调用方可以安全修改。
func fallbackData(requestType string) map[string]interface{} {
	switch requestType {
	case RequestTypeTradeEval:
		return map[string]interface{}{
			"decision":           "WARN",
			"reason":             "AI 服务暂时不可用。请保持谨慎并严格遵守你的交易规则。",
			"behavioral_insight": "系统不稳定的时候，恰恰是个人纪律最重要的时候。",
			"alternatives":       []interface{}{},
			"coaching_question":  "你真的需要现在立刻进这笔交易吗？",
			"immediate_action":   "重新检查一遍你的交易计划。",
			"tone":               "CAUTIOUS",
		}
	case RequestTypeCheckinAnalysis:
		return map[string]interface{}{
			"emotional_state": "CALM",
			"state_intensity": 3,
			"insights": []interface{}{
				map[string]interface{}{
					"type":        "OPPORTUNITY",
					"title":       "继续你的旅程",
					"description": "每一天都是新的机会。",
				},
			},
			"encouragement": "今天也请保持专注与纪律。",
			"daily_prescription": map[string]interface{}{
				"mindset_shift":   "专注于过程而非结果",
				"behavioral_rule": "100% 执行止损",
				"success_metric":  "符合流程的交易笔数",
			},
		}
	case RequestTypeChat:
		return map[string]interface{}{
			"display_text":       "我这边的连接出了点问题。但请记住：纪律才是关键。你愿意多分享一些吗？",
			"internal_reasoning": "服务不可用期间的降级响应",
		}
	case RequestTypeMarketAnalysis:
		return map[string]interface{}{
			"danger_level": "CAUTION",
			"danger_score": 50,
			"headline":     "市场数据正在更新中。",
			"recommendation": map[string]interface{}{
				"action":              "REDUCE_SIZE",
				"position_adjustment": "将常规仓位减半。",
				"rationale":           "不确定时优先保全本金。",
			},
		}
	default:
		return map[string]interface{}{
			"message": "系统维护中，请稍后再试。",
		}
	}
}
