package protection

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"riskgate/internal/rule"
)

// Level 为保护等级，决定快速检查的严格程度。
type Level string

const (
	LevelSurvival   Level = "SURVIVAL"
	LevelDiscipline Level = "DISCIPLINE"
	LevelFlexible   Level = "FLEXIBLE"
)

// Settings 为快速检查使用的用户限额。
type Settings struct {
	AccountBalance     float64
	MaxPositionSizeUSD float64
	RiskPerTradePct    float64
	DailyTradeLimit    int
	Level              Level
}

// DefaultSettings 返回默认限额。
func DefaultSettings() Settings {
	return Settings{
		AccountBalance:     1000,
		MaxPositionSizeUSD: 500,
		RiskPerTradePct:    2,
		DailyTradeLimit:    5,
		Level:              LevelSurvival,
	}
}

// Result 为快速检查命中的结论；未命中时检查器返回 nil，交由后续流程处理。
type Result struct {
	Decision        rule.Decision `json:"decision"`
	Reason          string        `json:"reason"`
	RuleID          string        `json:"rule"`
	RecommendedSize *float64      `json:"recommended_size,omitempty"`
	PotentialLoss   float64       `json:"potential_loss,omitempty"`
	MaxAllowedRisk  float64       `json:"max_allowed_risk,omitempty"`
	FastCheck       bool          `json:"fast_check"`
}

// FastCheck 在进入规则引擎与 AI 之前做确定性的毫秒级预检。
// 命中即返回，未命中返回 nil 表示放行到下一阶段。
type FastCheck struct {
	settings Settings
	logger   *zap.Logger
}

// NewFastCheck 构造快速检查器，零值限额回落到默认值。
func NewFastCheck(settings Settings, logger *zap.Logger) *FastCheck {
	defaults := DefaultSettings()
	if settings.AccountBalance <= 0 {
		settings.AccountBalance = defaults.AccountBalance
	}
	if settings.MaxPositionSizeUSD <= 0 {
		settings.MaxPositionSizeUSD = defaults.MaxPositionSizeUSD
	}
	if settings.RiskPerTradePct <= 0 {
		settings.RiskPerTradePct = defaults.RiskPerTradePct
	}
	if settings.DailyTradeLimit <= 0 {
		settings.DailyTradeLimit = defaults.DailyTradeLimit
	}
	if settings.Level == "" {
		settings.Level = defaults.Level
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FastCheck{settings: settings, logger: logger}
}

// Check 对交易意图做逐条预检，todayCount 为当日已完成的交易笔数。
func (f *FastCheck) Check(trade rule.TradeIntent, todayCount int) *Result {
	// SURVIVAL 与 DISCIPLINE 等级强制要求止损。
	if f.settings.Level == LevelSurvival || f.settings.Level == LevelDiscipline {
		if trade.StopLoss == 0 {
			return &Result{
				Decision:  rule.DecisionBlock,
				Reason:    "止损为必填项。请先设置止损价格再下单，保护你的本金。",
				RuleID:    "STOP_LOSS_REQUIRED",
				FastCheck: true,
			}
		}
	}

	if trade.PositionSizeUSD > f.settings.MaxPositionSizeUSD {
		recommended := f.settings.MaxPositionSizeUSD
		return &Result{
			Decision: rule.DecisionBlock,
			Reason: fmt.Sprintf("仓位 %.0f USD 超过允许上限 %.0f USD，请降低下单量。",
				trade.PositionSizeUSD, f.settings.MaxPositionSizeUSD),
			RuleID:          "MAX_POSITION_SIZE",
			RecommendedSize: &recommended,
			FastCheck:       true,
		}
	}

	if trade.StopLoss > 0 && trade.EntryPrice > 0 {
		priceDiff := math.Abs(trade.EntryPrice - trade.StopLoss)
		potentialLoss := priceDiff / trade.EntryPrice * trade.PositionSizeUSD
		maxAllowedRisk := f.settings.AccountBalance * f.settings.RiskPerTradePct / 100

		if potentialLoss > maxAllowedRisk {
			return &Result{
				Decision: rule.DecisionWarn,
				Reason: fmt.Sprintf("潜在亏损 %.2f USD 超过允许风险 %.2f USD（本金的 %.1f%%）。考虑收紧止损或减少下单量。",
					potentialLoss, maxAllowedRisk, f.settings.RiskPerTradePct),
				RuleID:         "RISK_PER_TRADE",
				PotentialLoss:  potentialLoss,
				MaxAllowedRisk: maxAllowedRisk,
				FastCheck:      true,
			}
		}
	}

	if todayCount >= f.settings.DailyTradeLimit {
		return &Result{
			Decision: rule.DecisionWarn,
			Reason: fmt.Sprintf("今天已完成 %d/%d 笔交易，这是你为避免过度交易设定的上限。",
				todayCount, f.settings.DailyTradeLimit),
			RuleID:    "DAILY_TRADE_LIMIT",
			FastCheck: true,
		}
	}

	// SURVIVAL 等级要求写明入场理由，过短视为未经思考。
	if f.settings.Level == LevelSurvival {
		reasoning := strings.TrimSpace(trade.Reasoning)
		if len([]rune(reasoning)) < 10 {
			return &Result{
				Decision:  rule.DecisionWarn,
				Reason:    "入场理由过短。请写清楚你的交易逻辑，确认这不是一笔冲动单。",
				RuleID:    "REASONING_QUALITY",
				FastCheck: true,
			}
		}
	}

	return nil
}

// Stats 返回当前限额，便于调试接口输出。
func (f *FastCheck) Stats() map[string]interface{} {
	return map[string]interface{}{
		"account_balance":       f.settings.AccountBalance,
		"max_position_size_usd": f.settings.MaxPositionSizeUSD,
		"risk_per_trade_pct":    f.settings.RiskPerTradePct,
		"daily_trade_limit":     f.settings.DailyTradeLimit,
		"protection_level":      string(f.settings.Level),
	}
}
