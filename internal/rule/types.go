package rule

import "time"

// Decision 表示单条规则或引擎聚合后的裁决。
type Decision string

const (
	DecisionBlock    Decision = "BLOCK"
	DecisionWarn     Decision = "WARN"
	DecisionAllow    Decision = "ALLOW"
	DecisionGrayZone Decision = "GRAY_ZONE"
)

// Severity 表示规则触发的严重程度。
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Direction 表示交易方向。
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// TradeIntent 描述一笔待评估的交易意图。PositionSizeUSD 为美元金额而非币数量。
type TradeIntent struct {
	Symbol          string    `json:"symbol"`
	Direction       Direction `json:"direction"`
	PositionSizeUSD float64   `json:"position_size_usd"`
	EntryPrice      float64   `json:"entry_price"`
	StopLoss        float64   `json:"stop_loss,omitempty"`
	TakeProfit      float64   `json:"take_profit,omitempty"`
	Reasoning       string    `json:"reasoning,omitempty"`
}

// TraderStats 描述交易者当前连胜/连亏状态。
type TraderStats struct {
	ConsecutiveLosses int `json:"consecutive_losses"`
	ConsecutiveWins   int `json:"consecutive_wins"`
}

// HistoryEntry 为历史交易记录中的一条，按时间从新到旧排列。
type HistoryEntry struct {
	Timestamp       time.Time `json:"timestamp"`
	PnL             float64   `json:"pnl"`
	PositionSizeUSD float64   `json:"position_size_usd,omitempty"`
}

// Settings 为规则引擎的完整阈值集合（引擎默认值与调用方覆盖合并后的结果）。
type Settings struct {
	AccountBalance            float64
	MaxPositionSizePct        float64
	MaxPositionSizeUSD        float64
	MaxDailyTrades            int
	CooldownAfterLossMinutes  int
	MaxConsecutiveLossesBlock int
	MaxConsecutiveLossesWarn  int
	MinStopLossRequired       bool
	MaxRiskPerTradePct        float64
	RequireTakeProfit         bool
	MinRRRatio                float64
	SleepScheduleStart        string
	SleepScheduleEnd          string
}

// Overrides 为调用方提供的阈值覆盖，nil 字段沿用引擎默认值。
type Overrides struct {
	AccountBalance            *float64 `json:"account_balance,omitempty"`
	MaxPositionSizePct        *float64 `json:"max_position_size_pct,omitempty"`
	MaxPositionSizeUSD        *float64 `json:"max_position_size_usd,omitempty"`
	MaxDailyTrades            *int     `json:"max_daily_trades,omitempty"`
	CooldownAfterLossMinutes  *int     `json:"cooldown_after_loss_minutes,omitempty"`
	MaxConsecutiveLossesBlock *int     `json:"max_consecutive_losses_block,omitempty"`
	MaxConsecutiveLossesWarn  *int     `json:"max_consecutive_losses_warn,omitempty"`
	MinStopLossRequired       *bool    `json:"min_stop_loss_required,omitempty"`
	MaxRiskPerTradePct        *float64 `json:"max_risk_per_trade_pct,omitempty"`
	RequireTakeProfit         *bool    `json:"require_take_profit,omitempty"`
	MinRRRatio                *float64 `json:"min_rr_ratio,omitempty"`
	SleepScheduleStart        *string  `json:"sleep_schedule_start,omitempty"`
	SleepScheduleEnd          *string  `json:"sleep_schedule_end,omitempty"`
}

// DefaultSettings 返回引擎内置阈值。
func DefaultSettings() Settings {
	return Settings{
		AccountBalance:            1000,
		MaxPositionSizePct:        5.0,
		MaxPositionSizeUSD:        500,
		MaxDailyTrades:            5,
		CooldownAfterLossMinutes:  30,
		MaxConsecutiveLossesBlock: 2,
		MaxConsecutiveLossesWarn:  1,
		MinStopLossRequired:       true,
		MaxRiskPerTradePct:        2.0,
		RequireTakeProfit:         false,
		MinRRRatio:                1.0,
		SleepScheduleStart:        "23:00",
		SleepScheduleEnd:          "07:00",
	}
}

func (s Settings) merge(o *Overrides) Settings {
	if o == nil {
		return s
	}
	if o.AccountBalance != nil {
		s.AccountBalance = *o.AccountBalance
	}
	if o.MaxPositionSizePct != nil {
		s.MaxPositionSizePct = *o.MaxPositionSizePct
	}
	if o.MaxPositionSizeUSD != nil {
		s.MaxPositionSizeUSD = *o.MaxPositionSizeUSD
	}
	if o.MaxDailyTrades != nil {
		s.MaxDailyTrades = *o.MaxDailyTrades
	}
	if o.CooldownAfterLossMinutes != nil {
		s.CooldownAfterLossMinutes = *o.CooldownAfterLossMinutes
	}
	if o.MaxConsecutiveLossesBlock != nil {
		s.MaxConsecutiveLossesBlock = *o.MaxConsecutiveLossesBlock
	}
	if o.MaxConsecutiveLossesWarn != nil {
		s.MaxConsecutiveLossesWarn = *o.MaxConsecutiveLossesWarn
	}
	if o.MinStopLossRequired != nil {
		s.MinStopLossRequired = *o.MinStopLossRequired
	}
	if o.MaxRiskPerTradePct != nil {
		s.MaxRiskPerTradePct = *o.MaxRiskPerTradePct
	}
	if o.RequireTakeProfit != nil {
		s.RequireTakeProfit = *o.RequireTakeProfit
	}
	if o.MinRRRatio != nil {
		s.MinRRRatio = *o.MinRRRatio
	}
	if o.SleepScheduleStart != nil {
		s.SleepScheduleStart = *o.SleepScheduleStart
	}
	if o.SleepScheduleEnd != nil {
		s.SleepScheduleEnd = *o.SleepScheduleEnd
	}
	return s
}

// RuleResult 为单条规则的裁决，未触发的规则不产生结果。
type RuleResult struct {
	RuleID          string   `json:"rule_id"`
	Decision        Decision `json:"decision"`
	Severity        Severity `json:"severity"`
	Message         string   `json:"message"`
	CooldownSeconds int      `json:"cooldown_seconds"`
}

// EngineResult 为引擎聚合后的最终裁决。
type EngineResult struct {
	Decision        Decision `json:"decision"`
	Reason          string   `json:"reason"`
	TriggeredRules  []string `json:"triggered_rules"`
	Cooldown        int      `json:"cooldown"`
	RecommendedSize *float64 `json:"recommended_size,omitempty"`
	NeedsAI         bool     `json:"needs_ai"`
}
