package rule

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Engine 依次执行十条确定性风控规则并聚合为单一裁决。
// Evaluate 不做任何 I/O，也不修改外部状态；同样的输入必然得到同样的输出。
type Engine struct {
	defaults Settings
	logger   *zap.Logger
	now      func() time.Time
	rules    []namedRule
}

type evalContext struct {
	trade   TradeIntent
	stats   TraderStats
	history []HistoryEntry
	cfg     Settings
	now     time.Time
}

type namedRule struct {
	id string
	fn func(evalContext) *RuleResult
}

// NewEngine 创建规则引擎。
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		defaults: DefaultSettings(),
		logger:   logger,
		now:      time.Now,
	}
	e.rules = []namedRule{
		{"R01_CONSECUTIVE_LOSSES", e.ruleConsecutiveLosses},
		{"R02_POSITION_SIZE", e.rulePositionSize},
		{"R03_DAILY_LIMIT", e.ruleDailyTradeLimit},
		{"R04_COOLDOWN", e.ruleCooldownPeriod},
		{"R05_STOP_LOSS", e.ruleStopLossRequired},
		{"R06_RISK_PCT", e.ruleRiskPerTrade},
		{"R07_TAKE_PROFIT", e.ruleTakeProfit},
		{"R08_RR_RATIO", e.ruleRiskRewardRatio},
		{"R09_OVERCONFIDENCE", e.ruleOverconfidence},
		{"R10_MARKET_HOURS", e.ruleMarketHours},
	}
	return e
}

// Evaluate 以同一份输入快照执行全部规则并聚合结果。
// 单条规则的内部错误不会中断评估，该规则被跳过后继续执行其余规则。
func (e *Engine) Evaluate(trade TradeIntent, stats TraderStats, history []HistoryEntry, overrides *Overrides) EngineResult {
	ec := evalContext{
		trade:   trade,
		stats:   stats,
		history: history,
		cfg:     e.defaults.merge(overrides),
		now:     e.now(),
	}

	results := make([]RuleResult, 0, len(e.rules))
	for _, r := range e.rules {
		if res := e.runRule(r, ec); res != nil {
			results = append(results, *res)
		}
	}

	return aggregate(results)
}

func (e *Engine) runRule(r namedRule, ec evalContext) (res *RuleResult) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Warn("规则执行异常，已跳过",
				zap.String("rule_id", r.id),
				zap.Any("panic", rec),
			)
			res = nil
		}
	}()
	return r.fn(ec)
}

// aggregate 按 BLOCK > WARN > GRAY_ZONE > ALLOW 的优先级合并规则结果。
// 任何 BLOCK 都是终局裁决；WARN 仅在同时存在灰区信号时才需要 AI 补充。
func aggregate(results []RuleResult) EngineResult {
	if len(results) == 0 {
		return allowResult()
	}

	var blocks, warns, grayZones []RuleResult
	for _, r := range results {
		switch r.Decision {
		case DecisionBlock:
			blocks = append(blocks, r)
		case DecisionWarn:
			warns = append(warns, r)
		case DecisionGrayZone:
			grayZones = append(grayZones, r)
		}
	}

	if len(blocks) > 0 {
		return EngineResult{
			Decision:       DecisionBlock,
			Reason:         joinMessages(blocks),
			TriggeredRules: ruleIDs(blocks),
			Cooldown:       maxCooldown(blocks),
			NeedsAI:        false,
		}
	}

	if len(warns) > 0 {
		return EngineResult{
			Decision:       DecisionWarn,
			Reason:         joinMessages(warns),
			TriggeredRules: ruleIDs(warns),
			Cooldown:       maxCooldown(warns),
			NeedsAI:        len(grayZones) > 0,
		}
	}

	if len(grayZones) > 0 {
		return EngineResult{
			Decision:       DecisionGrayZone,
			Reason:         "规则无法给出确定结论，需要进一步的AI分析。",
			TriggeredRules: ruleIDs(grayZones),
			Cooldown:       0,
			NeedsAI:        true,
		}
	}

	return allowResult()
}

func allowResult() EngineResult {
	return EngineResult{
		Decision:       DecisionAllow,
		Reason:         "未检测到任何规则违规。",
		TriggeredRules: []string{},
		Cooldown:       0,
		NeedsAI:        false,
	}
}

func joinMessages(results []RuleResult) string {
	msgs := make([]string, 0, len(results))
	for _, r := range results {
		msgs = append(msgs, r.Message)
	}
	return strings.Join(msgs, " ")
}

func ruleIDs(results []RuleResult) []string {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.RuleID)
	}
	return ids
}

func maxCooldown(results []RuleResult) int {
	max := 0
	for _, r := range results {
		if r.CooldownSeconds > max {
			max = r.CooldownSeconds
		}
	}
	return max
}

// ==================== 规则实现 ====================

func (e *Engine) ruleConsecutiveLosses(ec evalContext) *RuleResult {
	losses := ec.stats.ConsecutiveLosses

	if losses >= ec.cfg.MaxConsecutiveLossesBlock {
		return &RuleResult{
			RuleID:          "R01_CONSECUTIVE_LOSSES",
			Decision:        DecisionBlock,
			Severity:        SeverityCritical,
			Message:         fmt.Sprintf("你已连续亏损 %d 笔，请休息 %d 分钟以避免报复性交易。", losses, ec.cfg.CooldownAfterLossMinutes),
			CooldownSeconds: ec.cfg.CooldownAfterLossMinutes * 60,
		}
	}
	if losses >= ec.cfg.MaxConsecutiveLossesWarn {
		return &RuleResult{
			RuleID:   "R01_CONSECUTIVE_LOSSES",
			Decision: DecisionWarn,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("你已亏损 %d 笔，小心陷入连亏。", losses),
		}
	}
	return nil
}

func (e *Engine) rulePositionSize(ec evalContext) *RuleResult {
	size := ec.trade.PositionSizeUSD
	maxAllowed := math.Min(ec.cfg.AccountBalance*ec.cfg.MaxPositionSizePct/100, ec.cfg.MaxPositionSizeUSD)
	if maxAllowed <= 0 {
		// 账户余额或上限配置缺失，无法得出有意义的限制
		return nil
	}

	if size > maxAllowed*1.5 {
		return &RuleResult{
			RuleID:   "R02_POSITION_SIZE",
			Decision: DecisionBlock,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("仓位 $%.0f 已超出限额 $%.0f 过多，请降低后再试。", size, maxAllowed),
		}
	}
	if size > maxAllowed {
		return &RuleResult{
			RuleID:   "R02_POSITION_SIZE",
			Decision: DecisionWarn,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("仓位 $%.0f 高于建议限额 $%.0f。", size, maxAllowed),
		}
	}
	return nil
}

func (e *Engine) ruleDailyTradeLimit(ec evalContext) *RuleResult {
	if ec.cfg.MaxDailyTrades <= 0 {
		return nil
	}

	todayCount := 0
	y, m, d := ec.now.Date()
	for _, h := range ec.history {
		hy, hm, hd := h.Timestamp.In(ec.now.Location()).Date()
		if hy == y && hm == m && hd == d {
			todayCount++
		}
	}

	if todayCount >= ec.cfg.MaxDailyTrades {
		return &RuleResult{
			RuleID:          "R03_DAILY_LIMIT",
			Decision:        DecisionBlock,
			Severity:        SeverityHigh,
			Message:         fmt.Sprintf("你已达到每日 %d 笔的交易上限，请明天再来。", ec.cfg.MaxDailyTrades),
			CooldownSeconds: 300,
		}
	}
	if todayCount == ec.cfg.MaxDailyTrades-1 {
		return &RuleResult{
			RuleID:   "R03_DAILY_LIMIT",
			Decision: DecisionWarn,
			Severity: SeverityLow,
			Message:  fmt.Sprintf("这是每日 %d 笔上限内的最后一笔交易。", ec.cfg.MaxDailyTrades),
		}
	}
	return nil
}

func (e *Engine) ruleCooldownPeriod(ec evalContext) *RuleResult {
	if len(ec.history) == 0 {
		return nil
	}

	last := ec.history[0]
	if last.PnL >= 0 || last.Timestamp.IsZero() {
		return nil
	}

	cooldownEnd := last.Timestamp.Add(time.Duration(ec.cfg.CooldownAfterLossMinutes) * time.Minute)
	if ec.now.Before(cooldownEnd) {
		remaining := int(cooldownEnd.Sub(ec.now).Minutes())
		return &RuleResult{
			RuleID:          "R04_COOLDOWN",
			Decision:        DecisionWarn,
			Severity:        SeverityMedium,
			Message:         fmt.Sprintf("你刚刚亏损了一笔，冷静期还剩 %d 分钟。", remaining),
			CooldownSeconds: remaining * 60,
		}
	}
	return nil
}

func (e *Engine) ruleStopLossRequired(ec evalContext) *RuleResult {
	if !ec.cfg.MinStopLossRequired {
		return nil
	}

	if ec.trade.StopLoss == 0 {
		return &RuleResult{
			RuleID:   "R05_STOP_LOSS",
			Decision: DecisionWarn,
			Severity: SeverityHigh,
			Message:  "你还没有设置止损。无止损交易是烧掉账户最快的方式之一。",
		}
	}
	return nil
}

func (e *Engine) ruleRiskPerTrade(ec evalContext) *RuleResult {
	sl := ec.trade.StopLoss
	entry := ec.trade.EntryPrice
	if sl == 0 || entry == 0 || ec.cfg.AccountBalance <= 0 {
		// 无法计算，由 R05 负责提示
		return nil
	}

	slDistancePct := math.Abs(entry-sl) / entry * 100
	potentialLoss := ec.trade.PositionSizeUSD * slDistancePct / 100
	riskPct := potentialLoss / ec.cfg.AccountBalance * 100

	if riskPct > ec.cfg.MaxRiskPerTradePct*2 {
		return &RuleResult{
			RuleID:   "R06_RISK_PCT",
			Decision: DecisionBlock,
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("单笔风险 %.1f%% 远超上限 %.1f%%。", riskPct, ec.cfg.MaxRiskPerTradePct),
		}
	}
	if riskPct > ec.cfg.MaxRiskPerTradePct {
		return &RuleResult{
			RuleID:   "R06_RISK_PCT",
			Decision: DecisionWarn,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("单笔风险 %.1f%% 高于上限 %.1f%%。", riskPct, ec.cfg.MaxRiskPerTradePct),
		}
	}
	return nil
}

func (e *Engine) ruleTakeProfit(ec evalContext) *RuleResult {
	if !ec.cfg.RequireTakeProfit {
		return nil
	}

	if ec.trade.TakeProfit == 0 {
		return &RuleResult{
			RuleID:   "R07_TAKE_PROFIT",
			Decision: DecisionWarn,
			Severity: SeverityLow,
			Message:  "你还没有设置止盈，建议设置 TP 以保护利润。",
		}
	}
	return nil
}

func (e *Engine) ruleRiskRewardRatio(ec evalContext) *RuleResult {
	sl := ec.trade.StopLoss
	tp := ec.trade.TakeProfit
	entry := ec.trade.EntryPrice
	if sl == 0 || tp == 0 || entry == 0 {
		return nil
	}

	var risk, reward float64
	if ec.trade.Direction == DirectionSell {
		risk = sl - entry
		reward = entry - tp
	} else {
		risk = entry - sl
		reward = tp - entry
	}

	if risk <= 0 {
		// 止损方向不合理，比值无意义
		return nil
	}

	ratio := reward / risk
	if ratio < ec.cfg.MinRRRatio {
		return &RuleResult{
			RuleID:   "R08_RR_RATIO",
			Decision: DecisionWarn,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("盈亏比 %.1f 低于建议值 %.1f，请考虑调整 TP/SL。", ratio, ec.cfg.MinRRRatio),
		}
	}
	return nil
}

func (e *Engine) ruleOverconfidence(ec evalContext) *RuleResult {
	if ec.stats.ConsecutiveWins >= 3 && ec.trade.PositionSizeUSD > 100 {
		return &RuleResult{
			RuleID:   "R09_OVERCONFIDENCE",
			Decision: DecisionWarn,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("你已连胜 %d 笔，小心过度自信的心态。", ec.stats.ConsecutiveWins),
		}
	}
	return nil
}

func (e *Engine) ruleMarketHours(ec evalContext) *RuleResult {
	startHour, err := parseScheduleHour(ec.cfg.SleepScheduleStart)
	if err != nil {
		return nil
	}
	endHour, err := parseScheduleHour(ec.cfg.SleepScheduleEnd)
	if err != nil {
		return nil
	}

	hour := ec.now.Hour()
	inSleepWindow := false
	if startHour > endHour {
		// 跨夜窗口，例如 23:00-07:00
		inSleepWindow = hour >= startHour || hour < endHour
	} else {
		inSleepWindow = startHour <= hour && hour < endHour
	}

	if inSleepWindow {
		return &RuleResult{
			RuleID:   "R10_MARKET_HOURS",
			Decision: DecisionGrayZone,
			Severity: SeverityLow,
			Message:  "当前处于你设定的休息时段，下单前请三思。",
		}
	}
	return nil
}

func parseScheduleHour(value string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("解析作息时间 %q 失败: %w", value, err)
	}
	if hour < 0 || hour > 23 {
		return 0, fmt.Errorf("作息小时 %d 超出范围", hour)
	}
	return hour, nil
}
