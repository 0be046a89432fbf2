package rule

import (
	"strings"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func newTestEngine(now time.Time) *Engine {
	e := NewEngine(nil)
	e.now = func() time.Time { return now }
	return e
}

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }
func bptr(v bool) *bool       { return &v }

func baseTrade() TradeIntent {
	return TradeIntent{
		Symbol:          "BTC",
		Direction:       DirectionBuy,
		PositionSizeUSD: 50,
		EntryPrice:      50000,
		StopLoss:        49000,
		TakeProfit:      52000,
		Reasoning:       "breakout retest with clear invalidation",
	}
}

func TestEvaluate_AllowWhenNothingTriggers(t *testing.T) {
	e := newTestEngine(testNow)

	result := e.Evaluate(baseTrade(), TraderStats{}, nil, nil)

	if result.Decision != DecisionAllow {
		t.Fatalf("expected ALLOW, got %s (%s)", result.Decision, result.Reason)
	}
	if result.NeedsAI {
		t.Errorf("ALLOW must not need AI")
	}
	if len(result.TriggeredRules) != 0 {
		t.Errorf("expected no triggered rules, got %v", result.TriggeredRules)
	}
}

func TestEvaluate_PositionSizeBlock(t *testing.T) {
	// positionSize=1200, balance=1000, max_usd=500 => 1200 > 1.5*500 => BLOCK
	e := newTestEngine(testNow)
	trade := baseTrade()
	trade.PositionSizeUSD = 1200
	trade.StopLoss = 49900 // keep R06 quiet

	overrides := &Overrides{
		AccountBalance:     fptr(1000),
		MaxPositionSizeUSD: fptr(500),
		MaxPositionSizePct: fptr(100),
	}

	result := e.Evaluate(trade, TraderStats{}, nil, overrides)

	if result.Decision != DecisionBlock {
		t.Fatalf("expected BLOCK, got %s (%s)", result.Decision, result.Reason)
	}
	if result.NeedsAI {
		t.Errorf("BLOCK must not need AI")
	}
	if !containsRule(result.TriggeredRules, "R02_POSITION_SIZE") {
		t.Errorf("expected R02 in triggered rules, got %v", result.TriggeredRules)
	}
}

func TestEvaluate_ConsecutiveLossesBlockWithCooldown(t *testing.T) {
	e := newTestEngine(testNow)

	result := e.Evaluate(baseTrade(), TraderStats{ConsecutiveLosses: 3}, nil, &Overrides{
		MaxConsecutiveLossesBlock: iptr(2),
	})

	if result.Decision != DecisionBlock {
		t.Fatalf("expected BLOCK, got %s", result.Decision)
	}
	if result.Cooldown != 1800 {
		t.Errorf("expected cooldown 1800s (30min default), got %d", result.Cooldown)
	}
}

func TestEvaluate_MissingStopLossWarns(t *testing.T) {
	e := newTestEngine(testNow)
	trade := baseTrade()
	trade.StopLoss = 0
	trade.TakeProfit = 0

	result := e.Evaluate(trade, TraderStats{}, nil, nil)

	if result.Decision != DecisionWarn {
		t.Fatalf("expected WARN, got %s (%s)", result.Decision, result.Reason)
	}
	if result.NeedsAI {
		t.Errorf("WARN without gray zone must not need AI")
	}
	if !containsRule(result.TriggeredRules, "R05_STOP_LOSS") {
		t.Errorf("expected R05, got %v", result.TriggeredRules)
	}
}

func TestEvaluate_QuietHoursGrayZone(t *testing.T) {
	night := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	e := newTestEngine(night)

	result := e.Evaluate(baseTrade(), TraderStats{}, nil, nil)

	if result.Decision != DecisionGrayZone {
		t.Fatalf("expected GRAY_ZONE at 02:00 inside 23:00-07:00, got %s (%s)", result.Decision, result.Reason)
	}
	if !result.NeedsAI {
		t.Errorf("GRAY_ZONE must need AI")
	}
}

func TestEvaluate_WarnPlusGrayZoneNeedsAI(t *testing.T) {
	night := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	e := newTestEngine(night)
	trade := baseTrade()
	trade.StopLoss = 0
	trade.TakeProfit = 0

	result := e.Evaluate(trade, TraderStats{}, nil, nil)

	if result.Decision != DecisionWarn {
		t.Fatalf("expected WARN, got %s", result.Decision)
	}
	if !result.NeedsAI {
		t.Errorf("WARN with an independent gray-zone rule must need AI")
	}
}

func TestEvaluate_BlockPrecedenceOverWarnAndGrayZone(t *testing.T) {
	// 跨夜休息时段 + 缺失止损 + 连亏超限，BLOCK 必须胜出。
	night := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	e := newTestEngine(night)
	trade := baseTrade()
	trade.StopLoss = 0

	result := e.Evaluate(trade, TraderStats{ConsecutiveLosses: 5}, nil, nil)

	if result.Decision != DecisionBlock {
		t.Fatalf("expected BLOCK to win precedence, got %s", result.Decision)
	}
	if result.NeedsAI {
		t.Errorf("BLOCK is definitive and must not need AI")
	}
	for _, id := range result.TriggeredRules {
		if id == "R05_STOP_LOSS" || id == "R10_MARKET_HOURS" {
			t.Errorf("triggered rules of a BLOCK result must only contain blocking rules, got %v", result.TriggeredRules)
		}
	}
}

func TestEvaluate_BlockReasonPreservesAllBlockMessages(t *testing.T) {
	e := newTestEngine(testNow)
	trade := baseTrade()
	trade.PositionSizeUSD = 5000
	trade.StopLoss = 40000 // huge risk, R06 blocks too

	result := e.Evaluate(trade, TraderStats{ConsecutiveLosses: 3}, nil, &Overrides{
		AccountBalance: fptr(1000),
	})

	if result.Decision != DecisionBlock {
		t.Fatalf("expected BLOCK, got %s", result.Decision)
	}
	if len(result.TriggeredRules) < 2 {
		t.Fatalf("expected multiple blocking rules, got %v", result.TriggeredRules)
	}
	for _, id := range result.TriggeredRules {
		if !strings.Contains(result.Reason, " ") {
			t.Errorf("reason should join all block messages, got %q (rule %s)", result.Reason, id)
		}
	}
}

func TestEvaluate_DailyLimit(t *testing.T) {
	e := newTestEngine(testNow)

	history := func(n int) []HistoryEntry {
		entries := make([]HistoryEntry, 0, n)
		for i := 0; i < n; i++ {
			entries = append(entries, HistoryEntry{
				Timestamp: testNow.Add(-time.Duration(i+1) * time.Hour),
				PnL:       1,
			})
		}
		return entries
	}

	// 第 5 笔达到上限 => BLOCK
	result := e.Evaluate(baseTrade(), TraderStats{}, history(5), nil)
	if result.Decision != DecisionBlock {
		t.Fatalf("expected BLOCK at daily limit, got %s (%s)", result.Decision, result.Reason)
	}

	// 第 4 笔是最后一笔 => WARN
	result = e.Evaluate(baseTrade(), TraderStats{}, history(4), nil)
	if result.Decision != DecisionWarn {
		t.Fatalf("expected WARN for last allowed trade, got %s", result.Decision)
	}
	if !containsRule(result.TriggeredRules, "R03_DAILY_LIMIT") {
		t.Errorf("expected R03, got %v", result.TriggeredRules)
	}

	// 昨天的交易不计入今天
	yesterday := []HistoryEntry{
		{Timestamp: testNow.Add(-25 * time.Hour), PnL: 1},
		{Timestamp: testNow.Add(-26 * time.Hour), PnL: 1},
		{Timestamp: testNow.Add(-27 * time.Hour), PnL: 1},
		{Timestamp: testNow.Add(-28 * time.Hour), PnL: 1},
		{Timestamp: testNow.Add(-29 * time.Hour), PnL: 1},
	}
	result = e.Evaluate(baseTrade(), TraderStats{}, yesterday, nil)
	if result.Decision != DecisionAllow {
		t.Fatalf("yesterday's trades must not count toward today, got %s (%s)", result.Decision, result.Reason)
	}
}

func TestEvaluate_CooldownAfterLoss(t *testing.T) {
	e := newTestEngine(testNow)

	history := []HistoryEntry{
		{Timestamp: testNow.Add(-10 * time.Minute), PnL: -25},
	}

	result := e.Evaluate(baseTrade(), TraderStats{}, history, nil)

	if result.Decision != DecisionWarn {
		t.Fatalf("expected WARN during cooldown, got %s (%s)", result.Decision, result.Reason)
	}
	if !containsRule(result.TriggeredRules, "R04_COOLDOWN") {
		t.Errorf("expected R04, got %v", result.TriggeredRules)
	}
	// 30 分钟冷却，已过 10 分钟
	if result.Cooldown != 20*60 {
		t.Errorf("expected 1200s remaining cooldown, got %d", result.Cooldown)
	}

	// 冷却期已过则不触发；该笔交易已是当天第 1 笔，daily limit 未触发
	expired := []HistoryEntry{
		{Timestamp: testNow.Add(-40 * time.Minute), PnL: -25},
	}
	result = e.Evaluate(baseTrade(), TraderStats{}, expired, nil)
	if containsRule(result.TriggeredRules, "R04_COOLDOWN") {
		t.Errorf("cooldown must not trigger after it elapsed, got %v", result.TriggeredRules)
	}
}

func TestEvaluate_RiskRewardRatio(t *testing.T) {
	e := newTestEngine(testNow)

	// BUY: risk=1000, reward=500 => ratio 0.5 < 1.0
	trade := baseTrade()
	trade.StopLoss = 49000
	trade.TakeProfit = 50500

	result := e.Evaluate(trade, TraderStats{}, nil, nil)
	if !containsRule(result.TriggeredRules, "R08_RR_RATIO") {
		t.Fatalf("expected R08 for poor RR, got %v (%s)", result.TriggeredRules, result.Reason)
	}

	// SELL 方向的盈亏计算相反
	sell := baseTrade()
	sell.Direction = DirectionSell
	sell.StopLoss = 51000
	sell.TakeProfit = 49500 // risk=1000, reward=500

	result = e.Evaluate(sell, TraderStats{}, nil, nil)
	if !containsRule(result.TriggeredRules, "R08_RR_RATIO") {
		t.Fatalf("expected R08 for poor SELL RR, got %v", result.TriggeredRules)
	}

	// 止损方向不合理时跳过该规则
	invalid := baseTrade()
	invalid.StopLoss = 51000 // BUY with SL above entry
	result = e.Evaluate(invalid, TraderStats{}, nil, nil)
	if containsRule(result.TriggeredRules, "R08_RR_RATIO") {
		t.Errorf("invalid SL must skip R08, got %v", result.TriggeredRules)
	}
}

func TestEvaluate_Overconfidence(t *testing.T) {
	e := newTestEngine(testNow)
	trade := baseTrade()
	trade.PositionSizeUSD = 150

	result := e.Evaluate(trade, TraderStats{ConsecutiveWins: 3}, nil, nil)
	if !containsRule(result.TriggeredRules, "R09_OVERCONFIDENCE") {
		t.Fatalf("expected R09, got %v", result.TriggeredRules)
	}

	// 小仓位不触发，即使连胜
	trade.PositionSizeUSD = 80
	result = e.Evaluate(trade, TraderStats{ConsecutiveWins: 5}, nil, nil)
	if containsRule(result.TriggeredRules, "R09_OVERCONFIDENCE") {
		t.Errorf("size <= 100 must not trigger R09, got %v", result.TriggeredRules)
	}
}

func TestEvaluate_ZeroBalanceSkipsSizeRules(t *testing.T) {
	e := newTestEngine(testNow)
	trade := baseTrade()
	trade.PositionSizeUSD = 10000

	result := e.Evaluate(trade, TraderStats{}, nil, &Overrides{
		AccountBalance: fptr(0),
	})

	if containsRule(result.TriggeredRules, "R02_POSITION_SIZE") {
		t.Errorf("zero balance must skip R02 instead of blocking everything, got %v", result.TriggeredRules)
	}
	if containsRule(result.TriggeredRules, "R06_RISK_PCT") {
		t.Errorf("zero balance must skip R06, got %v", result.TriggeredRules)
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	e := newTestEngine(testNow)
	trade := baseTrade()
	trade.StopLoss = 0
	history := []HistoryEntry{{Timestamp: testNow.Add(-5 * time.Minute), PnL: -10}}

	first := e.Evaluate(trade, TraderStats{ConsecutiveLosses: 1}, history, nil)
	second := e.Evaluate(trade, TraderStats{ConsecutiveLosses: 1}, history, nil)

	if first.Decision != second.Decision || first.Reason != second.Reason ||
		first.Cooldown != second.Cooldown || first.NeedsAI != second.NeedsAI {
		t.Fatalf("evaluate is not idempotent: %+v vs %+v", first, second)
	}
	if len(first.TriggeredRules) != len(second.TriggeredRules) {
		t.Fatalf("triggered rules differ: %v vs %v", first.TriggeredRules, second.TriggeredRules)
	}
}

func TestEvaluate_PanickingRuleIsSkipped(t *testing.T) {
	e := newTestEngine(testNow)
	e.rules = append([]namedRule{{
		id: "R99_BROKEN",
		fn: func(evalContext) *RuleResult { panic("boom") },
	}}, e.rules...)

	result := e.Evaluate(baseTrade(), TraderStats{}, nil, nil)

	if result.Decision != DecisionAllow {
		t.Fatalf("a panicking rule must be skipped, got %s (%s)", result.Decision, result.Reason)
	}
}

func containsRule(ids []string, want string) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}
