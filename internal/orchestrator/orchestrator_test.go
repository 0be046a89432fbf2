package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"riskgate/internal/config"
	"riskgate/internal/rule"
)

// mockEvaluator 允许逐次指定 AI 响应或错误，并统计被调用次数。
type mockEvaluator struct {
	calls int32
	data  map[string]interface{}
	err   error
}

func (m *mockEvaluator) Invoke(_ context.Context, _ string, _ map[string]interface{}) (map[string]interface{}, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.err != nil {
		return nil, m.err
	}
	return m.data, nil
}

func testOrchestratorConfig() config.OrchestratorConfig {
	return config.OrchestratorConfig{
		Cache: config.CacheConfig{MaxSize: 100, TTL: 30 * time.Minute},
		Breaker: config.BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
			HalfOpenMaxCalls: 3,
		},
	}
}

// tradeEvalParams 构造一笔无连亏的交易评估请求；作息窗口被禁用，
// 避免测试在深夜运行时意外触发灰区规则。
func tradeEvalParams(sizeUSD float64) map[string]interface{} {
	zero := "00:00"
	return map[string]interface{}{
		"trade": rule.TradeIntent{
			Symbol:          "BTC/USDT",
			Direction:       rule.DirectionBuy,
			PositionSizeUSD: sizeUSD,
			EntryPrice:      50000,
			StopLoss:        49500,
			TakeProfit:      51000,
			Reasoning:       "突破回踩确认后入场",
		},
		"stats":         rule.TraderStats{},
		"trade_history": []rule.HistoryEntry{},
		"settings": &rule.Overrides{
			SleepScheduleStart: &zero,
			SleepScheduleEnd:   &zero,
		},
	}
}

func TestOrchestrator_RuleEngineFastPath(t *testing.T) {
	eval := &mockEvaluator{data: map[string]interface{}{}}
	o := New(testOrchestratorConfig(), rule.NewEngine(nil), eval, nil)

	// 1200 USD 远超默认仓位上限，规则引擎可直接给出 BLOCK。
	resp := o.ProcessRequest(context.Background(), RequestTypeTradeEval, "user-1", tradeEvalParams(1200))

	if !resp.Success {
		t.Fatalf("unexpected failure: %+v", resp)
	}
	if resp.Source != SourceRuleEngine {
		t.Fatalf("expected rule_engine source, got %s", resp.Source)
	}
	if resp.Data["decision"] != string(rule.DecisionBlock) {
		t.Errorf("expected BLOCK decision, got %v", resp.Data["decision"])
	}
	if atomic.LoadInt32(&eval.calls) != 0 {
		t.Errorf("evaluator must not be invoked when rules are conclusive")
	}
}

func TestOrchestrator_ConsecutiveLossesEscalateToAI(t *testing.T) {
	eval := &mockEvaluator{data: map[string]interface{}{"decision": "WARN"}}
	o := New(testOrchestratorConfig(), rule.NewEngine(nil), eval, nil)

	params := tradeEvalParams(50)
	params["stats"] = rule.TraderStats{ConsecutiveLosses: 2}

	resp := o.ProcessRequest(context.Background(), RequestTypeTradeEval, "user-1", params)

	if resp.Source != SourceGemini {
		t.Fatalf("two consecutive losses must escalate to AI, got source %s", resp.Source)
	}
	if atomic.LoadInt32(&eval.calls) != 1 {
		t.Errorf("expected exactly one AI call, got %d", eval.calls)
	}
}

func TestOrchestrator_SuccessfulCallIsCached(t *testing.T) {
	eval := &mockEvaluator{data: map[string]interface{}{"reply": "稳住，按计划执行"}}
	o := New(testOrchestratorConfig(), nil, eval, nil)

	params := map[string]interface{}{"emotional_state": "anxious", "trade_summary": "连亏两单后想加仓"}

	first := o.ProcessRequest(context.Background(), RequestTypeChat, "user-1", params)
	if first.Source != SourceGemini || first.Cached {
		t.Fatalf("first call must reach the AI, got %+v", first)
	}

	second := o.ProcessRequest(context.Background(), RequestTypeChat, "user-1", params)
	if second.Source != SourceCache || !second.Cached {
		t.Fatalf("identical call must be served from cache, got %+v", second)
	}
	if second.Data["reply"] != "稳住，按计划执行" {
		t.Errorf("cached payload mismatch: %v", second.Data)
	}
	if atomic.LoadInt32(&eval.calls) != 1 {
		t.Errorf("expected a single AI call across both requests, got %d", eval.calls)
	}
}

func TestOrchestrator_AIFailureReturnsFallback(t *testing.T) {
	eval := &mockEvaluator{err: errors.New("上游超时")}
	o := New(testOrchestratorConfig(), nil, eval, nil)

	resp := o.ProcessRequest(context.Background(), RequestTypeChat, "user-1", map[string]interface{}{
		"emotional_state": "calm",
	})

	if !resp.Success {
		t.Fatalf("fallback responses must still report success")
	}
	if resp.Source != SourceFallback {
		t.Fatalf("expected fallback source, got %s", resp.Source)
	}
	if resp.Error == "" {
		t.Errorf("fallback after an AI error must carry the error message")
	}
	if resp.Data == nil {
		t.Errorf("fallback must carry canned data")
	}
}

func TestOrchestrator_OpenBreakerShortCircuits(t *testing.T) {
	eval := &mockEvaluator{err: errors.New("上游超时")}
	o := New(testOrchestratorConfig(), nil, eval, nil)

	for i := 0; i < 5; i++ {
		params := map[string]interface{}{"emotional_state": "calm", "trade_summary": string(rune('a' + i))}
		o.ProcessRequest(context.Background(), RequestTypeChat, "user-1", params)
	}
	if o.Breaker().State() != StateOpen {
		t.Fatalf("expected breaker OPEN after 5 failures, got %s", o.Breaker().State())
	}

	before := atomic.LoadInt32(&eval.calls)
	resp := o.ProcessRequest(context.Background(), RequestTypeChat, "user-1", map[string]interface{}{
		"emotional_state": "calm",
		"trade_summary":   "breaker-open",
	})

	if resp.Source != SourceFallback {
		t.Fatalf("open breaker must serve fallback, got %s", resp.Source)
	}
	if resp.Error != "" {
		t.Errorf("short-circuited fallback must not carry an error message, got %q", resp.Error)
	}
	if atomic.LoadInt32(&eval.calls) != before {
		t.Errorf("open breaker must not invoke the evaluator")
	}
}

func TestOrchestrator_Metrics(t *testing.T) {
	eval := &mockEvaluator{data: map[string]interface{}{"reply": "ok"}}
	o := New(testOrchestratorConfig(), nil, eval, nil)

	params := map[string]interface{}{"emotional_state": "calm"}
	o.ProcessRequest(context.Background(), RequestTypeChat, "user-1", params)
	o.ProcessRequest(context.Background(), RequestTypeChat, "user-1", params)

	eval.err = errors.New("上游超时")
	o.ProcessRequest(context.Background(), RequestTypeChat, "user-1", map[string]interface{}{
		"emotional_state": "anxious",
	})

	m := o.Metrics()
	if m.RequestsTotal != 3 {
		t.Errorf("expected 3 requests, got %d", m.RequestsTotal)
	}
	if m.ErrorsTotal != 1 {
		t.Errorf("expected 1 error, got %d", m.ErrorsTotal)
	}
	if m.Cache.Hits != 1 {
		t.Errorf("expected 1 cache hit, got %d", m.Cache.Hits)
	}
	if m.CircuitState != StateClosed {
		t.Errorf("expected CLOSED breaker, got %s", m.CircuitState)
	}
}
