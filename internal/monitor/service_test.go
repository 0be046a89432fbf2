package monitor

import (
	"context"
	"testing"

	"riskgate/internal/config"
	"riskgate/internal/rule"
	"riskgate/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	svc, err := NewService(st, nil)
	if err != nil {
		t.Fatalf("init monitor service: %v", err)
	}
	return svc
}

func TestServiceRecordAndList(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	trade := rule.TradeIntent{Symbol: "BTC/USDT", Direction: rule.DirectionBuy, PositionSizeUSD: 50}
	svc.RecordRuleResult(ctx, "user-1", trade, rule.EngineResult{
		Decision: rule.DecisionAllow,
		Reason:   "未检测到任何规则违规。",
	})
	svc.RecordRuleResult(ctx, "user-2", trade, rule.EngineResult{
		Decision: rule.DecisionBlock,
		Reason:   "仓位超限",
	})

	events, err := svc.ListEvents(ctx, EventRuleResult, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	// 最新写入的排在最前。
	if events[0].UserID != "user-2" {
		t.Errorf("expected newest event first, got user %q", events[0].UserID)
	}
}

func TestServiceListFiltersByType(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.RecordError(ctx, "测试异常", context.DeadlineExceeded, nil)
	svc.RecordRuleResult(ctx, "user-1", rule.TradeIntent{}, rule.EngineResult{Decision: rule.DecisionAllow})

	errors, err := svc.ListEvents(ctx, EventError, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(errors) != 1 {
		t.Fatalf("expected 1 error event, got %d", len(errors))
	}

	all, err := svc.ListEvents(ctx, "", 10)
	if err != nil {
		t.Fatalf("list all events: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 events in total, got %d", len(all))
	}
}
