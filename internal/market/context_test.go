package market

import (
	"math"
	"testing"
	"time"
)

// flatCandles 生成一段价格平稳的K线，便于断言低危险度。
func flatCandles(n int, price float64) []Candle {
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	candles := make([]Candle, n)
	for i := 0; i < n; i++ {
		// 极小的锯齿波动，避免指标退化为 NaN。
		offset := float64(i%2) * price * 0.0005
		candles[i] = Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      price + offset,
			High:      price + offset + price*0.0005,
			Low:       price + offset - price*0.0005,
			Close:     price + offset,
			Volume:    100,
		}
	}
	return candles
}

func TestSummarizeFlatMarketIsSafe(t *testing.T) {
	ctx, err := summarize(flatCandles(72, 50000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ctx.DangerLevel != "SAFE" {
		t.Errorf("flat market must be SAFE, got %s (score %d)", ctx.DangerLevel, ctx.DangerScore)
	}
	if math.IsNaN(ctx.RSI14) || math.IsNaN(ctx.ATR14) {
		t.Errorf("indicators must not be NaN with 72 candles")
	}
	if ctx.CandlesUsed != 72 {
		t.Errorf("unexpected candle count: %d", ctx.CandlesUsed)
	}
}

func TestSummarizeRejectsShortSeries(t *testing.T) {
	if _, err := summarize(flatCandles(10, 50000)); err == nil {
		t.Fatalf("expected error for fewer than 30 candles")
	}
}

func TestDangerScoreExtremes(t *testing.T) {
	if got := dangerScore(50, 0.005, 1.0); got != 0 {
		t.Errorf("calm inputs must score 0, got %d", got)
	}
	if got := dangerScore(80, 0.05, 2.5); got != 100 {
		t.Errorf("extreme inputs must score 100, got %d", got)
	}
	if got := dangerScore(70, 0.025, 1.6); got != 50 {
		t.Errorf("mixed inputs expected 50, got %d", got)
	}
}
