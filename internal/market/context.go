package market

import (
	"context"
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"riskgate/internal/config"
)

// Context 为交易评估附带的行情摘要。
type Context struct {
	Symbol        string  `json:"symbol"`
	Timeframe     string  `json:"timeframe"`
	LastPrice     float64 `json:"last_price"`
	RSI14         float64 `json:"rsi_14"`
	ATR14         float64 `json:"atr_14"`
	ATRRelative   float64 `json:"atr_relative"`
	EMA20         float64 `json:"ema_20"`
	VolumeRatio   float64 `json:"volume_ratio"`
	DangerLevel   string  `json:"danger_level"`
	DangerScore   int     `json:"danger_score"`
	TrendBias     string  `json:"trend_bias"`
	CandlesUsed   int     `json:"candles_used"`
}

// Provider 拉取K线并计算风险上下文，供 AI 评估时参考。
type Provider struct {
	cfg    config.MarketConfig
	client *Client
	logger *zap.Logger
}

// NewProvider 构造行情上下文提供者。
func NewProvider(cfg config.MarketConfig, client *Client, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: client,
		logger: logger,
	}
}

// Snapshot 并发拉取主周期与短周期K线，计算指标摘要。
// 最新价取自短周期最后一根K线的收盘价。
func (p *Provider) Snapshot(ctx context.Context) (Context, error) {
	limit := int64(p.cfg.CandleLimit)
	if limit < 30 {
		limit = 30
	}

	var (
		candles []Candle
		recent  []Candle
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fetched, err := p.client.FetchCandles(gctx, p.cfg.Timeframe, limit)
		if err != nil {
			return fmt.Errorf("拉取K线失败: %w", err)
		}
		candles = fetched
		return nil
	})
	g.Go(func() error {
		fetched, err := p.client.FetchCandles(gctx, "1m", 2)
		if err != nil {
			return fmt.Errorf("拉取最新价失败: %w", err)
		}
		recent = fetched
		return nil
	})
	if err := g.Wait(); err != nil {
		return Context{}, err
	}

	summary, err := summarize(candles)
	if err != nil {
		return Context{}, err
	}

	summary.Symbol = p.client.Symbol()
	summary.Timeframe = p.cfg.Timeframe
	if len(recent) > 0 {
		summary.LastPrice = recent[len(recent)-1].Close
	}

	p.logger.Debug("行情快照完成",
		zap.String("symbol", summary.Symbol),
		zap.Float64("rsi_14", summary.RSI14),
		zap.String("danger_level", summary.DangerLevel),
	)

	return summary, nil
}

// AsParams 将上下文转为请求参数可携带的形式。
func (c Context) AsParams() map[string]interface{} {
	return map[string]interface{}{
		"symbol":       c.Symbol,
		"timeframe":    c.Timeframe,
		"last_price":   c.LastPrice,
		"rsi_14":       c.RSI14,
		"atr_14":       c.ATR14,
		"atr_relative": c.ATRRelative,
		"ema_20":       c.EMA20,
		"volume_ratio": c.VolumeRatio,
		"danger_level": c.DangerLevel,
		"danger_score": c.DangerScore,
		"trend_bias":   c.TrendBias,
	}
}

// summarize 基于K线计算指标并给出危险度评分。
func summarize(candles []Candle) (Context, error) {
	if len(candles) < 30 {
		return Context{}, fmt.Errorf("K线数量不足: %d", len(candles))
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}

	rsi := last(talib.Rsi(closes, 14))
	atr := last(talib.Atr(highs, lows, closes, 14))
	ema20 := last(talib.Ema(closes, 20))
	lastClose := closes[len(closes)-1]

	atrRel := safeDivide(atr, lastClose)
	volumeAvg := average(tail(volumes, 20))
	volumeRatio := safeDivide(volumes[len(volumes)-1], volumeAvg)

	score := dangerScore(rsi, atrRel, volumeRatio)
	level := "SAFE"
	switch {
	case score >= 70:
		level = "DANGER"
	case score >= 40:
		level = "CAUTION"
	}

	bias := "NEUTRAL"
	if lastClose > ema20 {
		bias = "BULLISH"
	} else if lastClose < ema20 {
		bias = "BEARISH"
	}

	return Context{
		RSI14:       rsi,
		ATR14:       atr,
		ATRRelative: atrRel,
		EMA20:       ema20,
		VolumeRatio: volumeRatio,
		DangerLevel: level,
		DangerScore: score,
		TrendBias:   bias,
		CandlesUsed: len(candles),
	}, nil
}

// dangerScore 将指标映射为 0-100 的危险度：极端 RSI、高波动和放量都会抬高分值。
func dangerScore(rsi, atrRel, volumeRatio float64) int {
	score := 0.0

	switch {
	case rsi >= 75 || rsi <= 25:
		score += 40
	case rsi >= 65 || rsi <= 35:
		score += 20
	}

	switch {
	case atrRel >= 0.04:
		score += 40
	case atrRel >= 0.02:
		score += 20
	}

	if volumeRatio >= 2.0 {
		score += 20
	} else if volumeRatio >= 1.5 {
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return int(score)
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

func tail(values []float64, n int) []float64 {
	if n <= 0 || len(values) == 0 {
		return nil
	}
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func safeDivide(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
