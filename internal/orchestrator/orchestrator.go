package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"riskgate/internal/config"
	"riskgate/internal/rule"
)

// 编排层支持的请求类型。各类型的响应结构由外部提示词层定义，
// 编排层只把它们当作 JSON 风格的 map 透传。
const (
	RequestTypeTradeEval        = "trade_eval"
	RequestTypeTradeAnalysis    = "trade_analysis"
	RequestTypeChat             = "chat"
	RequestTypeCheckinQuestions = "checkin_questions"
	RequestTypeCheckinAnalysis  = "checkin_analysis"
	RequestTypeMarketAnalysis   = "market_analysis"
	RequestTypeWeeklyGoals      = "weekly_goals"
	RequestTypeWeeklyReport     = "weekly_report"
)

// Source 标识一次响应的产生来源。
type Source string

const (
	SourceCache      Source = "cache"
	SourceRuleEngine Source = "rule_engine"
	SourceGemini     Source = "gemini"
	SourceFallback   Source = "fallback"
)

// Complexity 表示请求的复杂度等级，仅用于路由参考。
type Complexity int

const (
	ComplexityTrivial Complexity = iota + 1
	ComplexitySimple
	ComplexityModerate
	ComplexityComplex
	ComplexityCritical
)

// Evaluator 为外部 AI 评估能力。调用可能任意耗时、失败或超时，
// 编排层不对返回载荷的结构做任何假设。
type Evaluator interface {
	Invoke(ctx context.Context, requestType string, params map[string]interface{}) (map[string]interface{}, error)
}

// Response 为编排层的统一响应。即使 AI 完全不可用，调用方也总能拿到可用内容。
type Response struct {
	Success   bool                   `json:"success"`
	Data      map[string]interface{} `json:"data"`
	Source    Source                 `json:"source"`
	LatencyMS int64                  `json:"latency_ms"`
	Cached    bool                   `json:"cached"`
	Error     string                 `json:"error,omitempty"`
}

// Metrics 为编排层累计指标。
type Metrics struct {
	RequestsTotal uint64       `json:"requests_total"`
	ErrorsTotal   uint64       `json:"errors_total"`
	ErrorRate     float64      `json:"error_rate"`
	AvgLatencyMS  float64      `json:"avg_latency_ms"`
	Cache         CacheStats   `json:"cache_stats"`
	CircuitState  CircuitState `json:"circuit_state"`
}

// AIOrchestrator 为决策管线的顶层协调者：规则引擎优先，
// 其余情况经缓存、去重与熔断器走外部 AI，失败时回退到降级响应。
type AIOrchestrator struct {
	engine    *rule.Engine
	evaluator Evaluator
	breaker   *CircuitBreaker
	cache     *SemanticCache
	dedup     *RequestDeduplicator
	logger    *zap.Logger

	mu             sync.Mutex
	requestCount   uint64
	errorCount     uint64
	totalLatencyMS int64
}

// New 创建编排器，熔断器、缓存与去重器均由其独占持有。
func New(cfg config.OrchestratorConfig, engine *rule.Engine, evaluator Evaluator, logger *zap.Logger) *AIOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AIOrchestrator{
		engine:    engine,
		evaluator: evaluator,
		breaker:   NewCircuitBreaker(cfg.Breaker, logger),
		cache:     NewSemanticCache(cfg.Cache),
		dedup:     NewRequestDeduplicator(),
		logger:    logger,
	}
}

// Breaker 暴露熔断器，供监控层读取状态。
func (o *AIOrchestrator) Breaker() *CircuitBreaker {
	return o.breaker
}

// ProcessRequest 为所有 AI 请求的统一入口。
// 处理顺序：缓存 -> 复杂度分级 -> 规则引擎快路径 -> 熔断检查 -> 去重后调用 AI。
// 该方法总是返回结果，任何 AI 失败都被转化为降级响应而不是错误。
func (o *AIOrchestrator) ProcessRequest(ctx context.Context, requestType, userID string, params map[string]interface{}) Response {
	start := time.Now()

	o.mu.Lock()
	o.requestCount++
	o.mu.Unlock()

	if cached, ok := o.cache.Get(requestType, params); ok {
		o.logger.Debug("语义缓存命中", zap.String("request_type", requestType))
		return Response{
			Success:   true,
			Data:      cached,
			Source:    SourceCache,
			LatencyMS: time.Since(start).Milliseconds(),
			Cached:    true,
		}
	}

	complexity := classifyComplexity(requestType, params)

	if complexity == ComplexityTrivial {
		if data := o.handleWithRules(requestType, params); data != nil {
			return Response{
				Success:   true,
				Data:      data,
				Source:    SourceRuleEngine,
				LatencyMS: time.Since(start).Milliseconds(),
			}
		}
	}

	if !o.breaker.CanExecute() {
		o.logger.Warn("熔断器打开，直接使用降级响应", zap.String("request_type", requestType))
		return o.fallbackResponse(requestType, start, "")
	}

	result, shared, err := o.dedup.GetOrCreate(requestType, userID, params, func() (map[string]interface{}, error) {
		return o.evaluator.Invoke(ctx, requestType, params)
	})
	if err != nil {
		o.breaker.RecordFailure()
		o.mu.Lock()
		o.errorCount++
		o.mu.Unlock()
		o.logger.Error("AI 调用失败，返回降级响应",
			zap.String("request_type", requestType),
			zap.Error(err),
		)
		return o.fallbackResponse(requestType, start, err.Error())
	}

	if shared {
		o.logger.Debug("复用了进行中的同键请求", zap.String("request_type", requestType))
	}

	o.breaker.RecordSuccess()
	o.cache.Set(requestType, params, result)

	latency := time.Since(start).Milliseconds()
	o.mu.Lock()
	o.totalLatencyMS += latency
	o.mu.Unlock()

	return Response{
		Success:   true,
		Data:      result,
		Source:    SourceGemini,
		LatencyMS: latency,
	}
}

// handleWithRules 尝试仅用规则引擎解决请求；灰区结果返回 nil 表示需要 AI。
func (o *AIOrchestrator) handleWithRules(requestType string, params map[string]interface{}) map[string]interface{} {
	if requestType != RequestTypeTradeEval || o.engine == nil {
		return nil
	}

	trade, ok := params["trade"].(rule.TradeIntent)
	if !ok {
		return nil
	}
	stats, _ := params["stats"].(rule.TraderStats)
	history, _ := params["trade_history"].([]rule.HistoryEntry)
	overrides, _ := params["settings"].(*rule.Overrides)

	result := o.engine.Evaluate(trade, stats, history, overrides)
	if result.Decision == rule.DecisionGrayZone || result.NeedsAI {
		return nil
	}

	return map[string]interface{}{
		"decision":        string(result.Decision),
		"reason":          result.Reason,
		"cooldown":        result.Cooldown,
		"triggered_rules": result.TriggeredRules,
		"source":          string(SourceRuleEngine),
	}
}

func (o *AIOrchestrator) fallbackResponse(requestType string, start time.Time, errMsg string) Response {
	return Response{
		Success:   true,
		Data:      fallbackData(requestType),
		Source:    SourceFallback,
		LatencyMS: time.Since(start).Milliseconds(),
		Error:     errMsg,
	}
}

// classifyComplexity 按请求类型粗分复杂度；交易评估在连亏时升级为 CRITICAL，
// 否则视为 TRIVIAL 并优先走规则引擎。
func classifyComplexity(requestType string, params map[string]interface{}) Complexity {
	switch requestType {
	case RequestTypeTradeEval:
		if stats, ok := params["stats"].(rule.TraderStats); ok && stats.ConsecutiveLosses >= 2 {
			return ComplexityCritical
		}
		return ComplexityTrivial
	case RequestTypeChat:
		return ComplexityModerate
	case RequestTypeTradeAnalysis, RequestTypeWeeklyReport, RequestTypeMarketAnalysis:
		return ComplexityComplex
	default:
		return ComplexitySimple
	}
}

// Metrics 返回编排层累计指标。
func (o *AIOrchestrator) Metrics() Metrics {
	o.mu.Lock()
	requests := o.requestCount
	errors := o.errorCount
	totalLatency := o.totalLatencyMS
	o.mu.Unlock()

	m := Metrics{
		RequestsTotal: requests,
		ErrorsTotal:   errors,
		Cache:         o.cache.Stats(),
		CircuitState:  o.breaker.State(),
	}
	if requests > 0 {
		m.ErrorRate = float64(errors) / float64(requests)
		m.AvgLatencyMS = float64(totalLatency) / float64(requests)
	}
	return m
}
