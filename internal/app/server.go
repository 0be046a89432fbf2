package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"riskgate/internal/config"
	"riskgate/internal/market"
	"riskgate/internal/monitor"
	"riskgate/internal/orchestrator"
	"riskgate/internal/protection"
	"riskgate/internal/rule"
)

type serverDeps struct {
	cfg    config.ServerConfig
	orch   *orchestrator.AIOrchestrator
	market *market.Provider
	audit  *monitor.Service
	logger *zap.Logger
}

// server 对外暴露交易预检与运维接口。
type server struct {
	deps serverDeps
	srv  *http.Server
}

func newServer(deps serverDeps) *server {
	if deps.logger == nil {
		deps.logger = zap.NewNop()
	}

	s := &server{deps: deps}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/protection/check-trade", s.handleCheckTrade)
	mux.HandleFunc("/v1/metrics", s.handleMetrics)
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", deps.cfg.Port),
		Handler: mux,
	}
	return s
}

// Start 启动监听，并在 ctx 取消时优雅关闭。
func (s *server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		timeout := s.deps.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			s.deps.logger.Warn("关闭 HTTP 服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.deps.logger.Error("HTTP 服务异常", zap.Error(err))
		}
	}()

	s.deps.logger.Info("HTTP 服务已启动", zap.String("addr", s.srv.Addr))
	return nil
}

// checkTradeRequest 为交易预检的请求体。
type checkTradeRequest struct {
	UserID          string              `json:"user_id"`
	Trade           rule.TradeIntent    `json:"trade"`
	Stats           rule.TraderStats    `json:"stats"`
	TradeHistory    []rule.HistoryEntry `json:"trade_history"`
	Settings        *rule.Overrides     `json:"settings"`
	ProtectionLevel string              `json:"protection_level"`
	EmotionalState  string              `json:"emotional_state"`
}

// handleCheckTrade 实现三段式预检：快速检查、规则引擎、AI 编排。
// 快速检查命中即返回；其余情况交由编排层决定是否调用 AI。
func (s *server) handleCheckTrade(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req checkTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("解析请求体失败: %v", err), http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		req.UserID = "anonymous"
	}

	fastChecker := protection.NewFastCheck(fastCheckSettings(req), s.deps.logger)
	todayCount := countToday(req.TradeHistory, time.Now())

	if result := fastChecker.Check(req.Trade, todayCount); result != nil {
		s.deps.audit.RecordFastCheck(r.Context(), req.UserID, req.Trade, *result)
		writeJSON(w, s.deps.logger, http.StatusOK, result)
		return
	}

	params := map[string]interface{}{
		"trade":           req.Trade,
		"stats":           req.Stats,
		"trade_history":   req.TradeHistory,
		"settings":        req.Settings,
		"emotional_state": req.EmotionalState,
		"trade_summary": fmt.Sprintf("%s %s %.0f USD @ %.2f",
			req.Trade.Symbol, req.Trade.Direction, req.Trade.PositionSizeUSD, req.Trade.EntryPrice),
	}

	// 行情上下文为可选增强，失败不阻断预检流程。
	if s.deps.market != nil {
		if snapshot, err := s.deps.market.Snapshot(r.Context()); err != nil {
			s.deps.logger.Warn("获取行情上下文失败", zap.Error(err))
		} else {
			params["market_context"] = snapshot.AsParams()
		}
	}

	response := s.deps.orch.ProcessRequest(r.Context(), orchestrator.RequestTypeTradeEval, req.UserID, params)
	s.deps.audit.RecordAIResponse(r.Context(), req.UserID, orchestrator.RequestTypeTradeEval, response)

	writeJSON(w, s.deps.logger, http.StatusOK, response)
}

func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.deps.logger, http.StatusOK, s.deps.orch.Metrics())
}

func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	limit := 200
	if qs := q.Get("limit"); qs != "" {
		if v, err := strconv.Atoi(qs); err == nil && v > 0 {
			if v > 1000 {
				v = 1000
			}
			limit = v
		}
	}

	eventType := monitor.EventType("")
	if typ := strings.TrimSpace(q.Get("type")); typ != "" {
		eventType = monitor.EventType(strings.ToLower(typ))
	}

	events, err := s.deps.audit.ListEvents(r.Context(), eventType, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, s.deps.logger, http.StatusOK, events)
}

// fastCheckSettings 将用户覆盖项折算成快速检查限额。
func fastCheckSettings(req checkTradeRequest) protection.Settings {
	settings := protection.DefaultSettings()
	if req.Settings != nil {
		if req.Settings.AccountBalance != nil {
			settings.AccountBalance = *req.Settings.AccountBalance
		}
		if req.Settings.MaxPositionSizeUSD != nil {
			settings.MaxPositionSizeUSD = *req.Settings.MaxPositionSizeUSD
		}
		if req.Settings.MaxRiskPerTradePct != nil {
			settings.RiskPerTradePct = *req.Settings.MaxRiskPerTradePct
		}
		if req.Settings.MaxDailyTrades != nil {
			settings.DailyTradeLimit = *req.Settings.MaxDailyTrades
		}
	}
	if req.ProtectionLevel != "" {
		settings.Level = protection.Level(strings.ToUpper(req.ProtectionLevel))
	}
	return settings
}

// countToday 统计历史记录中与 now 同一天的交易笔数。
func countToday(history []rule.HistoryEntry, now time.Time) int {
	y, m, d := now.Date()
	count := 0
	for _, entry := range history {
		ey, em, ed := entry.Timestamp.In(now.Location()).Date()
		if ey == y && em == m && ed == d {
			count++
		}
	}
	return count
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("写入响应失败", zap.Error(err))
	}
}
