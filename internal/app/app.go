package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"riskgate/internal/ai"
	"riskgate/internal/config"
	"riskgate/internal/market"
	"riskgate/internal/monitor"
	"riskgate/internal/orchestrator"
	"riskgate/internal/rule"
	"riskgate/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 组装决策管线并启动 HTTP 服务，阻塞直到收到退出信号。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("风控网关已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Int("port", a.cfg.Server.Port),
	)

	engine := rule.NewEngine(a.logger)

	aiClient, err := ai.NewClient(a.cfg.Gemini, a.logger)
	if err != nil {
		return fmt.Errorf("初始化 AI 客户端失败: %w", err)
	}

	var marketProvider *market.Provider
	if a.cfg.Market.Enabled {
		marketClient, err := market.NewClient(a.cfg.Market, a.logger)
		if err != nil {
			return fmt.Errorf("初始化行情客户端失败: %w", err)
		}
		marketProvider = market.NewProvider(a.cfg.Market, marketClient, a.logger)
	}

	orch := orchestrator.New(a.cfg.Orchestrator, engine, aiClient, a.logger)

	auditSvc, err := monitor.NewService(a.store, a.logger)
	if err != nil {
		return err
	}

	server := newServer(serverDeps{
		cfg:    a.cfg.Server,
		orch:   orch,
		market: marketProvider,
		audit:  auditSvc,
		logger: a.logger,
	})

	if err := server.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}
