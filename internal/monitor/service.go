package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"riskgate/internal/orchestrator"
	"riskgate/internal/protection"
	"riskgate/internal/rule"
	"riskgate/internal/store"
)

// Service 负责持久化审计事件，供事后复盘每一次放行与拦截。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化审计服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS audit_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_events_user ON audit_events(user_id);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_events (event_type, user_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(event.Type), event.UserID, string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordFastCheck 记录快速预检命中。
func (s *Service) RecordFastCheck(ctx context.Context, userID string, trade rule.TradeIntent, result protection.Result) {
	if err := s.Record(ctx, Event{
		Type:      EventFastCheck,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Payload:   FastCheckPayload{Trade: trade, Result: result},
	}); err != nil {
		s.logger.Warn("记录预检事件失败", zap.Error(err))
	}
}

// RecordRuleResult 记录规则引擎评估。
func (s *Service) RecordRuleResult(ctx context.Context, userID string, trade rule.TradeIntent, result rule.EngineResult) {
	if err := s.Record(ctx, Event{
		Type:      EventRuleResult,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Payload:   RuleResultPayload{Trade: trade, Result: result},
	}); err != nil {
		s.logger.Warn("记录规则事件失败", zap.Error(err))
	}
}

// RecordAIResponse 记录编排层最终响应。
func (s *Service) RecordAIResponse(ctx context.Context, userID, requestType string, response orchestrator.Response) {
	if err := s.Record(ctx, Event{
		Type:      EventAIResponse,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Payload:   AIResponsePayload{RequestType: requestType, Response: response},
	}); err != nil {
		s.logger.Warn("记录AI响应事件失败", zap.Error(err))
	}
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Error:   err.Error(),
		Context: ctxMap,
	}
	if recErr := s.Record(ctx, Event{
		Type:      EventError,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// ListEvents 按类型检索最近事件。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, user_id, payload, created_at FROM audit_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			userID  string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &userID, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			UserID:    userID,
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
