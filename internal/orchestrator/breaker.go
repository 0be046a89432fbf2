package orchestrator

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"riskgate/internal/config"
)

// CircuitState 表示熔断器状态。
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

// CircuitBreaker 跟踪 AI 调用的连续失败并在必要时短路后续调用。
// 所有状态读写都在同一把锁内完成，保证 HALF_OPEN 探测上限在并发下成立。
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	recoveryTimeout  time.Duration
	halfOpenMaxCalls int

	state         CircuitState
	failureCount  int
	successCount  int
	halfOpenCalls int
	lastFailure   time.Time

	now    func() time.Time
	logger *zap.Logger
}

// NewCircuitBreaker 创建熔断器，初始为 CLOSED。
func NewCircuitBreaker(cfg config.BreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CircuitBreaker{
		failureThreshold: cfg.FailureThreshold,
		recoveryTimeout:  cfg.RecoveryTimeout,
		halfOpenMaxCalls: cfg.HalfOpenMaxCalls,
		state:            StateClosed,
		now:              time.Now,
		logger:           logger,
	}
}

// CanExecute 判断当前是否允许发起 AI 调用，并在恢复窗口到期时进入 HALF_OPEN。
func (b *CircuitBreaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if !b.lastFailure.IsZero() && b.now().Sub(b.lastFailure) >= b.recoveryTimeout {
			b.state = StateHalfOpen
			b.halfOpenCalls = 0
			b.successCount = 0
			b.logger.Info("熔断器进入 HALF_OPEN，开始探测恢复")
			b.halfOpenCalls++
			return true
		}
		return false
	case StateHalfOpen:
		if b.halfOpenCalls < b.halfOpenMaxCalls {
			b.halfOpenCalls++
			return true
		}
		return false
	}
	return false
}

// RecordSuccess 记录一次成功调用。
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	if b.state == StateHalfOpen {
		b.successCount++
		if b.successCount >= b.halfOpenMaxCalls {
			b.state = StateClosed
			b.successCount = 0
			b.halfOpenCalls = 0
			b.logger.Info("熔断器恢复 CLOSED，服务已恢复正常")
		}
	}
}

// RecordFailure 记录一次失败调用。
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailure = b.now()

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.logger.Warn("熔断器探测失败，重新 OPEN")
		return
	}
	if b.failureCount >= b.failureThreshold {
		b.state = StateOpen
		b.logger.Warn("熔断器 OPEN", zap.Int("failure_count", b.failureCount))
	}
}

// State 返回当前状态。
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
