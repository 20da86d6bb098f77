package services

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/aihub/rag-backend/internal/errors"
	"github.com/aihub/rag-backend/internal/knowledge"
	"github.com/aihub/rag-backend/internal/logger"
)

// CircuitBreakerState 熔断器状态
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

// ErrCircuitOpen 熔断器打开时直接拒绝调用
var ErrCircuitOpen = stderrors.New("circuit breaker is open")

// CircuitBreaker 熔断器
type CircuitBreaker struct {
	name string

	failureThreshold int
	successThreshold int
	timeout          time.Duration
	// isFailure 判断错误是否计入失败，nil 时所有错误都计入
	isFailure func(error) bool

	state           int32
	failureCount    int32
	successCount    int32
	lastFailureTime time.Time
	mutex           sync.RWMutex
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(name string, failureThreshold, successThreshold int, timeout time.Duration, isFailure func(error) bool) *CircuitBreaker {
	if successThreshold <= 0 {
		successThreshold = 1
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		isFailure:        isFailure,
		state:            int32(StateClosed),
	}
}

// Call 执行函数调用（带熔断保护）
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.canExecute() {
		return ErrCircuitOpen
	}

	err := fn()
	if err != nil && (cb.isFailure == nil || cb.isFailure(err)) {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
	return err
}

// canExecute 检查是否可以执行请求
func (cb *CircuitBreaker) canExecute() bool {
	switch cb.GetState() {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		cb.mutex.RLock()
		canHalfOpen := time.Since(cb.lastFailureTime) >= cb.timeout
		cb.mutex.RUnlock()

		if canHalfOpen && atomic.CompareAndSwapInt32(&cb.state, int32(StateOpen), int32(StateHalfOpen)) {
			atomic.StoreInt32(&cb.successCount, 0)
			logger.Info("circuit breaker half-open", zap.String("breaker", cb.name))
		}
		return canHalfOpen
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	switch cb.GetState() {
	case StateHalfOpen:
		count := atomic.AddInt32(&cb.successCount, 1)
		if int(count) >= cb.successThreshold {
			atomic.StoreInt32(&cb.state, int32(StateClosed))
			atomic.StoreInt32(&cb.failureCount, 0)
			logger.Info("circuit breaker closed", zap.String("breaker", cb.name))
		}
	case StateClosed:
		atomic.StoreInt32(&cb.failureCount, 0)
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mutex.Lock()
	cb.lastFailureTime = time.Now()
	cb.mutex.Unlock()

	switch cb.GetState() {
	case StateHalfOpen:
		atomic.StoreInt32(&cb.state, int32(StateOpen))
		atomic.StoreInt32(&cb.successCount, 0)
		logger.Warn("circuit breaker reopened", zap.String("breaker", cb.name))
	case StateClosed:
		count := atomic.AddInt32(&cb.failureCount, 1)
		if int(count) >= cb.failureThreshold {
			atomic.StoreInt32(&cb.state, int32(StateOpen))
			logger.Warn("circuit breaker opened",
				zap.String("breaker", cb.name),
				zap.Int32("failures", count))
		}
	}
}

// GetState 获取当前状态
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	return CircuitBreakerState(atomic.LoadInt32(&cb.state))
}

// GetStats 获取统计信息
func (cb *CircuitBreaker) GetStats() map[string]interface{} {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()

	return map[string]interface{}{
		"name":              cb.name,
		"state":             cb.GetState().String(),
		"failure_count":     atomic.LoadInt32(&cb.failureCount),
		"success_count":     atomic.LoadInt32(&cb.successCount),
		"failure_threshold": cb.failureThreshold,
		"success_threshold": cb.successThreshold,
		"timeout":           cb.timeout.String(),
		"last_failure_time": cb.lastFailureTime,
	}
}

// String 返回状态字符串
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// isStoreFailure 只有存储不可达才计入失败，维度冲突等业务错误不触发熔断
func isStoreFailure(err error) bool {
	return stderrors.Is(err, apperrors.ErrStoreUnavailable)
}

// breakerStore 为集合存储加熔断保护
type breakerStore struct {
	knowledge.CollectionStore
	cb *CircuitBreaker
}

func newBreakerStore(store knowledge.CollectionStore, cb *CircuitBreaker) knowledge.CollectionStore {
	if cb == nil {
		return store
	}
	return &breakerStore{CollectionStore: store, cb: cb}
}

func (b *breakerStore) call(op string, fn func() error) error {
	err := b.cb.Call(fn)
	if stderrors.Is(err, ErrCircuitOpen) {
		return apperrors.StoreUnavailable(op, err)
	}
	return err
}

func (b *breakerStore) Exists(ctx context.Context) (bool, error) {
	var ok bool
	err := b.call("exists", func() error {
		var err error
		ok, err = b.CollectionStore.Exists(ctx)
		return err
	})
	return ok, err
}

func (b *breakerStore) EnsureAndUpsert(ctx context.Context, units []knowledge.Unit) error {
	return b.call("upsert", func() error {
		return b.CollectionStore.EnsureAndUpsert(ctx, units)
	})
}

func (b *breakerStore) Search(ctx context.Context, vector []float32, k int) ([]knowledge.ScoredUnit, error) {
	var out []knowledge.ScoredUnit
	err := b.call("search", func() error {
		var err error
		out, err = b.CollectionStore.Search(ctx, vector, k)
		return err
	})
	return out, err
}

func (b *breakerStore) Purge(ctx context.Context) error {
	return b.call("purge", func() error {
		return b.CollectionStore.Purge(ctx)
	})
}

func (b *breakerStore) Inventory(ctx context.Context, limit int) (knowledge.Inventory, error) {
	var inv knowledge.Inventory
	err := b.call("inventory", func() error {
		var err error
		inv, err = b.CollectionStore.Inventory(ctx, limit)
		return err
	})
	return inv, err
}

// breakerRegistry 按存储端点维护熔断器
type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker

	failureThreshold int
	successThreshold int
	cooldown         time.Duration
}

func newBreakerRegistry(failureThreshold, successThreshold int, cooldown time.Duration) *breakerRegistry {
	return &breakerRegistry{
		breakers:         make(map[string]*CircuitBreaker),
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
	}
}

// get 返回端点对应的熔断器，阈值<=0时不启用
func (r *breakerRegistry) get(key string) *CircuitBreaker {
	if r == nil || r.failureThreshold <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[key]
	if !ok {
		cb = NewCircuitBreaker(key, r.failureThreshold, r.successThreshold, r.cooldown, isStoreFailure)
		r.breakers[key] = cb
	}
	return cb
}

// stats 返回所有熔断器状态
func (r *breakerRegistry) stats() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make(map[string]interface{}, len(r.breakers))
	for name, cb := range r.breakers {
		result[name] = cb.GetStats()
	}
	return result
}
