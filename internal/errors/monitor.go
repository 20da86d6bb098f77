package errors

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrorMonitor 错误监控器
type ErrorMonitor struct {
	errorCounter *prometheus.CounterVec
	responseTime *prometheus.HistogramVec

	// 内存统计
	stats      map[string]*ErrorStats
	statsMutex sync.RWMutex

	windowSize time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// ErrorStats 错误统计信息
type ErrorStats struct {
	Code        string
	Type        string
	Endpoint    string
	Count       int64
	FirstSeen   time.Time
	LastSeen    time.Time
	AvgResponse time.Duration
}

// NewErrorMonitor 创建错误监控器，指标注册到 reg（为 nil 时使用默认注册表）
func NewErrorMonitor(reg prometheus.Registerer) *ErrorMonitor {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	em := &ErrorMonitor{
		windowSize: 5 * time.Minute,
		stats:      make(map[string]*ErrorStats),
		stopCh:     make(chan struct{}),
	}

	em.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_error_total",
			Help: "Total number of errors by code, type and endpoint",
		},
		[]string{"code", "type", "endpoint"},
	)
	em.responseTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rag_error_response_time_seconds",
			Help:    "Response time for error requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"code", "endpoint"},
	)
	reg.MustRegister(em.errorCounter, em.responseTime)

	go em.cleanupLoop()

	return em
}

// RecordError 记录错误
func (em *ErrorMonitor) RecordError(err error, endpoint string, responseTime time.Duration) {
	if err == nil {
		return
	}
	appErr := GetAppError(err)
	typ := getErrorTypeString(appErr.Type)

	em.errorCounter.WithLabelValues(string(appErr.Code), typ, endpoint).Inc()
	em.responseTime.WithLabelValues(string(appErr.Code), endpoint).Observe(responseTime.Seconds())

	em.statsMutex.Lock()
	defer em.statsMutex.Unlock()

	key := string(appErr.Code) + ":" + endpoint
	stats, exists := em.stats[key]
	if !exists {
		stats = &ErrorStats{
			Code:      string(appErr.Code),
			Type:      typ,
			Endpoint:  endpoint,
			FirstSeen: time.Now(),
		}
		em.stats[key] = stats
	}

	stats.Count++
	stats.LastSeen = time.Now()
	// 累计平均
	stats.AvgResponse += (responseTime - stats.AvgResponse) / time.Duration(stats.Count)
}

// GetStats 获取错误统计信息副本
func (em *ErrorMonitor) GetStats() map[string]ErrorStats {
	em.statsMutex.RLock()
	defer em.statsMutex.RUnlock()

	result := make(map[string]ErrorStats, len(em.stats))
	for k, v := range em.stats {
		result[k] = *v
	}
	return result
}

// GetTopErrors 获取最常见的错误
func (em *ErrorMonitor) GetTopErrors(limit int) []ErrorStats {
	em.statsMutex.RLock()
	list := make([]ErrorStats, 0, len(em.stats))
	for _, s := range em.stats {
		list = append(list, *s)
	}
	em.statsMutex.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].Count != list[j].Count {
			return list[i].Count > list[j].Count
		}
		return list[i].Code+list[i].Endpoint < list[j].Code+list[j].Endpoint
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}

// Stop 停止后台清理任务
func (em *ErrorMonitor) Stop() {
	em.stopOnce.Do(func() { close(em.stopCh) })
}

func (em *ErrorMonitor) cleanupLoop() {
	ticker := time.NewTicker(em.windowSize)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			em.cleanupOldStats(time.Now())
		case <-em.stopCh:
			return
		}
	}
}

// cleanupOldStats 清理两个窗口期之前的统计
func (em *ErrorMonitor) cleanupOldStats(now time.Time) {
	em.statsMutex.Lock()
	defer em.statsMutex.Unlock()

	threshold := now.Add(-em.windowSize * 2)
	for key, stats := range em.stats {
		if stats.LastSeen.Before(threshold) {
			delete(em.stats, key)
		}
	}
}

// Reset 重置所有统计信息
func (em *ErrorMonitor) Reset() {
	em.statsMutex.Lock()
	defer em.statsMutex.Unlock()

	em.stats = make(map[string]*ErrorStats)
}
