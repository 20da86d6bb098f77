package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector 知识库流水线指标
type Collector struct {
	registry *prometheus.Registry

	chunksIndexed     *prometheus.CounterVec
	sourcesIndexed    *prometheus.CounterVec
	queries           *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationErrors   *prometheus.CounterVec
	purges            prometheus.Counter
}

// NewCollector 创建指标收集器，使用独立的注册表并附带进程与Go运行时指标
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		chunksIndexed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_chunks_indexed_total",
				Help: "Total number of chunks written to the collection",
			},
			[]string{"kind"}, // text, website, file
		),
		sourcesIndexed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_sources_indexed_total",
				Help: "Total number of indexed sources",
			},
			[]string{"kind"},
		),
		queries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_queries_total",
				Help: "Total number of answered queries by outcome",
			},
			[]string{"outcome"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rag_operation_duration_seconds",
				Help:    "Duration of pipeline operations",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"operation", "status"},
		),
		operationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_operation_errors_total",
				Help: "Total number of failed pipeline operations",
			},
			[]string{"operation"},
		),
		purges: factory.NewCounter(prometheus.CounterOpts{
			Name: "rag_collection_purges_total",
			Help: "Total number of collection purges",
		}),
	}
}

// Registry 返回指标注册表，其他组件可以注册自己的指标
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordIndexed 记录一次成功索引
func (c *Collector) RecordIndexed(kind string, chunks int) {
	c.sourcesIndexed.WithLabelValues(kind).Inc()
	c.chunksIndexed.WithLabelValues(kind).Add(float64(chunks))
}

// RecordQuery 记录一次问答结果
func (c *Collector) RecordQuery(outcome string) {
	c.queries.WithLabelValues(outcome).Inc()
}

// RecordPurge 记录一次清空
func (c *Collector) RecordPurge() {
	c.purges.Inc()
}

// ObserveOperation 记录操作耗时与结果
func (c *Collector) ObserveOperation(operation string, started time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		c.operationErrors.WithLabelValues(operation).Inc()
	}
	c.operationDuration.WithLabelValues(operation, status).Observe(time.Since(started).Seconds())
}

// Handler 返回Prometheus指标的HTTP处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
