package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 订单指标
	orderTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbmesh_order_total",
			Help: "Total number of orders placed",
		},
		[]string{"account", "symbol", "side", "status"},
	)

	orderFailureTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbmesh_order_failure_total",
			Help: "Total number of failed orders",
		},
		[]string{"account", "symbol", "side", "reason"},
	)

	// 套利执行指标
	arbExecutionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbmesh_arb_execution_total",
			Help: "Total number of arbitrage executions",
		},
		[]string{"strategy", "outcome"}, // strategy: cross, triangular; outcome: win, loss, noop, rollback, fatal
	)

	arbExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arbmesh_arb_execution_duration_seconds",
			Help:    "Arbitrage execution duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		},
		[]string{"strategy"},
	)

	rollbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbmesh_rollback_total",
			Help: "Total number of leg rollbacks",
		},
		[]string{"strategy", "status"}, // status: success, failed
	)

	// 盈亏指标
	// 盈利和亏损分成两个 Counter 记绝对值：Counter 不允许负增量，
	// 净盈亏由查询侧做差（pnl_profit_total - pnl_loss_total）
	pnlProfitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbmesh_pnl_profit_total",
			Help: "Total realized profit (absolute value, winning trades only)",
		},
		[]string{"strategy"},
	)

	pnlLossTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbmesh_pnl_loss_total",
			Help: "Total realized loss (absolute value, losing trades only)",
		},
		[]string{"strategy"},
	)

	equityCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arbmesh_equity_current",
			Help: "Current equity of the risk domain",
		},
		[]string{"domain"},
	)

	equityPeak = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arbmesh_equity_peak",
			Help: "Peak equity (high-water mark) of the risk domain",
		},
		[]string{"domain"},
	)

	// 风控指标
	riskStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arbmesh_risk_status",
			Help: "Risk status (0=operational, 1=paused, 2=halted daily, 3=halted drawdown)",
		},
		[]string{"domain"},
	)

	riskTransitionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbmesh_risk_transition_total",
			Help: "Total number of risk state transitions",
		},
		[]string{"domain", "to"},
	)

	// 费率缓存指标
	feeCacheHitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbmesh_fee_cache_hit_total",
			Help: "Total number of fee cache hits",
		},
		[]string{"kind"}, // kind: taker, maker, withdraw
	)

	feeCacheMissTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbmesh_fee_cache_miss_total",
			Help: "Total number of fee cache misses",
		},
		[]string{"kind"},
	)

	feeStaleFallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbmesh_fee_stale_fallback_total",
			Help: "Total number of stale fee fallbacks after fetch failure",
		},
		[]string{"kind"},
	)

	// 账户协调指标
	lockAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbmesh_lock_acquire_total",
			Help: "Total number of account lock acquisitions",
		},
		[]string{"account", "status"}, // status: success, denied, reclaimed
	)

	lockHoldDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arbmesh_lock_hold_duration_seconds",
			Help:    "Account lock hold duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0},
		},
		[]string{"account"},
	)

	quarantineTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbmesh_quarantine_total",
			Help: "Total number of account quarantine entries",
		},
		[]string{"account"},
	)

	quarantinedAccounts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arbmesh_quarantined_accounts",
			Help: "Number of accounts currently in quarantine",
		},
	)

	// 系统指标
	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arbmesh_goroutine_count",
			Help: "Number of goroutines",
		},
	)

	memoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arbmesh_memory_alloc_bytes",
			Help: "Bytes of allocated heap objects",
		},
	)

	processCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arbmesh_process_cpu_percent",
			Help: "Process CPU usage percentage",
		},
	)

	processMemoryMB = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arbmesh_process_memory_mb",
			Help: "Process resident memory in MB",
		},
	)

	gcPauseDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arbmesh_gc_pause_duration_seconds",
			Help:    "GC pause duration in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)
)

// PrometheusMetrics Prometheus 指标收集器
// promauto 注册是进程级的，通过单例对外暴露
type PrometheusMetrics struct{}

var (
	globalPM   *PrometheusMetrics
	globalOnce sync.Once
)

// GetPrometheusMetrics 获取全局 Prometheus 指标收集器
func GetPrometheusMetrics() *PrometheusMetrics {
	globalOnce.Do(func() {
		globalPM = &PrometheusMetrics{}
	})
	return globalPM
}

// RecordOrder 记录下单
func (pm *PrometheusMetrics) RecordOrder(account, symbol, side, status string) {
	orderTotal.WithLabelValues(account, symbol, side, status).Inc()
}

// RecordOrderFailure 记录下单失败
func (pm *PrometheusMetrics) RecordOrderFailure(account, symbol, side, reason string) {
	orderFailureTotal.WithLabelValues(account, symbol, side, reason).Inc()
}

// RecordArbExecution 记录一次套利执行结果
func (pm *PrometheusMetrics) RecordArbExecution(strategy, outcome string, duration time.Duration) {
	arbExecutionTotal.WithLabelValues(strategy, outcome).Inc()
	arbExecutionDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordRollback 记录回滚结果
func (pm *PrometheusMetrics) RecordRollback(strategy string, success bool) {
	status := "success"
	if !success {
		status = "failed"
	}
	rollbackTotal.WithLabelValues(strategy, status).Inc()
}

// RecordRealizedPnL 记录已实现盈亏（亏损记入 loss 计数器的绝对值）
func (pm *PrometheusMetrics) RecordRealizedPnL(strategy string, pnl float64) {
	if pnl >= 0 {
		pnlProfitTotal.WithLabelValues(strategy).Add(pnl)
	} else {
		pnlLossTotal.WithLabelValues(strategy).Add(-pnl)
	}
}

// SetEquity 更新权益指标
func (pm *PrometheusMetrics) SetEquity(domain string, current, peak float64) {
	equityCurrent.WithLabelValues(domain).Set(current)
	equityPeak.WithLabelValues(domain).Set(peak)
}

// SetRiskStatus 更新风控状态指标
func (pm *PrometheusMetrics) SetRiskStatus(domain string, status int) {
	riskStatus.WithLabelValues(domain).Set(float64(status))
}

// RecordRiskTransition 记录风控状态迁移
func (pm *PrometheusMetrics) RecordRiskTransition(domain, to string) {
	riskTransitionTotal.WithLabelValues(domain, to).Inc()
}

// RecordFeeCacheHit 记录费率缓存命中
func (pm *PrometheusMetrics) RecordFeeCacheHit(kind string) {
	feeCacheHitTotal.WithLabelValues(kind).Inc()
}

// RecordFeeCacheMiss 记录费率缓存未命中
func (pm *PrometheusMetrics) RecordFeeCacheMiss(kind string) {
	feeCacheMissTotal.WithLabelValues(kind).Inc()
}

// RecordFeeStaleFallback 记录过期值兜底
func (pm *PrometheusMetrics) RecordFeeStaleFallback(kind string) {
	feeStaleFallbackTotal.WithLabelValues(kind).Inc()
}

// RecordLockAcquire 记录锁获取
func (pm *PrometheusMetrics) RecordLockAcquire(account, status string) {
	lockAcquireTotal.WithLabelValues(account, status).Inc()
}

// RecordLockHoldDuration 记录锁持有时长
func (pm *PrometheusMetrics) RecordLockHoldDuration(account string, duration time.Duration) {
	lockHoldDuration.WithLabelValues(account).Observe(duration.Seconds())
}

// RecordQuarantine 记录账户进入隔离
func (pm *PrometheusMetrics) RecordQuarantine(account string) {
	quarantineTotal.WithLabelValues(account).Inc()
}

// SetQuarantinedAccounts 更新隔离中账户数量
func (pm *PrometheusMetrics) SetQuarantinedAccounts(count int) {
	quarantinedAccounts.Set(float64(count))
}

// SetGoroutineCount 更新 goroutine 数量
func (pm *PrometheusMetrics) SetGoroutineCount(count int) {
	goroutineCount.Set(float64(count))
}

// SetMemoryAlloc 更新堆内存分配
func (pm *PrometheusMetrics) SetMemoryAlloc(bytes uint64) {
	memoryAllocBytes.Set(float64(bytes))
}

// SetProcessUsage 更新进程资源占用
func (pm *PrometheusMetrics) SetProcessUsage(cpuPercent, memoryMB float64) {
	processCPUPercent.Set(cpuPercent)
	processMemoryMB.Set(memoryMB)
}

// RecordGCPause 记录GC停顿
func (pm *PrometheusMetrics) RecordGCPause(duration time.Duration) {
	gcPauseDuration.Observe(duration.Seconds())
}
