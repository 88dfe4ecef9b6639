package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"arbmesh/config"
	"arbmesh/database"
	"arbmesh/event"
	"arbmesh/logger"
	"arbmesh/metrics"
	"arbmesh/utils"
)

// Status 风控状态
type Status string

const (
	StatusOperational      Status = "OPERATIONAL"         // 正常交易
	StatusPausedDeviation  Status = "PAUSED_DEVIATION"    // 连续亏损暂停，手工解除
	StatusHaltedDailyLimit Status = "HALTED_DAILY_LIMIT"  // 日亏损熔断，日切解除
	StatusHaltedDrawdown   Status = "HALTED_DRAWDOWN"     // 回撤熔断，手工解除
)

// statusCode 状态 -> 指标数值
func statusCode(s Status) int {
	switch s {
	case StatusPausedDeviation:
		return 1
	case StatusHaltedDailyLimit:
		return 2
	case StatusHaltedDrawdown:
		return 3
	default:
		return 0
	}
}

// Manager 风控管理器
// 单资金域的财务健康状态机：权益、高水位、日内盈亏、连续亏损计数
// 状态在一天之内只会单向恶化，恢复只有两条路：日切 或 手工解除
type Manager struct {
	mu sync.Mutex

	domain string
	date   string // YYYY-MM-DD，日切判定基准

	openingCapital    float64
	currentCapital    float64
	peakCapital       float64
	dailyPnL          float64
	consecutiveLosses int
	status            Status

	dailyLossLimitPct    float64
	maxDrawdownPct       float64
	maxConsecutiveLosses int

	db  database.Database
	bus *event.EventBus
	pm  *metrics.PrometheusMetrics

	// 持久化异步化：落库慢不能拖住决策路径
	persistCh chan database.RiskStateRecord
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewManager 创建风控管理器
// 启动时从数据库恢复状态；持久化的日期不是今天时执行日切
func NewManager(cfg *config.Config, db database.Database, bus *event.EventBus) (*Manager, error) {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		domain:               cfg.App.RiskDomain,
		dailyLossLimitPct:    cfg.Risk.DailyLossLimitPct,
		maxDrawdownPct:       cfg.Risk.MaxDrawdownPct,
		maxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		db:                   db,
		bus:                  bus,
		pm:                   metrics.GetPrometheusMetrics(),
		persistCh:            make(chan database.RiskStateRecord, 64),
		ctx:                  ctx,
		cancel:               cancel,
	}

	loadCtx, loadCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer loadCancel()

	record, err := db.GetRiskState(loadCtx, m.domain)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("加载风控状态失败: %w", err)
	}

	today := utils.TodayKey()

	if record == nil {
		// 首次启动：用配置的初始资金初始化
		m.date = today
		m.openingCapital = cfg.Risk.InitialCapital
		m.currentCapital = cfg.Risk.InitialCapital
		m.peakCapital = cfg.Risk.InitialCapital
		m.status = StatusOperational
		logger.Info("✅ [风控] 资金域 %s 初始化，初始资金 %.2f", m.domain, m.openingCapital)
	} else {
		m.date = record.Date
		m.openingCapital = record.OpeningCapital
		m.currentCapital = record.CurrentCapital
		m.peakCapital = record.PeakCapital
		m.dailyPnL = record.DailyPnL
		m.consecutiveLosses = record.ConsecutiveLosses
		m.status = Status(record.Status)

		if record.Date != today {
			m.rolloverLocked(today)
		} else {
			logger.Info("✅ [风控] 资金域 %s 状态已恢复: %s 权益 %.2f 日内盈亏 %+.2f",
				m.domain, m.status, m.currentCapital, m.dailyPnL)
		}
	}

	// 启动时同步落一次库，保证重启后有记录可恢复
	if err := db.SaveRiskState(loadCtx, m.snapshotRecordLocked()); err != nil {
		cancel()
		return nil, fmt.Errorf("保存风控状态失败: %w", err)
	}

	m.pm.SetRiskStatus(m.domain, statusCode(m.status))
	m.pm.SetEquity(m.domain, m.currentCapital, m.peakCapital)

	return m, nil
}

// Start 启动异步持久化 worker
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.persistWorker()
}

// Stop 停止并尽力把积压的状态落库
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

// CanExecuteTrade 当前是否允许开新交易
// 只有 OPERATIONAL 放行；跨到新的一天时先日切再判定
func (m *Manager) CanExecuteTrade() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maybeRolloverLocked()
	return m.status == StatusOperational
}

// Status 当前风控状态
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maybeRolloverLocked()
	return m.status
}

// ReportTradeResult 上报一笔交易的已实现盈亏
// 权益、高水位、日内盈亏、连亏计数在同一临界区内一次更新，再统一评估限额
func (m *Manager) ReportTradeResult(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maybeRolloverLocked()

	m.currentCapital += pnl
	m.dailyPnL += pnl

	// 高水位只升不降
	if m.currentCapital > m.peakCapital {
		m.peakCapital = m.currentCapital
	}

	if pnl < 0 {
		m.consecutiveLosses++
	} else {
		m.consecutiveLosses = 0
	}

	m.evaluateLimitsLocked()

	m.pm.SetEquity(m.domain, m.currentCapital, m.peakCapital)
	m.enqueuePersistLocked()
}

// OverrideLockdown 手工解除暂停/熔断
// 清零连亏计数，立即同步落库（人为操作不能依赖异步队列）
func (m *Manager) OverrideLockdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == StatusOperational {
		return fmt.Errorf("风控状态已是 %s，无需解除", m.status)
	}

	prev := m.status
	m.status = StatusOperational
	m.consecutiveLosses = 0

	logger.Warn("🔓 [风控] 手工解除 %s，恢复交易", prev)
	m.pm.SetRiskStatus(m.domain, statusCode(m.status))
	m.pm.RecordRiskTransition(m.domain, string(StatusOperational))

	if m.bus != nil {
		m.bus.Emit(event.EventTypeRiskOverride, map[string]interface{}{
			"domain": m.domain,
			"from":   string(prev),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.db.SaveRiskState(ctx, m.snapshotRecordLocked())
}

// Snapshot 风控状态快照（运维接口用）
type Snapshot struct {
	Domain            string  `json:"domain"`
	Date              string  `json:"date"`
	Status            string  `json:"status"`
	OpeningCapital    float64 `json:"opening_capital"`
	CurrentCapital    float64 `json:"current_capital"`
	PeakCapital       float64 `json:"peak_capital"`
	DailyPnL          float64 `json:"daily_pnl"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	DrawdownPct       float64 `json:"drawdown_pct"`
}

// GetSnapshot 返回当前风控状态快照
func (m *Manager) GetSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maybeRolloverLocked()

	drawdown := 0.0
	if m.peakCapital > 0 {
		drawdown = (m.peakCapital - m.currentCapital) / m.peakCapital * 100
	}

	return Snapshot{
		Domain:            m.domain,
		Date:              m.date,
		Status:            string(m.status),
		OpeningCapital:    m.openingCapital,
		CurrentCapital:    m.currentCapital,
		PeakCapital:       m.peakCapital,
		DailyPnL:          m.dailyPnL,
		ConsecutiveLosses: m.consecutiveLosses,
		DrawdownPct:       drawdown,
	}
}

// maybeRolloverLocked 跨日检测（调用方持锁）
func (m *Manager) maybeRolloverLocked() {
	today := utils.TodayKey()
	if m.date != today {
		m.rolloverLocked(today)
		m.enqueuePersistLocked()
	}
}

// rolloverLocked 日切：昨收作今开，日内盈亏清零，状态无条件恢复（调用方持锁）
func (m *Manager) rolloverLocked(today string) {
	prevStatus := m.status

	m.date = today
	m.openingCapital = m.currentCapital
	m.dailyPnL = 0
	m.consecutiveLosses = 0
	m.status = StatusOperational

	logger.Info("🔄 [风控] 日切 %s：今日开盘资金 %.2f，状态 %s -> OPERATIONAL",
		today, m.openingCapital, prevStatus)

	m.pm.SetRiskStatus(m.domain, statusCode(m.status))

	if m.bus != nil {
		m.bus.Emit(event.EventTypeRiskDayRollover, map[string]interface{}{
			"domain":          m.domain,
			"date":            today,
			"opening_capital": m.openingCapital,
		})
	}
}

// evaluateLimitsLocked 评估硬限额（调用方持锁）
// 状态在一天内单向恶化：非 OPERATIONAL 时不再迁移
func (m *Manager) evaluateLimitsLocked() {
	if m.status != StatusOperational {
		return
	}

	// 回撤熔断优先：这是最严重的状态
	if m.peakCapital > 0 {
		drawdown := (m.peakCapital - m.currentCapital) / m.peakCapital * 100
		if drawdown >= m.maxDrawdownPct {
			m.transitionLocked(StatusHaltedDrawdown, event.EventTypeRiskHaltedDD, map[string]interface{}{
				"domain":       m.domain,
				"drawdown_pct": drawdown,
				"peak":         m.peakCapital,
				"current":      m.currentCapital,
			})
			return
		}
	}

	// 日亏损熔断
	if m.openingCapital > 0 {
		dailyLossLimit := m.openingCapital * m.dailyLossLimitPct / 100
		if -m.dailyPnL >= dailyLossLimit {
			m.transitionLocked(StatusHaltedDailyLimit, event.EventTypeRiskHaltedDaily, map[string]interface{}{
				"domain":    m.domain,
				"daily_pnl": m.dailyPnL,
				"limit":     dailyLossLimit,
			})
			return
		}
	}

	// 连续亏损暂停
	if m.consecutiveLosses >= m.maxConsecutiveLosses {
		m.transitionLocked(StatusPausedDeviation, event.EventTypeRiskPaused, map[string]interface{}{
			"domain":             m.domain,
			"consecutive_losses": m.consecutiveLosses,
		})
	}
}

// transitionLocked 状态迁移（调用方持锁）
func (m *Manager) transitionLocked(to Status, eventType event.EventType, data map[string]interface{}) {
	logger.Error("🚨 [风控] %s -> %s（权益 %.2f 日内盈亏 %+.2f 连亏 %d）",
		m.status, to, m.currentCapital, m.dailyPnL, m.consecutiveLosses)

	m.status = to
	m.pm.SetRiskStatus(m.domain, statusCode(to))
	m.pm.RecordRiskTransition(m.domain, string(to))

	if m.bus != nil {
		m.bus.Emit(eventType, data)
	}
}

// snapshotRecordLocked 构建持久化记录（调用方持锁）
func (m *Manager) snapshotRecordLocked() *database.RiskStateRecord {
	return &database.RiskStateRecord{
		Domain:            m.domain,
		Date:              m.date,
		OpeningCapital:    m.openingCapital,
		CurrentCapital:    m.currentCapital,
		PeakCapital:       m.peakCapital,
		DailyPnL:          m.dailyPnL,
		ConsecutiveLosses: m.consecutiveLosses,
		Status:            string(m.status),
	}
}

// enqueuePersistLocked 异步持久化入队（调用方持锁）
// 队列满时丢弃最旧的一条：只有最新状态有意义，后写覆盖先写
func (m *Manager) enqueuePersistLocked() {
	rec := *m.snapshotRecordLocked()

	select {
	case m.persistCh <- rec:
		return
	default:
	}

	select {
	case <-m.persistCh:
	default:
	}

	select {
	case m.persistCh <- rec:
	default:
		logger.Warn("⚠️ [风控] 持久化队列拥堵，丢弃本次状态快照")
	}
}

// persistWorker 异步持久化 worker
func (m *Manager) persistWorker() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			// 退出前把积压的状态落完
			for {
				select {
				case rec := <-m.persistCh:
					m.saveRecord(&rec)
				default:
					return
				}
			}
		case rec := <-m.persistCh:
			m.saveRecord(&rec)
		}
	}
}

func (m *Manager) saveRecord(rec *database.RiskStateRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.db.SaveRiskState(ctx, rec); err != nil {
		logger.Error("❌ [风控] 持久化失败: %v", err)
	}
}
