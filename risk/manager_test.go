package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"arbmesh/config"
	"arbmesh/database"
	"arbmesh/utils"
)

// mockDB 内存版数据库，只实现风控测试关心的部分
type mockDB struct {
	mu     sync.Mutex
	states map[string]*database.RiskStateRecord
	saves  int
}

func newMockDB() *mockDB {
	return &mockDB{states: make(map[string]*database.RiskStateRecord)}
}

func (m *mockDB) SaveRiskState(ctx context.Context, state *database.RiskStateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.states[state.Domain] = &cp
	m.saves++
	return nil
}

func (m *mockDB) GetRiskState(ctx context.Context, domain string) (*database.RiskStateRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.states[domain]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *mockDB) SaveTrade(ctx context.Context, trade *database.TradeRecord) error { return nil }
func (m *mockDB) SaveTradeWithLegs(ctx context.Context, trade *database.TradeRecord, legs []*database.LegRecord) error {
	return nil
}
func (m *mockDB) GetTrades(ctx context.Context, filter *database.TradeFilter) ([]*database.TradeRecord, error) {
	return nil, nil
}
func (m *mockDB) GetLegs(ctx context.Context, tradeID int64) ([]*database.LegRecord, error) {
	return nil, nil
}
func (m *mockDB) SaveEvent(ctx context.Context, event *database.EventRecord) error { return nil }
func (m *mockDB) GetEvents(ctx context.Context, filter *database.EventFilter) ([]*database.EventRecord, error) {
	return nil, nil
}
func (m *mockDB) CleanupEvents(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}
func (m *mockDB) Ping(ctx context.Context) error { return nil }
func (m *mockDB) Close() error                   { return nil }

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.RiskDomain = "test"
	cfg.Risk.InitialCapital = 10000
	cfg.Risk.DailyLossLimitPct = 2.0
	cfg.Risk.MaxDrawdownPct = 8.0
	cfg.Risk.MaxConsecutiveLosses = 3
	return cfg
}

func TestManager_FreshInit(t *testing.T) {
	db := newMockDB()
	m, err := NewManager(newTestConfig(), db, nil)
	if err != nil {
		t.Fatalf("初始化失败: %v", err)
	}

	snap := m.GetSnapshot()
	if snap.Status != string(StatusOperational) {
		t.Errorf("首次启动状态应为 OPERATIONAL, 实际 %s", snap.Status)
	}
	if snap.CurrentCapital != 10000 || snap.OpeningCapital != 10000 || snap.PeakCapital != 10000 {
		t.Errorf("首次启动资金应全部等于初始资金, 实际 %+v", snap)
	}

	// 启动时必须同步落一次库
	if rec, _ := db.GetRiskState(context.Background(), "test"); rec == nil {
		t.Error("启动后数据库中应有风控状态记录")
	}
}

func TestManager_DailyLossHalt(t *testing.T) {
	m, _ := NewManager(newTestConfig(), newMockDB(), nil)

	// 亏损未达到2%时照常交易
	m.ReportTradeResult(-100)
	if !m.CanExecuteTrade() {
		t.Fatal("日亏1%不应触发熔断")
	}

	// 累计亏损达到开盘资金的2%（10000*2%=200）触发日亏熔断
	m.ReportTradeResult(-100)
	if m.CanExecuteTrade() {
		t.Error("日亏达到2%应触发熔断")
	}
	if m.Status() != StatusHaltedDailyLimit {
		t.Errorf("状态应为 HALTED_DAILY_LIMIT, 实际 %s", m.Status())
	}
}

func TestManager_ConsecutiveLossPause(t *testing.T) {
	m, _ := NewManager(newTestConfig(), newMockDB(), nil)

	// 小额连亏3次（不触及日亏上限）
	m.ReportTradeResult(-10)
	m.ReportTradeResult(-10)
	if m.Status() != StatusOperational {
		t.Fatal("连亏2次不应暂停")
	}

	m.ReportTradeResult(-10)
	if m.Status() != StatusPausedDeviation {
		t.Errorf("连亏3次应进入 PAUSED_DEVIATION, 实际 %s", m.Status())
	}
}

func TestManager_WinResetsLossStreak(t *testing.T) {
	m, _ := NewManager(newTestConfig(), newMockDB(), nil)

	m.ReportTradeResult(-10)
	m.ReportTradeResult(-10)
	m.ReportTradeResult(5) // 盈利清零连亏计数
	m.ReportTradeResult(-10)
	m.ReportTradeResult(-10)

	if m.Status() != StatusOperational {
		t.Errorf("盈利后连亏计数应清零, 实际状态 %s", m.Status())
	}
}

func TestManager_DrawdownHalt(t *testing.T) {
	cfg := newTestConfig()
	cfg.Risk.DailyLossLimitPct = 50 // 放宽日亏，让回撤先触发
	cfg.Risk.MaxConsecutiveLosses = 100
	m, _ := NewManager(cfg, newMockDB(), nil)

	// 先盈利推高高水位
	m.ReportTradeResult(2000) // 权益12000, 峰值12000
	snap := m.GetSnapshot()
	if snap.PeakCapital != 12000 {
		t.Fatalf("高水位应为12000, 实际 %.2f", snap.PeakCapital)
	}

	// 从峰值回撤8%（12000*8%=960）触发回撤熔断
	m.ReportTradeResult(-1000)
	if m.Status() != StatusHaltedDrawdown {
		t.Errorf("回撤达到8%%应触发 HALTED_DRAWDOWN, 实际 %s", m.Status())
	}

	// 高水位只升不降
	if m.GetSnapshot().PeakCapital != 12000 {
		t.Error("亏损后高水位不应下降")
	}
}

func TestManager_PeakMonotone(t *testing.T) {
	m, _ := NewManager(newTestConfig(), newMockDB(), nil)

	m.ReportTradeResult(50)
	m.ReportTradeResult(-30)
	m.ReportTradeResult(20)

	snap := m.GetSnapshot()
	if snap.PeakCapital != 10050 {
		t.Errorf("高水位应保持在10050, 实际 %.2f", snap.PeakCapital)
	}
	if snap.CurrentCapital != 10040 {
		t.Errorf("权益应为10040, 实际 %.2f", snap.CurrentCapital)
	}
}

func TestManager_OverrideLockdown(t *testing.T) {
	m, _ := NewManager(newTestConfig(), newMockDB(), nil)

	// 正常状态下解除是错误
	if err := m.OverrideLockdown(); err == nil {
		t.Error("OPERATIONAL 状态下手工解除应返回错误")
	}

	m.ReportTradeResult(-10)
	m.ReportTradeResult(-10)
	m.ReportTradeResult(-10)
	if m.Status() != StatusPausedDeviation {
		t.Fatal("前置条件失败：应已暂停")
	}

	if err := m.OverrideLockdown(); err != nil {
		t.Fatalf("手工解除失败: %v", err)
	}
	if !m.CanExecuteTrade() {
		t.Error("手工解除后应恢复交易")
	}

	// 解除时清零连亏计数：再亏2次不应重新暂停
	m.ReportTradeResult(-10)
	m.ReportTradeResult(-10)
	if m.Status() != StatusOperational {
		t.Error("手工解除应清零连亏计数")
	}
}

func TestManager_RestoreFromDB(t *testing.T) {
	db := newMockDB()
	db.SaveRiskState(context.Background(), &database.RiskStateRecord{
		Domain:            "test",
		Date:              utils.TodayKey(),
		OpeningCapital:    10000,
		CurrentCapital:    9800,
		PeakCapital:       10100,
		DailyPnL:          -200,
		ConsecutiveLosses: 1,
		Status:            string(StatusHaltedDailyLimit),
	})

	m, err := NewManager(newTestConfig(), db, nil)
	if err != nil {
		t.Fatalf("恢复失败: %v", err)
	}

	snap := m.GetSnapshot()
	if snap.Status != string(StatusHaltedDailyLimit) {
		t.Errorf("同日重启应恢复熔断状态, 实际 %s", snap.Status)
	}
	if snap.CurrentCapital != 9800 || snap.PeakCapital != 10100 {
		t.Errorf("权益/高水位恢复错误: %+v", snap)
	}
	if m.CanExecuteTrade() {
		t.Error("恢复的熔断状态应继续拒绝交易")
	}
}

func TestManager_DayRolloverOnStartup(t *testing.T) {
	db := newMockDB()
	db.SaveRiskState(context.Background(), &database.RiskStateRecord{
		Domain:            "test",
		Date:              "2020-01-01", // 远古日期，启动即日切
		OpeningCapital:    10000,
		CurrentCapital:    9800,
		PeakCapital:       10100,
		DailyPnL:          -200,
		ConsecutiveLosses: 3,
		Status:            string(StatusHaltedDailyLimit),
	})

	m, err := NewManager(newTestConfig(), db, nil)
	if err != nil {
		t.Fatalf("恢复失败: %v", err)
	}

	snap := m.GetSnapshot()
	if snap.Status != string(StatusOperational) {
		t.Errorf("跨日重启应日切恢复 OPERATIONAL, 实际 %s", snap.Status)
	}
	if snap.OpeningCapital != 9800 {
		t.Errorf("日切后昨收应作今开9800, 实际 %.2f", snap.OpeningCapital)
	}
	if snap.DailyPnL != 0 || snap.ConsecutiveLosses != 0 {
		t.Errorf("日切后日内盈亏与连亏计数应清零: %+v", snap)
	}
	// 高水位跨日保留
	if snap.PeakCapital != 10100 {
		t.Errorf("高水位应跨日保留, 实际 %.2f", snap.PeakCapital)
	}
}

func TestManager_AsyncPersistence(t *testing.T) {
	db := newMockDB()
	m, _ := NewManager(newTestConfig(), db, nil)
	m.Start()

	m.ReportTradeResult(100)
	m.Stop() // Stop 会把积压的状态落完

	rec, _ := db.GetRiskState(context.Background(), "test")
	if rec == nil {
		t.Fatal("停机后应有持久化记录")
	}
	if rec.CurrentCapital != 10100 {
		t.Errorf("持久化的权益应为10100, 实际 %.2f", rec.CurrentCapital)
	}
}
