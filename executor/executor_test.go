package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"arbmesh/config"
	"arbmesh/coordinator"
	"arbmesh/database"
	"arbmesh/event"
	"arbmesh/exchange"
	"arbmesh/fees"
	"arbmesh/profit"
	"arbmesh/risk"
)

// MockVenue 模拟交易所
// PlaceOrder 行为由 orderHandler 控制，每笔请求都会被记录
type MockVenue struct {
	exchange.IVenue

	mu           sync.Mutex
	asks         map[string]float64
	bids         map[string]float64
	steps        map[string]float64
	balances     map[string]float64
	orders       []*exchange.OrderRequest
	orderHandler func(req *exchange.OrderRequest) (*exchange.OrderResult, error)
}

func newMockVenue() *MockVenue {
	return &MockVenue{
		asks:     make(map[string]float64),
		bids:     make(map[string]float64),
		steps:    make(map[string]float64),
		balances: make(map[string]float64),
	}
}

func (m *MockVenue) GetName() string { return "mock" }

func (m *MockVenue) FetchAsk(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.asks[symbol], nil
}

func (m *MockVenue) FetchBid(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bids[symbol], nil
}

func (m *MockVenue) GetStepSize(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.steps[symbol], nil
}

func (m *MockVenue) FetchBalance(ctx context.Context, asset string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[asset], nil
}

func (m *MockVenue) FetchDynamicTradingFee(ctx context.Context, symbol string) (*exchange.TradingFee, error) {
	return &exchange.TradingFee{Symbol: symbol, MakerRate: 0.001, TakerRate: 0.001}, nil
}

func (m *MockVenue) FetchLiveWithdrawalFee(ctx context.Context, asset string) (float64, error) {
	return 0.01, nil
}

func (m *MockVenue) PlaceOrder(ctx context.Context, req *exchange.OrderRequest) (*exchange.OrderResult, error) {
	m.mu.Lock()
	m.orders = append(m.orders, req)
	handler := m.orderHandler
	m.mu.Unlock()
	return handler(req)
}

// placedOrders 返回已记录的下单请求副本
func (m *MockVenue) placedOrders() []*exchange.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*exchange.OrderRequest(nil), m.orders...)
}

// fillAt 全量成交的处理器
func fillAt(price float64) func(req *exchange.OrderRequest) (*exchange.OrderResult, error) {
	return func(req *exchange.OrderRequest) (*exchange.OrderResult, error) {
		return &exchange.OrderResult{
			ClientOrderID: req.ClientOrderID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			ExecutedQty:   req.Quantity,
			AvgPrice:      price,
			Status:        exchange.OrderStatusFilled,
			CreatedAt:     time.Now(),
		}, nil
	}
}

// execDB 内存版数据库
type execDB struct {
	mu     sync.Mutex
	states map[string]*database.RiskStateRecord
	trades []*database.TradeRecord
	legs   [][]*database.LegRecord
}

func newExecDB() *execDB {
	return &execDB{states: make(map[string]*database.RiskStateRecord)}
}

func (m *execDB) SaveRiskState(ctx context.Context, state *database.RiskStateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.states[state.Domain] = &cp
	return nil
}

func (m *execDB) GetRiskState(ctx context.Context, domain string) (*database.RiskStateRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.states[domain]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *execDB) SaveTrade(ctx context.Context, trade *database.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, trade)
	return nil
}

func (m *execDB) SaveTradeWithLegs(ctx context.Context, trade *database.TradeRecord, legs []*database.LegRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, trade)
	m.legs = append(m.legs, legs)
	return nil
}

func (m *execDB) GetTrades(ctx context.Context, filter *database.TradeFilter) ([]*database.TradeRecord, error) {
	return nil, nil
}
func (m *execDB) GetLegs(ctx context.Context, tradeID int64) ([]*database.LegRecord, error) {
	return nil, nil
}
func (m *execDB) SaveEvent(ctx context.Context, event *database.EventRecord) error { return nil }
func (m *execDB) GetEvents(ctx context.Context, filter *database.EventFilter) ([]*database.EventRecord, error) {
	return nil, nil
}
func (m *execDB) CleanupEvents(ctx context.Context, before time.Time) (int64, error) { return 0, nil }
func (m *execDB) Ping(ctx context.Context) error                                     { return nil }
func (m *execDB) Close() error                                                       { return nil }

// testEnv 执行器测试环境：真实的协调器/风控/费率预言机 + 模拟交易所和数据库
type testEnv struct {
	deps    *Deps
	db      *execDB
	coord   *coordinator.Coordinator
	riskMgr *risk.Manager
	venues  exchange.Registry
}

func newTestEnv(t *testing.T, venues exchange.Registry, mode Mode) *testEnv {
	t.Helper()

	cfg := &config.Config{}
	cfg.App.RiskDomain = "test"
	cfg.Risk.InitialCapital = 10000
	cfg.Risk.DailyLossLimitPct = 50
	cfg.Risk.MaxDrawdownPct = 50
	cfg.Risk.MaxConsecutiveLosses = 100
	cfg.Coordinator.LeaseTTLSeconds = 30
	cfg.Coordinator.QuarantineThreshold = 100
	cfg.Coordinator.QuarantineCooldownSeconds = 300
	cfg.Fees = config.FeesConfig{
		TradingTTLMinutes:  10,
		WithdrawTTLMinutes: 30,
		DefaultRate:        0.001,
		MaxSaneRate:        0.1,
	}

	db := newExecDB()
	bus := event.NewEventBus(100)
	coord := coordinator.NewCoordinator(cfg, nil, bus)

	riskMgr, err := risk.NewManager(cfg, db, bus)
	if err != nil {
		t.Fatalf("初始化风控失败: %v", err)
	}

	mc, err := NewModeController(mode, bus)
	if err != nil {
		t.Fatalf("初始化模式控制器失败: %v", err)
	}

	oracle := fees.NewOracle(venues, cfg.Fees)
	model := profit.NewModel(0.05)
	deps := NewDeps(venues, oracle, model, coord, riskMgr, mc, db, bus, 1000, 1000)

	return &testEnv{deps: deps, db: db, coord: coord, riskMgr: riskMgr, venues: venues}
}
