package fees

import (
	"context"
	"errors"
	"testing"
	"time"

	"arbmesh/config"
	"arbmesh/exchange"
)

// MockFeeVenue 模拟费率查询所需的交易所方法
type MockFeeVenue struct {
	exchange.IVenue

	tradingFee    *exchange.TradingFee
	tradingErr    error
	tradingCalls  int
	withdrawFee   float64
	withdrawErr   error
	withdrawCalls int
}

func (m *MockFeeVenue) FetchDynamicTradingFee(ctx context.Context, symbol string) (*exchange.TradingFee, error) {
	m.tradingCalls++
	if m.tradingErr != nil {
		return nil, m.tradingErr
	}
	return m.tradingFee, nil
}

func (m *MockFeeVenue) FetchLiveWithdrawalFee(ctx context.Context, asset string) (float64, error) {
	m.withdrawCalls++
	if m.withdrawErr != nil {
		return 0, m.withdrawErr
	}
	return m.withdrawFee, nil
}

func testFeesConfig() config.FeesConfig {
	return config.FeesConfig{
		TradingTTLMinutes:  10,
		WithdrawTTLMinutes: 30,
		DefaultRate:        0.001,
		MaxSaneRate:        0.1,
		StaticWithdrawFees: map[string]float64{"SOL": 0.01},
	}
}

func TestOracle_CacheWithinTTL(t *testing.T) {
	venue := &MockFeeVenue{tradingFee: &exchange.TradingFee{MakerRate: 0.0008, TakerRate: 0.0012}}
	o := NewOracle(exchange.Registry{"binance_a": venue}, testFeesConfig())
	ctx := context.Background()

	// 第一次未命中，触发网络请求
	taker := o.GetTradingFee(ctx, "binance_a", "SOLUSDT", exchange.FeeKindTaker)
	if taker != 0.0012 {
		t.Errorf("taker费率错误: %.6f", taker)
	}
	if venue.tradingCalls != 1 {
		t.Fatalf("首次查询应发起1次网络请求, 实际 %d", venue.tradingCalls)
	}

	// TTL内的重复查询全部走缓存
	for i := 0; i < 10; i++ {
		o.GetTradingFee(ctx, "binance_a", "SOLUSDT", exchange.FeeKindTaker)
	}
	if venue.tradingCalls != 1 {
		t.Errorf("TTL内重复查询不应再发起网络请求, 实际 %d 次", venue.tradingCalls)
	}

	// maker 和 taker 联合缓存：maker 查询也不触网
	maker := o.GetTradingFee(ctx, "binance_a", "SOLUSDT", exchange.FeeKindMaker)
	if maker != 0.0008 {
		t.Errorf("maker费率错误: %.6f", maker)
	}
	if venue.tradingCalls != 1 {
		t.Errorf("maker应与taker联合缓存, 实际网络请求 %d 次", venue.tradingCalls)
	}
}

func TestOracle_SanityBound(t *testing.T) {
	ctx := context.Background()

	// 费率超出合理上限时替换为默认值
	venue := &MockFeeVenue{tradingFee: &exchange.TradingFee{MakerRate: 0.5, TakerRate: -0.1}}
	o := NewOracle(exchange.Registry{"binance_a": venue}, testFeesConfig())

	if got := o.GetTradingFee(ctx, "binance_a", "SOLUSDT", exchange.FeeKindMaker); got != 0.001 {
		t.Errorf("超限费率应替换为默认值0.001, 实际 %.6f", got)
	}
	if got := o.GetTradingFee(ctx, "binance_a", "SOLUSDT", exchange.FeeKindTaker); got != 0.001 {
		t.Errorf("负费率应替换为默认值0.001, 实际 %.6f", got)
	}
}

func TestOracle_FallbackOnFetchFailure(t *testing.T) {
	ctx := context.Background()

	// 无缓存且拉取失败：用全局默认费率
	venue := &MockFeeVenue{tradingErr: errors.New("网络超时")}
	o := NewOracle(exchange.Registry{"binance_a": venue}, testFeesConfig())

	if got := o.GetTradingFee(ctx, "binance_a", "SOLUSDT", exchange.FeeKindTaker); got != 0.001 {
		t.Errorf("无缓存拉取失败应返回默认费率, 实际 %.6f", got)
	}

	// 未接入的账户同样降级，不报错
	if got := o.GetTradingFee(ctx, "unknown", "SOLUSDT", exchange.FeeKindTaker); got != 0.001 {
		t.Errorf("未接入账户应返回默认费率, 实际 %.6f", got)
	}
}

func TestOracle_StaleCacheBeatsDefault(t *testing.T) {
	ctx := context.Background()

	cfg := testFeesConfig()
	venue := &MockFeeVenue{tradingFee: &exchange.TradingFee{MakerRate: 0.0008, TakerRate: 0.0012}}
	o := NewOracle(exchange.Registry{"binance_a": venue}, cfg)

	// 先正常缓存一次
	o.GetTradingFee(ctx, "binance_a", "SOLUSDT", exchange.FeeKindTaker)

	// 手工把缓存置为过期，并让后续拉取失败
	o.cache.Range(func(key, value interface{}) bool {
		value.(*cacheEntry).expiresAt = time.Now().Add(-time.Hour)
		return true
	})
	venue.tradingErr = errors.New("网络超时")

	// 过期缓存优先于盲猜的默认值
	if got := o.GetTradingFee(ctx, "binance_a", "SOLUSDT", exchange.FeeKindTaker); got != 0.0012 {
		t.Errorf("拉取失败时应回退到过期缓存0.0012, 实际 %.6f", got)
	}
}

func TestOracle_WithdrawalFeeFallbackLadder(t *testing.T) {
	ctx := context.Background()

	// 动态拉取成功
	venue := &MockFeeVenue{withdrawFee: 0.02}
	o := NewOracle(exchange.Registry{"binance_a": venue}, testFeesConfig())
	if got := o.GetWithdrawalFee(ctx, "binance_a", "SOL"); got != 0.02 {
		t.Errorf("动态提现费错误: %.8f", got)
	}

	// 拉取失败且无缓存：回退到静态表
	failing := &MockFeeVenue{withdrawErr: errors.New("网络超时")}
	o2 := NewOracle(exchange.Registry{"binance_a": failing}, testFeesConfig())
	if got := o2.GetWithdrawalFee(ctx, "binance_a", "SOL"); got != 0.01 {
		t.Errorf("应回退到静态提现费表0.01, 实际 %.8f", got)
	}

	// 静态表也没有的资产：按0处理（不阻塞评估）
	if got := o2.GetWithdrawalFee(ctx, "binance_a", "XYZ"); got != 0 {
		t.Errorf("无任何数据的资产提现费应为0, 实际 %.8f", got)
	}
}

func TestOracle_Invalidate(t *testing.T) {
	ctx := context.Background()

	venue := &MockFeeVenue{tradingFee: &exchange.TradingFee{MakerRate: 0.0008, TakerRate: 0.0012}}
	o := NewOracle(exchange.Registry{"binance_a": venue}, testFeesConfig())

	o.GetTradingFee(ctx, "binance_a", "SOLUSDT", exchange.FeeKindTaker)
	o.Invalidate("binance_a", "SOLUSDT")
	o.GetTradingFee(ctx, "binance_a", "SOLUSDT", exchange.FeeKindTaker)

	if venue.tradingCalls != 2 {
		t.Errorf("失效后再查询应重新触网, 实际请求 %d 次", venue.tradingCalls)
	}
}
