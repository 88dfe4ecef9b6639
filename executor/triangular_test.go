package executor

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"arbmesh/exchange"
)

// newTriEnv 三角套利测试环境
// 路径: SOLUSDT -> SOLBTC -> BTCUSDT，默认全部腿按挂牌价全量成交
func newTriEnv(t *testing.T, mode Mode) (*testEnv, *TriangularExecutor, *MockVenue) {
	t.Helper()

	venue := newMockVenue()
	venue.asks["SOLUSDT"] = 100
	venue.bids["SOLUSDT"] = 99.9
	venue.bids["SOLBTC"] = 0.002
	venue.bids["BTCUSDT"] = 51000
	venue.steps["SOLUSDT"] = 0.01
	venue.steps["SOLBTC"] = 0.01
	venue.steps["BTCUSDT"] = 0.0001
	venue.orderHandler = func(req *exchange.OrderRequest) (*exchange.OrderResult, error) {
		price := map[string]float64{
			"SOLUSDT": 100,
			"SOLBTC":  0.002,
			"BTCUSDT": 51000,
		}[req.Symbol]
		if req.Symbol == "SOLUSDT" && req.Side == exchange.SideSell {
			price = 99.9
		}
		return &exchange.OrderResult{
			ClientOrderID: req.ClientOrderID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			ExecutedQty:   req.Quantity,
			AvgPrice:      price,
			Status:        exchange.OrderStatusFilled,
		}, nil
	}

	env := newTestEnv(t, exchange.Registry{"venue_a": venue}, mode)
	exec := NewTriangularExecutor(env.deps, "BTC", "USDT", 0.0005)
	return env, exec, venue
}

func TestTriangular_FullRoute(t *testing.T) {
	env, exec, venue := newTriEnv(t, ModeLive)

	outcome, err := exec.ExecuteTriangular(context.Background(), "venue_a", "SOL", 300)
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}

	if outcome.Outcome != OutcomeWin {
		t.Errorf("三腿走完且有利润应为 win, 实际 %s", outcome.Outcome)
	}
	// 300 -> 3 SOL -> 0.006 BTC -> ~306 USDT
	if outcome.NetProfit < 4 || outcome.NetProfit > 7 {
		t.Errorf("净利润应约为6, 实际 %.4f", outcome.NetProfit)
	}

	orders := venue.placedOrders()
	if len(orders) != 3 {
		t.Fatalf("应恰好有3笔订单, 实际 %d", len(orders))
	}
	if orders[0].Symbol != "SOLUSDT" || orders[0].Side != exchange.SideBuy {
		t.Errorf("第一腿应为买入SOLUSDT: %+v", orders[0])
	}
	if orders[1].Symbol != "SOLBTC" || orders[1].Side != exchange.SideSell {
		t.Errorf("第二腿应为卖出SOLBTC: %+v", orders[1])
	}
	if orders[2].Symbol != "BTCUSDT" || orders[2].Side != exchange.SideSell {
		t.Errorf("第三腿应为卖出BTCUSDT: %+v", orders[2])
	}

	// 租约已释放
	if !env.coord.TryAcquireLock("venue_a", "probe") {
		t.Error("执行结束后账户租约应已释放")
	}
}

func TestTriangular_MidFlightAbort(t *testing.T) {
	env, exec, venue := newTriEnv(t, ModeLive)

	// 第一腿成交期间行情恶化：剩余路径不再有利可图
	venue.bids["SOLBTC"] = 0.0019

	outcome, err := exec.ExecuteTriangular(context.Background(), "venue_a", "SOL", 300)
	if err != nil {
		t.Fatalf("中途退出不应报错: %v", err)
	}
	if outcome.Outcome != OutcomeRollback {
		t.Errorf("中途复核失败应回退第一腿, 实际 %s", outcome.Outcome)
	}

	// 第一腿 + 回退卖单，不应有第二腿
	orders := venue.placedOrders()
	if len(orders) != 2 {
		t.Fatalf("应恰好2笔订单（第一腿+回退）, 实际 %d", len(orders))
	}
	reversal := orders[1]
	if reversal.Symbol != "SOLUSDT" || reversal.Side != exchange.SideSell {
		t.Errorf("回退应在SOLUSDT上卖出: %+v", reversal)
	}
	if reversal.Quantity != 3.0 {
		t.Errorf("回退数量应为第一腿实际成交量3.0, 实际 %.4f", reversal.Quantity)
	}

	// 往返损耗 3*99.9 - 3*100 = -0.3
	if outcome.NetProfit > -0.29 || outcome.NetProfit < -0.31 {
		t.Errorf("往返损耗应约为-0.3, 实际 %.4f", outcome.NetProfit)
	}
	if got := env.riskMgr.GetSnapshot().CurrentCapital; got >= 10000 {
		t.Errorf("回退损耗应计入风控权益, 实际 %.4f", got)
	}
}

func TestTriangular_Leg2FailureExits(t *testing.T) {
	_, exec, venue := newTriEnv(t, ModeLive)

	base := venue.orderHandler
	venue.orderHandler = func(req *exchange.OrderRequest) (*exchange.OrderResult, error) {
		if req.Symbol == "SOLBTC" {
			return nil, errors.New("流动性不足")
		}
		return base(req)
	}

	outcome, err := exec.ExecuteTriangular(context.Background(), "venue_a", "SOL", 300)
	if err != nil {
		t.Fatalf("紧急退出成功时不应报错: %v", err)
	}
	if outcome.Outcome != OutcomeRollback {
		t.Errorf("第二腿失败应紧急退出, 实际 %s", outcome.Outcome)
	}

	// 第一腿 + 失败的第二腿 + 退出卖单
	orders := venue.placedOrders()
	if len(orders) != 3 {
		t.Fatalf("应有3笔订单（腿1+失败的腿2+退出）, 实际 %d", len(orders))
	}
	exit := orders[2]
	if exit.Symbol != "SOLUSDT" || exit.Side != exchange.SideSell {
		t.Errorf("紧急退出应在SOLUSDT上卖出: %+v", exit)
	}
}

func TestTriangular_Leg3FailureFinalSweep(t *testing.T) {
	env, exec, venue := newTriEnv(t, ModeLive)

	// 第三腿失败，但兜底卖出（sweep前缀的订单）成功
	venue.balances["BTC"] = 0.0059
	base := venue.orderHandler
	venue.orderHandler = func(req *exchange.OrderRequest) (*exchange.OrderResult, error) {
		if req.Symbol == "BTCUSDT" && !strings.HasPrefix(req.ClientOrderID, "sweep") {
			return nil, errors.New("交易对临时停牌")
		}
		return base(req)
	}

	outcome, err := exec.ExecuteTriangular(context.Background(), "venue_a", "SOL", 300)
	if err == nil {
		t.Fatal("第三腿失败必须返回错误（人工复核）")
	}
	if outcome.Outcome != OutcomeFatal {
		t.Errorf("第三腿失败应为 fatal, 实际 %s", outcome.Outcome)
	}

	// 兜底数量来自实时余额查询，不是理论数量
	orders := venue.placedOrders()
	sweep := orders[len(orders)-1]
	if !strings.HasPrefix(sweep.ClientOrderID, "sweep") {
		t.Fatalf("最后一笔应为兜底卖出: %+v", sweep)
	}
	if sweep.Quantity > 0.0059 {
		t.Errorf("兜底数量不应超过实时余额0.0059, 实际 %.8f", sweep.Quantity)
	}

	// 兜底成交后盈亏按实际卖出所得计算: ~0.0059*51000-300 ≈ 0.9
	if outcome.NetProfit < 0 || outcome.NetProfit > 2 {
		t.Errorf("兜底后盈亏应约为0.9, 实际 %.4f", outcome.NetProfit)
	}

	// 无论兜底成败都上报账户失败
	snap := env.riskMgr.GetSnapshot()
	if snap.CurrentCapital == 10000 {
		t.Error("兜底结果应计入风控权益")
	}
}

func TestTriangular_Leg1FailureIsSafeNoop(t *testing.T) {
	env, exec, venue := newTriEnv(t, ModeLive)

	venue.orderHandler = func(req *exchange.OrderRequest) (*exchange.OrderResult, error) {
		return nil, errors.New("余额不足")
	}

	outcome, err := exec.ExecuteTriangular(context.Background(), "venue_a", "SOL", 300)
	if err != nil {
		t.Fatalf("第一腿失败资金未动, 不应报错: %v", err)
	}
	if outcome.Outcome != OutcomeNoop {
		t.Errorf("第一腿未成交应为 noop, 实际 %s", outcome.Outcome)
	}
	if got := env.riskMgr.GetSnapshot().CurrentCapital; got != 10000 {
		t.Errorf("资金未动时权益不应变化, 实际 %.4f", got)
	}
}

func TestAvailableQty_DeductsBaseFee(t *testing.T) {
	// 手续费以标的资产支付时必须先扣掉
	leg := &exchange.OrderResult{ExecutedQty: 3.0, Fee: 0.003, FeeAsset: "SOL"}
	if got := availableQty(leg, "SOL"); math.Abs(got-2.997) > 1e-12 {
		t.Errorf("应扣除标的资产手续费: 期望2.997, 实际 %.6f", got)
	}

	// 以其他资产支付时不扣
	leg2 := &exchange.OrderResult{ExecutedQty: 3.0, Fee: 0.3, FeeAsset: "USDT"}
	if got := availableQty(leg2, "SOL"); got != 3.0 {
		t.Errorf("非标的资产手续费不应影响数量: 实际 %.6f", got)
	}
}
