package executor

import (
	"context"
	"fmt"
	"time"

	"arbmesh/database"
	"arbmesh/event"
	"arbmesh/exchange"
	"arbmesh/logger"
	"arbmesh/utils"
)

// TriangularExecutor 站内三角套利执行器
// 三腿串行：USDT -> 标的 -> 桥接资产 -> USDT
// 每一腿的数量来自上一腿的实际成交，不是估算值
type TriangularExecutor struct {
	deps *Deps

	bridgeAsset    string
	quoteAsset     string
	minMarginRatio float64
}

// NewTriangularExecutor 创建三角套利执行器
func NewTriangularExecutor(deps *Deps, bridgeAsset, quoteAsset string, minMarginRatio float64) *TriangularExecutor {
	return &TriangularExecutor{
		deps:           deps,
		bridgeAsset:    bridgeAsset,
		quoteAsset:     quoteAsset,
		minMarginRatio: minMarginRatio,
	}
}

// ExecuteTriangular 执行一次三角套利
// asset 是标的资产（如 SOL），capital 是投入的计价资产数量
func (e *TriangularExecutor) ExecuteTriangular(ctx context.Context, account, asset string, capital float64) (*TradeOutcome, error) {
	d := e.deps
	start := time.Now()

	s1 := asset + e.quoteAsset  // 买入标的
	s2 := asset + e.bridgeAsset // 标的换桥接
	s3 := e.bridgeAsset + e.quoteAsset
	route := fmt.Sprintf("%s->%s->%s", s1, s2, s3)

	if !d.RiskMgr.CanExecuteTrade() {
		return nil, ErrRiskLockdown
	}

	owner := utils.GenerateOrderID("tri", "T")
	if !d.Coord.TryAcquireLock(account, owner) {
		return nil, ErrAccountBusy
	}
	defer d.Coord.ReleaseLock(account, owner)

	venue, err := d.Venues.Get(account)
	if err != nil {
		return nil, err
	}

	var legs []*database.LegRecord

	// 第一腿：计价资产买入标的
	price1, err := venue.FetchAsk(ctx, s1)
	if err != nil {
		d.Coord.ReportFailure(account)
		return nil, fmt.Errorf("获取 %s 卖一价失败: %w", s1, err)
	}

	step1, err := venue.GetStepSize(ctx, s1)
	if err != nil {
		return nil, fmt.Errorf("获取 %s 步长失败: %w", s1, err)
	}
	qty1 := FloorToStep(capital/price1, step1)
	if qty1 <= 0 {
		return nil, fmt.Errorf("资金 %.2f 不足以满足 %s 的最小下单步长", capital, s1)
	}

	logger.Info("🚀 [三角] %s 开始执行: 投入 %.2f %s", route, capital, e.quoteAsset)

	leg1Req := &exchange.OrderRequest{
		Symbol:        s1,
		Side:          exchange.SideBuy,
		Type:          exchange.OrderTypeMarket,
		Quantity:      qty1,
		Price:         price1,
		ClientOrderID: utils.GenerateOrderID("tri", "1"),
	}
	leg1, leg1Err := d.placeOrder(ctx, account, leg1Req)
	legs = append(legs, legToRecord("leg1", account, leg1Req, leg1))

	if !legFilled(leg1, leg1Err) {
		// 资金未动，安全退出
		logger.Warn("⚠️ [三角] %s 第一腿未成交: %v", route, leg1Err)
		d.Coord.ReportFailure(account)
		d.pmRecord("triangular", OutcomeNoop, start)

		outcome := &TradeOutcome{Strategy: "triangular", Route: route, Outcome: OutcomeNoop, Simulated: d.Mode.IsSimulation()}
		e.persist(outcome, account, capital, legs)
		return outcome, nil
	}

	spent := leg1.ExecutedQty * leg1.AvgPrice

	// 资金已经进场，复核剩余路径的实时价格
	// 利润在第一腿成交期间蒸发时，立即退出比硬着头皮走完更便宜
	ok, implied := e.reassessRoute(ctx, venue, account, s2, s3, leg1.ExecutedQty, spent)
	if !ok {
		logger.Warn("⚠️ [三角] %s 中途复核失败: 隐含利润 %.4f 低于门槛，回退第一腿", route, implied)
		return e.exitAfterLeg1(ctx, account, route, s1, leg1, legs, capital, start)
	}

	// 第二腿：标的换桥接资产，数量来自第一腿实际成交
	step2, err := venue.GetStepSize(ctx, s2)
	if err != nil {
		logger.Error("❌ [三角] %s 获取 %s 步长失败: %v，回退第一腿", route, s2, err)
		return e.exitAfterLeg1(ctx, account, route, s1, leg1, legs, capital, start)
	}
	qty2 := FloorToStep(availableQty(leg1, asset), step2)
	if qty2 <= 0 {
		logger.Error("❌ [三角] %s 第一腿成交量 %.8f 低于 %s 步长，回退", route, leg1.ExecutedQty, s2)
		return e.exitAfterLeg1(ctx, account, route, s1, leg1, legs, capital, start)
	}

	leg2Req := &exchange.OrderRequest{
		Symbol:        s2,
		Side:          exchange.SideSell,
		Type:          exchange.OrderTypeMarket,
		Quantity:      qty2,
		Price:         0,
		ClientOrderID: utils.GenerateOrderID("tri", "2"),
	}
	if d.Mode.IsSimulation() {
		// 干跑回报需要价格，用实时买一价
		if bid2, berr := venue.FetchBid(ctx, s2); berr == nil {
			leg2Req.Price = bid2
		}
	}
	leg2, leg2Err := d.placeOrder(ctx, account, leg2Req)
	legs = append(legs, legToRecord("leg2", account, leg2Req, leg2))

	if !legFilled(leg2, leg2Err) {
		// 第二腿失败：持有标的，紧急退出回到计价资产
		logger.Error("🚨 [三角] %s 第二腿未成交: %v，紧急退出", route, leg2Err)
		return e.exitAfterLeg1(ctx, account, route, s1, leg1, legs, capital, start)
	}

	// 第三腿：桥接资产换回计价资产
	bridgeAmount := leg2.ExecutedQty * leg2.AvgPrice
	step3, err := venue.GetStepSize(ctx, s3)
	if err != nil {
		step3 = 0 // 步长拿不到时直接用原始数量，让交易所裁决
	}
	qty3 := FloorToStep(bridgeAmount, step3)

	leg3Req := &exchange.OrderRequest{
		Symbol:        s3,
		Side:          exchange.SideSell,
		Type:          exchange.OrderTypeMarket,
		Quantity:      qty3,
		Price:         0,
		ClientOrderID: utils.GenerateOrderID("tri", "3"),
	}
	if d.Mode.IsSimulation() {
		if bid3, berr := venue.FetchBid(ctx, s3); berr == nil {
			leg3Req.Price = bid3
		}
	}
	leg3, leg3Err := d.placeOrder(ctx, account, leg3Req)
	legs = append(legs, legToRecord("leg3", account, leg3Req, leg3))

	if !legFilled(leg3, leg3Err) {
		// 最坏情况：持有桥接资产，没有下一步可走
		// 用实时查到的余额做最后一次兜底卖出，然后无论成败都上报致命事件
		return e.finalSweep(ctx, account, route, s3, step3, leg1, legs, capital, spent, start, leg3Err)
	}

	// 三腿走完，按实际成交结算
	proceeds := leg3.ExecutedQty * leg3.AvgPrice
	pnl := proceeds - spent - quoteFees(e.quoteAsset, leg1, leg2, leg3)
	roi := 0.0
	if spent > 0 {
		roi = pnl / spent * 100
	}

	d.Coord.ReportSuccess(account)
	d.RiskMgr.ReportTradeResult(pnl)
	d.pm.RecordRealizedPnL("triangular", pnl)

	outcomeStr := OutcomeWin
	eventType := event.EventTypeTradeWin
	if pnl < 0 {
		outcomeStr = OutcomeLoss
		eventType = event.EventTypeTradeLoss
	}

	logger.Info("✅ [三角] %s 完成: 净利润 %+.4f (ROI %+.4f%%)", route, pnl, roi)
	d.Bus.Emit(eventType, map[string]interface{}{
		"route":      route,
		"account":    account,
		"net_profit": pnl,
		"roi":        roi,
	})
	d.pmRecord("triangular", outcomeStr, start)

	outcome := &TradeOutcome{
		Strategy:  "triangular",
		Route:     route,
		NetProfit: pnl,
		ROI:       roi,
		Outcome:   outcomeStr,
		Simulated: d.Mode.IsSimulation(),
	}
	e.persist(outcome, account, capital, legs)
	return outcome, nil
}

// reassessRoute 第一腿成交后复核剩余两腿的隐含利润
// 返回 (是否继续, 隐含利润)；行情拉取失败时保守放行，让后续腿的成交事实说话
func (e *TriangularExecutor) reassessRoute(ctx context.Context, venue exchange.IVenue, account, s2, s3 string, assetQty, spent float64) (bool, float64) {
	d := e.deps

	bid2, err2 := venue.FetchBid(ctx, s2)
	bid3, err3 := venue.FetchBid(ctx, s3)
	if err2 != nil || err3 != nil {
		logger.Warn("⚠️ [三角] 中途复核行情拉取失败（%v / %v），按原计划继续", err2, err3)
		return true, 0
	}

	fee2 := d.Oracle.GetTradingFee(ctx, account, s2, exchange.FeeKindTaker)
	fee3 := d.Oracle.GetTradingFee(ctx, account, s3, exchange.FeeKindTaker)

	impliedProceeds := assetQty * bid2 * (1 - fee2) * bid3 * (1 - fee3)
	implied := impliedProceeds - spent

	minMargin := spent * e.minMarginRatio
	return implied >= minMargin, implied
}

// exitAfterLeg1 第一腿之后的紧急退出：把标的卖回计价资产
func (e *TriangularExecutor) exitAfterLeg1(ctx context.Context, account, route, s1 string, leg1 *exchange.OrderResult, legs []*database.LegRecord, capital float64, start time.Time) (*TradeOutcome, error) {
	d := e.deps

	reversalReq := &exchange.OrderRequest{
		Symbol:        s1,
		Side:          exchange.SideSell,
		Type:          exchange.OrderTypeMarket,
		Quantity:      leg1.ExecutedQty,
		Price:         leg1.AvgPrice,
		ClientOrderID: utils.GenerateOrderID("rev", "R"),
	}
	reversal, reversalErr := d.placeOrder(ctx, account, reversalReq)
	legs = append(legs, legToRecord("reversal", account, reversalReq, reversal))

	if !legFilled(reversal, reversalErr) {
		logger.Error("❌ [三角] %s 第一腿回退失败，需要人工介入: %v", route, reversalErr)
		d.Coord.ReportFailure(account)
		d.pm.RecordRollback("triangular", false)
		d.Bus.Emit(event.EventTypeRollbackFailed, map[string]interface{}{
			"route":        route,
			"account":      account,
			"symbol":       s1,
			"executed_qty": leg1.ExecutedQty,
		})
		d.pmRecord("triangular", OutcomeFatal, start)

		outcome := &TradeOutcome{Strategy: "triangular", Route: route, Outcome: OutcomeFatal, Simulated: d.Mode.IsSimulation()}
		e.persist(outcome, account, capital, legs)
		return outcome, fmt.Errorf("第一腿回退失败: %w", reversalErr)
	}

	pnl := reversal.ExecutedQty*reversal.AvgPrice - leg1.ExecutedQty*leg1.AvgPrice
	d.Coord.ReportFailure(account)
	d.RiskMgr.ReportTradeResult(pnl)
	d.pm.RecordRollback("triangular", true)
	d.pm.RecordRealizedPnL("triangular", pnl)

	logger.Warn("🔄 [三角] %s 已回退到计价资产: 往返损耗 %+.4f", route, pnl)
	d.Bus.Emit(event.EventTypeRollbackSuccess, map[string]interface{}{
		"route":      route,
		"account":    account,
		"net_profit": pnl,
	})
	d.pmRecord("triangular", OutcomeRollback, start)

	outcome := &TradeOutcome{
		Strategy:  "triangular",
		Route:     route,
		NetProfit: pnl,
		Outcome:   OutcomeRollback,
		Simulated: d.Mode.IsSimulation(),
	}
	e.persist(outcome, account, capital, legs)
	return outcome, nil
}

// finalSweep 第三腿失败后的最后兜底
// 用实时查询的桥接资产余额（不是理论数量）做一次尽力卖出，之后升级为致命事件
func (e *TriangularExecutor) finalSweep(ctx context.Context, account, route, s3 string, step3 float64, leg1 *exchange.OrderResult, legs []*database.LegRecord, capital, spent float64, start time.Time, cause error) (*TradeOutcome, error) {
	d := e.deps

	logger.Error("🚨 [三角] %s 第三腿未成交: %v，持有桥接资产，尝试最后兜底卖出", route, cause)

	pnl := -spent // 兜底也失败时按全损上报
	swept := false

	venue, err := d.Venues.Get(account)
	if err == nil && !d.Mode.IsSimulation() {
		balance, berr := venue.FetchBalance(ctx, e.bridgeAsset)
		if berr != nil {
			logger.Error("❌ [三角] 查询 %s 余额失败: %v", e.bridgeAsset, berr)
		} else if sweepQty := FloorToStep(balance, step3); sweepQty > 0 {
			sweepReq := &exchange.OrderRequest{
				Symbol:        s3,
				Side:          exchange.SideSell,
				Type:          exchange.OrderTypeMarket,
				Quantity:      sweepQty,
				ClientOrderID: utils.GenerateOrderID("sweep", "S"),
			}
			sweep, sweepErr := d.placeOrder(ctx, account, sweepReq)
			legs = append(legs, legToRecord("sweep", account, sweepReq, sweep))

			if legFilled(sweep, sweepErr) {
				pnl = sweep.ExecutedQty*sweep.AvgPrice - spent
				swept = true
				logger.Warn("🔄 [三角] %s 兜底卖出完成: %.8f %s，最终盈亏 %+.4f",
					route, sweep.ExecutedQty, e.bridgeAsset, pnl)
			} else {
				logger.Error("❌ [三角] %s 兜底卖出也失败: %v", route, sweepErr)
			}
		}
	}

	// 无论兜底成败，这都是需要人工复核的终局
	d.Coord.ReportFailure(account)
	d.RiskMgr.ReportTradeResult(pnl)
	d.pm.RecordRollback("triangular", swept)
	d.pm.RecordRealizedPnL("triangular", pnl)

	d.Bus.Emit(event.EventTypeFatal, map[string]interface{}{
		"route":   route,
		"account": account,
		"symbol":  s3,
		"swept":   swept,
		"message": fmt.Sprintf("三角套利第三腿失败，兜底卖出 %v，需要人工核对 %s 余额", swept, e.bridgeAsset),
	})
	d.pmRecord("triangular", OutcomeFatal, start)

	outcome := &TradeOutcome{
		Strategy:  "triangular",
		Route:     route,
		NetProfit: pnl,
		Outcome:   OutcomeFatal,
		Simulated: d.Mode.IsSimulation(),
	}
	e.persist(outcome, account, capital, legs)
	return outcome, fmt.Errorf("三角套利第三腿失败: %w", cause)
}

// availableQty 第一腿实际到手的标的数量
// 手续费用标的资产支付时要先扣掉，否则第二腿会超卖
func availableQty(leg *exchange.OrderResult, asset string) float64 {
	qty := leg.ExecutedQty
	if leg.FeeAsset == asset {
		qty -= leg.Fee
	}
	return qty
}

// persist 异步落库
func (e *TriangularExecutor) persist(outcome *TradeOutcome, account string, capital float64, legs []*database.LegRecord) {
	e.deps.persistTrade(&database.TradeRecord{
		Strategy:    outcome.Strategy,
		Route:       outcome.Route,
		BuyAccount:  account,
		SellAccount: account,
		Capital:     capital,
		NetProfit:   outcome.NetProfit,
		ROI:         outcome.ROI,
		Outcome:     outcome.Outcome,
		Simulated:   outcome.Simulated,
		CreatedAt:   time.Now(),
	}, legs)
}
