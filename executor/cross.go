package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"arbmesh/database"
	"arbmesh/event"
	"arbmesh/exchange"
	"arbmesh/logger"
	"arbmesh/utils"
)

// CrossExecutor 跨所双腿执行器
// 买腿和卖腿并发下单，两腿回报都到齐后才做提交/冲正决策
type CrossExecutor struct {
	deps *Deps

	capital         float64
	quoteAsset      string
	reversalMaxWait time.Duration
}

// NewCrossExecutor 创建跨所执行器
func NewCrossExecutor(deps *Deps, capital float64, quoteAsset string, reversalMaxWait time.Duration) *CrossExecutor {
	if reversalMaxWait <= 0 {
		reversalMaxWait = 10 * time.Second
	}
	return &CrossExecutor{
		deps:            deps,
		capital:         capital,
		quoteAsset:      quoteAsset,
		reversalMaxWait: reversalMaxWait,
	}
}

// legResult 单腿执行结果
type legResult struct {
	req    *exchange.OrderRequest
	result *exchange.OrderResult
	err    error
}

// ExecuteCrossTrade 执行一次跨所套利
// buyAccount 低价所买入，sellAccount 高价所卖出
// 探测价格只用于准入，下单前用实时价格重新评估
func (e *CrossExecutor) ExecuteCrossTrade(ctx context.Context, buyAccount, sellAccount, pair string, buyPrice, sellPrice float64) (*TradeOutcome, error) {
	d := e.deps
	start := time.Now()
	route := fmt.Sprintf("%s: %s->%s", pair, buyAccount, sellAccount)

	logger.Debug("🔍 [跨所] %s 候选: 探测价差 %.8f -> %.8f", route, buyPrice, sellPrice)

	// 风控准入
	if !d.RiskMgr.CanExecuteTrade() {
		return nil, ErrRiskLockdown
	}

	// 双账户租约：全有或全无
	owner := utils.GenerateOrderID("cross", "X")
	if !d.Coord.TryAcquireDualLock(buyAccount, sellAccount, owner) {
		return nil, ErrAccountBusy
	}
	defer func() {
		d.Coord.ReleaseLock(buyAccount, owner)
		d.Coord.ReleaseLock(sellAccount, owner)
	}()

	// 下单前重评估：价格在动，探测时的价差未必还在
	buyVenue, err := d.Venues.Get(buyAccount)
	if err != nil {
		return nil, err
	}
	sellVenue, err := d.Venues.Get(sellAccount)
	if err != nil {
		return nil, err
	}

	liveAsk, err := buyVenue.FetchAsk(ctx, pair)
	if err != nil {
		d.Coord.ReportFailure(buyAccount)
		return nil, fmt.Errorf("获取 %s 卖一价失败: %w", buyAccount, err)
	}
	liveBid, err := sellVenue.FetchBid(ctx, pair)
	if err != nil {
		d.Coord.ReportFailure(sellAccount)
		return nil, fmt.Errorf("获取 %s 买一价失败: %w", sellAccount, err)
	}

	buyFee := d.Oracle.GetTradingFee(ctx, buyAccount, pair, exchange.FeeKindTaker)
	sellFee := d.Oracle.GetTradingFee(ctx, sellAccount, pair, exchange.FeeKindTaker)
	networkFee := d.Oracle.GetWithdrawalFee(ctx, buyAccount, baseAsset(pair, e.quoteAsset))

	analysis := d.Model.Evaluate(e.capital, liveAsk, liveBid, buyFee, sellFee, networkFee)
	if !analysis.IsProfitable {
		logger.Info("⏭️ [跨所] %s 重评估后放弃: 净利润 %.4f", route, analysis.NetProfit)
		d.pmRecord("cross", OutcomeNoop, start)
		return &TradeOutcome{
			Strategy:  "cross",
			Route:     route,
			NetProfit: analysis.NetProfit,
			ROI:       analysis.ROIPercent,
			Outcome:   OutcomeNoop,
			Simulated: d.Mode.IsSimulation(),
		}, ErrNotProfitable
	}

	// 数量对齐到两边步长中较粗的那个，保证两腿数量一致
	qty, err := e.alignQuantity(ctx, buyVenue, sellVenue, pair, e.capital/liveAsk)
	if err != nil {
		return nil, err
	}
	if qty <= 0 {
		return nil, fmt.Errorf("资金 %.2f 不足以满足 %s 的最小下单步长", e.capital, pair)
	}

	logger.Info("🚀 [跨所] %s 开始执行: 数量 %.8f 预期净利润 %.4f (ROI %.4f%%)",
		route, qty, analysis.NetProfit, analysis.ROIPercent)

	// 两腿并发，join 后才决策；不存在只看到一腿就行动的窗口
	buyLeg := &legResult{req: &exchange.OrderRequest{
		Symbol:        pair,
		Side:          exchange.SideBuy,
		Type:          exchange.OrderTypeMarket,
		Quantity:      qty,
		Price:         liveAsk,
		ClientOrderID: utils.GenerateOrderID("cross", "B"),
	}}
	sellLeg := &legResult{req: &exchange.OrderRequest{
		Symbol:        pair,
		Side:          exchange.SideSell,
		Type:          exchange.OrderTypeMarket,
		Quantity:      qty,
		Price:         liveBid,
		ClientOrderID: utils.GenerateOrderID("cross", "S"),
	}}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		buyLeg.result, buyLeg.err = d.placeOrder(ctx, buyAccount, buyLeg.req)
	}()
	go func() {
		defer wg.Done()
		sellLeg.result, sellLeg.err = d.placeOrder(ctx, sellAccount, sellLeg.req)
	}()
	wg.Wait()

	buyFilled := legFilled(buyLeg.result, buyLeg.err)
	sellFilled := legFilled(sellLeg.result, sellLeg.err)

	legs := []*database.LegRecord{
		legToRecord("leg_buy", buyAccount, buyLeg.req, buyLeg.result),
		legToRecord("leg_sell", sellAccount, sellLeg.req, sellLeg.result),
	}

	switch {
	case buyFilled && sellFilled:
		return e.settleBothFilled(ctx, route, buyAccount, sellAccount, buyLeg, sellLeg, legs, start)

	case !buyFilled && !sellFilled:
		// 两腿都没成交：资金未动，只记失败
		logger.Warn("⚠️ [跨所] %s 两腿均未成交（买: %v 卖: %v）", route, buyLeg.err, sellLeg.err)
		d.Coord.ReportFailure(buyAccount)
		d.Coord.ReportFailure(sellAccount)
		d.pmRecord("cross", OutcomeNoop, start)

		outcome := &TradeOutcome{Strategy: "cross", Route: route, Outcome: OutcomeNoop, Simulated: d.Mode.IsSimulation()}
		e.persist(outcome, buyAccount, sellAccount, legs)
		return outcome, nil

	case buyFilled:
		// 单腿风险：买腿成交、卖腿失败，立即在买入所冲正
		return e.handleLegRisk(ctx, route, buyAccount, sellAccount, buyLeg, legs, start)

	default:
		// 卖腿成交、买腿失败，在卖出所买回
		return e.handleLegRisk(ctx, route, sellAccount, buyAccount, sellLeg, legs, start)
	}
}

// settleBothFilled 两腿都成交：按实际成交计算盈亏并上报
// 两腿的实际成交量可能不等（部分成交也算成交），差额是隐藏的单腿敞口，必须冲正
func (e *CrossExecutor) settleBothFilled(ctx context.Context, route, buyAccount, sellAccount string, buyLeg, sellLeg *legResult, legs []*database.LegRecord, start time.Time) (*TradeOutcome, error) {
	d := e.deps

	buyCost := buyLeg.result.ExecutedQty * buyLeg.result.AvgPrice
	sellProceeds := sellLeg.result.ExecutedQty * sellLeg.result.AvgPrice
	pnl := sellProceeds - buyCost - quoteFees(e.quoteAsset, buyLeg.result, sellLeg.result)

	residualReversed := false
	if residual := buyLeg.result.ExecutedQty - sellLeg.result.ExecutedQty; residual != 0 {
		// 买多于卖：多出的标的在买入所卖掉；卖多于买：在卖出所买回
		account, side, refPrice, qty := buyAccount, exchange.SideSell, buyLeg.result.AvgPrice, residual
		if residual < 0 {
			account, side, refPrice, qty = sellAccount, exchange.SideBuy, sellLeg.result.AvgPrice, -residual
		}

		if venue, verr := d.Venues.Get(account); verr == nil {
			if step, serr := venue.GetStepSize(ctx, buyLeg.req.Symbol); serr == nil {
				qty = FloorToStep(qty, step)
			}
		}

		if qty > 0 {
			logger.Error("🚨 [跨所] %s 成交量不对齐: 买 %.8f 卖 %.8f，冲正残量 %.8f",
				route, buyLeg.result.ExecutedQty, sellLeg.result.ExecutedQty, qty)
			d.Bus.Emit(event.EventTypeLegRisk, map[string]interface{}{
				"route":        route,
				"account":      account,
				"symbol":       buyLeg.req.Symbol,
				"executed_qty": qty,
			})

			reversalCtx, cancel := context.WithTimeout(ctx, e.reversalMaxWait)
			defer cancel()

			reversalReq := &exchange.OrderRequest{
				Symbol:        buyLeg.req.Symbol,
				Side:          side,
				Type:          exchange.OrderTypeMarket,
				Quantity:      qty,
				Price:         refPrice,
				ClientOrderID: utils.GenerateOrderID("rev", "R"),
			}
			reversalResult, reversalErr := d.placeOrder(reversalCtx, account, reversalReq)
			legs = append(legs, legToRecord("reversal", account, reversalReq, reversalResult))

			if !legFilled(reversalResult, reversalErr) {
				logger.Error("❌ [跨所] %s 残量冲正失败，需要人工介入: %v", route, reversalErr)
				d.pm.RecordRollback("cross", false)
				d.Bus.Emit(event.EventTypeRollbackFailed, map[string]interface{}{
					"route":        route,
					"account":      account,
					"symbol":       buyLeg.req.Symbol,
					"executed_qty": qty,
				})
				d.pmRecord("cross", OutcomeFatal, start)

				outcome := &TradeOutcome{Strategy: "cross", Route: route, Outcome: OutcomeFatal, Simulated: d.Mode.IsSimulation()}
				e.persist(outcome, buyAccount, sellAccount, legs)
				return outcome, fmt.Errorf("残量冲正失败: %w", reversalErr)
			}

			// 冲正的现金流并入总盈亏
			if side == exchange.SideSell {
				pnl += reversalResult.ExecutedQty * reversalResult.AvgPrice
			} else {
				pnl -= reversalResult.ExecutedQty * reversalResult.AvgPrice
			}
			pnl -= quoteFees(e.quoteAsset, reversalResult)

			residualReversed = true
			d.pm.RecordRollback("cross", true)
			d.Bus.Emit(event.EventTypeRollbackSuccess, map[string]interface{}{
				"route":      route,
				"account":    account,
				"net_profit": pnl,
			})
		}
	}

	roi := 0.0
	if buyCost > 0 {
		roi = pnl / buyCost * 100
	}

	d.Coord.ReportSuccess(buyAccount)
	d.Coord.ReportSuccess(sellAccount)
	d.RiskMgr.ReportTradeResult(pnl)
	d.pm.RecordRealizedPnL("cross", pnl)

	outcomeStr := OutcomeWin
	eventType := event.EventTypeTradeWin
	if pnl < 0 {
		outcomeStr = OutcomeLoss
		eventType = event.EventTypeTradeLoss
	}
	if residualReversed {
		// 冲正过残量的交易按 rollback 归档，rollback_success 事件已发过
		outcomeStr = OutcomeRollback
		logger.Warn("🔄 [跨所] %s 完成（含残量冲正）: 净利润 %+.4f (ROI %+.4f%%)", route, pnl, roi)
	} else {
		logger.Info("✅ [跨所] %s 完成: 净利润 %+.4f (ROI %+.4f%%)", route, pnl, roi)
		d.Bus.Emit(eventType, map[string]interface{}{
			"route":      route,
			"net_profit": pnl,
			"roi":        roi,
		})
	}
	d.pmRecord("cross", outcomeStr, start)

	outcome := &TradeOutcome{
		Strategy:  "cross",
		Route:     route,
		NetProfit: pnl,
		ROI:       roi,
		Outcome:   outcomeStr,
		Simulated: d.Mode.IsSimulation(),
	}
	e.persist(outcome, buyAccount, sellAccount, legs)
	return outcome, nil
}

// handleLegRisk 单腿成交的冲正处理
// filledAccount 是有成交的账户，failedAccount 是对腿失败的账户
// 冲正数量永远取回报里的实际成交量，不是请求量
func (e *CrossExecutor) handleLegRisk(ctx context.Context, route, filledAccount, failedAccount string, filled *legResult, legs []*database.LegRecord, start time.Time) (*TradeOutcome, error) {
	d := e.deps

	executedQty := filled.result.ExecutedQty
	logger.Error("🚨 [跨所] %s 单腿风险: %s %s 成交 %.8f，对腿 %s 未成交",
		route, filledAccount, filled.req.Side, executedQty, failedAccount)

	d.Bus.Emit(event.EventTypeLegRisk, map[string]interface{}{
		"route":        route,
		"account":      filledAccount,
		"symbol":       filled.req.Symbol,
		"executed_qty": executedQty,
	})

	d.Coord.ReportSuccess(filledAccount)
	d.Coord.ReportFailure(failedAccount)

	// 立即冲正，目标是最小化敞口时间
	reversalCtx, cancel := context.WithTimeout(ctx, e.reversalMaxWait)
	defer cancel()

	reversalReq := &exchange.OrderRequest{
		Symbol:        filled.req.Symbol,
		Side:          filled.req.Side.Opposite(),
		Type:          exchange.OrderTypeMarket,
		Quantity:      executedQty,
		Price:         filled.result.AvgPrice,
		ClientOrderID: utils.GenerateOrderID("rev", "R"),
	}
	reversalResult, reversalErr := d.placeOrder(reversalCtx, filledAccount, reversalReq)
	legs = append(legs, legToRecord("reversal", filledAccount, reversalReq, reversalResult))

	if !legFilled(reversalResult, reversalErr) {
		// 冲正失败是致命事件：不自动重试，人工介入
		logger.Error("❌ [跨所] %s 冲正失败，需要人工介入: %v", route, reversalErr)
		d.pm.RecordRollback("cross", false)
		d.Bus.Emit(event.EventTypeRollbackFailed, map[string]interface{}{
			"route":        route,
			"account":      filledAccount,
			"symbol":       filled.req.Symbol,
			"executed_qty": executedQty,
		})
		d.pmRecord("cross", OutcomeFatal, start)

		outcome := &TradeOutcome{Strategy: "cross", Route: route, Outcome: OutcomeFatal, Simulated: d.Mode.IsSimulation()}
		e.persist(outcome, filledAccount, failedAccount, legs)
		return outcome, fmt.Errorf("冲正失败: %w", reversalErr)
	}

	// 冲正成功：亏掉的是往返的价差和手续费
	pnl := reversalRoundTripPnL(filled.result, reversalResult)
	d.RiskMgr.ReportTradeResult(pnl)
	d.pm.RecordRollback("cross", true)
	d.pm.RecordRealizedPnL("cross", pnl)

	logger.Warn("🔄 [跨所] %s 冲正完成: 往返损耗 %+.4f", route, pnl)
	d.Bus.Emit(event.EventTypeRollbackSuccess, map[string]interface{}{
		"route":      route,
		"account":    filledAccount,
		"net_profit": pnl,
	})
	d.pmRecord("cross", OutcomeRollback, start)

	outcome := &TradeOutcome{
		Strategy:  "cross",
		Route:     route,
		NetProfit: pnl,
		Outcome:   OutcomeRollback,
		Simulated: d.Mode.IsSimulation(),
	}
	e.persist(outcome, filledAccount, failedAccount, legs)
	return outcome, nil
}

// alignQuantity 把数量对齐到两个交易所步长中较粗的一个
func (e *CrossExecutor) alignQuantity(ctx context.Context, buyVenue, sellVenue exchange.IVenue, pair string, qty float64) (float64, error) {
	buyStep, err := buyVenue.GetStepSize(ctx, pair)
	if err != nil {
		return 0, fmt.Errorf("获取买入所步长失败: %w", err)
	}
	sellStep, err := sellVenue.GetStepSize(ctx, pair)
	if err != nil {
		return 0, fmt.Errorf("获取卖出所步长失败: %w", err)
	}

	step := buyStep
	if sellStep > step {
		step = sellStep
	}
	return FloorToStep(qty, step), nil
}

// persist 异步落库
func (e *CrossExecutor) persist(outcome *TradeOutcome, buyAccount, sellAccount string, legs []*database.LegRecord) {
	e.deps.persistTrade(&database.TradeRecord{
		Strategy:    outcome.Strategy,
		Route:       outcome.Route,
		BuyAccount:  buyAccount,
		SellAccount: sellAccount,
		Capital:     e.capital,
		NetProfit:   outcome.NetProfit,
		ROI:         outcome.ROI,
		Outcome:     outcome.Outcome,
		Simulated:   outcome.Simulated,
		CreatedAt:   time.Now(),
	}, legs)
}

// baseAsset 从交易对里剥出标的资产（BTCUSDT -> BTC）
func baseAsset(pair, quote string) string {
	return strings.TrimSuffix(strings.ToUpper(pair), strings.ToUpper(quote))
}

// quoteFees 汇总以计价资产收取的手续费
// 以标的资产收取的手续费已经体现在实际到手数量里，不重复扣
func quoteFees(quote string, results ...*exchange.OrderResult) float64 {
	total := 0.0
	for _, r := range results {
		if r != nil && strings.EqualFold(r.FeeAsset, quote) {
			total += r.Fee
		}
	}
	return total
}

// reversalRoundTripPnL 单腿往返的已实现盈亏
func reversalRoundTripPnL(original, reversal *exchange.OrderResult) float64 {
	if original.Side == exchange.SideBuy {
		// 买入后卖出冲正
		return reversal.ExecutedQty*reversal.AvgPrice - original.ExecutedQty*original.AvgPrice
	}
	// 卖出后买回冲正
	return original.ExecutedQty*original.AvgPrice - reversal.ExecutedQty*reversal.AvgPrice
}
