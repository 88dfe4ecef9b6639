package executor

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"arbmesh/coordinator"
	"arbmesh/database"
	"arbmesh/event"
	"arbmesh/exchange"
	"arbmesh/fees"
	"arbmesh/logger"
	"arbmesh/metrics"
	"arbmesh/profit"
	"arbmesh/risk"
)

var (
	// ErrRiskLockdown 风控拒绝开新交易
	ErrRiskLockdown = errors.New("风控状态不允许开新交易")
	// ErrAccountBusy 账户租约被占用或在隔离中
	ErrAccountBusy = errors.New("账户被占用或在隔离中")
	// ErrNotProfitable 下单前重评估不再有利可图
	ErrNotProfitable = errors.New("重评估后不再有利可图")
)

// Outcome 执行结果分类
const (
	OutcomeWin      = "win"
	OutcomeLoss     = "loss"
	OutcomeNoop     = "noop"
	OutcomeRollback = "rollback"
	OutcomeFatal    = "fatal"
)

// TradeOutcome 一次套利执行的最终结果
type TradeOutcome struct {
	Strategy  string
	Route     string
	NetProfit float64
	ROI       float64
	Outcome   string
	Simulated bool
}

// Deps 执行器共享依赖
type Deps struct {
	Venues  exchange.Registry
	Oracle  *fees.Oracle
	Model   *profit.Model
	Coord   *coordinator.Coordinator
	RiskMgr *risk.Manager
	Mode    *ModeController
	DB      database.Database
	Bus     *event.EventBus

	// 下单速率限制，全部执行器共享
	Limiter *rate.Limiter

	pm *metrics.PrometheusMetrics
}

// NewDeps 组装执行器依赖
func NewDeps(venues exchange.Registry, oracle *fees.Oracle, model *profit.Model,
	coord *coordinator.Coordinator, riskMgr *risk.Manager, mode *ModeController,
	db database.Database, bus *event.EventBus, orderRate float64, orderBurst int) *Deps {

	if orderRate <= 0 {
		orderRate = 10
	}
	if orderBurst <= 0 {
		orderBurst = 15
	}

	return &Deps{
		Venues:  venues,
		Oracle:  oracle,
		Model:   model,
		Coord:   coord,
		RiskMgr: riskMgr,
		Mode:    mode,
		DB:      db,
		Bus:     bus,
		Limiter: rate.NewLimiter(rate.Limit(orderRate), orderBurst),
		pm:      metrics.GetPrometheusMetrics(),
	}
}

// placeOrder 下单（速率限制 + 干跑拦截）
// 干跑模式下不触网，按请求价格伪造全部成交的回报，决策逻辑照常走完
func (d *Deps) placeOrder(ctx context.Context, account string, req *exchange.OrderRequest) (*exchange.OrderResult, error) {
	if err := d.Limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if d.Mode.IsSimulation() {
		logger.Info("🧪 [干跑] %s: %s %s %.8f @ %.8f（未真实下单）",
			account, req.Symbol, req.Side, req.Quantity, req.Price)
		d.pm.RecordOrder(account, req.Symbol, string(req.Side), "SIMULATED")
		return &exchange.OrderResult{
			ClientOrderID: req.ClientOrderID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			ExecutedQty:   req.Quantity,
			AvgPrice:      req.Price,
			Status:        exchange.OrderStatusFilled,
			CreatedAt:     time.Now(),
		}, nil
	}

	venue, err := d.Venues.Get(account)
	if err != nil {
		return nil, err
	}

	result, err := venue.PlaceOrder(ctx, req)
	if err != nil {
		d.pm.RecordOrderFailure(account, req.Symbol, string(req.Side), "api_error")
		return nil, err
	}

	d.pm.RecordOrder(account, req.Symbol, string(req.Side), string(result.Status))
	return result, nil
}

// pmRecord 记录一次执行的结果与耗时
func (d *Deps) pmRecord(strategy, outcome string, start time.Time) {
	d.pm.RecordArbExecution(strategy, outcome, time.Since(start))
}

// legFilled 判定一腿是否有成交（回报是唯一事实，下单无错不等于成交）
func legFilled(result *exchange.OrderResult, err error) bool {
	return err == nil && result != nil && result.ExecutedQty > 0 && result.Status.IsFilled()
}

// legToRecord 回报 -> 腿明细
func legToRecord(purpose, account string, req *exchange.OrderRequest, result *exchange.OrderResult) *database.LegRecord {
	rec := &database.LegRecord{
		Purpose:      purpose,
		Account:      account,
		Symbol:       req.Symbol,
		Side:         string(req.Side),
		RequestedQty: req.Quantity,
		CreatedAt:    time.Now(),
	}
	if result != nil {
		rec.OrderID = result.OrderID
		rec.ExecutedQty = result.ExecutedQty
		rec.AvgPrice = result.AvgPrice
		rec.Fee = result.Fee
		rec.FeeAsset = result.FeeAsset
		rec.Status = string(result.Status)
	} else {
		rec.Status = "ERROR"
	}
	return rec
}

// persistTrade 异步落库交易记录与腿明细
// 磁盘IO不在决策路径上
func (d *Deps) persistTrade(trade *database.TradeRecord, legs []*database.LegRecord) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := d.DB.SaveTradeWithLegs(ctx, trade, legs); err != nil {
			logger.Error("❌ 保存交易记录失败: %v", err)
		}
	}()
}
