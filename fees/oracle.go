package fees

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"arbmesh/config"
	"arbmesh/exchange"
	"arbmesh/logger"
	"arbmesh/metrics"
)

// cacheEntry 费率缓存条目
// 过期后不删除：拉取失败时过期值仍然比盲猜的默认值可靠
type cacheEntry struct {
	value     float64
	expiresAt time.Time
}

func (e *cacheEntry) fresh(now time.Time) bool {
	return now.Before(e.expiresAt)
}

// Oracle 费率预言机
// 热路径上的费率查询全部走缓存；网络请求只发生在缓存未命中时
type Oracle struct {
	venues exchange.Registry
	cfg    config.FeesConfig

	// 并发读多写少，读路径无锁
	cache sync.Map // key string -> *cacheEntry

	tradingTTL  time.Duration
	withdrawTTL time.Duration

	pm *metrics.PrometheusMetrics
}

// NewOracle 创建费率预言机
func NewOracle(venues exchange.Registry, cfg config.FeesConfig) *Oracle {
	tradingTTL := time.Duration(cfg.TradingTTLMinutes) * time.Minute
	if tradingTTL <= 0 {
		tradingTTL = 10 * time.Minute
	}
	withdrawTTL := time.Duration(cfg.WithdrawTTLMinutes) * time.Minute
	if withdrawTTL <= 0 {
		withdrawTTL = 30 * time.Minute
	}

	return &Oracle{
		venues:      venues,
		cfg:         cfg,
		tradingTTL:  tradingTTL,
		withdrawTTL: withdrawTTL,
		pm:          metrics.GetPrometheusMetrics(),
	}
}

func tradingKey(account, pair string, kind exchange.FeeKind) string {
	return fmt.Sprintf("%s|%s|%s", account, pair, kind)
}

func withdrawKey(account, asset string) string {
	return fmt.Sprintf("%s|%s|%s", account, asset, exchange.FeeKindWithdraw)
}

// GetTradingFee 查询交易费率
// 永不失败：网络异常时按 过期缓存 -> 全局默认 的顺序降级，只降低估算质量，不阻塞评估
func (o *Oracle) GetTradingFee(ctx context.Context, account, pair string, kind exchange.FeeKind) float64 {
	kindLabel := strings.ToLower(string(kind))
	key := tradingKey(account, pair, kind)
	now := time.Now()

	if v, ok := o.cache.Load(key); ok {
		entry := v.(*cacheEntry)
		if entry.fresh(now) {
			o.pm.RecordFeeCacheHit(kindLabel)
			return entry.value
		}
	}
	o.pm.RecordFeeCacheMiss(kindLabel)

	venue, err := o.venues.Get(account)
	if err != nil {
		logger.Warn("⚠️ [费率] 账户未接入 %s，使用默认费率 %.4f", account, o.cfg.DefaultRate)
		return o.fallbackTradingFee(key, kindLabel)
	}

	fee, err := venue.FetchDynamicTradingFee(ctx, pair)
	if err != nil {
		logger.Warn("⚠️ [费率] 拉取 %s %s 费率失败: %v", account, pair, err)
		return o.fallbackTradingFee(key, kindLabel)
	}

	// 一次请求同时拿到 maker 和 taker，联合缓存，共享同一个过期时间
	taker := o.sanitize(fee.TakerRate)
	maker := o.sanitize(fee.MakerRate)
	expiresAt := now.Add(o.tradingTTL)
	o.cache.Store(tradingKey(account, pair, exchange.FeeKindTaker), &cacheEntry{value: taker, expiresAt: expiresAt})
	o.cache.Store(tradingKey(account, pair, exchange.FeeKindMaker), &cacheEntry{value: maker, expiresAt: expiresAt})

	logger.Debug("🔄 [费率] 刷新 %s %s: taker=%.4f maker=%.4f", account, pair, taker, maker)

	if kind == exchange.FeeKindMaker {
		return maker
	}
	return taker
}

// GetWithdrawalFee 查询提现费（以资产计）
// 降级顺序：过期缓存 -> 静态配置表 -> 0（记警告，宁可高估利润让后续重评估拦截，也不阻塞）
func (o *Oracle) GetWithdrawalFee(ctx context.Context, account, asset string) float64 {
	key := withdrawKey(account, asset)
	now := time.Now()

	if v, ok := o.cache.Load(key); ok {
		entry := v.(*cacheEntry)
		if entry.fresh(now) {
			o.pm.RecordFeeCacheHit("withdraw")
			return entry.value
		}
	}
	o.pm.RecordFeeCacheMiss("withdraw")

	venue, err := o.venues.Get(account)
	if err == nil {
		fee, ferr := venue.FetchLiveWithdrawalFee(ctx, asset)
		if ferr == nil && fee >= 0 {
			o.cache.Store(key, &cacheEntry{value: fee, expiresAt: now.Add(o.withdrawTTL)})
			logger.Debug("🔄 [费率] 刷新 %s %s 提现费: %.8f", account, asset, fee)
			return fee
		}
		if ferr != nil {
			logger.Warn("⚠️ [费率] 拉取 %s %s 提现费失败: %v", account, asset, ferr)
		}
	}

	// 过期值兜底
	if v, ok := o.cache.Load(key); ok {
		o.pm.RecordFeeStaleFallback("withdraw")
		return v.(*cacheEntry).value
	}

	// 静态表兜底
	if static, ok := o.cfg.StaticWithdrawFees[asset]; ok {
		return static
	}

	logger.Warn("⚠️ [费率] %s %s 无任何提现费数据，按0处理", account, asset)
	return 0
}

// fallbackTradingFee 拉取失败时的交易费率降级
func (o *Oracle) fallbackTradingFee(key, kindLabel string) float64 {
	if v, ok := o.cache.Load(key); ok {
		o.pm.RecordFeeStaleFallback(kindLabel)
		return v.(*cacheEntry).value
	}
	return o.cfg.DefaultRate
}

// sanitize 校验费率是否在合理区间，异常值替换为默认值
// 交易所偶尔会返回格式错乱的数据，直接信任会污染利润评估
func (o *Oracle) sanitize(rate float64) float64 {
	maxSane := o.cfg.MaxSaneRate
	if maxSane <= 0 {
		maxSane = 0.1
	}
	if rate <= 0 || rate > maxSane {
		logger.Warn("⚠️ [费率] 异常费率 %.6f 超出合理区间 (0, %.2f]，使用默认值 %.4f", rate, maxSane, o.cfg.DefaultRate)
		return o.cfg.DefaultRate
	}
	return rate
}

// Invalidate 手工失效某个账户+交易对的交易费率缓存
func (o *Oracle) Invalidate(account, pair string) {
	o.cache.Delete(tradingKey(account, pair, exchange.FeeKindTaker))
	o.cache.Delete(tradingKey(account, pair, exchange.FeeKindMaker))
}
