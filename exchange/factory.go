package exchange

import (
	"fmt"
	"strings"

	"arbmesh/config"
	"arbmesh/exchange/binance"
	"arbmesh/logger"
)

// NewVenue 根据账户配置创建交易所实例
// 账户ID是协调器/执行器层面的唯一标识；核心层拿到 IVenue 后不再按名称分支
func NewVenue(cfg *config.Config, account string) (IVenue, error) {
	vcfg, exists := cfg.Venues[account]
	if !exists {
		return nil, fmt.Errorf("账户 %s 配置不存在", account)
	}

	switch vcfg.Exchange {
	case "binance":
		cfgMap := map[string]string{
			"api_key":         vcfg.APIKey,
			"secret_key":      vcfg.SecretKey,
			"testnet":         fmt.Sprintf("%v", vcfg.Testnet),
			"ws_price_stream": fmt.Sprintf("%v", vcfg.WSPriceStream),
		}
		adapter, err := binance.NewBinanceAdapter(cfgMap, vcfg.Symbols)
		if err != nil {
			return nil, err
		}
		return &binanceWrapper{adapter: adapter}, nil

	default:
		return nil, fmt.Errorf("不支持的交易所类型: %s", vcfg.Exchange)
	}
}

// Registry 账户ID -> 交易所实例
type Registry map[string]IVenue

// BuildRegistry 构建全部账户的交易所实例
func BuildRegistry(cfg *config.Config) (Registry, error) {
	registry := make(Registry, len(cfg.Venues))
	for account := range cfg.Venues {
		venue, err := NewVenue(cfg, account)
		if err != nil {
			return nil, fmt.Errorf("初始化账户 %s 失败: %w", account, err)
		}
		registry[account] = venue
		logger.Info("✅ 账户已接入: %s (%s)", account, venue.GetName())
	}
	return registry, nil
}

// Get 按账户ID获取交易所实例
func (r Registry) Get(account string) (IVenue, error) {
	venue, ok := r[account]
	if !ok {
		return nil, fmt.Errorf("账户未接入: %s", account)
	}
	return venue, nil
}

// Close 关闭全部交易所连接
func (r Registry) Close() {
	for _, venue := range r {
		if closer, ok := venue.(interface{ Close() }); ok {
			closer.Close()
		}
	}
}

// Accounts 返回全部账户ID（排序无保证）
func (r Registry) Accounts() []string {
	accounts := make([]string, 0, len(r))
	for account := range r {
		accounts = append(accounts, account)
	}
	return accounts
}

// NormalizeSymbol 交易对标准化（BTC/USDT -> BTCUSDT）
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}
