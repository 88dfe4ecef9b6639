package config

import (
	"strings"
	"testing"
)

const minimalYAML = `
app:
  risk_domain: main
venues:
  binance_a:
    exchange: binance
  binance_b:
    exchange: binance
trading:
  mode: simulation
`

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromBytes([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("加载最小配置失败: %v", err)
	}

	if cfg.Trading.CapitalPerTrade != 300 {
		t.Errorf("默认单笔资金应为300, 实际 %.2f", cfg.Trading.CapitalPerTrade)
	}
	if cfg.Trading.MinNetProfit != 0.05 {
		t.Errorf("默认最小净利润应为0.05, 实际 %.4f", cfg.Trading.MinNetProfit)
	}
	if cfg.Trading.BridgeAsset != "BTC" || cfg.Trading.QuoteAsset != "USDT" {
		t.Errorf("默认桥接/计价资产错误: %s/%s", cfg.Trading.BridgeAsset, cfg.Trading.QuoteAsset)
	}
	if cfg.Fees.TradingTTLMinutes != 10 || cfg.Fees.WithdrawTTLMinutes != 30 {
		t.Errorf("默认费率TTL错误: %d/%d", cfg.Fees.TradingTTLMinutes, cfg.Fees.WithdrawTTLMinutes)
	}
	if cfg.Fees.DefaultRate != 0.001 || cfg.Fees.MaxSaneRate != 0.1 {
		t.Errorf("默认费率上下限错误: %.4f/%.2f", cfg.Fees.DefaultRate, cfg.Fees.MaxSaneRate)
	}
	if cfg.Risk.DailyLossLimitPct != 2.0 || cfg.Risk.MaxDrawdownPct != 8.0 || cfg.Risk.MaxConsecutiveLosses != 3 {
		t.Errorf("默认风控阈值错误: %+v", cfg.Risk)
	}
	if cfg.Coordinator.LeaseTTLSeconds != 30 || cfg.Coordinator.QuarantineThreshold != 3 || cfg.Coordinator.QuarantineCooldownSeconds != 300 {
		t.Errorf("默认协调器参数错误: %+v", cfg.Coordinator)
	}
	if cfg.Database.Type != "sqlite" {
		t.Errorf("默认数据库类型应为 sqlite, 实际 %s", cfg.Database.Type)
	}
}

func TestLoadConfig_InvalidMode(t *testing.T) {
	yaml := strings.Replace(minimalYAML, "mode: simulation", "mode: paper", 1)
	if _, err := LoadConfigFromBytes([]byte(yaml)); err == nil {
		t.Error("无效运行模式应校验失败")
	}
}

func TestLoadConfig_LiveRequiresAPIKeys(t *testing.T) {
	yaml := strings.Replace(minimalYAML, "mode: simulation", "mode: live", 1)
	if _, err := LoadConfigFromBytes([]byte(yaml)); err == nil {
		t.Error("实盘模式缺少API密钥应校验失败")
	}

	// 补上密钥后通过
	yaml = `
venues:
  binance_a:
    exchange: binance
    api_key: k
    secret_key: s
trading:
  mode: live
`
	if _, err := LoadConfigFromBytes([]byte(yaml)); err != nil {
		t.Errorf("完整实盘配置应通过校验: %v", err)
	}
}

func TestLoadConfig_RiskThresholdOrdering(t *testing.T) {
	// 日亏阈值不能大于等于回撤阈值
	yaml := minimalYAML + `
risk:
  daily_loss_limit_pct: 10
  max_drawdown_pct: 8
`
	if _, err := LoadConfigFromBytes([]byte(yaml)); err == nil {
		t.Error("日亏阈值大于回撤阈值应校验失败")
	}
}

func TestDiffConfig_DetectsModeChange(t *testing.T) {
	oldCfg, _ := LoadConfigFromBytes([]byte(minimalYAML))
	newCfg, _ := LoadConfigFromBytes([]byte(minimalYAML))
	newCfg.Trading.Mode = "live"

	diff := DiffConfig(oldCfg, newCfg)
	if len(diff.Changes) == 0 {
		t.Fatal("模式变更应被检测到")
	}

	found := false
	for _, change := range diff.Changes {
		if strings.Contains(change.Path, "mode") {
			found = true
		}
	}
	if !found {
		t.Errorf("差异中应包含 mode 字段: %+v", diff.Changes)
	}
}
