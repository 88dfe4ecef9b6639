package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// VenueConfig 交易所账户配置
// 每个键对应一个独立的交易账户（account），同一家交易所可以配置多个账户
type VenueConfig struct {
	Exchange      string   `yaml:"exchange"`        // 交易所类型: binance
	APIKey        string   `yaml:"api_key"`
	SecretKey     string   `yaml:"secret_key"`
	Testnet       bool     `yaml:"testnet"`         // 是否使用测试网
	Symbols       []string `yaml:"symbols"`         // 关注的交易对（WebSocket 行情订阅）
	WSPriceStream bool     `yaml:"ws_price_stream"` // 是否启用 WebSocket 行情缓存
}

// FeesConfig 费率缓存配置
type FeesConfig struct {
	TradingTTLMinutes  int                `yaml:"trading_ttl_minutes"`  // 交易费率缓存TTL（分钟，默认10）
	WithdrawTTLMinutes int                `yaml:"withdraw_ttl_minutes"` // 提现费缓存TTL（分钟，默认30）
	DefaultRate        float64            `yaml:"default_rate"`         // 全局兜底费率，默认0.001
	MaxSaneRate        float64            `yaml:"max_sane_rate"`        // 费率合理性上限，默认0.1
	StaticWithdrawFees map[string]float64 `yaml:"static_withdraw_fees"` // 静态提现费表（资产 -> 数量）
}

// Config 套利执行系统配置
type Config struct {
	// 应用配置
	App struct {
		RiskDomain string `yaml:"risk_domain"` // 风控资金池标识（一个实例管理一个资金池）
	} `yaml:"app"`

	// 交易账户配置（账户ID -> 配置）
	Venues map[string]VenueConfig `yaml:"venues"`

	Trading struct {
		Mode            string  `yaml:"mode"`              // 运行模式: live / simulation（可热更新）
		CapitalPerTrade float64 `yaml:"capital_per_trade"` // 单笔投入资金（USDT）
		MinNetProfit    float64 `yaml:"min_net_profit"`    // 最小净利润（USDT），低于此值视为不可套利
		MinMarginRatio  float64 `yaml:"min_margin_ratio"`  // 三角套利中途复核的最小利润率（如 0.0005）
		BridgeAsset     string  `yaml:"bridge_asset"`      // 三角套利桥接资产，默认 BTC
		QuoteAsset      string  `yaml:"quote_asset"`       // 计价资产，默认 USDT
	} `yaml:"trading"`

	// 费率缓存配置
	Fees FeesConfig `yaml:"fees"`

	// 账户协调器配置
	Coordinator struct {
		LeaseTTLSeconds           int `yaml:"lease_ttl_seconds"`           // 账户锁租约时间（秒，默认30）
		QuarantineThreshold       int `yaml:"quarantine_threshold"`        // 连续失败次数阈值，默认3
		QuarantineCooldownSeconds int `yaml:"quarantine_cooldown_seconds"` // 隔离冷却时间（秒，默认300）
	} `yaml:"coordinator"`

	// 风控配置
	Risk struct {
		InitialCapital       float64 `yaml:"initial_capital"`        // 初始资金（首次启动无持久化状态时使用）
		DailyLossLimitPct    float64 `yaml:"daily_loss_limit_pct"`   // 日亏损熔断阈值（%，默认2.0）
		MaxDrawdownPct       float64 `yaml:"max_drawdown_pct"`       // 最大回撤熔断阈值（%，默认8.0）
		MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"` // 连续亏损暂停阈值，默认3
	} `yaml:"risk"`

	// 订单执行配置
	Executor struct {
		OrderRateLimit   float64 `yaml:"order_rate_limit"`   // 下单速率限制（次/秒，默认10）
		OrderRateBurst   int     `yaml:"order_rate_burst"`   // 突发额度，默认15
		ReversalMaxWait  int     `yaml:"reversal_max_wait"`  // 冲正订单等待终态的最长时间（秒，默认10）
		BalanceEpsilon   float64 `yaml:"balance_epsilon"`    // 余额校验允许的误差比例，默认0.001
	} `yaml:"executor"`

	// 数据库配置（支持 SQLite、PostgreSQL、MySQL）
	Database struct {
		Type            string `yaml:"type"`              // 数据库类型: sqlite, postgres, mysql，默认 sqlite
		DSN             string `yaml:"dsn"`               // 数据源名称，默认 ./data/arbmesh.db
		MaxOpenConns    int    `yaml:"max_open_conns"`    // 最大打开连接数，默认100
		MaxIdleConns    int    `yaml:"max_idle_conns"`    // 最大空闲连接数，默认10
		ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // 连接最大生命周期（秒），默认3600
		LogLevel        string `yaml:"log_level"`         // 日志级别: silent, error, warn, info，默认 error
	} `yaml:"database"`

	// 分布式锁配置（多实例部署）
	DistributedLock struct {
		Enabled    bool   `yaml:"enabled"`     // 是否启用分布式锁，默认false（单实例模式）
		Type       string `yaml:"type"`        // 锁类型: redis，默认 redis
		Prefix     string `yaml:"prefix"`      // 锁键前缀，默认 "arbmesh:lock:"
		DefaultTTL int    `yaml:"default_ttl"` // 默认锁过期时间（秒），默认30

		Redis struct {
			Addr     string `yaml:"addr"`      // Redis 地址，默认 localhost:6379
			Password string `yaml:"password"`  // Redis 密码，默认为空
			DB       int    `yaml:"db"`        // Redis 数据库，默认0
			PoolSize int    `yaml:"pool_size"` // 连接池大小，默认10
		} `yaml:"redis"`
	} `yaml:"distributed_lock"`

	// 通知配置
	Notifications struct {
		Enabled bool `yaml:"enabled"`

		Telegram struct {
			Enabled  bool   `yaml:"enabled"`
			BotToken string `yaml:"bot_token"`
			ChatID   string `yaml:"chat_id"`
		} `yaml:"telegram"`

		Webhook struct {
			Enabled bool   `yaml:"enabled"`
			URL     string `yaml:"url"`
			Timeout int    `yaml:"timeout"` // 超时时间（秒，默认3）
		} `yaml:"webhook"`

		// 通知规则（按事件类型开关）
		Rules struct {
			TradeWin        bool `yaml:"trade_win"`
			TradeLoss       bool `yaml:"trade_loss"`
			LegRisk         bool `yaml:"leg_risk"`
			RollbackFailed  bool `yaml:"rollback_failed"`
			Quarantine      bool `yaml:"quarantine"`
			RiskTransition  bool `yaml:"risk_transition"`
			Fatal           bool `yaml:"fatal"`
		} `yaml:"rules"`
	} `yaml:"notifications"`

	// Web 运维接口配置
	Web struct {
		Enabled bool   `yaml:"enabled"`
		Listen  string `yaml:"listen"` // 监听地址，默认 127.0.0.1:8722
	} `yaml:"web"`

	// 系统配置
	System struct {
		LogLevel         string `yaml:"log_level"`
		Timezone         string `yaml:"timezone"`           // 时区，如 "UTC"、"Asia/Shanghai"
		LogRetentionDays int    `yaml:"log_retention_days"` // SQLite日志保留天数（默认30天，0表示不清理）
	} `yaml:"system"`
}

// LoadConfig 从YAML文件加载配置
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %v", err)
	}

	return LoadConfigFromBytes(data)
}

// LoadConfigFromBytes 从字节数组加载配置（用于测试）
func LoadConfigFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %v", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %v", err)
	}

	return &cfg, nil
}

// applyDefaults 填充默认值
func (c *Config) applyDefaults() {
	if c.App.RiskDomain == "" {
		c.App.RiskDomain = "default"
	}
	if c.Trading.Mode == "" {
		c.Trading.Mode = "simulation"
	}
	if c.Trading.CapitalPerTrade <= 0 {
		c.Trading.CapitalPerTrade = 300
	}
	if c.Trading.MinNetProfit <= 0 {
		c.Trading.MinNetProfit = 0.05
	}
	if c.Trading.MinMarginRatio <= 0 {
		c.Trading.MinMarginRatio = 0.0005
	}
	if c.Trading.BridgeAsset == "" {
		c.Trading.BridgeAsset = "BTC"
	}
	if c.Trading.QuoteAsset == "" {
		c.Trading.QuoteAsset = "USDT"
	}

	if c.Fees.TradingTTLMinutes <= 0 {
		c.Fees.TradingTTLMinutes = 10
	}
	if c.Fees.WithdrawTTLMinutes <= 0 {
		c.Fees.WithdrawTTLMinutes = 30
	}
	if c.Fees.DefaultRate <= 0 {
		c.Fees.DefaultRate = 0.001
	}
	if c.Fees.MaxSaneRate <= 0 {
		c.Fees.MaxSaneRate = 0.1
	}

	if c.Coordinator.LeaseTTLSeconds <= 0 {
		c.Coordinator.LeaseTTLSeconds = 30
	}
	if c.Coordinator.QuarantineThreshold <= 0 {
		c.Coordinator.QuarantineThreshold = 3
	}
	if c.Coordinator.QuarantineCooldownSeconds <= 0 {
		c.Coordinator.QuarantineCooldownSeconds = 300
	}

	if c.Risk.DailyLossLimitPct <= 0 {
		c.Risk.DailyLossLimitPct = 2.0
	}
	if c.Risk.MaxDrawdownPct <= 0 {
		c.Risk.MaxDrawdownPct = 8.0
	}
	if c.Risk.MaxConsecutiveLosses <= 0 {
		c.Risk.MaxConsecutiveLosses = 3
	}

	if c.Executor.OrderRateLimit <= 0 {
		c.Executor.OrderRateLimit = 10
	}
	if c.Executor.OrderRateBurst <= 0 {
		c.Executor.OrderRateBurst = 15
	}
	if c.Executor.ReversalMaxWait <= 0 {
		c.Executor.ReversalMaxWait = 10
	}
	if c.Executor.BalanceEpsilon <= 0 {
		c.Executor.BalanceEpsilon = 0.001
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "./data/arbmesh.db"
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 100
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = 3600
	}
	if c.Database.LogLevel == "" {
		c.Database.LogLevel = "error"
	}

	if c.DistributedLock.Type == "" {
		c.DistributedLock.Type = "redis"
	}
	if c.DistributedLock.Prefix == "" {
		c.DistributedLock.Prefix = "arbmesh:lock:"
	}
	if c.DistributedLock.DefaultTTL <= 0 {
		c.DistributedLock.DefaultTTL = 30
	}
	if c.DistributedLock.Redis.Addr == "" {
		c.DistributedLock.Redis.Addr = "localhost:6379"
	}
	if c.DistributedLock.Redis.PoolSize <= 0 {
		c.DistributedLock.Redis.PoolSize = 10
	}

	if c.Notifications.Webhook.Timeout <= 0 {
		c.Notifications.Webhook.Timeout = 3
	}

	if c.Web.Listen == "" {
		c.Web.Listen = "127.0.0.1:8722"
	}

	if c.System.LogLevel == "" {
		c.System.LogLevel = "info"
	}
	if c.System.Timezone == "" {
		c.System.Timezone = "UTC"
	}
	if c.System.LogRetentionDays <= 0 {
		c.System.LogRetentionDays = 30
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Trading.Mode != "live" && c.Trading.Mode != "simulation" {
		return fmt.Errorf("无效的运行模式: %s（只支持 live / simulation）", c.Trading.Mode)
	}

	for account, vcfg := range c.Venues {
		if vcfg.Exchange == "" {
			return fmt.Errorf("账户 %s 未指定交易所类型", account)
		}
		// 实盘模式要求完整的API配置；模拟模式允许空密钥（只读行情）
		if c.Trading.Mode == "live" && (vcfg.APIKey == "" || vcfg.SecretKey == "") {
			return fmt.Errorf("实盘模式下账户 %s 的 API 配置不完整", account)
		}
	}

	if c.Risk.DailyLossLimitPct >= c.Risk.MaxDrawdownPct {
		return fmt.Errorf("日亏损阈值(%.1f%%)不应大于等于最大回撤阈值(%.1f%%)",
			c.Risk.DailyLossLimitPct, c.Risk.MaxDrawdownPct)
	}

	switch c.Database.Type {
	case "sqlite", "postgres", "postgresql", "mysql":
	default:
		return fmt.Errorf("不支持的数据库类型: %s", c.Database.Type)
	}

	return nil
}

// SaveConfig 保存配置到文件
func SaveConfig(cfg *Config, configPath string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %v", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %v", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("写入配置文件失败: %v", err)
	}

	return nil
}
