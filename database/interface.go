package database

import (
	"context"
	"time"
)

// Database 数据库接口
type Database interface {
	// 风控状态（每个资金域一条，整条覆盖写）
	SaveRiskState(ctx context.Context, state *RiskStateRecord) error
	GetRiskState(ctx context.Context, domain string) (*RiskStateRecord, error)

	// 套利交易记录
	SaveTrade(ctx context.Context, trade *TradeRecord) error
	SaveTradeWithLegs(ctx context.Context, trade *TradeRecord, legs []*LegRecord) error
	GetTrades(ctx context.Context, filter *TradeFilter) ([]*TradeRecord, error)

	// 腿明细
	GetLegs(ctx context.Context, tradeID int64) ([]*LegRecord, error)

	// 事件记录
	SaveEvent(ctx context.Context, event *EventRecord) error
	GetEvents(ctx context.Context, filter *EventFilter) ([]*EventRecord, error)
	CleanupEvents(ctx context.Context, before time.Time) (int64, error)

	// 健康检查
	Ping(ctx context.Context) error

	// 关闭连接
	Close() error
}

// 数据模型

// RiskStateRecord 风控状态持久化记录
// 每个资金域一条，每次变更整条覆盖，启动时读取一次
type RiskStateRecord struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Domain            string    `gorm:"uniqueIndex;size:50" json:"domain"`
	Date              string    `gorm:"size:10" json:"date"` // YYYY-MM-DD
	OpeningCapital    float64   `json:"opening_capital"`
	CurrentCapital    float64   `json:"current_capital"`
	PeakCapital       float64   `json:"peak_capital"`
	DailyPnL          float64   `json:"daily_pnl"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	Status            string    `gorm:"size:30" json:"status"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TradeRecord 套利交易记录
type TradeRecord struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Strategy    string    `gorm:"index:idx_strategy_time;size:20" json:"strategy"` // cross, triangular
	Route       string    `gorm:"size:100" json:"route"`                           // 交易对或三角路径
	BuyAccount  string    `gorm:"size:50" json:"buy_account"`
	SellAccount string    `gorm:"size:50" json:"sell_account"`
	Capital     float64   `json:"capital"`
	NetProfit   float64   `json:"net_profit"`
	ROI         float64   `json:"roi"`
	Outcome     string    `gorm:"index;size:20" json:"outcome"` // win, loss, noop, rollback, fatal
	Simulated   bool      `json:"simulated"`
	CreatedAt   time.Time `gorm:"index:idx_strategy_time" json:"created_at"`
}

// LegRecord 单腿订单明细
// ExecutedQty 来自交易所回报，是唯一的成交事实
type LegRecord struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TradeID      int64     `gorm:"index" json:"trade_id"`
	Purpose      string    `gorm:"size:20" json:"purpose"` // leg1, leg2, leg3, reversal, sweep
	Account      string    `gorm:"size:50" json:"account"`
	Symbol       string    `gorm:"size:50" json:"symbol"`
	Side         string    `gorm:"size:10" json:"side"`
	OrderID      int64     `json:"order_id"`
	RequestedQty float64   `json:"requested_qty"`
	ExecutedQty  float64   `json:"executed_qty"`
	AvgPrice     float64   `json:"avg_price"`
	Fee          float64   `json:"fee"`
	FeeAsset     string    `gorm:"size:20" json:"fee_asset"`
	Status       string    `gorm:"size:20" json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// EventRecord 事件记录
type EventRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Type      string    `gorm:"index;size:50" json:"type"`
	Severity  string    `gorm:"index;size:20" json:"severity"`
	Account   string    `gorm:"size:50" json:"account"`
	Symbol    string    `gorm:"size:50" json:"symbol"`
	Title     string    `gorm:"size:200" json:"title"`
	Message   string    `gorm:"size:1000" json:"message"`
	Details   string    `gorm:"type:text" json:"details"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// 查询过滤器

// TradeFilter 交易记录过滤器
type TradeFilter struct {
	Strategy  string
	Outcome   string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
}

// EventFilter 事件过滤器
type EventFilter struct {
	Type      string
	Severity  string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
}
