package exchange

import "time"

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite 返回相反方向（冲正订单使用）
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType 订单类型
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsFilled 是否有任何成交（部分成交也算）
func (s OrderStatus) IsFilled() bool {
	return s == OrderStatusFilled || s == OrderStatusPartiallyFilled
}

// FeeKind 费率种类
type FeeKind string

const (
	FeeKindTaker    FeeKind = "TAKER"
	FeeKindMaker    FeeKind = "MAKER"
	FeeKindWithdraw FeeKind = "WITHDRAW"
)

// OrderRequest 下单请求
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      float64
	Price         float64 // 市价单忽略
	ClientOrderID string  // 自定义订单ID
}

// OrderResult 订单结果（不可变，唯一的成交事实依据）
// 所有下游决策只能依据 ExecutedQty，绝不能依据原始请求数量
type OrderResult struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          Side
	ExecutedQty   float64
	AvgPrice      float64
	Fee           float64 // 已支付手续费（以 FeeAsset 计）
	FeeAsset      string
	Status        OrderStatus
	CreatedAt     time.Time
}

// PriceLevel 订单簿价格档位
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// OrderBook 订单簿快照
type OrderBook struct {
	Symbol string
	Bids   []PriceLevel // 买盘（价格降序）
	Asks   []PriceLevel // 卖盘（价格升序）
}

// Candle K线
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// TradingFee 交易费率（一次查询同时返回 maker 和 taker）
type TradingFee struct {
	Symbol    string
	MakerRate float64
	TakerRate float64
}
