package exchange

import "context"

// IVenue 交易所能力接口
// 核心层只依赖此接口，对传输、签名、各所JSON结构完全无感知
// 所有方法从调用方视角都是阻塞IO，必须传入 context
type IVenue interface {
	// GetName 获取交易所名称
	GetName() string

	// FetchPrice 获取最新成交价
	FetchPrice(ctx context.Context, symbol string) (float64, error)

	// FetchBid 获取买一价
	FetchBid(ctx context.Context, symbol string) (float64, error)

	// FetchAsk 获取卖一价
	FetchAsk(ctx context.Context, symbol string) (float64, error)

	// FetchAllPrices 批量获取全部交易对最新价
	FetchAllPrices(ctx context.Context) (map[string]float64, error)

	// FetchBalance 获取指定资产的可用余额
	FetchBalance(ctx context.Context, asset string) (float64, error)

	// FetchOrderBook 获取订单簿快照
	FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error)

	// FetchCandles 获取K线
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]*Candle, error)

	// FetchDynamicTradingFee 获取账户实际交易费率（maker+taker 一次返回）
	FetchDynamicTradingFee(ctx context.Context, symbol string) (*TradingFee, error)

	// FetchLiveWithdrawalFee 获取当前提现费（以资产数量计）
	FetchLiveWithdrawalFee(ctx context.Context, asset string) (float64, error)

	// PlaceOrder 下单，返回的 OrderResult 是唯一的成交事实依据
	PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResult, error)

	// GetStepSize 获取交易对的最小数量步长
	GetStepSize(ctx context.Context, symbol string) (float64, error)
}
