package exchange

import (
	"context"

	"arbmesh/exchange/binance"
)

// binanceWrapper 把币安适配器包装为 IVenue
// 适配器包为避免循环导入定义了自己的类型，这里负责双向转换
type binanceWrapper struct {
	adapter *binance.BinanceAdapter
}

func (w *binanceWrapper) GetName() string {
	return w.adapter.GetName()
}

func (w *binanceWrapper) Close() {
	w.adapter.Close()
}

func (w *binanceWrapper) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	return w.adapter.FetchPrice(ctx, symbol)
}

func (w *binanceWrapper) FetchBid(ctx context.Context, symbol string) (float64, error) {
	return w.adapter.FetchBid(ctx, symbol)
}

func (w *binanceWrapper) FetchAsk(ctx context.Context, symbol string) (float64, error) {
	return w.adapter.FetchAsk(ctx, symbol)
}

func (w *binanceWrapper) FetchAllPrices(ctx context.Context) (map[string]float64, error) {
	return w.adapter.FetchAllPrices(ctx)
}

func (w *binanceWrapper) FetchBalance(ctx context.Context, asset string) (float64, error) {
	return w.adapter.FetchBalance(ctx, asset)
}

func (w *binanceWrapper) FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	book, err := w.adapter.FetchOrderBook(ctx, symbol, depth)
	if err != nil {
		return nil, err
	}

	result := &OrderBook{Symbol: book.Symbol}
	for _, bid := range book.Bids {
		result.Bids = append(result.Bids, PriceLevel{Price: bid.Price, Quantity: bid.Quantity})
	}
	for _, ask := range book.Asks {
		result.Asks = append(result.Asks, PriceLevel{Price: ask.Price, Quantity: ask.Quantity})
	}
	return result, nil
}

func (w *binanceWrapper) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]*Candle, error) {
	candles, err := w.adapter.FetchCandles(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}

	result := make([]*Candle, 0, len(candles))
	for _, c := range candles {
		result = append(result, &Candle{
			OpenTime: c.OpenTime,
			Open:     c.Open,
			High:     c.High,
			Low:      c.Low,
			Close:    c.Close,
			Volume:   c.Volume,
		})
	}
	return result, nil
}

func (w *binanceWrapper) FetchDynamicTradingFee(ctx context.Context, symbol string) (*TradingFee, error) {
	fee, err := w.adapter.FetchDynamicTradingFee(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &TradingFee{Symbol: fee.Symbol, MakerRate: fee.MakerRate, TakerRate: fee.TakerRate}, nil
}

func (w *binanceWrapper) FetchLiveWithdrawalFee(ctx context.Context, asset string) (float64, error) {
	return w.adapter.FetchLiveWithdrawalFee(ctx, asset)
}

func (w *binanceWrapper) PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResult, error) {
	adapterReq := &binance.OrderRequest{
		Symbol:        req.Symbol,
		Side:          binance.Side(req.Side),
		Type:          binance.OrderType(req.Type),
		Quantity:      req.Quantity,
		Price:         req.Price,
		ClientOrderID: req.ClientOrderID,
	}

	result, err := w.adapter.PlaceOrder(ctx, adapterReq)
	if err != nil {
		return nil, err
	}

	return &OrderResult{
		OrderID:       result.OrderID,
		ClientOrderID: result.ClientOrderID,
		Symbol:        result.Symbol,
		Side:          Side(result.Side),
		ExecutedQty:   result.ExecutedQty,
		AvgPrice:      result.AvgPrice,
		Fee:           result.Fee,
		FeeAsset:      result.FeeAsset,
		Status:        OrderStatus(result.Status),
		CreatedAt:     result.CreatedAt,
	}, nil
}

func (w *binanceWrapper) GetStepSize(ctx context.Context, symbol string) (float64, error) {
	return w.adapter.GetStepSize(ctx, symbol)
}
