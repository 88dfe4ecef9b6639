package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"

	"arbmesh/logger"
)

// 为了避免循环导入，在这里定义需要的类型
type Side string
type OrderType string
type OrderStatus string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      float64
	Price         float64
	ClientOrderID string
}

type OrderResult struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          Side
	ExecutedQty   float64
	AvgPrice      float64
	Fee           float64
	FeeAsset      string
	Status        OrderStatus
	CreatedAt     time.Time
}

type PriceLevel struct {
	Price    float64
	Quantity float64
}

type OrderBook struct {
	Symbol string
	Bids   []PriceLevel
	Asks   []PriceLevel
}

type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

type TradingFee struct {
	Symbol    string
	MakerRate float64
	TakerRate float64
}

// BinanceAdapter 币安现货适配器
type BinanceAdapter struct {
	client     *binance.Client
	useTestnet bool

	// REST 速率限制
	rateLimiter *rate.Limiter

	// 步长缓存（交易所规则极少变化，进程内缓存即可）
	stepSizes map[string]float64
	stepMu    sync.RWMutex

	// WebSocket 行情缓存（可选）
	priceStream *PriceStream
}

// NewBinanceAdapter 创建币安适配器
func NewBinanceAdapter(cfg map[string]string, symbols []string) (*BinanceAdapter, error) {
	apiKey := cfg["api_key"]
	secretKey := cfg["secret_key"]

	useTestnet := cfg["testnet"] == "true"
	if useTestnet {
		logger.Info("🌐 [Binance] 使用测试网模式")
	}
	// 测试网开关必须在创建客户端之前设置
	binance.UseTestnet = useTestnet

	client := binance.NewClient(apiKey, secretKey)

	// 同步服务器时间（避免签名请求因时钟偏移被拒）
	client.NewSetServerTimeService().Do(context.Background())

	adapter := &BinanceAdapter{
		client:      client,
		useTestnet:  useTestnet,
		rateLimiter: rate.NewLimiter(rate.Limit(15), 20), // 15次/秒，突发20
		stepSizes:   make(map[string]float64),
	}

	// 启用 WebSocket 行情缓存
	if cfg["ws_price_stream"] == "true" && len(symbols) > 0 {
		adapter.priceStream = NewPriceStream(symbols, useTestnet)
		adapter.priceStream.Start()
	}

	return adapter, nil
}

// GetName 获取交易所名称
func (b *BinanceAdapter) GetName() string {
	return "Binance"
}

// Close 关闭适配器（停止 WebSocket 行情流）
func (b *BinanceAdapter) Close() {
	if b.priceStream != nil {
		b.priceStream.Stop()
	}
}

// wait 等待速率限制额度
func (b *BinanceAdapter) wait(ctx context.Context) error {
	if err := b.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("速率限制等待失败: %w", err)
	}
	return nil
}

// FetchPrice 获取最新成交价
// WebSocket 缓存命中时直接返回（2秒内的数据视为新鲜），否则走 REST
func (b *BinanceAdapter) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	if b.priceStream != nil {
		if price, ok := b.priceStream.LastPrice(symbol, 2*time.Second); ok {
			return price, nil
		}
	}

	if err := b.wait(ctx); err != nil {
		return 0, err
	}

	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取价格失败: %w", err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("未找到交易对: %s", symbol)
	}

	return strconv.ParseFloat(prices[0].Price, 64)
}

// FetchBid 获取买一价
func (b *BinanceAdapter) FetchBid(ctx context.Context, symbol string) (float64, error) {
	bid, _, err := b.fetchBookTicker(ctx, symbol)
	return bid, err
}

// FetchAsk 获取卖一价
func (b *BinanceAdapter) FetchAsk(ctx context.Context, symbol string) (float64, error) {
	_, ask, err := b.fetchBookTicker(ctx, symbol)
	return ask, err
}

// fetchBookTicker 获取买一/卖一价
func (b *BinanceAdapter) fetchBookTicker(ctx context.Context, symbol string) (float64, float64, error) {
	if err := b.wait(ctx); err != nil {
		return 0, 0, err
	}

	tickers, err := b.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("获取盘口失败: %w", err)
	}
	if len(tickers) == 0 {
		return 0, 0, fmt.Errorf("未找到交易对: %s", symbol)
	}

	bid, err := strconv.ParseFloat(tickers[0].BidPrice, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("解析买一价失败: %w", err)
	}
	ask, err := strconv.ParseFloat(tickers[0].AskPrice, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("解析卖一价失败: %w", err)
	}

	return bid, ask, nil
}

// FetchAllPrices 批量获取全部交易对最新价
func (b *BinanceAdapter) FetchAllPrices(ctx context.Context) (map[string]float64, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}

	prices, err := b.client.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("批量获取价格失败: %w", err)
	}

	result := make(map[string]float64, len(prices))
	for _, p := range prices {
		if v, err := strconv.ParseFloat(p.Price, 64); err == nil {
			result[p.Symbol] = v
		}
	}

	return result, nil
}

// FetchBalance 获取指定资产的可用余额
func (b *BinanceAdapter) FetchBalance(ctx context.Context, asset string) (float64, error) {
	if err := b.wait(ctx); err != nil {
		return 0, err
	}

	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取账户信息失败: %w", err)
	}

	for _, balance := range account.Balances {
		if balance.Asset == asset {
			return strconv.ParseFloat(balance.Free, 64)
		}
	}

	// 账户没有该资产时余额为0，不算错误
	return 0, nil
}

// FetchOrderBook 获取订单簿快照
func (b *BinanceAdapter) FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}

	resp, err := b.client.NewDepthService().Symbol(symbol).Limit(depth).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取订单簿失败: %w", err)
	}

	book := &OrderBook{Symbol: symbol}
	for _, bid := range resp.Bids {
		price, _ := strconv.ParseFloat(bid.Price, 64)
		qty, _ := strconv.ParseFloat(bid.Quantity, 64)
		book.Bids = append(book.Bids, PriceLevel{Price: price, Quantity: qty})
	}
	for _, ask := range resp.Asks {
		price, _ := strconv.ParseFloat(ask.Price, 64)
		qty, _ := strconv.ParseFloat(ask.Quantity, 64)
		book.Asks = append(book.Asks, PriceLevel{Price: price, Quantity: qty})
	}

	return book, nil
}

// FetchCandles 获取K线
func (b *BinanceAdapter) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]*Candle, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}

	klines, err := b.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取K线失败: %w", err)
	}

	candles := make([]*Candle, 0, len(klines))
	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		closePrice, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)
		candles = append(candles, &Candle{
			OpenTime: time.UnixMilli(k.OpenTime),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closePrice,
			Volume:   volume,
		})
	}

	return candles, nil
}

// FetchDynamicTradingFee 获取账户实际交易费率
// 一次请求同时返回 maker 和 taker（上层缓存会共享同一个过期时间）
func (b *BinanceAdapter) FetchDynamicTradingFee(ctx context.Context, symbol string) (*TradingFee, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}

	fees, err := b.client.NewTradeFeeService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取交易费率失败: %w", err)
	}
	if len(fees) == 0 {
		return nil, fmt.Errorf("未找到交易对费率: %s", symbol)
	}

	maker, err := strconv.ParseFloat(fees[0].MakerCommission, 64)
	if err != nil {
		return nil, fmt.Errorf("解析maker费率失败: %w", err)
	}
	taker, err := strconv.ParseFloat(fees[0].TakerCommission, 64)
	if err != nil {
		return nil, fmt.Errorf("解析taker费率失败: %w", err)
	}

	return &TradingFee{Symbol: symbol, MakerRate: maker, TakerRate: taker}, nil
}

// FetchLiveWithdrawalFee 获取当前提现费（默认网络）
func (b *BinanceAdapter) FetchLiveWithdrawalFee(ctx context.Context, asset string) (float64, error) {
	if err := b.wait(ctx); err != nil {
		return 0, err
	}

	coins, err := b.client.NewGetAllCoinsInfoService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取币种信息失败: %w", err)
	}

	for _, coin := range coins {
		if coin.Coin != asset {
			continue
		}
		// 优先使用默认网络的提现费
		for _, network := range coin.NetworkList {
			if network.IsDefault {
				return strconv.ParseFloat(network.WithdrawFee, 64)
			}
		}
		// 没有默认网络时取第一个
		if len(coin.NetworkList) > 0 {
			return strconv.ParseFloat(coin.NetworkList[0].WithdrawFee, 64)
		}
	}

	return 0, fmt.Errorf("未找到资产: %s", asset)
}

// PlaceOrder 下单
// 返回的 OrderResult 以交易所回报为准：ExecutedQty、均价、手续费全部来自回报
func (b *BinanceAdapter) PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResult, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("无效的下单数量: %.8f（数量必须大于0）", req.Quantity)
	}
	if req.Type == OrderTypeLimit && req.Price <= 0 {
		return nil, fmt.Errorf("无效的下单价格: %.8f（限价单价格必须大于0）", req.Price)
	}

	if err := b.wait(ctx); err != nil {
		return nil, err
	}

	quantityStr := strconv.FormatFloat(req.Quantity, 'f', -1, 64)

	service := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binance.SideType(req.Side)).
		Quantity(quantityStr)

	if req.Type == OrderTypeMarket {
		service = service.Type(binance.OrderTypeMarket)
	} else {
		priceStr := strconv.FormatFloat(req.Price, 'f', -1, 64)
		service = service.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(priceStr)
	}

	if req.ClientOrderID != "" {
		service = service.NewClientOrderID(req.ClientOrderID)
	}

	resp, err := service.Do(ctx)
	if err != nil {
		return nil, err
	}

	executedQty, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	cumQuote, _ := strconv.ParseFloat(resp.CummulativeQuoteQuantity, 64)

	// 均价优先从累计成交额推算，fills 作为补充
	avgPrice := 0.0
	if executedQty > 0 && cumQuote > 0 {
		avgPrice = cumQuote / executedQty
	}

	// 汇总手续费（市价单的 fills 可能跨多档成交）
	totalFee := 0.0
	feeAsset := ""
	for _, fill := range resp.Fills {
		commission, _ := strconv.ParseFloat(fill.Commission, 64)
		totalFee += commission
		feeAsset = fill.CommissionAsset
		if avgPrice == 0 {
			avgPrice, _ = strconv.ParseFloat(fill.Price, 64)
		}
	}

	result := &OrderResult{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		ExecutedQty:   executedQty,
		AvgPrice:      avgPrice,
		Fee:           totalFee,
		FeeAsset:      feeAsset,
		Status:        OrderStatus(resp.Status),
		CreatedAt:     time.Now(),
	}

	logger.Info("✅ [Binance] 下单回报: %s %s 成交 %.8f @ %.8f 状态: %s 订单ID: %d",
		req.Symbol, req.Side, result.ExecutedQty, result.AvgPrice, result.Status, result.OrderID)

	return result, nil
}

// GetStepSize 获取交易对的最小数量步长
func (b *BinanceAdapter) GetStepSize(ctx context.Context, symbol string) (float64, error) {
	b.stepMu.RLock()
	if step, ok := b.stepSizes[symbol]; ok {
		b.stepMu.RUnlock()
		return step, nil
	}
	b.stepMu.RUnlock()

	if err := b.wait(ctx); err != nil {
		return 0, err
	}

	info, err := b.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取交易所信息失败: %w", err)
	}

	for _, s := range info.Symbols {
		if !strings.EqualFold(s.Symbol, symbol) {
			continue
		}
		lotSize := s.LotSizeFilter()
		if lotSize == nil {
			return 0, fmt.Errorf("交易对 %s 缺少 LOT_SIZE 过滤器", symbol)
		}
		step, err := strconv.ParseFloat(lotSize.StepSize, 64)
		if err != nil {
			return 0, fmt.Errorf("解析步长失败: %w", err)
		}

		b.stepMu.Lock()
		b.stepSizes[symbol] = step
		b.stepMu.Unlock()

		return step, nil
	}

	return 0, fmt.Errorf("未找到交易对: %s", symbol)
}
