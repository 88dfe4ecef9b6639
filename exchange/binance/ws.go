package binance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"arbmesh/logger"
)

const (
	wsBaseURL        = "wss://stream.binance.com:9443/stream"
	wsTestnetBaseURL = "wss://testnet.binance.vision/stream"

	wsReconnectDelay = 5 * time.Second
	wsReadTimeout    = 90 * time.Second // miniTicker 每秒推送，90秒无消息视为断线
)

// miniTickerEvent 组合流中的 miniTicker 消息
type miniTickerEvent struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol     string `json:"s"`
		ClosePrice string `json:"c"`
	} `json:"data"`
}

// cachedPrice 带时间戳的价格
type cachedPrice struct {
	price     float64
	updatedAt time.Time
}

// PriceStream WebSocket 行情缓存
// 订阅 miniTicker 组合流，维护各交易对的最新价，供 FetchPrice 快路径使用
type PriceStream struct {
	symbols    []string
	useTestnet bool

	prices map[string]cachedPrice
	mu     sync.RWMutex

	conn    *websocket.Conn
	connMu  sync.Mutex
	stopped bool
	stopCh  chan struct{}
}

// NewPriceStream 创建行情缓存
func NewPriceStream(symbols []string, useTestnet bool) *PriceStream {
	return &PriceStream{
		symbols:    symbols,
		useTestnet: useTestnet,
		prices:     make(map[string]cachedPrice),
		stopCh:     make(chan struct{}),
	}
}

// Start 启动行情流（后台协程，断线自动重连）
func (ps *PriceStream) Start() {
	go ps.runLoop()
}

// Stop 停止行情流
func (ps *PriceStream) Stop() {
	ps.connMu.Lock()
	defer ps.connMu.Unlock()

	if ps.stopped {
		return
	}
	ps.stopped = true
	close(ps.stopCh)

	if ps.conn != nil {
		ps.conn.Close()
		ps.conn = nil
	}
}

// LastPrice 获取缓存的最新价
// maxAge 内更新过的数据才视为有效，过期数据宁可走 REST 也不使用
func (ps *PriceStream) LastPrice(symbol string, maxAge time.Duration) (float64, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	cached, ok := ps.prices[symbol]
	if !ok {
		return 0, false
	}
	if time.Since(cached.updatedAt) > maxAge {
		return 0, false
	}
	return cached.price, true
}

// streamURL 构造组合流URL
func (ps *PriceStream) streamURL() string {
	base := wsBaseURL
	if ps.useTestnet {
		base = wsTestnetBaseURL
	}

	streams := make([]string, 0, len(ps.symbols))
	for _, symbol := range ps.symbols {
		streams = append(streams, strings.ToLower(symbol)+"@miniTicker")
	}
	return fmt.Sprintf("%s?streams=%s", base, strings.Join(streams, "/"))
}

// runLoop 连接循环（断线后等待固定间隔重连）
func (ps *PriceStream) runLoop() {
	for {
		select {
		case <-ps.stopCh:
			return
		default:
		}

		if err := ps.connectAndRead(); err != nil {
			logger.Warn("⚠️ [Binance] 行情流断开: %v，%v后重连", err, wsReconnectDelay)
		}

		select {
		case <-ps.stopCh:
			return
		case <-time.After(wsReconnectDelay):
		}
	}
}

// connectAndRead 建立连接并持续读取
func (ps *PriceStream) connectAndRead() error {
	url := ps.streamURL()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}

	ps.connMu.Lock()
	if ps.stopped {
		ps.connMu.Unlock()
		conn.Close()
		return nil
	}
	ps.conn = conn
	ps.connMu.Unlock()

	logger.Info("✅ [Binance] 行情流已连接 (%d个交易对)", len(ps.symbols))

	defer conn.Close()

	for {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("读取失败: %w", err)
		}

		var event miniTickerEvent
		if err := json.Unmarshal(message, &event); err != nil {
			continue // 忽略无法解析的消息（如订阅确认）
		}
		if event.Data.Symbol == "" {
			continue
		}

		price, err := strconv.ParseFloat(event.Data.ClosePrice, 64)
		if err != nil || price <= 0 {
			continue
		}

		ps.mu.Lock()
		ps.prices[event.Data.Symbol] = cachedPrice{price: price, updatedAt: time.Now()}
		ps.mu.Unlock()
	}
}
