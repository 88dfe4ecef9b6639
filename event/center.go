package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"arbmesh/database"
	"arbmesh/logger"
)

// NotificationService 通知服务接口
type NotificationService interface {
	Send(event *Event)
}

// EventCenter 事件中心
// 消费事件总线：落库、按级别触发通知、定期清理旧事件
type EventCenter struct {
	db       database.Database
	eventBus *EventBus
	notifier NotificationService

	retentionDays   int
	cleanupInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEventCenter 创建事件中心
func NewEventCenter(db database.Database, eventBus *EventBus, notifier NotificationService, retentionDays int) *EventCenter {
	ctx, cancel := context.WithCancel(context.Background())

	if retentionDays <= 0 {
		retentionDays = 30
	}

	return &EventCenter{
		db:              db,
		eventBus:        eventBus,
		notifier:        notifier,
		retentionDays:   retentionDays,
		cleanupInterval: 24 * time.Hour,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start 启动事件中心
func (ec *EventCenter) Start() {
	logger.Info("🚀 启动事件中心...")

	ec.wg.Add(1)
	go ec.processEvents()

	ec.wg.Add(1)
	go ec.cleanupTask()

	logger.Info("✅ 事件中心已启动")
}

// Stop 停止事件中心
func (ec *EventCenter) Stop() {
	logger.Info("🛑 停止事件中心...")
	ec.cancel()
	ec.wg.Wait()
	logger.Info("✅ 事件中心已停止")
}

func (ec *EventCenter) processEvents() {
	defer ec.wg.Done()

	eventCh := ec.eventBus.Subscribe()

	for {
		select {
		case <-ec.ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			ec.handleEvent(event)
		}
	}
}

// handleEvent 处理单个事件：落库 + 触发通知
func (ec *EventCenter) handleEvent(event *Event) {
	if event == nil {
		return
	}

	severity := GetEventSeverity(event.Type)
	title := GetEventTitle(event.Type)

	account := extractString(event.Data, "account")
	symbol := extractString(event.Data, "symbol")
	message := buildMessage(event)

	detailsJSON, err := json.Marshal(event.Data)
	if err != nil {
		logger.Warn("⚠️ 序列化事件详情失败: %v", err)
		detailsJSON = []byte("{}")
	}

	record := &database.EventRecord{
		Type:      string(event.Type),
		Severity:  string(severity),
		Account:   account,
		Symbol:    symbol,
		Title:     title,
		Message:   message,
		Details:   string(detailsJSON),
		CreatedAt: event.Timestamp,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ec.db.SaveEvent(ctx, record); err != nil {
		logger.Error("❌ 保存事件失败: %v", err)
	}

	if ec.notifier != nil && ec.shouldNotify(severity) {
		ec.notifier.Send(event)
	}
}

// shouldNotify 判断是否需要发送通知
// Critical 总是通知；Warning 交给通知服务按规则过滤；Info 不通知
func (ec *EventCenter) shouldNotify(severity EventSeverity) bool {
	return severity == SeverityCritical || severity == SeverityWarning
}

// cleanupTask 周期清理旧事件
func (ec *EventCenter) cleanupTask() {
	defer ec.wg.Done()

	// 首次等待1小时后再开始清理
	timer := time.NewTimer(1 * time.Hour)
	defer timer.Stop()

	for {
		select {
		case <-ec.ctx.Done():
			return
		case <-timer.C:
			ec.performCleanup()
			timer.Reset(ec.cleanupInterval)
		}
	}
}

func (ec *EventCenter) performCleanup() {
	logger.Info("🧹 开始清理旧事件...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	before := time.Now().AddDate(0, 0, -ec.retentionDays)
	deleted, err := ec.db.CleanupEvents(ctx, before)
	if err != nil {
		logger.Error("❌ 清理旧事件失败: %v", err)
		return
	}

	logger.Info("✅ 事件清理完成，删除 %d 条", deleted)
}

func extractString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// buildMessage 构建事件消息
func buildMessage(event *Event) string {
	switch event.Type {
	case EventTypeTradeWin, EventTypeTradeLoss:
		route := extractString(event.Data, "route")
		profit, _ := event.Data["net_profit"].(float64)
		return fmt.Sprintf("%s 净利润 %.4f USDT", route, profit)
	case EventTypeLegRisk:
		symbol := extractString(event.Data, "symbol")
		account := extractString(event.Data, "account")
		qty, _ := event.Data["executed_qty"].(float64)
		return fmt.Sprintf("%s 在 %s 单腿成交 %.8f，对腿未成交", symbol, account, qty)
	case EventTypeRollbackFailed:
		symbol := extractString(event.Data, "symbol")
		account := extractString(event.Data, "account")
		return fmt.Sprintf("%s 在 %s 的冲正失败，需要人工介入", symbol, account)
	case EventTypeQuarantineEnter:
		account := extractString(event.Data, "account")
		until := extractString(event.Data, "until")
		return fmt.Sprintf("账户 %s 连续失败进入隔离，解除时间 %s", account, until)
	case EventTypeModeChanged:
		mode := extractString(event.Data, "mode")
		return fmt.Sprintf("执行模式切换为 %s", mode)
	default:
		if msg, ok := event.Data["message"].(string); ok {
			return msg
		}
		if errMsg, ok := event.Data["error"].(string); ok {
			return errMsg
		}
		return fmt.Sprintf("事件类型: %s", event.Type)
	}
}
