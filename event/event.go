package event

import (
	"time"

	"arbmesh/logger"
)

// EventType 事件类型
type EventType string

const (
	EventTypeTradeWin         EventType = "trade_win"
	EventTypeTradeLoss        EventType = "trade_loss"
	EventTypeLegRisk          EventType = "leg_risk"
	EventTypeRollbackSuccess  EventType = "rollback_success"
	EventTypeRollbackFailed   EventType = "rollback_failed"
	EventTypeQuarantineEnter  EventType = "quarantine_enter"
	EventTypeQuarantineClear  EventType = "quarantine_clear"
	EventTypeRiskPaused       EventType = "risk_paused"
	EventTypeRiskHaltedDaily  EventType = "risk_halted_daily"
	EventTypeRiskHaltedDD     EventType = "risk_halted_drawdown"
	EventTypeRiskOverride     EventType = "risk_override"
	EventTypeRiskDayRollover  EventType = "risk_day_rollover"
	EventTypeModeChanged      EventType = "mode_changed"
	EventTypeFatal            EventType = "fatal"
	EventTypeSystemStart      EventType = "system_start"
	EventTypeSystemStop       EventType = "system_stop"
)

// EventSeverity 事件级别
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityCritical EventSeverity = "critical"
)

// Event 事件结构
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]interface{}
}

// GetEventSeverity 事件类型 -> 级别
func GetEventSeverity(t EventType) EventSeverity {
	switch t {
	case EventTypeRollbackFailed, EventTypeFatal, EventTypeRiskHaltedDaily, EventTypeRiskHaltedDD:
		return SeverityCritical
	case EventTypeLegRisk, EventTypeTradeLoss, EventTypeQuarantineEnter, EventTypeRiskPaused, EventTypeRollbackSuccess:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// GetEventTitle 事件类型 -> 标题
func GetEventTitle(t EventType) string {
	switch t {
	case EventTypeTradeWin:
		return "套利盈利"
	case EventTypeTradeLoss:
		return "套利亏损"
	case EventTypeLegRisk:
		return "单腿风险"
	case EventTypeRollbackSuccess:
		return "冲正成功"
	case EventTypeRollbackFailed:
		return "冲正失败"
	case EventTypeQuarantineEnter:
		return "账户进入隔离"
	case EventTypeQuarantineClear:
		return "账户解除隔离"
	case EventTypeRiskPaused:
		return "风控暂停"
	case EventTypeRiskHaltedDaily:
		return "日亏损熔断"
	case EventTypeRiskHaltedDD:
		return "回撤熔断"
	case EventTypeRiskOverride:
		return "风控手工解除"
	case EventTypeRiskDayRollover:
		return "风控日切"
	case EventTypeModeChanged:
		return "执行模式切换"
	case EventTypeFatal:
		return "致命错误"
	case EventTypeSystemStart:
		return "系统启动"
	case EventTypeSystemStop:
		return "系统停止"
	default:
		return string(t)
	}
}

// EventBus 事件总线
type EventBus struct {
	eventCh    chan *Event
	bufferSize int
}

// NewEventBus 创建事件总线
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 1000 // 默认1000
	}
	return &EventBus{
		eventCh:    make(chan *Event, bufferSize),
		bufferSize: bufferSize,
	}
}

// Publish 发布事件（非阻塞，队列满时丢弃）
func (eb *EventBus) Publish(event *Event) {
	if event == nil {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case eb.eventCh <- event:
	default:
		logger.Warn("⚠️ 事件队列已满，丢弃事件: %s", event.Type)
	}
}

// Emit 发布事件（便捷方法）
func (eb *EventBus) Emit(eventType EventType, data map[string]interface{}) {
	eb.Publish(&Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// Subscribe 订阅事件（返回 channel）
func (eb *EventBus) Subscribe() <-chan *Event {
	return eb.eventCh
}

// Close 关闭事件总线
func (eb *EventBus) Close() {
	close(eb.eventCh)
}
