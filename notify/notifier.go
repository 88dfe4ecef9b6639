package notify

import (
	"sync"

	"arbmesh/config"
	"arbmesh/event"
	"arbmesh/logger"
)

// Notifier 通知接口
type Notifier interface {
	Send(event *event.Event) error
	Name() string
}

// NotificationService 通知服务
// 按事件规则过滤后，并发扇出到全部启用的通知渠道
type NotificationService struct {
	notifiers []Notifier
	cfg       *config.Config
}

// NewNotificationService 创建通知服务
func NewNotificationService(cfg *config.Config) *NotificationService {
	ns := &NotificationService{
		cfg: cfg,
	}

	if cfg.Notifications.Enabled {
		if cfg.Notifications.Telegram.Enabled && cfg.Notifications.Telegram.BotToken != "" {
			telegramNotifier, err := NewTelegramNotifier(cfg)
			if err != nil {
				logger.Warn("⚠️ 初始化 Telegram 通知失败: %v", err)
			} else {
				ns.notifiers = append(ns.notifiers, telegramNotifier)
				logger.Info("✅ Telegram 通知已启用")
			}
		}

		if cfg.Notifications.Webhook.Enabled && cfg.Notifications.Webhook.URL != "" {
			webhookNotifier, err := NewWebhookNotifier(cfg)
			if err != nil {
				logger.Warn("⚠️ 初始化 Webhook 通知失败: %v", err)
			} else {
				ns.notifiers = append(ns.notifiers, webhookNotifier)
				logger.Info("✅ Webhook 通知已启用")
			}
		}
	}

	return ns
}

// shouldNotify 检查事件类型是否命中通知规则
func (ns *NotificationService) shouldNotify(eventType event.EventType) bool {
	if !ns.cfg.Notifications.Enabled {
		return false
	}

	rules := ns.cfg.Notifications.Rules
	switch eventType {
	case event.EventTypeTradeWin:
		return rules.TradeWin
	case event.EventTypeTradeLoss:
		return rules.TradeLoss
	case event.EventTypeLegRisk:
		return rules.LegRisk
	case event.EventTypeRollbackFailed:
		return rules.RollbackFailed
	case event.EventTypeRollbackSuccess:
		return rules.LegRisk
	case event.EventTypeQuarantineEnter, event.EventTypeQuarantineClear:
		return rules.Quarantine
	case event.EventTypeRiskPaused, event.EventTypeRiskHaltedDaily,
		event.EventTypeRiskHaltedDD, event.EventTypeRiskOverride:
		return rules.RiskTransition
	case event.EventTypeFatal:
		return rules.Fatal
	default:
		return false
	}
}

// Send 发送事件到全部启用的渠道
// 渠道之间互不影响，单个渠道失败只记日志
func (ns *NotificationService) Send(evt *event.Event) {
	if evt == nil || len(ns.notifiers) == 0 {
		return
	}

	if !ns.shouldNotify(evt.Type) {
		return
	}

	var wg sync.WaitGroup
	for _, notifier := range ns.notifiers {
		wg.Add(1)
		go func(n Notifier) {
			defer wg.Done()
			if err := n.Send(evt); err != nil {
				logger.Warn("⚠️ [%s] 通知发送失败: %v", n.Name(), err)
			}
		}(notifier)
	}
	wg.Wait()
}
