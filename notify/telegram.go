package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"arbmesh/config"
	"arbmesh/event"
)

// TelegramNotifier Telegram 通知器
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramNotifier 创建 Telegram 通知器
func NewTelegramNotifier(cfg *config.Config) (*TelegramNotifier, error) {
	if cfg.Notifications.Telegram.BotToken == "" || cfg.Notifications.Telegram.ChatID == "" {
		return nil, fmt.Errorf("Telegram BotToken 或 ChatID 未配置")
	}

	return &TelegramNotifier{
		botToken: cfg.Notifications.Telegram.BotToken,
		chatID:   cfg.Notifications.Telegram.ChatID,
		client: &http.Client{
			Timeout: 3 * time.Second,
		},
	}, nil
}

// Name 返回通知器名称
func (tn *TelegramNotifier) Name() string {
	return "Telegram"
}

// Send 发送通知
func (tn *TelegramNotifier) Send(evt *event.Event) error {
	message := formatTelegramMessage(evt)
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", tn.botToken)

	payload := map[string]interface{}{
		"chat_id":    tn.chatID,
		"text":       message,
		"parse_mode": "Markdown",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := tn.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Telegram API 返回错误: %d", resp.StatusCode)
	}

	return nil
}

// formatTelegramMessage 格式化 Telegram 消息
func formatTelegramMessage(evt *event.Event) string {
	var emoji string

	switch evt.Type {
	case event.EventTypeTradeWin:
		emoji = "💰"
	case event.EventTypeTradeLoss:
		emoji = "📉"
	case event.EventTypeLegRisk:
		emoji = "⚠️"
	case event.EventTypeRollbackSuccess:
		emoji = "🔄"
	case event.EventTypeRollbackFailed, event.EventTypeFatal:
		emoji = "🚨"
	case event.EventTypeQuarantineEnter:
		emoji = "🔒"
	case event.EventTypeQuarantineClear:
		emoji = "🔓"
	case event.EventTypeRiskPaused, event.EventTypeRiskHaltedDaily, event.EventTypeRiskHaltedDD:
		emoji = "🛑"
	case event.EventTypeRiskOverride:
		emoji = "🔧"
	default:
		emoji = "ℹ️"
	}

	title := event.GetEventTitle(evt.Type)
	msg := fmt.Sprintf("%s *%s*\n", emoji, title)

	for key, value := range evt.Data {
		switch v := value.(type) {
		case float64:
			msg += fmt.Sprintf("`%s`: %.4f\n", key, v)
		default:
			msg += fmt.Sprintf("`%s`: %v\n", key, v)
		}
	}

	msg += fmt.Sprintf("_%s_", evt.Timestamp.Format("2006-01-02 15:04:05"))
	return msg
}
