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

// WebhookNotifier Webhook 通知器
type WebhookNotifier struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewWebhookNotifier 创建 Webhook 通知器
func NewWebhookNotifier(cfg *config.Config) (*WebhookNotifier, error) {
	if cfg.Notifications.Webhook.URL == "" {
		return nil, fmt.Errorf("Webhook URL 未配置")
	}

	timeout := time.Duration(cfg.Notifications.Webhook.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &WebhookNotifier{
		url:     cfg.Notifications.Webhook.URL,
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Name 返回通知器名称
func (wn *WebhookNotifier) Name() string {
	return "Webhook"
}

// Send 发送通知
func (wn *WebhookNotifier) Send(evt *event.Event) error {
	payload := map[string]interface{}{
		"type":      string(evt.Type),
		"severity":  string(event.GetEventSeverity(evt.Type)),
		"title":     event.GetEventTitle(evt.Type),
		"timestamp": evt.Timestamp.Format(time.RFC3339),
		"data":      evt.Data,
	}

	// 套利事件的关键字段提升到顶层，下游告警路由按 route/account 分发时不用拆 data
	for _, key := range []string{"route", "account", "symbol", "net_profit", "executed_qty", "roi"} {
		if v, ok := evt.Data[key]; ok {
			payload[key] = v
		}
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), wn.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", wn.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := wn.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Webhook 返回错误状态码: %d", resp.StatusCode)
	}

	return nil
}
