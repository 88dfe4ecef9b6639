package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"arbmesh/config"
	"arbmesh/event"
)

// 场景：单腿风险事件推送后，route/account/成交量要出现在载荷顶层
func TestWebhookNotifier_ArbFieldsPromoted(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := &config.Config{}
	cfg.Notifications.Webhook.URL = server.URL
	cfg.Notifications.Webhook.Timeout = 3

	wn, err := NewWebhookNotifier(cfg)
	if err != nil {
		t.Fatalf("创建 Webhook 通知器失败: %v", err)
	}

	evt := &event.Event{
		Type:      event.EventTypeLegRisk,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"route":        "SOLUSDT: venue_a->venue_b",
			"account":      "venue_a",
			"symbol":       "SOLUSDT",
			"executed_qty": 2.0,
		},
	}
	if err := wn.Send(evt); err != nil {
		t.Fatalf("发送失败: %v", err)
	}

	if received == nil {
		t.Fatal("服务端未收到载荷")
	}
	if received["type"] != "leg_risk" {
		t.Errorf("type 错误: %v", received["type"])
	}
	if received["severity"] != "warning" {
		t.Errorf("severity 错误: %v", received["severity"])
	}
	// 关键字段提升到顶层
	if received["route"] != "SOLUSDT: venue_a->venue_b" {
		t.Errorf("route 应在顶层, 实际 %v", received["route"])
	}
	if received["account"] != "venue_a" {
		t.Errorf("account 应在顶层, 实际 %v", received["account"])
	}
	if qty, ok := received["executed_qty"].(float64); !ok || qty != 2.0 {
		t.Errorf("executed_qty 应在顶层, 实际 %v", received["executed_qty"])
	}
	// 原始 data 仍然完整保留
	if _, ok := received["data"].(map[string]interface{}); !ok {
		t.Error("data 字段应保留完整事件数据")
	}
}

// 场景：非 2xx 状态码必须报错
func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := &config.Config{}
	cfg.Notifications.Webhook.URL = server.URL

	wn, err := NewWebhookNotifier(cfg)
	if err != nil {
		t.Fatalf("创建 Webhook 通知器失败: %v", err)
	}

	evt := &event.Event{
		Type:      event.EventTypeTradeWin,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"net_profit": 1.0},
	}
	if err := wn.Send(evt); err == nil {
		t.Error("502 响应应返回错误")
	}
}
