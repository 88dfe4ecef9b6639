package utils

import (
	"strings"
	"testing"
	"time"
)

func TestDayKey(t *testing.T) {
	GlobalLocation = time.UTC

	ts := time.Date(2026, 3, 15, 23, 59, 59, 0, time.UTC)
	if got := DayKey(ts); got != "2026-03-15" {
		t.Errorf("DayKey错误: %s", got)
	}

	// 日期边界按配置时区裁定：UTC 23:30 在东八区已是第二天
	cst, _ := time.LoadLocation("Asia/Shanghai")
	GlobalLocation = cst
	defer func() { GlobalLocation = time.UTC }()

	ts = time.Date(2026, 3, 15, 23, 30, 0, 0, time.UTC)
	if got := DayKey(ts); got != "2026-03-16" {
		t.Errorf("东八区下的日期键应为2026-03-16, 实际 %s", got)
	}
}

func TestSameDay(t *testing.T) {
	GlobalLocation = time.UTC

	a := time.Date(2026, 3, 15, 0, 0, 1, 0, time.UTC)
	b := time.Date(2026, 3, 15, 23, 59, 59, 0, time.UTC)
	c := time.Date(2026, 3, 16, 0, 0, 1, 0, time.UTC)

	if !SameDay(a, b) {
		t.Error("同一天的两个时间应判定相同")
	}
	if SameDay(b, c) {
		t.Error("跨午夜的两个时间应判定不同")
	}
}

func TestGenerateOrderID(t *testing.T) {
	id1 := GenerateOrderID("cross", "BUY")
	id2 := GenerateOrderID("cross", "BUY")

	if id1 == id2 {
		t.Error("连续生成的订单ID不应重复")
	}
	if !strings.HasPrefix(id1, "cross_B_") {
		t.Errorf("订单ID前缀错误: %s", id1)
	}
	if sellID := GenerateOrderID("rev", "SELL"); !strings.HasPrefix(sellID, "rev_S_") {
		t.Errorf("卖单ID前缀错误: %s", sellID)
	}
}

func TestGenerateOrderID_UniqueUnderConcurrency(t *testing.T) {
	// 序号后两位保证同一毫秒内最多100个ID不重复，留一半余量
	const n = 50
	ids := make(chan string, n)

	for i := 0; i < n; i++ {
		go func() { ids <- GenerateOrderID("tri", "BUY") }()
	}

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		id := <-ids
		if seen[id] {
			t.Fatalf("并发生成出现重复ID: %s", id)
		}
		seen[id] = true
	}
}
