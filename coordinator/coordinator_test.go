package coordinator

import (
	"testing"
	"time"

	"arbmesh/config"
)

func newTestCoordinator(leaseTTLSeconds, threshold, cooldownSeconds int) *Coordinator {
	cfg := &config.Config{}
	cfg.Coordinator.LeaseTTLSeconds = leaseTTLSeconds
	cfg.Coordinator.QuarantineThreshold = threshold
	cfg.Coordinator.QuarantineCooldownSeconds = cooldownSeconds
	return NewCoordinator(cfg, nil, nil)
}

func TestCoordinator_MutualExclusion(t *testing.T) {
	c := newTestCoordinator(30, 3, 300)

	if !c.TryAcquireLock("binance_a", "trade-1") {
		t.Fatal("空闲账户应能获取租约")
	}

	// 同一账户第二个持有者必须被拒绝
	if c.TryAcquireLock("binance_a", "trade-2") {
		t.Error("租约持有期间其他持有者不应获取成功")
	}

	// 其他账户不受影响
	if !c.TryAcquireLock("binance_b", "trade-2") {
		t.Error("不同账户的租约互不影响")
	}

	// 释放后可重新获取
	c.ReleaseLock("binance_a", "trade-1")
	if !c.TryAcquireLock("binance_a", "trade-2") {
		t.Error("释放后的账户应能被重新获取")
	}
}

func TestCoordinator_ReleaseByWrongOwner(t *testing.T) {
	c := newTestCoordinator(30, 3, 300)

	c.TryAcquireLock("binance_a", "trade-1")

	// 非持有者的释放是空操作
	c.ReleaseLock("binance_a", "trade-2")

	if c.TryAcquireLock("binance_a", "trade-3") {
		t.Error("非持有者的释放不应使租约失效")
	}
}

func TestCoordinator_ZombieLockReclaim(t *testing.T) {
	// 租约TTL 1秒，模拟持有者崩溃后不释放
	c := newTestCoordinator(1, 3, 300)

	if !c.TryAcquireLock("binance_a", "crashed-owner") {
		t.Fatal("空闲账户应能获取租约")
	}

	// 租约未过期时不能回收
	if c.TryAcquireLock("binance_a", "trade-2") {
		t.Fatal("租约未过期时不应被回收")
	}

	time.Sleep(1100 * time.Millisecond)

	// 过期后新持有者强制回收
	if !c.TryAcquireLock("binance_a", "trade-2") {
		t.Error("过期的僵尸锁应能被强制回收")
	}

	// 旧持有者的释放不能动新租约
	c.ReleaseLock("binance_a", "crashed-owner")
	if c.TryAcquireLock("binance_a", "trade-3") {
		t.Error("被回收租约的原持有者释放不应影响新租约")
	}
}

func TestCoordinator_DualLockAllOrNothing(t *testing.T) {
	c := newTestCoordinator(30, 3, 300)

	// B 被别人占住
	if !c.TryAcquireLock("binance_b", "other") {
		t.Fatal("前置条件失败")
	}

	// 双锁失败时 A 不能被占住
	if c.TryAcquireDualLock("binance_a", "binance_b", "trade-1") {
		t.Fatal("B被占用时双锁应失败")
	}
	if !c.TryAcquireLock("binance_a", "probe") {
		t.Error("双锁失败后 A 应保持空闲（全有或全无）")
	}
	c.ReleaseLock("binance_a", "probe")

	// 释放 B 后双锁应成功
	c.ReleaseLock("binance_b", "other")
	if !c.TryAcquireDualLock("binance_a", "binance_b", "trade-1") {
		t.Error("两个账户都空闲时双锁应成功")
	}
	if c.TryAcquireLock("binance_a", "probe") || c.TryAcquireLock("binance_b", "probe") {
		t.Error("双锁成功后两个账户都应被占用")
	}
}

func TestCoordinator_QuarantineAfterConsecutiveFailures(t *testing.T) {
	c := newTestCoordinator(30, 3, 300)

	c.ReportFailure("binance_a")
	c.ReportFailure("binance_a")
	if c.IsInQuarantine("binance_a") {
		t.Fatal("未达到失败阈值不应进入隔离")
	}

	c.ReportFailure("binance_a")
	if !c.IsInQuarantine("binance_a") {
		t.Fatal("连续失败达到阈值应进入隔离")
	}

	// 隔离中的账户拒绝一切租约
	if c.TryAcquireLock("binance_a", "trade-1") {
		t.Error("隔离中的账户不应授予租约")
	}
	if c.TryAcquireDualLock("binance_a", "binance_b", "trade-1") {
		t.Error("双锁中任何一个账户隔离都应失败")
	}
}

func TestCoordinator_SuccessResetsFailureCount(t *testing.T) {
	c := newTestCoordinator(30, 3, 300)

	c.ReportFailure("binance_a")
	c.ReportFailure("binance_a")
	c.ReportSuccess("binance_a")

	// 计数已清零，再失败两次也不应隔离
	c.ReportFailure("binance_a")
	c.ReportFailure("binance_a")
	if c.IsInQuarantine("binance_a") {
		t.Error("成功上报应清零失败计数")
	}
}

func TestCoordinator_QuarantineExpiry(t *testing.T) {
	// 冷却1秒
	c := newTestCoordinator(30, 2, 1)

	c.ReportFailure("binance_a")
	c.ReportFailure("binance_a")
	if !c.IsInQuarantine("binance_a") {
		t.Fatal("前置条件失败：应已进入隔离")
	}

	time.Sleep(1100 * time.Millisecond)

	if c.IsInQuarantine("binance_a") {
		t.Error("冷却期过后隔离应惰性解除")
	}
	if !c.TryAcquireLock("binance_a", "trade-1") {
		t.Error("隔离解除后应能获取租约")
	}

	// 解除隔离同时清零计数：单次失败不应再次隔离
	c.ReleaseLock("binance_a", "trade-1")
	c.ReportFailure("binance_a")
	if c.IsInQuarantine("binance_a") {
		t.Error("隔离解除应同时清零失败计数")
	}
}
