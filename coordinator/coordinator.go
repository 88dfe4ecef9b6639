package coordinator

import (
	"context"
	"sync"
	"time"

	"arbmesh/config"
	"arbmesh/event"
	"arbmesh/lock"
	"arbmesh/logger"
	"arbmesh/metrics"
)

// leaseRecord 账户租约
// 自动过期：持有者崩溃不释放时，过期后可被强制回收
type leaseRecord struct {
	owner      string
	acquiredAt time.Time
	expiresAt  time.Time
}

// quarantineRecord 账户隔离记录
type quarantineRecord struct {
	failures int
	until    time.Time
}

// Coordinator 执行协调器
// 仲裁账户的独占访问：租约 + 失败计数 + 隔离
// 同一个逻辑操作（隔离检查+租约授予）在一把锁内完成，不存在中间状态可见
type Coordinator struct {
	mu          sync.Mutex
	leases      map[string]*leaseRecord
	quarantines map[string]*quarantineRecord

	leaseTTL           time.Duration
	quarantineThresh   int
	quarantineCooldown time.Duration

	// 多实例部署时把租约镜像到共享存储，单实例时是 NopLock
	dlock lock.DistributedLock

	bus *event.EventBus
	pm  *metrics.PrometheusMetrics
}

// NewCoordinator 创建执行协调器
func NewCoordinator(cfg *config.Config, dlock lock.DistributedLock, bus *event.EventBus) *Coordinator {
	leaseTTL := time.Duration(cfg.Coordinator.LeaseTTLSeconds) * time.Second
	if leaseTTL <= 0 {
		leaseTTL = 30 * time.Second
	}
	threshold := cfg.Coordinator.QuarantineThreshold
	if threshold <= 0 {
		threshold = 3
	}
	cooldown := time.Duration(cfg.Coordinator.QuarantineCooldownSeconds) * time.Second
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}

	if dlock == nil {
		dlock = lock.NewNopLock()
	}

	return &Coordinator{
		leases:             make(map[string]*leaseRecord),
		quarantines:        make(map[string]*quarantineRecord),
		leaseTTL:           leaseTTL,
		quarantineThresh:   threshold,
		quarantineCooldown: cooldown,
		dlock:              dlock,
		bus:                bus,
		pm:                 metrics.GetPrometheusMetrics(),
	}
}

// TryAcquireLock 尝试获取账户的独占租约
// 隔离中的账户直接拒绝；已过期的租约视为僵尸锁，强制回收后授予
func (c *Coordinator) TryAcquireLock(account, owner string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.tryAcquireLocked(account, owner, time.Now())
}

// TryAcquireDualLock 同时获取两个账户的租约，全有或全无
// 跨所套利需要两个账户同时就位；任何一个拿不到时，另一个也不会被占住
func (c *Coordinator) TryAcquireDualLock(accountA, accountB, owner string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	// 先只检查，都能拿到才真正授予
	if !c.canAcquireLocked(accountA, now) || !c.canAcquireLocked(accountB, now) {
		c.pm.RecordLockAcquire(accountA, "denied")
		c.pm.RecordLockAcquire(accountB, "denied")
		return false
	}

	if !c.tryAcquireLocked(accountA, owner, now) {
		return false
	}
	if !c.tryAcquireLocked(accountB, owner, now) {
		// 理论上不可达（检查和授予在同一把锁内），但授予失败时必须还回A
		c.releaseLocked(accountA, owner)
		return false
	}

	return true
}

// ReleaseLock 释放账户租约
// 只有当前租约的持有者能释放；过期后被回收的租约，原持有者的释放是空操作
func (c *Coordinator) ReleaseLock(account, owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.releaseLocked(account, owner)
}

// ReportFailure 上报账户执行失败
// 连续失败达到阈值后进入隔离，冷却期内拒绝一切租约
func (c *Coordinator) ReportFailure(account string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.quarantines[account]
	if rec == nil {
		rec = &quarantineRecord{}
		c.quarantines[account] = rec
	}

	rec.failures++
	logger.Warn("⚠️ [协调器] 账户 %s 失败计数: %d/%d", account, rec.failures, c.quarantineThresh)

	if rec.failures >= c.quarantineThresh && rec.until.IsZero() {
		rec.until = time.Now().Add(c.quarantineCooldown)
		logger.Error("🔒 [协调器] 账户 %s 连续失败 %d 次，隔离至 %s",
			account, rec.failures, rec.until.Format("15:04:05"))

		c.pm.RecordQuarantine(account)
		c.pm.SetQuarantinedAccounts(c.quarantinedCountLocked(time.Now()))

		if c.bus != nil {
			c.bus.Emit(event.EventTypeQuarantineEnter, map[string]interface{}{
				"account":  account,
				"failures": rec.failures,
				"until":    rec.until.Format(time.RFC3339),
			})
		}
	}
}

// ReportSuccess 上报账户执行成功，清零失败计数
func (c *Coordinator) ReportSuccess(account string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec, ok := c.quarantines[account]; ok && rec.until.IsZero() {
		rec.failures = 0
	}
}

// IsInQuarantine 查询账户是否在隔离中
// 冷却期已过时惰性解除隔离并清零失败计数
func (c *Coordinator) IsInQuarantine(account string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.isQuarantinedLocked(account, time.Now())
}

// LeaseSnapshot 租约快照（运维接口用）
type LeaseSnapshot struct {
	Account   string    `json:"account"`
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// QuarantineSnapshot 隔离快照（运维接口用）
type QuarantineSnapshot struct {
	Account  string    `json:"account"`
	Failures int       `json:"failures"`
	Until    time.Time `json:"until"`
}

// Snapshot 返回当前租约与隔离状态
func (c *Coordinator) Snapshot() ([]LeaseSnapshot, []QuarantineSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	var leases []LeaseSnapshot
	for account, lease := range c.leases {
		if now.After(lease.expiresAt) {
			continue
		}
		leases = append(leases, LeaseSnapshot{
			Account:   account,
			Owner:     lease.owner,
			ExpiresAt: lease.expiresAt,
		})
	}

	var quarantines []QuarantineSnapshot
	for account, rec := range c.quarantines {
		if rec.until.IsZero() || now.After(rec.until) {
			continue
		}
		quarantines = append(quarantines, QuarantineSnapshot{
			Account:  account,
			Failures: rec.failures,
			Until:    rec.until,
		})
	}

	return leases, quarantines
}

// canAcquireLocked 检查账户当前能否授予租约（不改状态，调用方持锁）
func (c *Coordinator) canAcquireLocked(account string, now time.Time) bool {
	if c.isQuarantinedLocked(account, now) {
		return false
	}
	lease, ok := c.leases[account]
	if !ok {
		return true
	}
	return now.After(lease.expiresAt)
}

// tryAcquireLocked 授予租约（调用方持锁）
func (c *Coordinator) tryAcquireLocked(account, owner string, now time.Time) bool {
	if c.isQuarantinedLocked(account, now) {
		c.pm.RecordLockAcquire(account, "denied")
		return false
	}

	if lease, ok := c.leases[account]; ok {
		if now.Before(lease.expiresAt) {
			c.pm.RecordLockAcquire(account, "denied")
			return false
		}
		// 僵尸锁：持有者超时未释放，强制回收
		logger.Warn("⚠️ [协调器] 账户 %s 的租约已过期（持有者 %s），强制回收", account, lease.owner)
		c.pm.RecordLockAcquire(account, "reclaimed")
	}

	// 多实例镜像：共享存储拿不到锁说明别的实例持有该账户
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, err := c.dlock.TryLock(ctx, account, c.leaseTTL)
	if err != nil {
		logger.Error("❌ [协调器] 分布式锁异常: %v，拒绝授予账户 %s", err, account)
		c.pm.RecordLockAcquire(account, "denied")
		return false
	}
	if !ok {
		c.pm.RecordLockAcquire(account, "denied")
		return false
	}

	c.leases[account] = &leaseRecord{
		owner:      owner,
		acquiredAt: now,
		expiresAt:  now.Add(c.leaseTTL),
	}
	c.pm.RecordLockAcquire(account, "success")
	return true
}

// releaseLocked 释放租约（调用方持锁）
func (c *Coordinator) releaseLocked(account, owner string) {
	lease, ok := c.leases[account]
	if !ok {
		return
	}
	if lease.owner != owner {
		// 过期后被回收再授予，旧持有者的释放不能动新租约
		logger.Warn("⚠️ [协调器] %s 尝试释放账户 %s，但当前持有者是 %s，忽略", owner, account, lease.owner)
		return
	}

	delete(c.leases, account)
	c.pm.RecordLockHoldDuration(account, time.Since(lease.acquiredAt))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.dlock.Unlock(ctx, account); err != nil {
		logger.Warn("⚠️ [协调器] 分布式锁释放失败（将等待自动过期）: %v", err)
	}
}

// isQuarantinedLocked 隔离检查，冷却期已过时惰性清除（调用方持锁）
func (c *Coordinator) isQuarantinedLocked(account string, now time.Time) bool {
	rec, ok := c.quarantines[account]
	if !ok || rec.until.IsZero() {
		return false
	}

	if now.After(rec.until) {
		// 冷却结束：解除隔离，失败计数一并清零
		delete(c.quarantines, account)
		logger.Info("🔓 [协调器] 账户 %s 隔离期结束，恢复可用", account)
		c.pm.SetQuarantinedAccounts(c.quarantinedCountLocked(now))

		if c.bus != nil {
			c.bus.Emit(event.EventTypeQuarantineClear, map[string]interface{}{
				"account": account,
			})
		}
		return false
	}

	return true
}

// quarantinedCountLocked 当前隔离中的账户数（调用方持锁）
func (c *Coordinator) quarantinedCountLocked(now time.Time) int {
	count := 0
	for _, rec := range c.quarantines {
		if !rec.until.IsZero() && now.Before(rec.until) {
			count++
		}
	}
	return count
}
