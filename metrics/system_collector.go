package metrics

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"arbmesh/logger"
)

// SystemMetricsCollector 系统指标采集器
// 周期性上报 goroutine/内存/CPU 到 Prometheus
type SystemMetricsCollector struct {
	pm       *PrometheusMetrics
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewSystemMetricsCollector 创建系统指标采集器
func NewSystemMetricsCollector(interval time.Duration) *SystemMetricsCollector {
	ctx, cancel := context.WithCancel(context.Background())
	return &SystemMetricsCollector{
		pm:       GetPrometheusMetrics(),
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start 启动采集
func (smc *SystemMetricsCollector) Start() {
	go smc.collectLoop()
}

// Stop 停止采集
func (smc *SystemMetricsCollector) Stop() {
	if smc.cancel != nil {
		smc.cancel()
	}
}

func (smc *SystemMetricsCollector) collectLoop() {
	ticker := time.NewTicker(smc.interval)
	defer ticker.Stop()

	// 立即采集一次
	smc.collect()

	for {
		select {
		case <-smc.ctx.Done():
			return
		case <-ticker.C:
			smc.collect()
		}
	}
}

func (smc *SystemMetricsCollector) collect() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	smc.pm.SetGoroutineCount(runtime.NumGoroutine())
	smc.pm.SetMemoryAlloc(m.Alloc)

	// GC 停顿时间（最近一次，PauseNs 是循环缓冲区）
	if m.NumGC > 0 {
		idx := (m.NumGC + 255) % 256
		if pauseNs := m.PauseNs[idx]; pauseNs > 0 {
			smc.pm.RecordGCPause(time.Duration(pauseNs))
		}
	}

	// 进程级资源占用（采集失败不中断循环）
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		cpuPercent = 0
	}

	var memoryMB float64
	if memInfo, err := p.MemoryInfo(); err == nil {
		memoryMB = float64(memInfo.RSS) / 1024 / 1024

		// 系统内存占用超过90%时打警告，提示机器层面的问题
		if memStat, err := mem.VirtualMemory(); err == nil && memStat.Total > 0 {
			usedPercent := float64(memInfo.RSS) / float64(memStat.Total) * 100
			if usedPercent > 90 {
				logger.Warn("⚠️ 进程内存占用过高: %.1f%%（RSS %.1fMB）", usedPercent, memoryMB)
			}
		}
	}

	smc.pm.SetProcessUsage(cpuPercent, memoryMB)
}
