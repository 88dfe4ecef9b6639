package executor

import (
	"fmt"
	"sync/atomic"

	"arbmesh/event"
	"arbmesh/logger"
)

// Mode 执行模式
type Mode string

const (
	ModeLive       Mode = "live"       // 真实下单
	ModeSimulation Mode = "simulation" // 干跑：完整决策逻辑，只记录不下单
)

// ModeController 执行模式控制器
// 运行时可切换（配置热更新或运维接口），全部执行器共享同一个实例
type ModeController struct {
	mode atomic.Value // Mode
	bus  *event.EventBus
}

// NewModeController 创建模式控制器
func NewModeController(initial Mode, bus *event.EventBus) (*ModeController, error) {
	if initial != ModeLive && initial != ModeSimulation {
		return nil, fmt.Errorf("无效的执行模式: %s", initial)
	}

	mc := &ModeController{bus: bus}
	mc.mode.Store(initial)
	return mc, nil
}

// Current 当前执行模式
func (mc *ModeController) Current() Mode {
	return mc.mode.Load().(Mode)
}

// IsSimulation 当前是否干跑模式
func (mc *ModeController) IsSimulation() bool {
	return mc.Current() == ModeSimulation
}

// Switch 切换执行模式
// 切换即时生效：进行中的交易按旧模式跑完，新交易按新模式执行
func (mc *ModeController) Switch(mode Mode) error {
	if mode != ModeLive && mode != ModeSimulation {
		return fmt.Errorf("无效的执行模式: %s", mode)
	}

	prev := mc.Current()
	if prev == mode {
		return nil
	}

	mc.mode.Store(mode)
	logger.Warn("🔄 执行模式切换: %s -> %s", prev, mode)

	if mc.bus != nil {
		mc.bus.Emit(event.EventTypeModeChanged, map[string]interface{}{
			"mode": string(mode),
			"from": string(prev),
		})
	}

	return nil
}
