package config

import (
	"fmt"
	"sync"
)

// HotReloader 配置热更新器
type HotReloader struct {
	mu              sync.RWMutex
	currentConfig   *Config
	updateCallbacks []ConfigUpdateCallback
}

// ConfigUpdateCallback 配置更新回调函数类型
type ConfigUpdateCallback func(oldConfig, newConfig *Config, changes []ConfigChange) error

// NewHotReloader 创建热更新器
func NewHotReloader(initialConfig *Config) *HotReloader {
	return &HotReloader{
		currentConfig:   initialConfig,
		updateCallbacks: []ConfigUpdateCallback{},
	}
}

// RegisterCallback 注册配置更新回调
func (hr *HotReloader) RegisterCallback(callback ConfigUpdateCallback) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	hr.updateCallbacks = append(hr.updateCallbacks, callback)
}

// GetConfig 获取当前生效的配置
func (hr *HotReloader) GetConfig() *Config {
	hr.mu.RLock()
	defer hr.mu.RUnlock()
	return hr.currentConfig
}

// UpdateConfig 更新配置（热更新）
// 需要重启的变更只记录不应用；可热更新的变更立即通过回调下发
func (hr *HotReloader) UpdateConfig(newConfig *Config) (*ConfigDiff, error) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	diff := DiffConfig(hr.currentConfig, newConfig)
	if len(diff.Changes) == 0 {
		return diff, nil
	}

	hotChanges := []ConfigChange{}
	for _, change := range diff.Changes {
		if !change.RequiresRestart {
			hotChanges = append(hotChanges, change)
		}
	}

	if len(hotChanges) == 0 {
		// 全部变更都需要重启，保持当前配置不动
		return diff, nil
	}

	oldConfig := hr.currentConfig
	for _, callback := range hr.updateCallbacks {
		if err := callback(oldConfig, newConfig, hotChanges); err != nil {
			return nil, fmt.Errorf("应用配置更新失败: %v", err)
		}
	}

	hr.currentConfig = newConfig
	return diff, nil
}
