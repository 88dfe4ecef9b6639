package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"arbmesh/logger"
)

// ConfigWatcher 配置文件监控器
type ConfigWatcher struct {
	configPath  string
	watcher     *fsnotify.Watcher
	hotReloader *HotReloader
	mu          sync.RWMutex
	isWatching  bool
	lastModTime time.Time
}

// NewConfigWatcher 创建配置监控器
func NewConfigWatcher(configPath string, hotReloader *HotReloader) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %v", err)
	}

	// 获取配置文件所在目录
	configDir := filepath.Dir(configPath)
	if configDir == "" || configDir == "." {
		configDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("获取当前目录失败: %v", err)
		}
		configPath = filepath.Join(configDir, filepath.Base(configPath))
	}

	var lastModTime time.Time
	if info, err := os.Stat(configPath); err == nil {
		lastModTime = info.ModTime()
	}

	return &ConfigWatcher{
		configPath:  configPath,
		watcher:     watcher,
		hotReloader: hotReloader,
		lastModTime: lastModTime,
	}, nil
}

// Start 开始监控配置文件
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.isWatching {
		return fmt.Errorf("配置监控器已经在运行")
	}

	// 监控配置文件所在目录（编辑器常以重命名方式保存文件）
	configDir := filepath.Dir(cw.configPath)
	if err := cw.watcher.Add(configDir); err != nil {
		return fmt.Errorf("添加监控目录失败: %v", err)
	}

	cw.isWatching = true
	go cw.watchLoop(ctx)

	return nil
}

// Stop 停止监控
func (cw *ConfigWatcher) Stop() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if !cw.isWatching {
		return nil
	}

	cw.isWatching = false
	return cw.watcher.Close()
}

// watchLoop 监控循环
func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second) // 定期检查修改时间（备用机制）
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Name == cw.configPath {
				if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
					// 延迟处理，避免文件正在写入时读取
					time.Sleep(100 * time.Millisecond)
					cw.handleConfigChange()
				}
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("⚠️ 配置文件监控错误: %v", err)

		case <-ticker.C:
			cw.checkFileModTime()
		}
	}
}

// checkFileModTime 定期检查文件修改时间（fsnotify丢事件时的兜底）
func (cw *ConfigWatcher) checkFileModTime() {
	info, err := os.Stat(cw.configPath)
	if err != nil {
		return
	}

	cw.mu.Lock()
	changed := info.ModTime().After(cw.lastModTime)
	if changed {
		cw.lastModTime = info.ModTime()
	}
	cw.mu.Unlock()

	if changed {
		cw.handleConfigChange()
	}
}

// handleConfigChange 处理配置文件变化
func (cw *ConfigWatcher) handleConfigChange() {
	newConfig, err := LoadConfig(cw.configPath)
	if err != nil {
		logger.Error("❌ 重新加载配置失败（保持当前配置）: %v", err)
		return
	}

	diff, err := cw.hotReloader.UpdateConfig(newConfig)
	if err != nil {
		logger.Error("❌ 应用配置热更新失败: %v", err)
		return
	}

	if len(diff.Changes) == 0 {
		return
	}

	for _, change := range diff.Changes {
		logger.Info("🔄 配置变更: %s", change.String())
	}
	if diff.RequiresRestart {
		logger.Warn("⚠️ 部分配置变更需要重启后生效")
	}
}
