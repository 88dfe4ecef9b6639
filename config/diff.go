package config

import (
	"fmt"
	"reflect"
)

// ConfigChange 配置变更
type ConfigChange struct {
	Path            string      `json:"path"`             // 配置路径（如 "trading.mode"）
	OldValue        interface{} `json:"old_value"`        // 旧值
	NewValue        interface{} `json:"new_value"`        // 新值
	RequiresRestart bool        `json:"requires_restart"` // 是否需要重启
}

// ConfigDiff 配置差异
type ConfigDiff struct {
	Changes         []ConfigChange `json:"changes"`          // 变更列表
	RequiresRestart bool           `json:"requires_restart"` // 是否有需要重启的变更
}

// 需要重启才能生效的配置段前缀
// 账户连接、数据库、分布式锁、Web监听在进程启动时一次性建立
var restartRequiredPaths = []string{
	"venues",
	"database",
	"distributed_lock",
	"web",
}

// DiffConfig 对比两个配置，生成差异
func DiffConfig(oldConfig, newConfig *Config) *ConfigDiff {
	diff := &ConfigDiff{
		Changes: []ConfigChange{},
	}

	diff.compareSection("app", oldConfig.App, newConfig.App)
	diff.compareSection("venues", oldConfig.Venues, newConfig.Venues)
	diff.compareSection("trading", oldConfig.Trading, newConfig.Trading)
	diff.compareSection("fees", oldConfig.Fees, newConfig.Fees)
	diff.compareSection("coordinator", oldConfig.Coordinator, newConfig.Coordinator)
	diff.compareSection("risk", oldConfig.Risk, newConfig.Risk)
	diff.compareSection("executor", oldConfig.Executor, newConfig.Executor)
	diff.compareSection("database", oldConfig.Database, newConfig.Database)
	diff.compareSection("distributed_lock", oldConfig.DistributedLock, newConfig.DistributedLock)
	diff.compareSection("notifications", oldConfig.Notifications, newConfig.Notifications)
	diff.compareSection("web", oldConfig.Web, newConfig.Web)
	diff.compareSection("system", oldConfig.System, newConfig.System)

	for _, change := range diff.Changes {
		if change.RequiresRestart {
			diff.RequiresRestart = true
			break
		}
	}

	return diff
}

// compareSection 对比单个配置段（结构体按字段展开，map/切片整体对比）
func (d *ConfigDiff) compareSection(path string, oldVal, newVal interface{}) {
	ov := reflect.ValueOf(oldVal)
	nv := reflect.ValueOf(newVal)

	if ov.Kind() == reflect.Struct {
		t := ov.Type()
		for i := 0; i < t.NumField(); i++ {
			name := t.Field(i).Tag.Get("yaml")
			if name == "" {
				name = t.Field(i).Name
			}
			d.compareSection(path+"."+name, ov.Field(i).Interface(), nv.Field(i).Interface())
		}
		return
	}

	if !reflect.DeepEqual(oldVal, newVal) {
		d.Changes = append(d.Changes, ConfigChange{
			Path:            path,
			OldValue:        oldVal,
			NewValue:        newVal,
			RequiresRestart: requiresRestart(path),
		})
	}
}

// requiresRestart 判断配置路径是否需要重启
func requiresRestart(path string) bool {
	for _, prefix := range restartRequiredPaths {
		if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// String 可读的变更描述
func (c ConfigChange) String() string {
	suffix := ""
	if c.RequiresRestart {
		suffix = "（需重启）"
	}
	return fmt.Sprintf("%s: %v -> %v%s", c.Path, c.OldValue, c.NewValue, suffix)
}
