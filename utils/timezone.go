package utils

import (
	"time"
)

var (
	// GlobalLocation 全局配置的时区
	GlobalLocation *time.Location
)

func init() {
	// 默认使用UTC时区（风控按日结算依赖稳定的日期边界）
	GlobalLocation = time.UTC
}

// SetLocation 设置全局时区
func SetLocation(name string) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		// 如果加载失败，保留原有时区或默认值
		if GlobalLocation == nil {
			GlobalLocation = time.UTC
		}
		return err
	}
	GlobalLocation = loc
	return nil
}

// ToConfiguredTimezone 将时间转换为配置的时区
func ToConfiguredTimezone(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.In(GlobalLocation)
}

// ToUTC 将时间转换为UTC时间
func ToUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// NowUTC 获取当前UTC时间
func NowUTC() time.Time {
	return time.Now().UTC()
}

// NowConfiguredTimezone 获取当前配置时区的时间
func NowConfiguredTimezone() time.Time {
	return time.Now().In(GlobalLocation)
}
