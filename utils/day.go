package utils

import "time"

// DayKey 返回配置时区下的日期键（格式 2006-01-02）
// 风控的日内统计、开盘资金滚动全部以此为日期边界
func DayKey(t time.Time) string {
	return t.In(GlobalLocation).Format("2006-01-02")
}

// TodayKey 返回当前配置时区的日期键
func TodayKey() string {
	return DayKey(time.Now())
}

// SameDay 判断两个时间是否属于配置时区下的同一天
func SameDay(a, b time.Time) bool {
	return DayKey(a) == DayKey(b)
}
