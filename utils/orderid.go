package utils

import (
	"fmt"
	"sync/atomic"
	"time"
)

// 进程内单调递增序号，保证同一毫秒内生成的ID也不重复
var orderIDSeq uint64

// GenerateOrderID 生成客户端订单ID
// 格式: <tag>_<side首字母>_<毫秒时间戳><序号后两位>
// tag 用于标记订单用途（如 cross/tri/rev/sweep），方便在交易所后台追踪
func GenerateOrderID(tag, side string) string {
	seq := atomic.AddUint64(&orderIDSeq, 1)
	s := "B"
	if side == "SELL" {
		s = "S"
	}
	return fmt.Sprintf("%s_%s_%d%02d", tag, s, time.Now().UnixMilli(), seq%100)
}
