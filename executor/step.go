package executor

import "math"

// FloorToStep 把数量向下取整到交易所步长的整数倍
// 向下取整而不是四舍五入：多出来的残余会被交易所直接拒单
func FloorToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	// 除法尾差会把 3.0/0.001 算成 2999.99…，补一个极小量再取整
	steps := math.Floor(qty/step + 1e-9)
	floored := steps * step

	// 乘回去的尾差可能让 floored 以肉眼不可见的幅度高于 qty，这不算超量
	if floored > qty && floored-qty > step/2 {
		floored -= step
	}
	if floored < 0 {
		return 0
	}
	return floored
}
