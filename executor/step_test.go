package executor

import (
	"math"
	"testing"
)

func TestFloorToStep(t *testing.T) {
	tests := []struct {
		name     string
		qty      float64
		step     float64
		expected float64
	}{
		{"整数倍不变", 2.0, 0.001, 2.0},
		{"除法尾差不吞步长", 3.0, 0.001, 3.0},
		{"向下取整", 2.0617, 0.001, 2.061},
		{"小于一个步长归零", 0.0005, 0.001, 0},
		{"步长为0时原样返回", 1.23456789, 0, 1.23456789},
		{"步长为负时原样返回", 1.5, -0.01, 1.5},
		{"负数量归零", -1.0, 0.001, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FloorToStep(tt.qty, tt.step)
			if math.Abs(got-tt.expected) > 1e-12 {
				t.Errorf("FloorToStep(%v, %v) = %v, 期望 %v", tt.qty, tt.step, got, tt.expected)
			}
		})
	}
}

func TestFloorToStep_NeverExceedsInput(t *testing.T) {
	// 浮点尾差不应让取整结果高于原数量
	qtys := []float64{2.0617, 0.30000000000000004, 1.0000000000000002, 123.456}
	steps := []float64{0.001, 0.01, 0.1, 1.0, 0.00000001}

	for _, qty := range qtys {
		for _, step := range steps {
			got := FloorToStep(qty, step)
			if got-qty > 1e-9 {
				t.Errorf("FloorToStep(%v, %v) = %v 超过了原数量", qty, step, got)
			}
		}
	}
}
