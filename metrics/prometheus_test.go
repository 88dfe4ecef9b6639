package metrics

import (
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// 场景：冲正和亏损交易上报的是负盈亏，决策路径上绝不允许 panic
func TestRecordRealizedPnL_NegativePnL(t *testing.T) {
	pm := GetPrometheusMetrics()

	profitBefore := testutil.ToFloat64(pnlProfitTotal.WithLabelValues("cross"))
	lossBefore := testutil.ToFloat64(pnlLossTotal.WithLabelValues("cross"))

	pm.RecordRealizedPnL("cross", -1.0)
	pm.RecordRealizedPnL("cross", -0.25)
	pm.RecordRealizedPnL("cross", 6.0)

	lossGot := testutil.ToFloat64(pnlLossTotal.WithLabelValues("cross")) - lossBefore
	if math.Abs(lossGot-1.25) > 1e-9 {
		t.Errorf("亏损应以绝对值累计, 期望1.25, 实际 %.6f", lossGot)
	}

	profitGot := testutil.ToFloat64(pnlProfitTotal.WithLabelValues("cross")) - profitBefore
	if math.Abs(profitGot-6.0) > 1e-9 {
		t.Errorf("盈利累计错误, 期望6.0, 实际 %.6f", profitGot)
	}
}

// 场景：零盈亏（干跑、完全对冲）记入盈利侧，同样不允许 panic
func TestRecordRealizedPnL_ZeroPnL(t *testing.T) {
	pm := GetPrometheusMetrics()

	lossBefore := testutil.ToFloat64(pnlLossTotal.WithLabelValues("triangular"))
	pm.RecordRealizedPnL("triangular", 0)

	if got := testutil.ToFloat64(pnlLossTotal.WithLabelValues("triangular")) - lossBefore; got != 0 {
		t.Errorf("零盈亏不应计入亏损, 实际 %.6f", got)
	}
}
