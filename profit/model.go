package profit

// 最小净利润阈值（美元），过滤舍入噪音
const MinNetProfitUSD = 0.05

// AnalysisResult 跨所套利评估结果（只读，每次评估新建，不缓存）
type AnalysisResult struct {
	GrossProfit  float64 // 毛利润
	TotalFees    float64 // 总费用（交易手续费 + 链上转账费折价）
	NetProfit    float64 // 净利润
	ROIPercent   float64 // 收益率（%）
	IsProfitable bool    // 净利润是否超过最小阈值
}

// Model 利润评估模型
// 纯计算，无任何副作用；价格随时在变，下单前必须用最新价格重新评估
type Model struct {
	minNetProfit float64
}

// NewModel 创建利润模型
// minNetProfit <= 0 时使用默认阈值
func NewModel(minNetProfit float64) *Model {
	if minNetProfit <= 0 {
		minNetProfit = MinNetProfitUSD
	}
	return &Model{minNetProfit: minNetProfit}
}

// Evaluate 评估一笔跨所套利
// capital: 投入资金（计价资产）
// buyPrice/sellPrice: 买入所/卖出所的价格
// buyFeeRate/sellFeeRate: 两边的交易费率
// networkFee: 资产在两所之间转移的链上手续费（以标的资产计）
func (m *Model) Evaluate(capital, buyPrice, sellPrice, buyFeeRate, sellFeeRate, networkFee float64) *AnalysisResult {
	if capital <= 0 || buyPrice <= 0 {
		return &AnalysisResult{
			NetProfit:  -capital,
			ROIPercent: -100,
		}
	}

	// 买入得到的数量
	units := capital / buyPrice
	unitsAfterFee := units * (1 - buyFeeRate)

	// 扣除链上转账费后实际到账数量
	unitsArrived := unitsAfterFee - networkFee

	// 转账费吃掉了全部仓位，本金全损
	if unitsArrived <= 0 {
		return &AnalysisResult{
			GrossProfit: -capital,
			TotalFees:   capital,
			NetProfit:   -capital,
			ROIPercent:  -100,
		}
	}

	// 卖出所得
	proceeds := unitsArrived * sellPrice
	finalCapital := proceeds * (1 - sellFeeRate)

	netProfit := finalCapital - capital
	grossProfit := units*sellPrice - capital

	return &AnalysisResult{
		GrossProfit:  grossProfit,
		TotalFees:    grossProfit - netProfit,
		NetProfit:    netProfit,
		ROIPercent:   netProfit / capital * 100,
		IsProfitable: netProfit > m.minNetProfit,
	}
}
