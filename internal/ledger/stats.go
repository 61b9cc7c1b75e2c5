package ledger

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

type Stats struct {
	TotalTransactions   int             `json:"total_transactions"`
	TotalTokens         int64           `json:"total_tokens"`
	PromptTokens        int64           `json:"prompt_tokens"`
	CompletionTokens    int64           `json:"completion_tokens"`
	TotalCost           decimal.Decimal `json:"total_cost"`
	TotalRevenue        decimal.Decimal `json:"total_revenue"`
	TotalProfit         decimal.Decimal `json:"total_profit"`
	ProfitMarginPercent decimal.Decimal `json:"profit_margin_percent"`
}

// Summarize sums a transaction history. The margin is 0 when nothing was
// billed.
func Summarize(txs []Transaction) Stats {
	s := Stats{
		TotalTransactions:   len(txs),
		TotalCost:           decimal.Zero,
		TotalRevenue:        decimal.Zero,
		TotalProfit:         decimal.Zero,
		ProfitMarginPercent: decimal.Zero,
	}
	for _, t := range txs {
		s.TotalTokens += t.Tokens
		s.PromptTokens += t.PromptTokens
		s.CompletionTokens += t.CompletionTokens
		s.TotalCost = s.TotalCost.Add(t.Cost)
		s.TotalRevenue = s.TotalRevenue.Add(t.Price)
	}
	s.TotalProfit = s.TotalRevenue.Sub(s.TotalCost)
	if s.TotalRevenue.IsPositive() {
		s.ProfitMarginPercent = s.TotalProfit.Div(s.TotalRevenue).Mul(hundred).Round(4)
	}
	return s
}
