package analytics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"houseBroker/internal/domain"
)

// Summary holds the trading statistics of one account.
type Summary struct {
	// Closed trades
	TotalTrades     int             `json:"totalTrades"`
	WinningTrades   int             `json:"winningTrades"`
	LosingTrades    int             `json:"losingTrades"`
	WinRate         decimal.Decimal `json:"winRate"` // fraction of closed trades with positive net profit
	TotalNetProfit  decimal.Decimal `json:"totalNetProfit"`
	TotalCommission decimal.Decimal `json:"totalCommission"` // opening + closing commission of closed trades
	AverageWin      decimal.Decimal `json:"averageWin"`
	AverageLoss     decimal.Decimal `json:"averageLoss"`
	ProfitFactor    decimal.Decimal `json:"profitFactor"` // sum of wins / |sum of losses|, 0 without losses
	BestTrade       decimal.Decimal `json:"bestTrade"`
	WorstTrade      decimal.Decimal `json:"worstTrade"`
	MaxDrawdown     decimal.Decimal `json:"maxDrawdown"` // largest peak-to-trough fall of cumulative net profit

	MaxConsecutiveWins   int                        `json:"maxConsecutiveWins"`
	MaxConsecutiveLosses int                        `json:"maxConsecutiveLosses"`
	AverageTradeDuration time.Duration              `json:"averageTradeDuration"`
	ByCloseReason        map[domain.CloseReason]int `json:"byCloseReason"`
	MonthlyNetProfit     []MonthlyReturn            `json:"monthlyNetProfit"`

	// Live book
	OpenPositions   int `json:"openPositions"`
	PendingOrders   int `json:"pendingOrders"`
	CancelledOrders int `json:"cancelledOrders"`
}

// MonthlyReturn is the net profit of the trades closed in one calendar month.
type MonthlyReturn struct {
	Month  time.Time       `json:"month"`
	Return decimal.Decimal `json:"return"`
}

// Summarize computes account statistics from all of an account's trades, in any status.
func Summarize(trades []*domain.Trade) *Summary {
	s := &Summary{
		ByCloseReason:    make(map[domain.CloseReason]int),
		MonthlyNetProfit: make([]MonthlyReturn, 0),
	}

	closed := make([]*domain.Trade, 0, len(trades))
	for _, t := range trades {
		switch t.Status {
		case domain.StatusClosed:
			closed = append(closed, t)
		case domain.StatusExecuted:
			s.OpenPositions++
		case domain.StatusPending:
			s.PendingOrders++
		case domain.StatusCancelled:
			s.CancelledOrders++
		}
	}
	if len(closed) == 0 {
		return s
	}

	// Sort trades by close time
	sort.SliceStable(closed, func(i, j int) bool {
		return closed[i].CloseTime.Before(closed[j].CloseTime)
	})

	var sumWins, sumLosses, cumulative, peak decimal.Decimal
	var consecutiveWins, consecutiveLosses int
	var totalDuration time.Duration
	monthly := make(map[string]decimal.Decimal)

	for i, trade := range closed {
		s.TotalTrades++
		net := trade.NetProfit
		if net.IsPositive() {
			s.WinningTrades++
			sumWins = sumWins.Add(net)
			consecutiveWins++
			consecutiveLosses = 0
		} else {
			s.LosingTrades++
			sumLosses = sumLosses.Add(net)
			consecutiveLosses++
			consecutiveWins = 0
		}
		if consecutiveWins > s.MaxConsecutiveWins {
			s.MaxConsecutiveWins = consecutiveWins
		}
		if consecutiveLosses > s.MaxConsecutiveLosses {
			s.MaxConsecutiveLosses = consecutiveLosses
		}

		if i == 0 || net.GreaterThan(s.BestTrade) {
			s.BestTrade = net
		}
		if i == 0 || net.LessThan(s.WorstTrade) {
			s.WorstTrade = net
		}

		s.TotalNetProfit = s.TotalNetProfit.Add(net)
		s.TotalCommission = s.TotalCommission.Add(trade.OpenCommission).Add(trade.Commission)
		s.ByCloseReason[trade.CloseReason]++
		totalDuration += trade.CloseTime.Sub(trade.OpenTime)

		monthKey := trade.CloseTime.UTC().Format("2006-01")
		monthly[monthKey] = monthly[monthKey].Add(net)

		cumulative = cumulative.Add(net)
		if cumulative.GreaterThan(peak) {
			peak = cumulative
		}
		if dd := peak.Sub(cumulative); dd.GreaterThan(s.MaxDrawdown) {
			s.MaxDrawdown = dd
		}
	}

	s.WinRate = decimal.NewFromInt(int64(s.WinningTrades)).
		Div(decimal.NewFromInt(int64(s.TotalTrades))).
		Round(4)
	if s.WinningTrades > 0 {
		s.AverageWin = sumWins.Div(decimal.NewFromInt(int64(s.WinningTrades))).Round(2)
	}
	if s.LosingTrades > 0 {
		s.AverageLoss = sumLosses.Div(decimal.NewFromInt(int64(s.LosingTrades))).Round(2)
	}
	if sumLosses.IsNegative() {
		s.ProfitFactor = sumWins.Div(sumLosses.Neg()).Round(4)
	}
	s.AverageTradeDuration = totalDuration / time.Duration(len(closed))

	for month, profit := range monthly {
		date, _ := time.Parse("2006-01", month)
		s.MonthlyNetProfit = append(s.MonthlyNetProfit, MonthlyReturn{Month: date, Return: profit})
	}
	sort.Slice(s.MonthlyNetProfit, func(i, j int) bool {
		return s.MonthlyNetProfit[i].Month.Before(s.MonthlyNetProfit[j].Month)
	})

	return s
}
