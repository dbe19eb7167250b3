package risk

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"houseBroker/internal/domain"
)

// Zone classifies an account's margin level.
type Zone int

const (
	ZoneHealthy Zone = iota
	ZoneMarginCall
	ZoneStopOut
)

func (z Zone) String() string {
	switch z {
	case ZoneHealthy:
		return "healthy"
	case ZoneMarginCall:
		return "margin_call"
	case ZoneStopOut:
		return "stop_out"
	default:
		return "unknown"
	}
}

// Thresholds are the margin-level percentages at which the sweep acts.
type Thresholds struct {
	MarginCall decimal.Decimal // Notify at or below this level
	StopOut    decimal.Decimal // Force-close at or below this level
}

// DefaultThresholds returns a 100% margin call and a 50% stop-out.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MarginCall: decimal.NewFromInt(100),
		StopOut:    decimal.NewFromInt(50),
	}
}

// Validate checks 0 < StopOut < MarginCall.
func (t Thresholds) Validate() error {
	if !t.StopOut.IsPositive() {
		return fmt.Errorf("stop-out level must be positive, got %s", t.StopOut)
	}
	if !t.StopOut.LessThan(t.MarginCall) {
		return fmt.Errorf("stop-out level %s must be below margin call level %s", t.StopOut, t.MarginCall)
	}
	return nil
}

// Classify maps a margin level to its zone. Both boundaries are inclusive on the stricter side.
func (t Thresholds) Classify(level decimal.Decimal) Zone {
	switch {
	case level.LessThanOrEqual(t.StopOut):
		return ZoneStopOut
	case level.LessThanOrEqual(t.MarginCall):
		return ZoneMarginCall
	default:
		return ZoneHealthy
	}
}

// Basis selects what the margin level is measured against.
type Basis string

const (
	BasisBalance Basis = "balance"
	BasisEquity  Basis = "equity"
)

// ParseBasis accepts "balance" or "equity", case-insensitively. Empty means balance.
func ParseBasis(s string) (Basis, error) {
	switch Basis(strings.ToLower(strings.TrimSpace(s))) {
	case "", BasisBalance:
		return BasisBalance, nil
	case BasisEquity:
		return BasisEquity, nil
	}
	return "", fmt.Errorf("unknown margin level basis %q", s)
}

// LevelBase returns the numerator of the margin level for an account: the balance,
// or the balance plus unrealized P&L of its open trades under the equity basis.
func (e *Engine) LevelBase(basis Basis, balance decimal.Decimal, open []*domain.Trade) decimal.Decimal {
	if basis == BasisEquity {
		return balance.Add(e.UnrealizedPnL(open))
	}
	return balance
}
