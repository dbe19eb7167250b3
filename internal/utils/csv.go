package utils

import (
	"encoding/csv"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"houseBroker/internal/domain"
)

var tradeHeader = []string{
	"ticket", "account_id", "symbol", "kind", "side", "volume", "target_price", "entry_price", "exit_price",
	"stop_loss", "take_profit", "margin", "open_commission", "commission", "gross_profit", "net_profit",
	"status", "close_reason", "open_time", "close_time", "venue_ticket", "venue_entry_price", "venue_exit_price",
}

// WriteTradesToCSV writes trades to filename, creating or truncating it.
func WriteTradesToCSV(trades []*domain.Trade, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	return WriteTrades(trades, file)
}

// WriteTrades writes a header row and one row per trade. Unset prices and times are empty cells.
func WriteTrades(trades []*domain.Trade, w io.Writer) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		if err := writer.Write([]string{
			t.Ticket,
			t.AccountID,
			t.Symbol,
			string(t.Kind),
			string(t.Side),
			t.Volume.String(),
			optional(decimal.NullDecimal{Decimal: t.TargetPrice, Valid: !t.TargetPrice.IsZero()}),
			optional(decimal.NullDecimal{Decimal: t.EntryPrice, Valid: !t.EntryPrice.IsZero()}),
			optional(t.ExitPrice),
			optional(t.StopLoss),
			optional(t.TakeProfit),
			t.Margin.StringFixed(2),
			t.OpenCommission.StringFixed(2),
			t.Commission.StringFixed(2),
			t.GrossProfit.StringFixed(2),
			t.NetProfit.StringFixed(2),
			string(t.Status),
			string(t.CloseReason),
			timestamp(t.OpenTime),
			timestamp(t.CloseTime),
			t.VenueTicket,
			optional(t.VenueEntry),
			optional(t.VenueExit),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func optional(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
