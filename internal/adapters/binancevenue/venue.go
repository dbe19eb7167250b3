package binancevenue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"houseBroker/internal/domain"
	"houseBroker/internal/ports"
	"houseBroker/internal/risk"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Venue implements ports.ExecutionVenue on Binance USDⓈ-M futures.
// Instruments are mapped to venue symbols through the instrument table and
// volumes are sent as lots × contract size.
type Venue struct {
	futuresClient        *futures.Client
	instruments          *risk.Table
	logger               ports.Logger
	limiter              *rate.Limiter
	reconnectDelay       time.Duration
	maxReconnectAttempts int
}

// Config holds configuration specific to the Binance venue adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	UseTestnet           bool
	BaseURL              string // overrides the testnet/production choice when set
	Instruments          *risk.Table
	Logger               ports.Logger
	ReconnectDelay       time.Duration // First retry delay for Connect (e.g., 1 * time.Second)
	MaxReconnectAttempts int           // Max Connect attempts before giving up
	RequestsPerSecond    float64       // REST request budget, default 10
}

// New creates a new Binance venue adapter.
func New(cfg Config) (*Venue, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance venue")
	}
	if cfg.Instruments == nil {
		return nil, fmt.Errorf("instrument table is required for Binance venue: %w", ports.ErrConfigurationError)
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		// Quotes still work; order placement will fail authentication.
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Venue will only serve quotes.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
	default:
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance venue configured", map[string]interface{}{"baseURL": client.BaseURL, "testnet": cfg.UseTestnet})

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}

	return &Venue{
		futuresClient:        client,
		instruments:          cfg.Instruments,
		logger:               cfg.Logger,
		limiter:              rate.NewLimiter(rate.Limit(rps), max(1, int(rps*2))),
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (v *Venue) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015: // Bad signature, API-key format, key/IP/permissions
			mappedErr = ports.ErrAuthenticationFailed
		case -1121: // Invalid symbol
			mappedErr = ports.ErrUnsupportedInstrument
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1125, -1127, -1128, -1130, -4003, -4014, -4015: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010, -2022: // New order rejected, ReduceOnly order rejected
			mappedErr = ports.ErrVenueExecutionFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2019, -3005, -3041, -4047: // Margin/balance/position insufficient
			mappedErr = ports.ErrInsufficientBalance
		case -4044: // Position not found
			mappedErr = ports.ErrNotFound
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		v.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	v.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// Connect pings the venue, retrying with exponential backoff, and syncs the server clock.
func (v *Venue) Connect(ctx context.Context) error {
	op := "Connect"
	b := &backoff.Backoff{Min: v.reconnectDelay, Max: 30 * time.Second, Factor: 2, Jitter: true}

	for {
		err := v.futuresClient.NewPingService().Do(ctx)
		if err == nil {
			break
		}
		attempt := int(b.Attempt()) + 1
		if attempt >= v.maxReconnectAttempts {
			return v.handleError(ctx, fmt.Errorf("ping failed after %d attempts: %w", attempt, err), op)
		}
		delay := b.Duration()
		v.logger.Warn(ctx, op+": Ping failed, retrying...", map[string]interface{}{"attempt": attempt, "delay": delay.String(), "error": err.Error()})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return v.handleError(ctx, ctx.Err(), op)
		}
	}

	if _, err := v.futuresClient.NewSetServerTimeService().Do(ctx); err != nil {
		return v.handleError(ctx, err, op)
	}
	v.logger.Info(ctx, op+" successful")
	return nil
}

// wait blocks until the request budget allows another call.
func (v *Venue) wait(ctx context.Context, op string) error {
	if err := v.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return v.handleError(ctx, ctx.Err(), op)
		}
		// the deadline would pass before a slot frees up
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrRateLimited, err)
	}
	return nil
}

// venueSymbol maps an instrument to its Binance symbol.
func (v *Venue) venueSymbol(symbol string) string {
	inst := v.instruments.Lookup(symbol)
	if inst.VenueSymbol != "" {
		return inst.VenueSymbol
	}
	return inst.Symbol
}

// quantity converts lots to venue base units.
func (v *Venue) quantity(symbol string, volume decimal.Decimal) string {
	return volume.Mul(v.instruments.Lookup(symbol).ContractSize).String()
}

// GetTick returns the best bid/ask from the book ticker.
func (v *Venue) GetTick(ctx context.Context, symbol string) (domain.Tick, error) {
	op := "GetTick"
	if err := v.wait(ctx, op); err != nil {
		return domain.Tick{}, fmt.Errorf("%w: %w", ports.ErrQuoteUnavailable, err)
	}
	tickers, err := v.futuresClient.NewListBookTickersService().Symbol(v.venueSymbol(symbol)).Do(ctx)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("%w: %w", ports.ErrQuoteUnavailable, v.handleError(ctx, err, op))
	}
	if len(tickers) == 0 {
		return domain.Tick{}, fmt.Errorf("%s failed: no book ticker for %s: %w", op, symbol, ports.ErrQuoteUnavailable)
	}
	bid, err := decimal.NewFromString(tickers[0].BidPrice)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("%s failed: could not parse bid '%s': %w", op, tickers[0].BidPrice, ports.ErrQuoteUnavailable)
	}
	ask, err := decimal.NewFromString(tickers[0].AskPrice)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("%s failed: could not parse ask '%s': %w", op, tickers[0].AskPrice, ports.ErrQuoteUnavailable)
	}
	if !bid.IsPositive() || ask.LessThan(bid) {
		return domain.Tick{}, fmt.Errorf("%s failed: crossed or empty book for %s (bid %s ask %s): %w", op, symbol, bid, ask, ports.ErrQuoteUnavailable)
	}
	return domain.Tick{Symbol: symbol, Bid: bid, Ask: ask, Time: time.Now().UTC()}, nil
}

// PlaceMarketOrder places a market order for volume lots on side.
func (v *Venue) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, volume decimal.Decimal) (*ports.Fill, error) {
	op := "PlaceMarketOrder"
	qty := v.quantity(symbol, volume)
	if err := v.wait(ctx, op); err != nil {
		return nil, err
	}

	order, err := v.futuresClient.NewCreateOrderService().
		Symbol(v.venueSymbol(symbol)).
		Side(futures.SideType(side)). // Direct conversion, values match
		Type(futures.OrderTypeMarket).
		Quantity(qty).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return nil, v.handleError(ctx, err, op)
	}

	fill, err := translateFill(order, volume)
	if err != nil {
		return nil, v.handleError(ctx, err, op)
	}
	v.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "side": side, "quantity": qty, "orderID": fill.VenueTicket, "avgPrice": fill.Price.String()})
	return fill, nil
}

// ClosePosition flattens a position opened on side with a reduce-only market order on the opposite side.
func (v *Venue) ClosePosition(ctx context.Context, venueTicket, symbol string, volume decimal.Decimal, side domain.OrderSide) (*ports.Fill, error) {
	op := "ClosePosition"
	qty := v.quantity(symbol, volume)
	if err := v.wait(ctx, op); err != nil {
		return nil, err
	}

	order, err := v.futuresClient.NewCreateOrderService().
		Symbol(v.venueSymbol(symbol)).
		Side(futures.SideType(side.Opposite())).
		Type(futures.OrderTypeMarket).
		Quantity(qty).
		ReduceOnly(true).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return nil, v.handleError(ctx, err, op)
	}

	fill, err := translateFill(order, volume)
	if err != nil {
		return nil, v.handleError(ctx, err, op)
	}
	v.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "openedAs": venueTicket, "quantity": qty, "orderID": fill.VenueTicket, "avgPrice": fill.Price.String()})
	return fill, nil
}

// --- Translation Helpers ---

func translateFill(order *futures.CreateOrderResponse, volume decimal.Decimal) (*ports.Fill, error) {
	if order == nil {
		return nil, errors.New("received nil order response")
	}
	price, err := decimal.NewFromString(order.AvgPrice)
	if err != nil || !price.IsPositive() {
		return nil, fmt.Errorf("order %d has no average fill price '%s'", order.OrderID, order.AvgPrice)
	}
	ts := time.Now().UTC()
	if order.UpdateTime > 0 {
		ts = time.UnixMilli(order.UpdateTime).UTC()
	}
	return &ports.Fill{
		VenueTicket: strconv.FormatInt(order.OrderID, 10),
		Price:       price,
		Volume:      volume,
		Time:        ts,
	}, nil
}
