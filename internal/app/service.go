package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"houseBroker/internal/feed"
	"houseBroker/internal/ledger"
	"houseBroker/internal/monitor"
	"houseBroker/internal/ports"
	"houseBroker/internal/quotes"
	"houseBroker/internal/sweep"
)

const (
	loopPrices  = "prices"
	loopMonitor = "monitor"
	loopRefresh = "positionRefresh"
	loopSweep   = "marginSweep"

	shutdownTimeout = 5 * time.Second
)

// PricePoller ingests one round of ticks.
type PricePoller interface {
	Poll(ctx context.Context) feed.Result
}

// OrderMonitor runs one pass over pending orders and open stops.
type OrderMonitor interface {
	Run(ctx context.Context) (monitor.Result, error)
}

// MarginSweeper runs one margin-call/stop-out pass.
type MarginSweeper interface {
	Run(ctx context.Context) (sweep.Result, error)
}

// ClientCounter reports connected broadcast subscribers.
type ClientCounter interface {
	ClientCount() int
}

// Config wires the brokerage service.
type Config struct {
	Ledger  *ledger.Ledger
	Quotes  *quotes.Cache
	Feed    PricePoller
	Monitor OrderMonitor
	Sweeper MarginSweeper
	Logger  ports.Logger

	// Websocket endpoint served on /ws. Optional.
	Stream     http.Handler
	ListenAddr string // empty disables the HTTP server

	PriceInterval   time.Duration
	MonitorInterval time.Duration
	RefreshInterval time.Duration
	SweepInterval   time.Duration

	// HandleSignals makes Start cancel on SIGINT/SIGTERM.
	HandleSignals bool
}

// LoopStats counts the iterations of one background loop.
type LoopStats struct {
	Interval   string    `json:"interval"`
	Iterations int64     `json:"iterations"`
	Failures   int64     `json:"failures"`
	Panics     int64     `json:"panics"`
	LastRun    time.Time `json:"lastRun"`
	LastError  string    `json:"lastError,omitempty"`
}

// Stats is the diagnostics document served on /stats.
type Stats struct {
	Quotes        quotes.Stats         `json:"quotes"`
	Positions     ledger.PositionStats `json:"positions"`
	PendingOrders int                  `json:"pendingOrders"`
	Clients       int                  `json:"clients"`
	Loops         map[string]LoopStats `json:"loops"`
}

// BrokerService supervises the price, monitor, refresh and sweep loops and the HTTP endpoints.
type BrokerService struct {
	ledger  *ledger.Ledger
	quotes  *quotes.Cache
	feed    PricePoller
	monitor OrderMonitor
	sweeper MarginSweeper
	logger  ports.Logger

	stream        http.Handler
	listenAddr    string
	handleSignals bool
	intervals     map[string]time.Duration

	mu    sync.Mutex
	loops map[string]*LoopStats
}

// NewBrokerService validates the configuration and creates the service.
func NewBrokerService(cfg Config) (*BrokerService, error) {
	if cfg.Ledger == nil || cfg.Quotes == nil || cfg.Feed == nil || cfg.Monitor == nil || cfg.Sweeper == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for BrokerService: %w", ports.ErrConfigurationError)
	}

	intervals := map[string]time.Duration{
		loopPrices:  cfg.PriceInterval,
		loopMonitor: cfg.MonitorInterval,
		loopRefresh: cfg.RefreshInterval,
		loopSweep:   cfg.SweepInterval,
	}
	for name, d := range intervals {
		if d <= 0 {
			return nil, fmt.Errorf("interval for %s loop must be positive: %w", name, ports.ErrConfigurationError)
		}
	}

	loops := make(map[string]*LoopStats, len(intervals))
	for name, d := range intervals {
		loops[name] = &LoopStats{Interval: d.String()}
	}

	return &BrokerService{
		ledger:        cfg.Ledger,
		quotes:        cfg.Quotes,
		feed:          cfg.Feed,
		monitor:       cfg.Monitor,
		sweeper:       cfg.Sweeper,
		logger:        cfg.Logger,
		stream:        cfg.Stream,
		listenAddr:    cfg.ListenAddr,
		handleSignals: cfg.HandleSignals,
		intervals:     intervals,
		loops:         loops,
	}, nil
}

// Start restores in-memory state from storage, then runs every loop until ctx is
// cancelled or the HTTP server fails.
func (s *BrokerService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting Broker Service...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.handleSignals {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case sig := <-sigCh:
				s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	// --- Initialization Steps ---
	pending, err := s.ledger.LoadPending(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to load pending orders")
		return fmt.Errorf("failed to load pending orders: %w", err)
	}
	if err := s.ledger.RefreshPositions(ctx); err != nil {
		s.logger.Error(ctx, err, "Failed to prime position cache")
		return fmt.Errorf("failed to prime position cache: %w", err)
	}
	s.logger.Info(ctx, "Initial state restored", map[string]interface{}{
		"pendingOrders": pending,
		"openPositions": s.ledger.Positions().Stats().Positions,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.runLoop(gctx, loopPrices, func(ctx context.Context) error {
			res := s.feed.Poll(ctx)
			if res.Ticks == 0 && res.Missing > 0 {
				return fmt.Errorf("no ticks received for %d symbols: %w", res.Missing, ports.ErrQuoteUnavailable)
			}
			return nil
		})
	})
	g.Go(func() error {
		return s.runLoop(gctx, loopMonitor, func(ctx context.Context) error {
			_, err := s.monitor.Run(ctx)
			return err
		})
	})
	g.Go(func() error {
		return s.runLoop(gctx, loopRefresh, s.ledger.RefreshPositions)
	})
	g.Go(func() error {
		return s.runLoop(gctx, loopSweep, func(ctx context.Context) error {
			_, err := s.sweeper.Run(ctx)
			return err
		})
	})

	if s.listenAddr != "" {
		srv := &http.Server{Addr: s.listenAddr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			s.logger.Info(gctx, "HTTP server listening", map[string]interface{}{"addr": s.listenAddr})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelShutdown()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				s.logger.Warn(shutdownCtx, "HTTP server shutdown incomplete", map[string]interface{}{"error": err.Error()})
			}
			return nil
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error(ctx, err, "Broker Service stopped with error")
		return err
	}
	s.logger.Info(ctx, "Broker Service stopped.")
	return nil
}

// runLoop calls fn every interval until ctx is done. Errors and panics are
// recorded and the loop keeps going.
func (s *BrokerService) runLoop(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ticker := time.NewTicker(s.intervals[name])
	defer ticker.Stop()
	s.logger.Info(ctx, "Loop started", map[string]interface{}{"loop": name, "interval": s.intervals[name].String()})

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Loop stopped", map[string]interface{}{"loop": name})
			return nil
		case <-ticker.C:
			s.iterate(ctx, name, fn)
		}
	}
}

func (s *BrokerService) iterate(ctx context.Context, name string, fn func(ctx context.Context) error) {
	var err error
	panicked := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				err = fmt.Errorf("panic: %v", r)
				s.logger.Error(ctx, err, "Loop iteration panicked", map[string]interface{}{"loop": name, "stack": string(debug.Stack())})
			}
		}()
		err = fn(ctx)
	}()

	if err != nil && !panicked && ctx.Err() == nil {
		s.logger.Error(ctx, err, "Loop iteration failed", map[string]interface{}{"loop": name})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.loops[name]
	st.Iterations++
	st.LastRun = time.Now().UTC()
	if panicked {
		st.Panics++
	}
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	}
}

// Stats returns a snapshot of the caches and loop counters.
func (s *BrokerService) Stats() Stats {
	st := Stats{
		Quotes:        s.quotes.Stats(),
		Positions:     s.ledger.Positions().Stats(),
		PendingOrders: s.ledger.Pending().Len(),
		Loops:         make(map[string]LoopStats, len(s.loops)),
	}
	if cc, ok := s.stream.(ClientCounter); ok {
		st.Clients = cc.ClientCount()
	}
	s.mu.Lock()
	for name, l := range s.loops {
		st.Loops[name] = *l
	}
	s.mu.Unlock()
	return st
}

// Handler serves /stats and, when configured, the websocket stream on /ws.
func (s *BrokerService) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.stream != nil {
		mux.Handle("GET /ws", s.stream)
	}
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.Stats()); err != nil {
			s.logger.Warn(r.Context(), "Failed to write stats response", map[string]interface{}{"error": err.Error()})
		}
	})
	return mux
}
