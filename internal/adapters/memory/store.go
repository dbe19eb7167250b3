package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"houseBroker/internal/domain"
	"houseBroker/internal/ports"
)

// Store is an in-memory ports.Store. Records are copied on the way in and out.
// InTx works on a copy of the maps and applies the records it wrote on success.
type Store struct {
	mu       sync.Mutex
	txMu     *sync.Mutex
	accounts map[string]*domain.Account
	trades   map[string]*domain.Trade

	// set on transaction views only
	dirtyAccounts map[string]bool
	dirtyTrades   map[string]bool
}

func (s *Store) markAccount(id string) {
	if s.dirtyAccounts != nil {
		s.dirtyAccounts[id] = true
	}
}

func (s *Store) markTrade(ticket string) {
	if s.dirtyTrades != nil {
		s.dirtyTrades[ticket] = true
	}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		txMu:     &sync.Mutex{},
		accounts: make(map[string]*domain.Account),
		trades:   make(map[string]*domain.Trade),
	}
}

func cloneAccount(a *domain.Account) *domain.Account {
	c := *a
	return &c
}

// CreateAccount saves a new account.
func (s *Store) CreateAccount(ctx context.Context, acc *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acc.ID]; ok {
		return fmt.Errorf("account %s: %w", acc.ID, ports.ErrDuplicateEntry)
	}
	s.accounts[acc.ID] = cloneAccount(acc)
	s.markAccount(acc.ID)
	return nil
}

// GetAccount retrieves an account by id. Returns nil, nil if not found.
func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	return cloneAccount(acc), nil
}

// UpdateAccount overwrites an existing account.
func (s *Store) UpdateAccount(ctx context.Context, acc *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acc.ID]; !ok {
		return fmt.Errorf("account %s not found for update: %w", acc.ID, ports.ErrNotFound)
	}
	s.accounts[acc.ID] = cloneAccount(acc)
	s.markAccount(acc.ID)
	return nil
}

// CreateTrade saves a new trade.
func (s *Store) CreateTrade(ctx context.Context, trade *domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trades[trade.Ticket]; ok {
		return fmt.Errorf("trade %s: %w", trade.Ticket, ports.ErrDuplicateEntry)
	}
	s.trades[trade.Ticket] = trade.Clone()
	s.markTrade(trade.Ticket)
	return nil
}

// UpdateTrade overwrites an existing trade.
func (s *Store) UpdateTrade(ctx context.Context, trade *domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trades[trade.Ticket]; !ok {
		return fmt.Errorf("trade %s not found for update: %w", trade.Ticket, ports.ErrNotFound)
	}
	s.trades[trade.Ticket] = trade.Clone()
	s.markTrade(trade.Ticket)
	return nil
}

// FindByTicket retrieves a trade by ticket. Returns nil, nil if not found.
func (s *Store) FindByTicket(ctx context.Context, ticket string) (*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[ticket]
	if !ok {
		return nil, nil
	}
	return t.Clone(), nil
}

// FindByStatus retrieves every trade in status, ordered by ticket.
func (s *Store) FindByStatus(ctx context.Context, status domain.TradeStatus) ([]*domain.Trade, error) {
	s.mu.Lock()
	out := make([]*domain.Trade, 0)
	for _, t := range s.trades {
		if t.Status == status {
			out = append(out, t.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

// FindByAccount retrieves an account's trades in the given statuses, ordered by open time.
func (s *Store) FindByAccount(ctx context.Context, accountID string, statuses ...domain.TradeStatus) ([]*domain.Trade, error) {
	want := make(map[domain.TradeStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	s.mu.Lock()
	out := make([]*domain.Trade, 0)
	for _, t := range s.trades {
		if t.AccountID != accountID {
			continue
		}
		if len(want) > 0 && !want[t.Status] {
			continue
		}
		out = append(out, t.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenTime.Equal(out[j].OpenTime) {
			return out[i].Ticket < out[j].Ticket
		}
		return out[i].OpenTime.Before(out[j].OpenTime)
	})
	return out, nil
}

// InTx runs fn against a copy of the store and commits the records fn wrote if it succeeds.
// Transactions are serialized with each other.
func (s *Store) InTx(ctx context.Context, fn func(tx ports.Store) error) error {
	if s.dirtyAccounts != nil {
		return fn(s)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	tx := &Store{
		txMu:          s.txMu,
		accounts:      make(map[string]*domain.Account, len(s.accounts)),
		trades:        make(map[string]*domain.Trade, len(s.trades)),
		dirtyAccounts: make(map[string]bool),
		dirtyTrades:   make(map[string]bool),
	}
	for k, v := range s.accounts {
		tx.accounts[k] = v
	}
	for k, v := range s.trades {
		tx.trades[k] = v
	}
	s.mu.Unlock()

	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range tx.dirtyAccounts {
		s.accounts[k] = tx.accounts[k]
	}
	for k := range tx.dirtyTrades {
		s.trades[k] = tx.trades[k]
	}
	return nil
}
