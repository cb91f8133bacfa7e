// Package state holds the order table and the trading session flags, and
// persists them together with the price history as one snapshot.
package state

import (
	"sort"
	"sync"
	"time"

	"cryptobot/internal/history"
)

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Position is the holding created by one accepted buy order.
type Position struct {
	Instrument string    `json:"instrument"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	OrderID    string    `json:"order_id"`
	Status     Status    `json:"status"`
	OpenedAt   time.Time `json:"opened_at"`
}

func (p Position) Open() bool {
	return p.Status == StatusOpen && p.Quantity > 0
}

// TradingState is the per-session flag set. It starts with a pending order
// so that the first tick reconciles and fetches cash.
type TradingState struct {
	AvailableCash       float64 `json:"available_cash"`
	IsTradingLocked     bool    `json:"is_trading_locked"`
	IsNewOrderSubmitted bool    `json:"is_new_order_submitted"`
}

func NewTradingState() TradingState {
	return TradingState{IsNewOrderSubmitted: true}
}

type Snapshot struct {
	Orders  map[string]Position         `json:"orders"`
	History map[string][]history.Sample `json:"history"`
	SavedAt time.Time                   `json:"saved_at"`
}

// Store owns the order table and trading state. Only the tick goroutine
// mutates it; readers get copies.
type Store struct {
	mu      sync.RWMutex
	orders  map[string]Position
	trading TradingState
}

func NewStore() *Store {
	return &Store{
		orders:  map[string]Position{},
		trading: NewTradingState(),
	}
}

// Add records a position. An existing entry for the same order id is kept.
func (s *Store) Add(position Position) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[position.OrderID]; exists {
		return false
	}
	if position.Status == "" {
		position.Status = StatusOpen
	}
	s.orders[position.OrderID] = position
	return true
}

func (s *Store) Get(orderID string) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.orders[orderID]
	return p, ok
}

// Close zeroes the position and marks it for the next sweep.
func (s *Store) Close(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.orders[orderID]
	if !ok {
		return false
	}
	p.Quantity = 0
	p.Status = StatusClosed
	s.orders[orderID] = p
	return true
}

// Sweep removes closed positions and returns the remaining open ones.
func (s *Store) Sweep() (removed int, open []Position) {
	s.mu.Lock()
	for id, p := range s.orders {
		if !p.Open() {
			delete(s.orders, id)
			removed++
		}
	}
	s.mu.Unlock()
	return removed, s.Positions()
}

// Positions lists every tracked position, oldest first.
func (s *Store) Positions() []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Position, 0, len(s.orders))
	for _, p := range s.orders {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

func (s *Store) OpenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.orders {
		if p.Open() {
			n++
		}
	}
	return n
}

func (s *Store) Orders() map[string]Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Position, len(s.orders))
	for id, p := range s.orders {
		out[id] = p
	}
	return out
}

// Restore replaces the order table with persisted positions.
func (s *Store) Restore(orders map[string]Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = make(map[string]Position, len(orders))
	for id, p := range orders {
		if p.OrderID == "" {
			p.OrderID = id
		}
		s.orders[id] = p
	}
}

func (s *Store) Trading() TradingState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trading
}

func (s *Store) SetCash(cash float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trading.AvailableCash = cash
}

func (s *Store) SetLocked(locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trading.IsTradingLocked = locked
}

func (s *Store) SetNewOrderSubmitted(submitted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trading.IsNewOrderSubmitted = submitted
}
