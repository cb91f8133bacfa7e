package md

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	simStartPrice  = 100.0
	simVolatility  = 0.01
	simHistoryBars = 300
)

// Sim is a random-walk market used in simulation mode. Each instrument walks
// independently from the same start price.
type Sim struct {
	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
	now    func() time.Time
}

func NewSim(seed int64) *Sim {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Sim{
		rng:    rand.New(rand.NewSource(seed)),
		prices: make(map[string]float64),
		now:    time.Now,
	}
}

// OHLC generates a walk ending at the current price so that backfill and the
// live ticks join without a jump.
func (s *Sim) OHLC(ctx context.Context, instrument string, interval time.Duration) ([]Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC().Truncate(interval)
	closes := make([]float64, simHistoryBars)
	price := s.current(instrument)
	for i := simHistoryBars - 1; i >= 0; i-- {
		closes[i] = price
		price = s.step(price)
	}
	bars := make([]Bar, simHistoryBars)
	for i := range closes {
		bars[i] = Bar{
			Timestamp: now.Add(-time.Duration(simHistoryBars-i) * interval),
			Close:     closes[i],
		}
	}
	return bars, nil
}

func (s *Sim) Ticker(ctx context.Context, instrument string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	price := s.step(s.current(instrument))
	s.prices[instrument] = price
	return price, nil
}

func (s *Sim) current(instrument string) float64 {
	price, ok := s.prices[instrument]
	if !ok {
		price = simStartPrice
		s.prices[instrument] = price
	}
	return price
}

func (s *Sim) step(price float64) float64 {
	next := price * (1 + s.rng.NormFloat64()*simVolatility)
	next = math.Round(next*1e4) / 1e4
	if next <= 0 {
		return price
	}
	return next
}
