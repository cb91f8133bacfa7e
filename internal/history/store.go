// Package history keeps the per-instrument price series the trading loop
// evaluates, together with the indicators derived from them.
package history

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cryptobot/internal/indicator"
	"cryptobot/internal/metrics"
)

// DefaultFrozenWindow is the number of identical consecutive prices, the new
// one included, that marks an upstream feed as frozen.
const DefaultFrozenWindow = 4

// Sample is one observation of an instrument plus the indicators computed
// over the series ending at it. Nil indicators are still warming up.
type Sample struct {
	Timestamp  time.Time `json:"timestamp"`
	Price      float64   `json:"price"`
	SMAFast    *float64  `json:"sma_fast"`
	SMASlow    *float64  `json:"sma_slow"`
	RSI        *float64  `json:"rsi"`
	MACD       *float64  `json:"macd"`
	MACDSignal *float64  `json:"macd_signal"`
}

// Point is a raw timestamped price used for backfill.
type Point struct {
	Timestamp time.Time
	Price     float64
}

type Config struct {
	Instruments  []string
	TickInterval time.Duration
	Periods      indicator.Periods
	FrozenWindow int
}

// Store owns the price history. Writes come from the tick goroutine only; the
// lock exists for readers such as the status API.
type Store struct {
	mu             sync.RWMutex
	cfg            Config
	log            zerolog.Logger
	series         map[string][]Sample
	minConsecutive int
}

func NewStore(cfg Config, log zerolog.Logger) *Store {
	if cfg.FrozenWindow <= 0 {
		cfg.FrozenWindow = DefaultFrozenWindow
	}
	minConsecutive := cfg.Periods.RSI
	if cfg.Periods.SMAFast > minConsecutive {
		minConsecutive = cfg.Periods.SMAFast
	}
	series := make(map[string][]Sample, len(cfg.Instruments))
	for _, instrument := range cfg.Instruments {
		series[instrument] = nil
	}
	return &Store{
		cfg:            cfg,
		log:            log,
		series:         series,
		minConsecutive: minConsecutive,
	}
}

// Append adds one sample per instrument observed at ts. A price is rejected
// when it repeats the previous FrozenWindow-1 prices or when ts does not move
// the series forward. It reports false if any instrument was rejected.
func (s *Store) Append(ts time.Time, prices map[string]float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok := true
	for _, instrument := range s.cfg.Instruments {
		price, found := prices[instrument]
		if !found {
			continue
		}
		if !validPrice(price) {
			s.log.Warn().Str("instrument", instrument).Float64("price", price).Msg("invalid price ignored")
			metrics.SamplesRejectedTotal.WithLabelValues(instrument).Inc()
			ok = false
			continue
		}
		samples := s.series[instrument]
		if n := len(samples); n > 0 && !ts.After(samples[n-1].Timestamp) {
			s.log.Warn().Str("instrument", instrument).Time("ts", ts).Time("last", samples[n-1].Timestamp).Msg("out of order sample ignored")
			metrics.SamplesRejectedTotal.WithLabelValues(instrument).Inc()
			ok = false
			continue
		}
		if s.frozen(samples, price) {
			s.log.Warn().Str("instrument", instrument).Float64("price", price).Msg("repeating values detected, ignoring data point")
			metrics.SamplesRejectedTotal.WithLabelValues(instrument).Inc()
			ok = false
			continue
		}
		s.series[instrument] = s.recompute(append(samples, Sample{Timestamp: ts, Price: price}))
	}
	return ok
}

func (s *Store) frozen(samples []Sample, price float64) bool {
	prior := s.cfg.FrozenWindow - 1
	if prior <= 0 || len(samples) < prior {
		return false
	}
	for _, sample := range samples[len(samples)-prior:] {
		if sample.Price != price {
			return false
		}
	}
	return true
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 1)
}

func (s *Store) recompute(samples []Sample) []Sample {
	prices := make([]float64, len(samples))
	for i, sample := range samples {
		prices[i] = sample.Price
	}
	set := indicator.Compute(prices, s.cfg.Periods)
	for i := range samples {
		samples[i].SMAFast = set.SMAFast[i]
		samples[i].SMASlow = set.SMASlow[i]
		samples[i].RSI = set.RSI[i]
		samples[i].MACD = set.MACD[i]
		samples[i].MACDSignal = set.MACDSignal[i]
	}
	return samples
}

// Seed loads historical points for one instrument, keeping only strictly
// increasing timestamps, and recomputes its indicators.
func (s *Store) Seed(instrument string, points []Point) int {
	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	s.mu.Lock()
	defer s.mu.Unlock()

	samples := s.series[instrument]
	added := 0
	for _, p := range sorted {
		if !validPrice(p.Price) {
			continue
		}
		if n := len(samples); n > 0 && !p.Timestamp.After(samples[n-1].Timestamp) {
			continue
		}
		samples = append(samples, Sample{Timestamp: p.Timestamp, Price: p.Price})
		added++
	}
	s.series[instrument] = s.recompute(samples)
	return added
}

// IsContinuous reports whether every instrument's feed is recent and free of
// gaps wider than twice the tick interval over the indicator warm-up window.
func (s *Store) IsContinuous(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	maxGap := 2 * s.cfg.TickInterval
	for _, instrument := range s.cfg.Instruments {
		samples := s.series[instrument]
		n := len(samples)
		if n < 2 {
			return false
		}
		if now.Sub(samples[n-1].Timestamp) > maxGap {
			return false
		}
		gaps := s.minConsecutive
		if gaps > n-1 {
			gaps = n - 1
		}
		for i := n - 1; i > n-1-gaps; i-- {
			if samples[i].Timestamp.Sub(samples[i-1].Timestamp) > maxGap {
				s.log.Warn().Str("instrument", instrument).Time("at", samples[i].Timestamp).Msg("interruption found in price data")
				return false
			}
		}
	}
	return true
}

// Trim keeps at most maxRows samples per instrument.
func (s *Store) Trim(maxRows int) {
	if maxRows <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for instrument, samples := range s.series {
		if len(samples) <= maxRows {
			continue
		}
		kept := make([]Sample, maxRows)
		copy(kept, samples[len(samples)-maxRows:])
		s.series[instrument] = kept
	}
}

func (s *Store) Latest(instrument string) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	samples := s.series[instrument]
	if len(samples) == 0 {
		return Sample{}, false
	}
	return samples[len(samples)-1], true
}

// Series returns a copy of the instrument's samples, oldest first.
func (s *Store) Series(instrument string) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sample, len(s.series[instrument]))
	copy(out, s.series[instrument])
	return out
}

// Tail returns a copy of at most the last n samples.
func (s *Store) Tail(instrument string, n int) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	samples := s.series[instrument]
	if n < len(samples) {
		samples = samples[len(samples)-n:]
	}
	out := make([]Sample, len(samples))
	copy(out, samples)
	return out
}

func (s *Store) Len(instrument string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[instrument])
}

func (s *Store) Instruments() []string {
	out := make([]string, len(s.cfg.Instruments))
	copy(out, s.cfg.Instruments)
	return out
}

// Export copies every series for persistence.
func (s *Store) Export() map[string][]Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]Sample, len(s.series))
	for instrument, samples := range s.series {
		cp := make([]Sample, len(samples))
		copy(cp, samples)
		out[instrument] = cp
	}
	return out
}

// Restore replaces the history with persisted series. Instruments that are no
// longer configured are dropped.
func (s *Store) Restore(series map[string][]Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, instrument := range s.cfg.Instruments {
		cp := make([]Sample, len(series[instrument]))
		copy(cp, series[instrument])
		s.series[instrument] = cp
	}
}
