package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var ErrTickInProgress = errors.New("tick in progress")

type Ticker interface {
	Tick(ctx context.Context)
}

// Scheduler drives ticks at a fixed period. A tick that is still running
// when the next one is due causes that one to be skipped.
type Scheduler struct {
	target   Ticker
	interval time.Duration
	running  atomic.Bool
	wg       sync.WaitGroup
	log      zerolog.Logger
}

func NewScheduler(target Ticker, interval time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{target: target, interval: interval, log: log}
}

// TryTick runs one tick synchronously unless another is in progress.
func (s *Scheduler) TryTick(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrTickInProgress
	}
	defer s.running.Store(false)
	s.target.Tick(ctx)
	return nil
}

func (s *Scheduler) start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn().Msg("previous tick still running, skipping")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.target.Tick(ctx)
	}()
}

// Run ticks immediately and then every interval until ctx is done. It waits
// for an in-flight tick before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.wg.Wait()

	s.start(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.start(ctx)
		}
	}
}
