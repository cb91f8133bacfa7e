// Package md adapts market-data sources to the two queries the trading loop
// needs: a historical backfill and the latest ask price.
package md

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoData means the source answered but had nothing for the instrument.
// Transport and API failures are returned as other errors.
var ErrNoData = errors.New("no market data")

const (
	ProviderKraken = "kraken"
	ProviderAlpaca = "alpaca"
	ProviderSim    = "sim"
)

// Bar is one historical price point.
type Bar struct {
	Timestamp time.Time
	Close     float64
}

type Provider interface {
	OHLC(ctx context.Context, instrument string, interval time.Duration) ([]Bar, error)
	Ticker(ctx context.Context, instrument string) (float64, error)
}

// Options carries what the provider constructors need.
type Options struct {
	Provider  string
	Symbols   map[string]string
	APIKey    string
	APISecret string
	BaseURL   string
	Seed      int64
}

// New builds the provider named in opts.
func New(opts Options, log zerolog.Logger) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", ProviderKraken:
		krakenOpts := []KrakenOption{}
		if opts.BaseURL != "" {
			krakenOpts = append(krakenOpts, WithKrakenBaseURL(opts.BaseURL))
		}
		return NewKraken(opts.Symbols, log, krakenOpts...), nil
	case ProviderAlpaca:
		return NewAlpaca(opts.APIKey, opts.APISecret, opts.Symbols, log), nil
	case ProviderSim:
		return NewSim(opts.Seed), nil
	default:
		return nil, fmt.Errorf("unsupported market data provider: %s", opts.Provider)
	}
}

// ValidPrice reports whether p is a usable quote: finite and positive.
func ValidPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 1)
}

func resolveSymbol(symbols map[string]string, instrument string) string {
	if mapped, ok := symbols[instrument]; ok && mapped != "" {
		return mapped
	}
	return instrument
}
