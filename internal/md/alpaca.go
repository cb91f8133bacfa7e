package md

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/rs/zerolog"
)

// alpacaBackfillBars bounds the OHLC window requested from Alpaca.
const alpacaBackfillBars = 720

// Alpaca reads crypto bars and quotes from the Alpaca market data API.
type Alpaca struct {
	client  *marketdata.Client
	symbols map[string]string
	log     zerolog.Logger
	now     func() time.Time
}

func NewAlpaca(apiKey, apiSecret string, symbols map[string]string, log zerolog.Logger) *Alpaca {
	client := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	})
	return &Alpaca{client: client, symbols: symbols, log: log, now: time.Now}
}

func (a *Alpaca) OHLC(ctx context.Context, instrument string, interval time.Duration) ([]Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbol := resolveSymbol(a.symbols, instrument)
	req := marketdata.GetCryptoBarsRequest{
		TimeFrame: timeFrame(interval),
		Start:     a.now().Add(-alpacaBackfillBars * interval),
	}
	bars, err := a.client.GetCryptoBars(symbol, req)
	if err != nil {
		return nil, fmt.Errorf("get crypto bars %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return nil, ErrNoData
	}
	out := make([]Bar, 0, len(bars))
	for _, bar := range bars {
		out = append(out, Bar{Timestamp: bar.Timestamp.UTC(), Close: bar.Close})
	}
	a.log.Debug().Str("instrument", instrument).Int("bars", len(out)).Msg("alpaca bars fetched")
	return out, nil
}

func (a *Alpaca) Ticker(ctx context.Context, instrument string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	symbol := resolveSymbol(a.symbols, instrument)
	quote, err := a.client.GetLatestCryptoQuote(symbol, marketdata.GetLatestCryptoQuoteRequest{})
	if err != nil {
		return 0, fmt.Errorf("get latest crypto quote %s: %w", symbol, err)
	}
	if quote == nil || quote.AskPrice <= 0 {
		return 0, ErrNoData
	}
	return quote.AskPrice, nil
}

func timeFrame(interval time.Duration) marketdata.TimeFrame {
	switch {
	case interval >= 24*time.Hour && interval%(24*time.Hour) == 0:
		return marketdata.NewTimeFrame(int(interval/(24*time.Hour)), marketdata.Day)
	case interval >= time.Hour && interval%time.Hour == 0:
		return marketdata.NewTimeFrame(int(interval/time.Hour), marketdata.Hour)
	default:
		minutes := int(interval / time.Minute)
		if minutes <= 0 {
			minutes = 1
		}
		return marketdata.NewTimeFrame(minutes, marketdata.Min)
	}
}
