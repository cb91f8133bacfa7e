package md

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultKrakenBaseURL = "https://api.kraken.com"

// Kraken polls the public Kraken REST API.
type Kraken struct {
	baseURL string
	symbols map[string]string
	client  *http.Client
	log     zerolog.Logger
}

type KrakenOption func(*Kraken)

func WithKrakenBaseURL(baseURL string) KrakenOption {
	return func(k *Kraken) {
		if baseURL != "" {
			k.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

func WithKrakenHTTPClient(client *http.Client) KrakenOption {
	return func(k *Kraken) {
		if client != nil {
			k.client = client
		}
	}
}

// NewKraken maps instruments to Kraken pair names through symbols; unmapped
// instruments are sent as-is.
func NewKraken(symbols map[string]string, log zerolog.Logger, opts ...KrakenOption) *Kraken {
	k := &Kraken{
		baseURL: defaultKrakenBaseURL,
		symbols: symbols,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

type krakenResponse struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

type krakenTicker struct {
	Ask []string `json:"a"`
}

func (k *Kraken) OHLC(ctx context.Context, instrument string, interval time.Duration) ([]Bar, error) {
	pair := resolveSymbol(k.symbols, instrument)
	minutes := int(interval / time.Minute)
	if minutes <= 0 {
		minutes = 1
	}
	query := url.Values{}
	query.Set("pair", pair)
	query.Set("interval", strconv.Itoa(minutes))

	raw, err := k.get(ctx, "/0/public/OHLC", query, pair)
	if err != nil {
		return nil, err
	}
	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode ohlc rows: %w", err)
	}
	bars := make([]Bar, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		var ts int64
		if err := json.Unmarshal(row[0], &ts); err != nil {
			return nil, fmt.Errorf("decode ohlc time: %w", err)
		}
		closePrice, err := parseKrakenNumber(row[4])
		if err != nil {
			return nil, fmt.Errorf("decode ohlc close: %w", err)
		}
		if !ValidPrice(closePrice) {
			continue
		}
		bars = append(bars, Bar{Timestamp: time.Unix(ts, 0).UTC(), Close: closePrice})
	}
	if len(bars) == 0 {
		return nil, ErrNoData
	}
	k.log.Debug().Str("instrument", instrument).Str("pair", pair).Int("bars", len(bars)).Msg("kraken ohlc fetched")
	return bars, nil
}

func (k *Kraken) Ticker(ctx context.Context, instrument string) (float64, error) {
	pair := resolveSymbol(k.symbols, instrument)
	query := url.Values{}
	query.Set("pair", pair)

	raw, err := k.get(ctx, "/0/public/Ticker", query, pair)
	if err != nil {
		return 0, err
	}
	var ticker krakenTicker
	if err := json.Unmarshal(raw, &ticker); err != nil {
		return 0, fmt.Errorf("decode ticker: %w", err)
	}
	if len(ticker.Ask) == 0 {
		return 0, ErrNoData
	}
	price, err := strconv.ParseFloat(ticker.Ask[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parse ask price: %w", err)
	}
	if !ValidPrice(price) {
		return 0, fmt.Errorf("invalid ask price %q", ticker.Ask[0])
	}
	return price, nil
}

// get performs the request and returns the result entry for pair. Kraken may
// answer under its canonical pair name, so a single non-"last" entry is
// accepted when the requested name is absent.
func (k *Kraken) get(ctx context.Context, path string, query url.Values, pair string) (json.RawMessage, error) {
	endpoint := k.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "cryptobot/1.0")

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kraken unexpected status %d", resp.StatusCode)
	}

	var payload krakenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(payload.Error) > 0 {
		return nil, fmt.Errorf("kraken error: %s", strings.Join(payload.Error, "; "))
	}
	if raw, ok := payload.Result[pair]; ok {
		return raw, nil
	}
	var found json.RawMessage
	count := 0
	for key, raw := range payload.Result {
		if key == "last" {
			continue
		}
		found = raw
		count++
	}
	if count == 1 {
		return found, nil
	}
	return nil, ErrNoData
}

func parseKrakenNumber(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}
