package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Client places GTC limit orders through the Alpaca trading API. Alpaca
// assets do not carry price or size steps, so increments come from config
// and the asset lookup only confirms the instrument is tradable.
type Client struct {
	client     *alpaca.Client
	increments map[string]Increments
	log        zerolog.Logger
}

func New(apiKey, apiSecret, baseURL string, increments map[string]Increments, log zerolog.Logger) *Client {
	opts := alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	}
	return &Client{client: alpaca.NewClient(opts), increments: increments, log: log}
}

// Login verifies the credentials by fetching the account.
func (c *Client) Login(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	acct, err := c.client.GetAccount()
	if err != nil {
		return fmt.Errorf("alpaca login: %w", err)
	}
	c.log.Info().Str("account", acct.AccountNumber).Str("status", string(acct.Status)).Msg("alpaca login ok")
	return nil
}

func (c *Client) BuyingPower(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	acct, err := c.client.GetAccount()
	if err != nil {
		c.log.Error().Err(err).Msg("fetch account failed")
		return 0, fmt.Errorf("get account: %w", err)
	}
	buyingPower, _ := acct.NonMarginBuyingPower.Float64()
	c.log.Debug().Float64("buying_power", buyingPower).Msg("account fetched")
	return buyingPower, nil
}

func (c *Client) Increments(ctx context.Context, instrument string) (Increments, error) {
	if err := ctx.Err(); err != nil {
		return Increments{}, err
	}
	asset, err := c.client.GetAsset(instrument)
	if err != nil {
		return Increments{}, fmt.Errorf("get asset %s: %w", instrument, err)
	}
	if !asset.Tradable {
		return Increments{}, fmt.Errorf("asset %s is not tradable", instrument)
	}
	inc, ok := c.increments[instrument]
	if !ok || !inc.Price.IsPositive() || !inc.Quantity.IsPositive() {
		return Increments{}, fmt.Errorf("no increments configured for %s", instrument)
	}
	return inc, nil
}

func (c *Client) PlaceLimitOrder(ctx context.Context, req LimitOrder) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	qty := req.Qty
	limitPrice := req.LimitPrice
	orderReq := alpaca.PlaceOrderRequest{
		Symbol:        req.Instrument,
		Qty:           &qty,
		Side:          alpaca.Side(req.Side),
		Type:          alpaca.Limit,
		TimeInForce:   alpaca.GTC,
		LimitPrice:    &limitPrice,
		ClientOrderID: uuid.NewString(),
	}

	order, err := c.client.PlaceOrder(orderReq)
	if err != nil {
		c.log.Error().Err(err).Str("side", string(req.Side)).Str("instrument", req.Instrument).
			Str("qty", qty.String()).Str("limit", limitPrice.String()).Msg("place order failed")
		return Order{}, describeAPIError(err)
	}

	c.log.Info().Str("order_id", order.ID).Str("side", string(req.Side)).Str("instrument", req.Instrument).
		Str("qty", qty.String()).Str("limit", limitPrice.String()).Str("status", string(order.Status)).Msg("place order success")
	return convertOrder(order), nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.client.CancelOrder(orderID); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, describeAPIError(err))
	}
	return nil
}

func (c *Client) OpenOrders(ctx context.Context) ([]Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	orders, err := c.client.GetOrders(alpaca.GetOrdersRequest{Status: "open"})
	if err != nil {
		c.log.Error().Err(err).Msg("fetch open orders failed")
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	c.log.Debug().Int("count", len(orders)).Msg("open orders fetched")
	out := make([]Order, 0, len(orders))
	for i := range orders {
		out = append(out, convertOrder(&orders[i]))
	}
	return out, nil
}

func (c *Client) Order(ctx context.Context, orderID string) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	order, err := c.client.GetOrder(orderID)
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return convertOrder(order), nil
}

func convertOrder(order *alpaca.Order) Order {
	out := Order{
		ID:            order.ID,
		ClientOrderID: order.ClientOrderID,
		Instrument:    order.Symbol,
		Side:          Side(order.Side),
		Status:        string(order.Status),
		FilledQty:     order.FilledQty.InexactFloat64(),
	}
	if order.Qty != nil {
		out.Qty = order.Qty.InexactFloat64()
	}
	if order.LimitPrice != nil {
		out.LimitPrice = order.LimitPrice.InexactFloat64()
	}
	return out
}

func describeAPIError(err error) error {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("alpaca api error %d (code %d): %s: %w", apiErr.StatusCode, apiErr.Code, apiErr.Message, err)
	}
	return err
}

// FixedIncrements builds an Increments value from plain floats.
func FixedIncrements(price, quantity float64) Increments {
	return Increments{Price: decimal.NewFromFloat(price), Quantity: decimal.NewFromFloat(quantity)}
}
