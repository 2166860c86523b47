package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"ampease/backend/services/charger-service/internal/clients"
)

const (
	SandboxBaseURL    = "https://connect.squareupsandbox.com"
	ProductionBaseURL = "https://connect.squareup.com"
	SandboxSDKURL     = "https://sandbox.web.squarecdn.com/v1/square.js"
	ProductionSDKURL  = "https://web.squarecdn.com/v1/square.js"

	squareVersion = "2024-07-17"
	userAgent     = "ampease-payment"
)

// BaseURLFor returns the API host for the given environment name.
func BaseURLFor(environment string) string {
	if environment == "production" {
		return ProductionBaseURL
	}
	return SandboxBaseURL
}

// SDKURLFor returns the browser payment SDK for the given environment name.
func SDKURLFor(environment string) string {
	if environment == "production" {
		return ProductionSDKURL
	}
	return SandboxSDKURL
}

// Location is the merchant location the account charges under.
type Location struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Country  string `json:"country"`
}

type money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type createPaymentRequest struct {
	SourceID       string `json:"source_id"`
	IdempotencyKey string `json:"idempotency_key"`
	AmountMoney    money  `json:"amount_money"`
	LocationID     string `json:"location_id,omitempty"`
}

// SquareClient is a thin client for the Square payments API.
type SquareClient struct {
	base       *clients.BaseClient
	locationID string
}

// NewSquareClient returns client instance.
func NewSquareClient(baseURL, accessToken, locationID string, httpClient clients.HTTPDoer) *SquareClient {
	headers := map[string]string{
		"Authorization":  "Bearer " + accessToken,
		"Square-Version": squareVersion,
		"User-Agent":     userAgent,
	}
	return &SquareClient{
		base:       clients.NewBaseClient(baseURL, httpClient, headers),
		locationID: locationID,
	}
}

// CreatePayment posts a payment and returns the raw status and body.
func (c *SquareClient) CreatePayment(ctx context.Context, req ChargeRequest) (int, []byte, error) {
	body, err := json.Marshal(createPaymentRequest{
		SourceID:       req.SourceToken,
		IdempotencyKey: req.IdempotencyKey,
		AmountMoney:    money{Amount: req.AmountMinor, Currency: req.Currency},
		LocationID:     c.locationID,
	})
	if err != nil {
		return 0, nil, err
	}
	return c.base.Do(ctx, http.MethodPost, "/v2/payments", body, nil)
}

// RetrieveLocation fetches the configured location to learn its currency and country.
func (c *SquareClient) RetrieveLocation(ctx context.Context) (Location, error) {
	var resp struct {
		Location Location `json:"location"`
	}
	if err := c.base.DoJSON(ctx, http.MethodGet, "/v2/locations/"+url.PathEscape(c.locationID), nil, &resp); err != nil {
		return Location{}, fmt.Errorf("square retrieve location: %w", err)
	}
	return resp.Location, nil
}
