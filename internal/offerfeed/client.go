// Package offerfeed предоставляет клиент для каталогов офферов партнёрских сетей.
package offerfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client инкапсулирует HTTP-взаимодействие с фидом офферов.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Offer описывает один оффер из партнёрского каталога.
type Offer struct {
	OfferID      string `json:"offer_id"`
	Name         string `json:"name"`
	Country      string `json:"country"`
	PayoutPoints int64  `json:"payout_points"`
	IsActive     bool   `json:"is_active"`
}

// NewClient создаёт HTTP-клиент фида офферов по указанному адресу.
// Повторы при сетевых сбоях и 429 (с учётом Retry-After) выполняет retryablehttp.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc.StandardClient(),
	}
}

// GetOffers запрашивает каталог офферов указанного партнёра.
// Пустой каталог (204) — не ошибка.
func (c *Client) GetOffers(ctx context.Context, partnerCode string) ([]Offer, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("offer feed client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	url := fmt.Sprintf("%s/api/offers/%s", base, partnerCode)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result []Offer
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return result, nil
}
