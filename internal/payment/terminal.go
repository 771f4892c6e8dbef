package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmeshcher/cafeteria-system/internal/money"
)

// TerminalClient инкапсулирует HTTP-взаимодействие с внешним платёжным терминалом.
type TerminalClient struct {
	baseURL    string
	httpClient *http.Client
}

type chargeRequest struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type chargeResponse struct {
	Status string `json:"status"`
}

// NewTerminalClient создаёт HTTP-клиент платёжного терминала по указанному адресу.
func NewTerminalClient(baseURL string) *TerminalClient {
	return &TerminalClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Charge отправляет запрос на списание и возвращает решение терминала.
// Таймаут и сетевые сбои трактуются вызывающим как отказ платежа.
func (c *TerminalClient) Charge(ctx context.Context, amount money.Money) (bool, error) {
	if c == nil || c.baseURL == "" {
		return false, fmt.Errorf("payment terminal not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(chargeRequest{
		Amount:   amount.Float64(),
		Currency: string(amount.Currency()),
	})
	if err != nil {
		return false, fmt.Errorf("marshal charge request: %w", err)
	}

	url := fmt.Sprintf("%s/api/charge", base)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPaymentRequired {
		return false, nil
	}

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}

	return result.Status == "APPROVED", nil
}
