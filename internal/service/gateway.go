package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentGateway is the outbound interface to the payment provider.
type PaymentGateway interface {
	CreateCharge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error)
	RequestRefund(ctx context.Context, gatewayPaymentRef string, amount decimal.Decimal) error
}

// ChargeRequest asks the gateway to collect a payment.
type ChargeRequest struct {
	OrderNumber     string          `json:"order_number"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	SubscriptionRef string          `json:"subscription_ref,omitempty"`
}

// ChargeResponse carries the gateway-assigned payment reference.
type ChargeResponse struct {
	PaymentRef string `json:"payment_ref"`
	Status     string `json:"status"`
}

// GatewayClient talks HTTP to the payment gateway. Requests have a bounded
// timeout; a timeout surfaces as GatewayTimeoutError and is retried by the
// caller with backoff, never inside a single attempt.
type GatewayClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewGatewayClient creates a new gateway client.
func NewGatewayClient(baseURL string, timeout time.Duration) *GatewayClient {
	return &GatewayClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  util.GetLogger(),
	}
}

// CreateCharge requests a new charge from the gateway.
func (g *GatewayClient) CreateCharge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error) {
	var resp ChargeResponse
	if err := g.post(ctx, "create_charge", "/v1/charges", req, &resp); err != nil {
		return nil, err
	}
	g.logger.Info("Charge requested",
		zap.String("order_number", req.OrderNumber),
		zap.String("payment_ref", resp.PaymentRef))
	return &resp, nil
}

// RequestRefund asks the gateway to return funds for a payment.
func (g *GatewayClient) RequestRefund(ctx context.Context, gatewayPaymentRef string, amount decimal.Decimal) error {
	body := map[string]string{
		"payment_ref": gatewayPaymentRef,
		"amount":      amount.StringFixed(2),
	}
	return g.post(ctx, "request_refund", "/v1/refunds", body, nil)
}

func (g *GatewayClient) post(ctx context.Context, operation, path string, body, out interface{}) error {
	start := time.Now()
	defer func() {
		util.GatewayRequestLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal gateway request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return &models.GatewayTimeoutError{Operation: operation}
		}
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned status %d for %s", httpResp.StatusCode, operation)
	}

	if out != nil {
		if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode gateway response: %w", err)
		}
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}
