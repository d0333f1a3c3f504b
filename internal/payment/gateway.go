package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GatewayOrder is the order handle returned by the provider.
type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// RazorpayClient talks to the Razorpay Orders API with basic auth.
type RazorpayClient struct {
	keyID     string
	keySecret string
	apiURL    string
	client    *http.Client
}

// NewRazorpayClient constructs the client. apiURL has no trailing slash.
func NewRazorpayClient(keyID, keySecret, apiURL string, timeout time.Duration) *RazorpayClient {
	return &RazorpayClient{
		keyID:     keyID,
		keySecret: keySecret,
		apiURL:    apiURL,
		client:    &http.Client{Timeout: timeout},
	}
}

// KeyID returns the public key for client-side checkout.
func (c *RazorpayClient) KeyID() string { return c.keyID }

// CreateOrder creates a gateway order. Amount is in paise.
func (c *RazorpayClient) CreateOrder(ctx context.Context, amountPaise int64, receipt string) (GatewayOrder, error) {
	body, err := json.Marshal(map[string]any{
		"amount":   amountPaise,
		"currency": "INR",
		"receipt":  receipt,
	})
	if err != nil {
		return GatewayOrder{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return GatewayOrder{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.client.Do(req)
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("gateway order request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return GatewayOrder{}, fmt.Errorf("gateway order failed: status %d: %s", resp.StatusCode, payload)
	}
	var order GatewayOrder
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return GatewayOrder{}, fmt.Errorf("gateway order decode: %w", err)
	}
	return order, nil
}

// VerifySignature checks the checkout callback signature: hex HMAC-SHA256
// of "orderId|paymentId" keyed with the secret.
func (c *RazorpayClient) VerifySignature(orderID, paymentID, signature string) bool {
	mac := hmac.New(sha256.New, []byte(c.keySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
