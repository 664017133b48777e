// Package authnet is a minimal Authorize.Net JSON API client covering the
// hosted payment page and direct charge requests used by the payment
// pipeline, plus webhook signature verification.
package authnet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MerchantAuth carries the decrypted merchant API credentials.
type MerchantAuth struct {
	Name           string `json:"name"`
	TransactionKey string `json:"transactionKey"`
}

// Client calls the Authorize.Net JSON endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// NewClient creates a Client for the given API endpoint
// (e.g. https://api.authorize.net/xml/v1/request.api).
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type messagesBlock struct {
	ResultCode string `json:"resultCode"`
	Message    []struct {
		Code string `json:"code"`
		Text string `json:"text"`
	} `json:"message"`
}

func (m messagesBlock) err() error {
	if strings.EqualFold(m.ResultCode, "Ok") {
		return nil
	}
	if len(m.Message) > 0 {
		return fmt.Errorf("authorize.net: %s: %s", m.Message[0].Code, m.Message[0].Text)
	}
	return fmt.Errorf("authorize.net: result code %s", m.ResultCode)
}

// HostedPageRequest describes the payment link to create.
type HostedPageRequest struct {
	AmountCents int64
	InvoiceID   string
	Description string
	ReturnURL   string
	CancelURL   string
}

// HostedPageResponse carries the form token for the hosted payment page.
type HostedPageResponse struct {
	Token string
}

// GetHostedPaymentPage requests a hosted payment form token for the given
// amount. The token is embedded in the payment link sent to the patient.
func (c *Client) GetHostedPaymentPage(ctx context.Context, auth MerchantAuth, req HostedPageRequest) (*HostedPageResponse, error) {
	settings := []map[string]string{
		{
			"settingName":  "hostedPaymentReturnOptions",
			"settingValue": fmt.Sprintf(`{"showReceipt": true, "url": %q, "cancelUrl": %q}`, req.ReturnURL, req.CancelURL),
		},
		{
			"settingName":  "hostedPaymentButtonOptions",
			"settingValue": `{"text": "Pay Now"}`,
		},
	}

	body := map[string]interface{}{
		"getHostedPaymentPageRequest": map[string]interface{}{
			"merchantAuthentication": auth,
			"transactionRequest": map[string]interface{}{
				"transactionType": "authCaptureTransaction",
				"amount":          formatAmount(req.AmountCents),
				"order": map[string]string{
					"invoiceNumber": req.InvoiceID,
					"description":   req.Description,
				},
			},
			"hostedPaymentSettings": map[string]interface{}{
				"setting": settings,
			},
		},
	}

	var resp struct {
		Token    string        `json:"token"`
		Messages messagesBlock `json:"messages"`
	}
	if err := c.post(ctx, body, &resp); err != nil {
		return nil, err
	}
	if err := resp.Messages.err(); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("authorize.net: empty hosted page token")
	}
	return &HostedPageResponse{Token: resp.Token}, nil
}

// ChargeRequest describes a direct card charge.
type ChargeRequest struct {
	AmountCents int64
	CardNumber  string
	Expiration  string // YYYY-MM
	CardCode    string
	InvoiceID   string
}

// ChargeResponse carries the gateway's transaction outcome.
type ChargeResponse struct {
	TransactionID string
	ResponseCode  string
	AuthCode      string
}

// ChargeCard submits a createTransactionRequest authCaptureTransaction.
func (c *Client) ChargeCard(ctx context.Context, auth MerchantAuth, req ChargeRequest) (*ChargeResponse, error) {
	body := map[string]interface{}{
		"createTransactionRequest": map[string]interface{}{
			"merchantAuthentication": auth,
			"transactionRequest": map[string]interface{}{
				"transactionType": "authCaptureTransaction",
				"amount":          formatAmount(req.AmountCents),
				"payment": map[string]interface{}{
					"creditCard": map[string]string{
						"cardNumber":     req.CardNumber,
						"expirationDate": req.Expiration,
						"cardCode":       req.CardCode,
					},
				},
				"order": map[string]string{
					"invoiceNumber": req.InvoiceID,
				},
			},
		},
	}

	var resp struct {
		TransactionResponse struct {
			ResponseCode string `json:"responseCode"`
			AuthCode     string `json:"authCode"`
			TransID      string `json:"transId"`
		} `json:"transactionResponse"`
		Messages messagesBlock `json:"messages"`
	}
	if err := c.post(ctx, body, &resp); err != nil {
		return nil, err
	}
	if err := resp.Messages.err(); err != nil {
		return nil, err
	}
	// Response code 1 is "approved".
	if resp.TransactionResponse.ResponseCode != "1" {
		return nil, fmt.Errorf("authorize.net: transaction declined (code %s)", resp.TransactionResponse.ResponseCode)
	}
	return &ChargeResponse{
		TransactionID: resp.TransactionResponse.TransID,
		ResponseCode:  resp.TransactionResponse.ResponseCode,
		AuthCode:      resp.TransactionResponse.AuthCode,
	}, nil
}

func (c *Client) post(ctx context.Context, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("authorize.net: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("authorize.net: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("authorize.net: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("authorize.net: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authorize.net: status %d", resp.StatusCode)
	}

	// The endpoint prepends a UTF-8 BOM to JSON responses.
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("authorize.net: decode response: %w", err)
	}
	return nil
}

// formatAmount renders cents as a dollars string ("1234" -> "12.34").
func formatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
