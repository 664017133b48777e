// Package digitalrx is the client for the DigitalRx pharmacy backend API:
// prescription submission, status checks, and the mapping from the API's
// status payload to internal prescription statuses.
package digitalrx

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

// SystemType identifies DigitalRx rows in the pharmacy_backends table.
const SystemType = "digitalrx"

// queueIDPrefix is the internal display prefix; the API expects the numeric
// part only.
const queueIDPrefix = "RX-"

// Credentials are the resolved per-pharmacy API credentials.
type Credentials struct {
	APIKey  string
	BaseURL string
	StoreID string
}

// Client calls the DigitalRx REST API.
type Client struct {
	httpClient *http.Client
	vendorName string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// NewClient creates a DigitalRx client. vendorName is sent on every
// submission request.
func NewClient(vendorName string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		vendorName: vendorName,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Patient is the patient block of a submission request.
type Patient struct {
	FirstName string `json:"FirstName"`
	LastName  string `json:"LastName"`
	DOB       string `json:"DOB"`
	Gender    string `json:"Gender"`
	Phone     string `json:"Phone"`
	Address   string `json:"Address"`
	City      string `json:"City"`
	State     string `json:"State"`
	Zip       string `json:"Zip"`
}

// Doctor is the prescriber block of a submission request.
type Doctor struct {
	FirstName string `json:"FirstName"`
	LastName  string `json:"LastName"`
	NPI       string `json:"NPI"`
	Phone     string `json:"Phone"`
}

// RxClaim is the medication block of a submission request.
type RxClaim struct {
	DrugName   string `json:"DrugName"`
	Quantity   string `json:"Quantity"`
	DaysSupply string `json:"DaysSupply"`
	Directions string `json:"Directions"`
	Refills    int    `json:"Refills"`
}

// SubmitRequest is the RxWebRequest payload.
type SubmitRequest struct {
	StoreID    string  `json:"StoreID"`
	VendorName string  `json:"VendorName"`
	Patient    Patient `json:"Patient"`
	Doctor     Doctor  `json:"Doctor"`
	RxClaim    RxClaim `json:"RxClaim"`
}

// SubmitResponse carries the queue reference assigned by the pharmacy.
type SubmitResponse struct {
	QueueID string `json:"QueueID"`
	Status  string `json:"Status"`
	Message string `json:"Message"`
}

// Submit posts a prescription to {base}/RxWebRequest and returns the assigned
// queue id.
func (c *Client) Submit(ctx context.Context, creds Credentials, req SubmitRequest) (*SubmitResponse, error) {
	if req.StoreID == "" {
		req.StoreID = creds.StoreID
	}
	if req.VendorName == "" {
		req.VendorName = c.vendorName
	}

	var resp SubmitResponse
	if err := c.post(ctx, creds, "/RxWebRequest", req, &resp); err != nil {
		return nil, err
	}
	if resp.QueueID == "" {
		return nil, fmt.Errorf("digitalrx: submission accepted without queue id: %s", resp.Message)
	}
	return &resp, nil
}

type statusRequest struct {
	StoreID string `json:"StoreID"`
	QueueID string `json:"QueueID"`
}

// Status posts to {base}/RxRequestStatus for the given queue id. The internal
// queue id may carry an "RX-" display prefix; the API accepts the numeric
// part only.
func (c *Client) Status(ctx context.Context, creds Credentials, queueID string) (*StatusPayload, error) {
	req := statusRequest{
		StoreID: creds.StoreID,
		QueueID: NormalizeQueueID(queueID),
	}

	var resp StatusPayload
	if err := c.post(ctx, creds, "/RxRequestStatus", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// NormalizeQueueID strips the internal "RX-" prefix for outbound requests.
func NormalizeQueueID(queueID string) string {
	return strings.TrimPrefix(queueID, queueIDPrefix)
}

func (c *Client) post(ctx context.Context, creds Credentials, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("digitalrx: marshal request: %w", err)
	}

	url := strings.TrimRight(creds.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("digitalrx: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("digitalrx: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("digitalrx: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("digitalrx: %s returned status %d", path, resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("digitalrx: decode response: %w", err)
	}
	return nil
}
