package geo

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
	"strings"
	"time"
)

// Client is a geolocation API client
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a new geolocation client
func NewClient(config *ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// NewClientWithHTTPClient creates a client with a custom HTTP client
func NewClientWithHTTPClient(config *ClientConfig, httpClient *http.Client) *Client {
	return &Client{config: config, httpClient: httpClient}
}

// computeHMAC computes the HMAC-SHA256 signature for the request body
func (c *Client) computeHMAC(body []byte) string {
	h := hmac.New(sha256.New, []byte(c.config.APISecret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest performs one signed POST. There is no retry: callers treat any
// failure as a denial.
func (c *Client) doRequest(ctx context.Context, endpoint string, reqBody, result any) error {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.config.APIKey)
	req.Header.Set("x-api-hmac", c.computeHMAC(bodyBytes))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return statusError(resp, respBody)
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// statusError builds the error for a non-2xx answer. A result in the body is
// never trusted; an error body only fills in the code and message.
func statusError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{Code: ErrCodeHTTP, Message: resp.Status, Status: resp.StatusCode}
	var env struct {
		Error *APIError `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil && env.Error != nil && env.Error.Code != "" {
		apiErr.Code = env.Error.Code
		if env.Error.Message != "" {
			apiErr.Message = env.Error.Message
		}
	}
	return apiErr
}

// Lookup resolves the jurisdiction of an IP address
func (c *Client) Lookup(ctx context.Context, ip string) (*Location, error) {
	var resp Response[Location]
	if err := c.doRequest(ctx, "/lookup", &LookupRequest{IP: ip}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	if resp.Result == nil || len(strings.TrimSpace(resp.Result.Country)) != 2 {
		return nil, fmt.Errorf("%w: missing country", ErrMalformedResponse)
	}
	loc := *resp.Result
	loc.Country = strings.ToUpper(loc.Country)
	loc.Region = strings.ToUpper(loc.Region)
	return &loc, nil
}
