package geo

import (
	"errors"
	"time"
)

// Error codes returned by the service
const (
	ErrCodeUnexpected    = "UNEXPECTED_ERROR"
	ErrCodeNotAuthorized = "NOT_AUTHORIZED"
	ErrCodeInvalidIP     = "INVALID_IP"
	ErrCodeRateLimited   = "RATE_LIMITED"

	// ErrCodeHTTP is used for a non-2xx answer without an error code
	ErrCodeHTTP = "HTTP_ERROR"
)

// ErrMalformedResponse marks an answer that could not be understood
var ErrMalformedResponse = errors.New("malformed geolocation response")

// ClientConfig holds the client configuration
type ClientConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// APIError represents an error response from the service
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Response wraps the answer with either result or error
type Response[T any] struct {
	Result *T        `json:"result,omitempty"`
	Error  *APIError `json:"error,omitempty"`
}

// LookupRequest is the request body for /lookup
type LookupRequest struct {
	IP string `json:"ip"`
}

// Location is the resolved jurisdiction of an address. Country is ISO
// 3166-1 alpha-2; Region is an ISO 3166-2 subdivision such as "US-WA".
type Location struct {
	IP      string `json:"ip"`
	Country string `json:"country"`
	Region  string `json:"region"`
	Proxy   bool   `json:"proxy"`
}
