// Package geo provides a client for the IP geolocation service consulted
// before real-currency play.
//
// # Authentication
//
// Every request is authenticated using:
//   - API Key: sent in the x-api-key header
//   - HMAC Signature: HMAC-SHA256 of the request body, sent in x-api-hmac header
//
// # Basic Usage
//
//	client := geo.NewClient(&geo.ClientConfig{
//	    BaseURL:   "https://geo.example.net",
//	    APIKey:    "your-api-key",
//	    APISecret: "your-api-secret",
//	})
//
//	loc, err := client.Lookup(ctx, "203.0.113.7")
//
// # Error Handling
//
// Service errors are returned as *APIError. A body that cannot be decoded,
// or a result without a country, wraps ErrMalformedResponse:
//
//	loc, err := client.Lookup(ctx, ip)
//	var apiErr *geo.APIError
//	if errors.As(err, &apiErr) {
//	    // the service answered with an error code
//	}
package geo
