// Package compliance decides whether a player's location allows
// real-currency play. The Gate fails closed: any lookup failure denies.
package compliance

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/alexbotov/sweepsrgs/internal/domain"
	"github.com/alexbotov/sweepsrgs/internal/metrics"
	"github.com/alexbotov/sweepsrgs/pkg/geo"
)

// Reason codes of a decision
const (
	ReasonAllowed            = "ALLOWED"
	ReasonTimeout            = "GEO_TIMEOUT"
	ReasonNetworkError       = "GEO_NETWORK_ERROR"
	ReasonMalformedResponse  = "GEO_MALFORMED_RESPONSE"
	ReasonServiceError       = "GEO_SERVICE_ERROR"
	ReasonUnsupportedCountry = "GEO_UNSUPPORTED_COUNTRY"
	ReasonRestrictedRegion   = "GEO_RESTRICTED_REGION"
	ReasonDemo               = "DEMO_UNCHECKED"
)

// DefaultTimeout bounds one location lookup
const DefaultTimeout = 5 * time.Second

// Locator resolves the jurisdiction of an address
type Locator interface {
	Lookup(ctx context.Context, ip string) (*geo.Location, error)
}

// Policy lists where real-currency play is offered
type Policy struct {
	SupportedCountries []string
	RestrictedRegions  []string
	Timeout            time.Duration
}

// Decision is the verdict for one request
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
}

// Err returns nil when allowed, otherwise a LocationBlockedError
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &domain.LocationBlockedError{Reason: d.Reason}
}

// Gate is the fail-closed location check for Sweeps Cash play
type Gate struct {
	locator    Locator
	timeout    time.Duration
	supported  map[string]bool
	restricted map[string]bool
}

func upperSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if v = strings.ToUpper(strings.TrimSpace(v)); v != "" {
			set[v] = true
		}
	}
	return set
}

// subdivision strips the country prefix of an ISO 3166-2 code, "US-WA" -> "WA"
func subdivision(region string) string {
	if _, sub, ok := strings.Cut(region, "-"); ok {
		return sub
	}
	return region
}

// NewGate creates a gate over a locator
func NewGate(locator Locator, p Policy) *Gate {
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	return &Gate{
		locator:    locator,
		timeout:    p.Timeout,
		supported:  upperSet(p.SupportedCountries),
		restricted: upperSet(p.RestrictedRegions),
	}
}

// VerifyLocation resolves ip and applies the policy. Every failure mode
// yields Allowed=false with its reason.
func (g *Gate) VerifyLocation(ctx context.Context, ip string) Decision {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var d Decision
	loc, err := g.locator.Lookup(ctx, ip)
	switch {
	case err != nil:
		d = Decision{Reason: classify(ctx, err)}
		log.WithError(err).WithFields(log.Fields{"ip": ip, "reason": d.Reason}).Warn("Location lookup failed")
	case !g.supported[loc.Country]:
		d = Decision{Reason: ReasonUnsupportedCountry, Country: loc.Country, Region: loc.Region}
	case g.restricted[loc.Region] || g.restricted[subdivision(loc.Region)] || g.restricted[loc.Country]:
		d = Decision{Reason: ReasonRestrictedRegion, Country: loc.Country, Region: loc.Region}
	default:
		d = Decision{Allowed: true, Reason: ReasonAllowed, Country: loc.Country, Region: loc.Region}
	}

	result := "denied"
	if d.Allowed {
		result = "allowed"
	}
	metrics.GateDecisions.WithLabelValues(result, d.Reason).Inc()
	return d
}

func classify(ctx context.Context, err error) string {
	var apiErr *geo.APIError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
		return ReasonTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return ReasonTimeout
	case errors.Is(err, geo.ErrMalformedResponse):
		return ReasonMalformedResponse
	case errors.As(err, &apiErr):
		return ReasonServiceError
	}
	return ReasonNetworkError
}

// DemoGate admits every request without a lookup. It exists for Gold Coin
// demo flows only and has no code path in common with Gate.
type DemoGate struct{}

// VerifyLocation always allows
func (DemoGate) VerifyLocation(context.Context, string) Decision {
	return Decision{Allowed: true, Reason: ReasonDemo}
}
