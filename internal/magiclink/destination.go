package magiclink

import (
	"net/url"
	"strings"

	"github.com/dukerupert/fairway/internal/apperr"
)

// DestinationPolicy decides which resume targets a link may carry. Allowed
// targets are rooted paths on this site or absolute http(s) URLs on the base
// host or one of the extra hosts.
type DestinationPolicy struct {
	hosts map[string]bool
}

func NewDestinationPolicy(baseURL string, extraHosts []string) (*DestinationPolicy, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return nil, apperr.Validation("base_url", "must be an absolute URL")
	}
	hosts := map[string]bool{strings.ToLower(base.Host): true}
	for _, h := range extraHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts[h] = true
		}
	}
	return &DestinationPolicy{hosts: hosts}, nil
}

// Check returns a validation error when raw is not an allowed destination.
// The destination is stored and echoed back unchanged.
func (p *DestinationPolicy) Check(raw string) error {
	if raw == "" {
		return apperr.Validation("destination", "is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return apperr.Validation("destination", "must be a valid URL")
	}
	if !u.IsAbs() {
		// Rooted path only; "//host" is protocol-relative and leaves the site.
		if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, `/\`) || u.Host != "" {
			return apperr.Validation("destination", "must be a path on this site or an absolute URL")
		}
		return nil
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return apperr.Validation("destination", "must use http or https")
	}
	if !p.hosts[strings.ToLower(u.Host)] {
		return apperr.Validation("destination", "host is not allowed")
	}
	return nil
}
