package security

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// Resolver looks up the addresses behind a hostname
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// HostValidator rejects hostnames that resolve to internal addresses
type HostValidator struct {
	blockedHostnames map[string]bool
	resolver         Resolver
}

// NewHostValidator creates a host validator using the system resolver
func NewHostValidator() *HostValidator {
	return NewHostValidatorWithResolver(net.DefaultResolver)
}

// NewHostValidatorWithResolver creates a host validator with a custom resolver
func NewHostValidatorWithResolver(resolver Resolver) *HostValidator {
	return &HostValidator{
		blockedHostnames: map[string]bool{
			"localhost":                true,
			"localhost.localdomain":    true,
			"metadata.google.internal": true,
		},
		resolver: resolver,
	}
}

// Validate checks the hostname and every address it resolves to
func (v *HostValidator) Validate(ctx context.Context, hostname string) error {
	if hostname == "" {
		return fmt.Errorf("hostname is required")
	}

	normalizedHost := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(hostname)), ".")
	if v.blockedHostnames[normalizedHost] {
		return fmt.Errorf("hostname '%s' is blocked (internal host)", hostname)
	}

	// Literal addresses skip DNS
	if ip := net.ParseIP(strings.Trim(normalizedHost, "[]")); ip != nil {
		return ValidateIP(ip)
	}

	addrs, err := v.resolver.LookupIPAddr(ctx, normalizedHost)
	if err != nil {
		// The fetch itself reports unreachable hosts
		return nil
	}

	for _, addr := range addrs {
		if err := ValidateIP(addr.IP); err != nil {
			return err
		}
	}
	return nil
}

// ValidateIP rejects loopback, private, link-local, multicast and
// unspecified addresses
func ValidateIP(ip net.IP) error {
	if ip == nil {
		return fmt.Errorf("IP address is nil")
	}

	switch {
	case ip.IsLoopback():
		return fmt.Errorf("IP %s is blocked (loopback address)", ip)
	case ip.IsPrivate():
		return fmt.Errorf("IP %s is blocked (private network)", ip)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		// 169.254.169.254 lives here
		return fmt.Errorf("IP %s is blocked (link-local address)", ip)
	case ip.IsMulticast():
		return fmt.Errorf("IP %s is blocked (multicast address)", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("IP %s is blocked (unspecified address)", ip)
	}
	return nil
}
