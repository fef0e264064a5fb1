package webhook

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
)

// ErrBlockedURL is wrapped by every SSRF rejection.
var ErrBlockedURL = errors.New("webhook URL is not allowed")

var blockedHosts = map[string]bool{
	"localhost":                  true,
	"metadata":                   true,
	"metadata.google.internal":   true,
	"metadata.goog":              true,
	"metadata.azure.com":         true,
	"instance-data":              true,
	"instance-data.ec2.internal": true,
}

var blockedPrefixes = mustPrefixes(
	// IPv4
	"0.0.0.0/8", "10.0.0.0/8", "100.64.0.0/10", "127.0.0.0/8", "169.254.0.0/16",
	"172.16.0.0/12", "192.0.0.0/24", "192.0.2.0/24", "192.88.99.0/24", "192.168.0.0/16",
	"198.18.0.0/15", "198.51.100.0/24", "203.0.113.0/24", "224.0.0.0/4", "240.0.0.0/4",
	// IPv6
	"::/128", "::1/128", "fc00::/7", "fe80::/10", "ff00::/8", "2001:db8::/32", "64:ff9b::/96",
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, len(cidrs))
	for i, c := range cidrs {
		out[i] = netip.MustParsePrefix(c)
	}
	return out
}

// BlockedIP reports whether ip is in a private, loopback, link-local,
// documentation or otherwise non-public range. IPv4-mapped IPv6 addresses
// are judged by their IPv4 form.
func BlockedIP(ip netip.Addr) bool {
	if !ip.IsValid() {
		return true
	}
	ip = ip.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// BlockedHost reports whether host is a name that must never be called.
func BlockedHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	return blockedHosts[host] || strings.HasSuffix(host, ".localhost")
}

// Resolver looks up host addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Guard validates webhook destinations.
type Guard struct {
	resolver Resolver
	// allowPrivate skips every check. It exists for local development.
	allowPrivate bool
}

// NewGuard returns a Guard. A nil resolver uses net.DefaultResolver.
func NewGuard(resolver Resolver, allowPrivate bool) *Guard {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Guard{resolver: resolver, allowPrivate: allowPrivate}
}

// Check validates raw: the scheme must be http or https, the host must not
// be a blocked name, and every address it resolves to must be public.
func (g *Guard) Check(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlockedURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrBlockedURL)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrBlockedURL)
	}
	if u.User != nil {
		return fmt.Errorf("%w: credentials in URL", ErrBlockedURL)
	}
	if g.allowPrivate {
		return nil
	}
	if BlockedHost(host) {
		return fmt.Errorf("%w: host %s is blocked", ErrBlockedURL, host)
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		if BlockedIP(ip) {
			return fmt.Errorf("%w: address %s is not public", ErrBlockedURL, ip)
		}
		return nil
	}

	addrs, err := g.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %v", ErrBlockedURL, host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w: %s has no addresses", ErrBlockedURL, host)
	}
	for _, ip := range addrs {
		if BlockedIP(ip) {
			return fmt.Errorf("%w: %s resolves to non-public address %s", ErrBlockedURL, host, ip)
		}
	}
	return nil
}

// control runs on every outbound socket before connect and refuses
// non-public peers, which closes the gap between resolution at Check time
// and the address actually dialled.
func (g *Guard) control(_, address string, _ syscall.RawConn) error {
	if g.allowPrivate {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlockedURL, err)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil || BlockedIP(ip) {
		return fmt.Errorf("%w: refusing to connect to %s", ErrBlockedURL, host)
	}
	return nil
}
