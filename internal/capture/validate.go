package capture

import (
	"fmt"
	"net"
	"net/url"
)

const maxURLLength = 2048

// ValidateURL checks that a network capture input is safe to open:
// http or https only, no embedded credentials, and every resolved address
// outside loopback, private and link-local ranges.
func ValidateURL(rawURL string) error {
	return validateURL(rawURL, net.LookupIP)
}

func validateURL(rawURL string, lookup func(string) ([]net.IP, error)) error {
	if len(rawURL) > maxURLLength {
		return fmt.Errorf("URL too long (%d chars, max %d)", len(rawURL), maxURLLength)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("URLs with embedded credentials are not allowed")
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("URL has no hostname")
	}

	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		ips, err = lookup(host)
		if err != nil {
			return fmt.Errorf("resolve %q: %w", host, err)
		}
	}
	if len(ips) == 0 {
		return fmt.Errorf("no addresses for %q", host)
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("URL resolves to private address %s", ip)
		}
	}
	return nil
}

var privateRanges = mustCIDRs(
	"0.0.0.0/8",
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

func isPrivateIP(ip net.IP) bool {
	for _, n := range privateRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
