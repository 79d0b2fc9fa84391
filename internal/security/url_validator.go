// Package security provides input validation and log redaction helpers.
package security

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/Rorqualx/cloudscraper-go/internal/types"
)

// MaxURLLength bounds accepted target URLs. Scrape targets with long
// query strings are common, so the cap is generous.
const MaxURLLength = 8192

// URL validation errors.
var (
	ErrSchemeNotAllowed      = errors.New("URL scheme not allowed")
	ErrProxySchemeNotAllowed = errors.New("proxy URL scheme not allowed")
	ErrURLTooLong            = errors.New("URL exceeds maximum length")
)

// allowedSchemes defines the permitted target URL schemes.
var allowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
}

// allowedProxySchemes defines the permitted schemes for proxy endpoints.
var allowedProxySchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"socks4": true,
	"socks5": true,
}

// blockedHosts contains hostnames that are never safe targets when
// private address blocking is on.
var blockedHosts = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true, // GCP metadata
	"metadata":                 true, // Generic cloud metadata
	"instance-data":            true, // AWS instance metadata hostname
}

// cloudMetadataIPs contains IP addresses used by cloud provider metadata
// services. Blocking them prevents SSRF from reaching cloud credentials.
var cloudMetadataIPs = []net.IP{
	net.ParseIP("169.254.169.254"), // AWS, GCP, Azure, DigitalOcean, OpenStack
	net.ParseIP("169.254.170.2"),   // AWS ECS task metadata
	net.ParseIP("100.100.100.200"), // Alibaba Cloud
	net.ParseIP("192.0.0.192"),     // Oracle Cloud Instance Metadata (IMDS)
	net.ParseIP("fd00:ec2::254"),   // AWS IPv6 metadata
	net.ParseIP("fc00:ec2::254"),   // AWS IPv6 metadata (alternate)
}

// ValidateURL checks that a URL is fit to scrape. The scheme, host and
// length are always checked. With blockPrivate set the host must not
// point at loopback, private, link-local or cloud metadata addresses,
// including encoded forms (decimal, octal, hex, IPv4-mapped IPv6).
// Private blocking is off by default for a scraping client since local
// test targets are a normal use case.
func ValidateURL(rawURL string, blockPrivate bool) error {
	if rawURL == "" {
		return types.ErrURLRequired
	}
	if len(rawURL) > MaxURLLength {
		return ErrURLTooLong
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return types.ErrInvalidURL
	}
	if !allowedSchemes[strings.ToLower(parsed.Scheme)] {
		return ErrSchemeNotAllowed
	}

	hostname := strings.ToLower(parsed.Hostname())
	if hostname == "" {
		return types.ErrInvalidURL
	}

	if !blockPrivate {
		return nil
	}
	return validateHost(hostname)
}

// validateHost rejects hostnames and addresses that point inside the
// local network or at metadata services.
func validateHost(hostname string) error {
	if blockedHosts[hostname] || isLocalhostHostname(hostname) {
		return fmt.Errorf("%w: %s", types.ErrPrivateAddress, hostname)
	}

	if ip := parseIPWithNormalization(hostname); ip != nil {
		return validateIP(normalizeIPv4Mapped(ip))
	}

	// For hostnames, resolve and check all IPs. Unresolvable hosts pass
	// here, the dialer reports them later.
	ips, err := net.LookupIP(hostname)
	if err != nil {
		return nil
	}
	for _, resolved := range ips {
		if err := validateIP(normalizeIPv4Mapped(resolved)); err != nil {
			return err
		}
	}
	return nil
}

// ValidateProxyURL validates a proxy endpoint. Unlike ValidateURL this
// allows socks4/socks5 schemes, and private addresses are permitted by
// default since local proxies are a common setup.
func ValidateProxyURL(proxyURL string, blockPrivate bool) error {
	if proxyURL == "" {
		return nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return types.ErrInvalidURL
	}
	if !allowedProxySchemes[strings.ToLower(parsed.Scheme)] {
		return ErrProxySchemeNotAllowed
	}
	if parsed.Host == "" {
		return types.ErrInvalidURL
	}

	if !blockPrivate {
		return nil
	}
	hostname := strings.ToLower(parsed.Hostname())
	if blockedHosts[hostname] || isLocalhostHostname(hostname) {
		return fmt.Errorf("%w: %s", types.ErrPrivateAddress, hostname)
	}
	if ip := parseIPWithNormalization(hostname); ip != nil {
		return validateIP(normalizeIPv4Mapped(ip))
	}
	// Proxy hostnames are not resolved, the proxy is dialed directly.
	return nil
}

// parseIPWithNormalization parses an IP address string, handling the
// encoding formats used to bypass SSRF filters:
// - Standard dotted decimal (192.168.1.1)
// - Decimal encoding (3232235777 for 192.168.1.1)
// - Octal encoding (0300.0250.01.01 for 192.168.1.1)
// - Hex encoding (0xC0.0xA8.0x01.0x01 for 192.168.1.1)
// - Shortened forms (127.1 for 127.0.0.1)
func parseIPWithNormalization(hostname string) net.IP {
	// Standard parsing handles most cases including IPv6.
	if ip := net.ParseIP(hostname); ip != nil {
		return ip
	}

	// Single decimal number (e.g. 2130706433 for 127.0.0.1).
	if num, err := strconv.ParseUint(hostname, 10, 32); err == nil {
		return net.IPv4(byte(num>>24), byte(num>>16), byte(num>>8), byte(num))
	}

	// Octal or hex components (e.g. 0177.0.0.1 or 0x7f.0.0.1).
	parts := strings.Split(hostname, ".")
	if len(parts) == 4 {
		var octets [4]byte
		for i, part := range parts {
			val, err := parseIntWithBase(part)
			if err != nil || val > 255 {
				return nil
			}
			octets[i] = byte(val)
		}
		return net.IPv4(octets[0], octets[1], octets[2], octets[3])
	}

	// Shortened forms (e.g. 127.1 -> 127.0.0.1).
	if len(parts) == 2 {
		first, err1 := parseIntWithBase(parts[0])
		second, err2 := parseIntWithBase(parts[1])
		if err1 == nil && err2 == nil && first <= 255 && second <= 0xFFFFFF {
			return net.IPv4(byte(first), byte(second>>16), byte(second>>8), byte(second))
		}
	}

	return nil
}

// parseIntWithBase parses an integer in decimal, octal (0-prefixed) or
// hexadecimal (0x-prefixed) form.
func parseIntWithBase(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty string")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	if strings.HasPrefix(s, "0") && len(s) > 1 && s[1] != 'x' && s[1] != 'X' {
		return strconv.ParseUint(s[1:], 8, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

// normalizeIPv4Mapped converts IPv4-mapped IPv6 addresses
// (::ffff:x.x.x.x) to IPv4 so the IPv4 range checks apply.
func normalizeIPv4Mapped(ip net.IP) net.IP {
	if ip4 := ip.To4(); ip4 != nil {
		return ip4
	}
	return ip
}

// isLocalhostHostname checks if a hostname is a localhost variant.
func isLocalhostHostname(hostname string) bool {
	switch hostname {
	case "localhost", "localhost.localdomain", "local", "ip6-localhost", "ip6-loopback":
		return true
	}
	// foo.localhost and localhost.<tld> count as localhost too.
	return strings.HasSuffix(hostname, ".localhost") || strings.HasPrefix(hostname, "localhost.")
}

// isLoopbackIP reports whether an IP is loopback. For IPv4 the entire
// 127.0.0.0/8 range counts, not just 127.0.0.1.
func isLoopbackIP(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		return ip4[0] == 127
	}
	return ip.Equal(net.IPv6loopback)
}

// validateIP checks if an IP address is safe to dial.
func validateIP(ip net.IP) error {
	if isLoopbackIP(ip) {
		return fmt.Errorf("%w: loopback address %s", types.ErrPrivateAddress, ip)
	}
	if ip.IsPrivate() {
		return fmt.Errorf("%w: %s", types.ErrPrivateAddress, ip)
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return fmt.Errorf("%w: link-local address %s", types.ErrPrivateAddress, ip)
	}
	if isCloudMetadataIP(ip) {
		return fmt.Errorf("%w: metadata service %s", types.ErrPrivateAddress, ip)
	}
	if ip.IsUnspecified() {
		return fmt.Errorf("%w: unspecified address %s", types.ErrPrivateAddress, ip)
	}
	return nil
}

// isCloudMetadataIP checks if an IP is a cloud provider metadata service.
func isCloudMetadataIP(ip net.IP) bool {
	for _, metadataIP := range cloudMetadataIPs {
		if ip.Equal(metadataIP) {
			return true
		}
	}
	return false
}

// SanitizeCookieDomain validates a cookie's declared domain against the
// host that sent it. Returns the target host when the domain is invalid
// or broader than the host allows.
func SanitizeCookieDomain(domain string, targetHost string) string {
	if domain == "" {
		return targetHost
	}

	// Cookies use implicit dot matching, drop a leading dot.
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))
	targetHost = strings.ToLower(targetHost)

	if domain == targetHost {
		return domain
	}

	if strings.HasSuffix(targetHost, "."+domain) {
		// A bare TLD is never an acceptable cookie domain.
		if strings.Count(domain, ".") < 1 {
			return targetHost
		}
		return domain
	}

	return targetHost
}
