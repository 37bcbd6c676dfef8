// Package privacy scrubs addresses and credentials from messages before they
// leave the pole, and generates the anonymous system identifier.
package privacy

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// any scheme, including shoutrrr service URLs that carry tokens
	urlPattern = regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9+.-]*://[^\s"']+`)

	// go-sql-driver DSN prefix, user:password@tcp(host:port)
	dsnPattern = regexp.MustCompile(`\b[^\s:@/]+:[^\s@/]*@(?:tcp|unix)\([^)]*\)`)

	// bare IPv4 addresses, optionally with a port
	ipv4Pattern = regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}(?::\d{1,5})?\b`)
)

// ScrubMessage replaces URLs, database DSNs and IP addresses in message with
// stable anonymous tokens
func ScrubMessage(message string) string {
	message = urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
	message = dsnPattern.ReplaceAllString(message, "[DSN]")
	return ipv4Pattern.ReplaceAllStringFunc(message, func(ip string) string {
		host, _, _ := strings.Cut(ip, ":")
		return "[" + categorizeHost(host) + "]"
	})
}

// AnonymizeURL converts a URL to a hash of its scheme, host category and port.
// Credentials, host names and paths do not survive.
func AnonymizeURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	var parts []string
	if parsedURL.Scheme != "" {
		parts = append(parts, parsedURL.Scheme)
	}
	if host := parsedURL.Hostname(); host != "" {
		parts = append(parts, categorizeHost(host))
	}
	if port := parsedURL.Port(); port != "" {
		parts = append(parts, "port-"+port)
	}
	if path := strings.Trim(parsedURL.Path, "/"); path != "" {
		parts = append(parts, fmt.Sprintf("path-%d", strings.Count(path, "/")+1))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("url-%x", hash[:12])
}

// GenerateSystemID creates a random identifier formatted as XXXX-XXXX-XXXX
func GenerateSystemID() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	id := hex.EncodeToString(b)
	return strings.ToUpper(fmt.Sprintf("%s-%s-%s", id[0:4], id[4:8], id[8:12])), nil
}

// IsValidSystemID checks if id has the XXXX-XXXX-XXXX hex format
func IsValidSystemID(id string) bool {
	if len(id) != 14 || id[4] != '-' || id[9] != '-' {
		return false
	}
	for i, r := range id {
		if i == 4 || i == 9 {
			continue
		}
		if !isHexChar(r) {
			return false
		}
	}
	return true
}

func categorizeHost(host string) string {
	switch {
	case host == "localhost" || host == "127.0.0.1" || host == "::1":
		return "localhost"
	case isPrivateIP(host):
		return "private-ip"
	case isIPAddress(host):
		return "public-ip"
	}
	if parts := strings.Split(host, "."); len(parts) >= 2 {
		return "domain-" + parts[len(parts)-1]
	}
	return "unknown-host"
}

func isPrivateIP(host string) bool {
	privateRanges := []string{
		"10.", "172.16.", "172.17.", "172.18.", "172.19.", "172.20.", "172.21.", "172.22.", "172.23.",
		"172.24.", "172.25.", "172.26.", "172.27.", "172.28.", "172.29.", "172.30.", "172.31.",
		"192.168.", "169.254.",
		"fc00:", "fd00:", "fe80:",
	}
	host = strings.ToLower(host)
	for _, prefix := range privateRanges {
		if strings.HasPrefix(host, prefix) {
			return true
		}
	}
	return false
}

func isIPAddress(host string) bool {
	if ipv4Pattern.MatchString(host) {
		return true
	}
	return strings.Contains(host, ":")
}

func isHexChar(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') || (r >= 'a' && r <= 'f')
}
