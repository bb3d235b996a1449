// Package privacy scrubs sensitive values from text that leaves the
// process: telemetry events, notification pushes, support dumps.
// Endpoint and service URLs are the main hazard since they can embed
// credentials in the userinfo, path, or query.
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
	// urlPattern matches any scheme so shoutrrr service URLs
	// (telegram://, discord://) are caught alongside http(s).
	urlPattern = regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9+.-]*://\S+`)

	ipv4Pattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
)

// ScrubMessage replaces every URL in message with an anonymized token.
// The token is stable for a given URL, so repeated failures against the
// same endpoint stay correlatable after scrubbing.
func ScrubMessage(message string) string {
	return urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
}

// AnonymizeURL reduces a URL to a hashed token that preserves coarse
// structure (scheme, host class, port, path shape) without the values.
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
	if parsedURL.Port() != "" {
		parts = append(parts, "port-"+parsedURL.Port())
	}
	if parsedURL.Path != "" && parsedURL.Path != "/" {
		parts = append(parts, anonymizePath(parsedURL.Path))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("url-%x", hash[:12])
}

// SanitizeURL strips userinfo and the query string from a URL for
// display, keeping scheme, host, port, and path. Strings that do not
// parse as URLs come back unchanged.
func SanitizeURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return raw
	}
	parsed.User = nil
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String()
}

// GenerateSystemID creates a random install identifier in the form
// XXXX-XXXX-XXXX, easy to read back from a support report.
func GenerateSystemID() (string, error) {
	raw := make([]byte, 6)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	id := strings.ToUpper(hex.EncodeToString(raw))
	return fmt.Sprintf("%s-%s-%s", id[0:4], id[4:8], id[8:12]), nil
}

// IsValidSystemID reports whether id matches the XXXX-XXXX-XXXX hex format.
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

// categorizeHost collapses a hostname to a coarse class. Public DNS
// names keep only their TLD so unrelated installs still bucket apart.
func categorizeHost(host string) string {
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return "localhost"
	}
	if isPrivateIP(host) {
		return "private-ip"
	}
	if isIPAddress(host) {
		return "public-ip"
	}
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return "domain-" + parts[len(parts)-1]
	}
	return "unknown-host"
}

// anonymizePath keeps the shape of a path while hashing the segments
// that could identify a project or carry a signed token.
func anonymizePath(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return "root"
	}

	var out []string
	for _, segment := range strings.Split(path, "/") {
		switch {
		case segment == "":
		case isCommonAPISegment(segment):
			out = append(out, strings.ToLower(segment))
		case isNumeric(segment):
			out = append(out, "numeric")
		default:
			hash := sha256.Sum256([]byte(segment))
			out = append(out, fmt.Sprintf("seg-%x", hash[:4]))
		}
	}
	return strings.Join(out, "/")
}

func isPrivateIP(host string) bool {
	privateRanges := []string{
		"10.", "172.16.", "172.17.", "172.18.", "172.19.", "172.20.",
		"172.21.", "172.22.", "172.23.", "172.24.", "172.25.", "172.26.",
		"172.27.", "172.28.", "172.29.", "172.30.", "172.31.",
		"192.168.", "169.254.",
		"fc00:", "fd00:",
		"fe80:",
		"::1",
		"ff00:", "ff01:", "ff02:",
	}
	for _, prefix := range privateRanges {
		if strings.HasPrefix(strings.ToLower(host), prefix) {
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

// isCommonAPISegment reports whether a path segment is a generic API
// word safe to keep verbatim. Anything else may be a project slug or a
// signed token and gets hashed.
func isCommonAPISegment(segment string) bool {
	common := []string{"api", "v1", "v2", "upload", "uploads", "ingest", "assets", "deliveries", "masters", "audio", "files"}
	segment = strings.ToLower(segment)
	for _, name := range common {
		if segment == name {
			return true
		}
	}
	return false
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func isHexChar(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') || (r >= 'a' && r <= 'f')
}
