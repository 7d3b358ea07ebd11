package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// NormalizeHeader validates a browser Origin header and returns it as
// scheme://host[:port] with default ports stripped, plus the host[:port]
// portion for same-host comparisons.
func NormalizeHeader(header string) (normalized string, host string, ok bool) {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return "", "", false
	}
	port := u.Port()
	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", "", false
		}
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			port = ""
		}
	}

	host = hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host, host, true
}

// IsAllowed reports whether a request carrying originHeader may connect.
// An empty allow-list admits every origin. A request without an Origin
// header is not a browser and is always admitted.
func IsAllowed(originHeader string, allowed []string) bool {
	if len(allowed) == 0 || strings.TrimSpace(originHeader) == "" {
		return true
	}
	normalized, _, ok := NormalizeHeader(originHeader)
	if !ok {
		return false
	}
	for _, entry := range allowed {
		if entry == "*" {
			return true
		}
		if want, _, ok := NormalizeHeader(entry); ok && want == normalized {
			return true
		}
	}
	return false
}
