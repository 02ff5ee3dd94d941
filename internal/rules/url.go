package rules

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

// ExtractURLs returns every http/https URL in the raw message text, in
// extraction order.
func ExtractURLs(content string) []string {
	return urlRegex.FindAllString(content, -1)
}

// NormalizeURL lowercases a URL and punycodes its host so that prefix
// comparisons behave the same for mixed-case and internationalized links.
// Unparseable input falls back to a plain lowercase.
func NormalizeURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return strings.ToLower(raw)
	}

	host := strings.ToLower(parsed.Hostname())
	if asciiHost, err := idna.ToASCII(host); err == nil {
		host = asciiHost
	}
	if port := parsed.Port(); port != "" {
		parsed.Host = host + ":" + port
	} else {
		parsed.Host = host
	}

	return strings.ToLower(parsed.String())
}

// HasAllowedPrefix reports whether the normalized URL starts with at least
// one of the configured prefixes. Prefixes are stored lowercased.
func HasAllowedPrefix(normalized string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		if strings.HasPrefix(normalized, prefix) {
			return true
		}
	}
	return false
}
