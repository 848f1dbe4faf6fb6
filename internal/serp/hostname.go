// Package serp extracts organic search results from scraping API payloads
// and locates a domain's ranking position within them.
package serp

import (
	"net"
	"net/url"
	"strings"
)

// NormalizeHostname reduces a hostname or URL to its comparable form:
// lower-case, without scheme, port, path, trailing dot or a leading "www.".
func NormalizeHostname(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}

	if strings.HasPrefix(s, "//") {
		s = "http:" + s
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Hostname()
	} else {
		if i := strings.IndexAny(s, "/?#"); i >= 0 {
			s = s[:i]
		}
		if i := strings.LastIndex(s, "@"); i >= 0 {
			s = s[i+1:]
		}
		if host, _, err := net.SplitHostPort(s); err == nil {
			s = host
		}
	}

	s = strings.TrimSuffix(s, ".")
	s = strings.TrimPrefix(s, "www.")
	return s
}

// MatchesDomain reports whether host belongs to target: an exact match or
// any subdomain of it. Both sides are normalized first. An empty target
// never matches.
func MatchesDomain(host, target string) bool {
	h := NormalizeHostname(host)
	t := NormalizeHostname(target)
	if h == "" || t == "" {
		return false
	}
	return h == t || strings.HasSuffix(h, "."+t)
}

// isGoogleInternal flags links that point back into the search engine
// itself (result pages, caches, translations) rather than to a site.
func isGoogleInternal(host string) bool {
	h := NormalizeHostname(host)
	if h == "" {
		return true
	}
	if h == "googleusercontent.com" || strings.HasSuffix(h, ".googleusercontent.com") {
		return true
	}
	labels := strings.Split(h, ".")
	for i, label := range labels {
		if label == "google" && isGoogleSuffix(labels[i+1:]) {
			return true
		}
	}
	return false
}

// isGoogleSuffix accepts the public suffixes Google registers under:
// "com", "de", "co.uk", "com.au" and the like.
func isGoogleSuffix(labels []string) bool {
	switch len(labels) {
	case 1:
		return labels[0] != ""
	case 2:
		return (labels[0] == "co" || labels[0] == "com") && len(labels[1]) == 2
	}
	return false
}
