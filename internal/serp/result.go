package serp

import (
	"bytes"
	"errors"
	"net/url"
	"strings"
)

// Parse errors.
var (
	ErrEmptyPayload        = errors.New("empty SERP payload")
	ErrUnrecognizedPayload = errors.New("unrecognized SERP payload")
)

// Source identifies the payload format results were extracted from.
type Source string

const (
	SourceHTML Source = "html"
	SourceJSON Source = "json"
)

// Result is a single organic search result. Position is 1-based.
type Result struct {
	Position int    `json:"position"`
	URL      string `json:"url"`
	Host     string `json:"host"`
	Title    string `json:"title,omitempty"`
	Snippet  string `json:"snippet,omitempty"`
}

// Extraction is the outcome of parsing a payload.
type Extraction struct {
	Results  []Result
	Source   Source
	Strategy string
}

// Parse detects the payload format and extracts the ordered organic results.
func Parse(payload []byte) (*Extraction, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, ErrEmptyPayload
	}

	switch trimmed[0] {
	case '{':
		return parseJSON(trimmed)
	case '<':
		results, strategy, err := parseHTML(bytes.NewReader(trimmed))
		if err != nil {
			return nil, err
		}
		return &Extraction{Results: results, Source: SourceHTML, Strategy: strategy}, nil
	default:
		return nil, ErrUnrecognizedPayload
	}
}

// FindPosition returns the first result whose host matches target.
func FindPosition(results []Result, target string) (Result, bool) {
	for _, r := range results {
		if MatchesDomain(r.Host, target) {
			return r, true
		}
	}
	return Result{}, false
}

// resultSet accumulates results in order, dropping duplicate links.
type resultSet struct {
	results []Result
	seen    map[string]bool
}

func newResultSet() *resultSet {
	return &resultSet{seen: make(map[string]bool)}
}

// add appends a result if its link is a usable, unseen external URL.
func (s *resultSet) add(rawLink, title, snippet string) bool {
	link, host, ok := cleanLink(rawLink)
	if !ok {
		return false
	}
	if s.seen[link] {
		return false
	}
	s.seen[link] = true
	s.results = append(s.results, Result{
		Position: len(s.results) + 1,
		URL:      link,
		Host:     host,
		Title:    collapseSpace(title),
		Snippet:  collapseSpace(snippet),
	})
	return true
}

// cleanLink unwraps redirect links and rejects anything that is not an
// absolute http(s) URL pointing outside the search engine.
func cleanLink(raw string) (string, string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return "", "", false
	}

	if strings.HasPrefix(raw, "/url?") || strings.Contains(raw, "google.com/url?") {
		if u, err := url.Parse(raw); err == nil {
			q := u.Query()
			target := q.Get("q")
			if target == "" {
				target = q.Get("url")
			}
			raw = target
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", false
	}
	if u.Host == "" || isGoogleInternal(u.Hostname()) {
		return "", "", false
	}

	u.Fragment = ""
	return u.String(), NormalizeHostname(u.Hostname()), true
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
