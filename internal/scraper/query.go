package scraper

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultDepth is the number of results requested when a query leaves it unset.
const DefaultDepth = 100

const searchBaseURL = "https://www.google.com/search"

// Query describes one keyword lookup.
type Query struct {
	Phrase   string
	Country  string
	Language string
	Device   string
	Depth    int
}

func (q Query) depth() int {
	if q.Depth <= 0 {
		return DefaultDepth
	}
	return q.Depth
}

// Validate checks that the query can be sent upstream.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Phrase) == "" {
		return fmt.Errorf("%w: phrase is required", ErrInvalidQuery)
	}
	if len(q.Country) != 2 {
		return fmt.Errorf("%w: country must be a 2-letter code", ErrInvalidQuery)
	}
	return nil
}

// BuildSearchURL returns the Google search URL the scraping API should fetch.
func BuildSearchURL(q Query) string {
	params := url.Values{}
	params.Set("q", strings.TrimSpace(q.Phrase))
	params.Set("num", strconv.Itoa(q.depth()))
	if q.Language != "" {
		params.Set("hl", strings.ToLower(q.Language))
	}
	if q.Country != "" {
		params.Set("gl", strings.ToLower(q.Country))
	}
	return searchBaseURL + "?" + params.Encode()
}
