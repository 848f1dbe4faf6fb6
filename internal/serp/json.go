package serp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// envelope is the scraping API response wrapper. Result holds either an
// HTML string or an object with organic results.
type envelope struct {
	Result json.RawMessage `json:"result"`
}

type resultObject struct {
	OrganicResults      *[]organicItem `json:"organic_results"`
	OrganicResultsCamel *[]organicItem `json:"organicResults"`
	Organic             *[]organicItem `json:"organic"`
	HTML                string         `json:"html"`
}

type organicItem struct {
	Position    flexInt `json:"position"`
	Rank        flexInt `json:"rank"`
	Link        string  `json:"link"`
	URL         string  `json:"url"`
	Title       string  `json:"title"`
	Snippet     string  `json:"snippet"`
	Description string  `json:"description"`
}

func (i organicItem) href() string {
	if i.Link != "" {
		return i.Link
	}
	return i.URL
}

func (i organicItem) order() int {
	if i.Position > 0 {
		return int(i.Position)
	}
	return int(i.Rank)
}

func (i organicItem) text() string {
	if i.Snippet != "" {
		return i.Snippet
	}
	return i.Description
}

// flexInt accepts numbers and numeric strings; anything else decodes to 0.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	n, err := strconv.Atoi(s)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

// ParseJSON extracts ordered organic results from a scraping API response.
func ParseJSON(data []byte) ([]Result, error) {
	ext, err := parseJSON(data)
	if err != nil {
		return nil, err
	}
	return ext.Results, nil
}

func parseJSON(data []byte) (*Extraction, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedPayload, err)
	}

	raw := bytes.TrimSpace(env.Result)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		// Some responses carry the result object at the top level.
		raw = bytes.TrimSpace(data)
	}

	if raw[0] == '"' {
		var html string
		if err := json.Unmarshal(raw, &html); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnrecognizedPayload, err)
		}
		if strings.TrimSpace(html) == "" {
			return nil, ErrEmptyPayload
		}
		results, strategy, err := parseHTML(strings.NewReader(html))
		if err != nil {
			return nil, err
		}
		return &Extraction{Results: results, Source: SourceHTML, Strategy: strategy}, nil
	}

	if raw[0] != '{' {
		return nil, ErrUnrecognizedPayload
	}

	var obj resultObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedPayload, err)
	}

	var items *[]organicItem
	for _, candidate := range []*[]organicItem{obj.OrganicResults, obj.OrganicResultsCamel, obj.Organic} {
		if candidate != nil {
			items = candidate
			break
		}
	}

	if items == nil {
		if strings.TrimSpace(obj.HTML) == "" {
			return nil, ErrUnrecognizedPayload
		}
		results, strategy, err := parseHTML(strings.NewReader(obj.HTML))
		if err != nil {
			return nil, err
		}
		return &Extraction{Results: results, Source: SourceHTML, Strategy: strategy}, nil
	}

	return &Extraction{Results: organicToResults(*items), Source: SourceJSON, Strategy: "organic_results"}, nil
}

// organicToResults orders items by their explicit positions when every item
// carries one, otherwise keeps array order, then renumbers from 1.
func organicToResults(items []organicItem) []Result {
	ordered := make([]organicItem, 0, len(items))
	explicit := true
	for _, item := range items {
		if item.href() == "" {
			continue
		}
		if item.order() <= 0 {
			explicit = false
		}
		ordered = append(ordered, item)
	}

	if explicit {
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].order() < ordered[j].order()
		})
	}

	set := newResultSet()
	for _, item := range ordered {
		set.add(item.href(), item.Title, item.text())
	}
	if set.results == nil {
		return []Result{}
	}
	return set.results
}
