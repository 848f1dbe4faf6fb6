package serp

import (
	"fmt"
	"io"

	"github.com/PuerkitoBio/goquery"
)

// Selector strategies, tried in order. Google has shipped both the classic
// "g" container and the newer "MjjYud" wrapper; the anchor strategy is a
// last resort for markup where neither container is present.
const (
	StrategyG      = "g"
	StrategyMjjYud = "MjjYud"
	StrategyAnchor = "anchor"
)

var containerStrategies = []struct {
	name     string
	selector string
}{
	{StrategyG, "div.g"},
	{StrategyMjjYud, "div.MjjYud"},
}

const (
	adSelector      = "#tads, #tadsb, #bottomads, [data-text-ad]"
	snippetSelector = "div.VwiC3b, span.aCOpRe, div[data-sncf], div.IsZvec, div[data-content-feature='1']"
)

// ParseHTML extracts ordered organic results from a Google result page.
func ParseHTML(r io.Reader) ([]Result, error) {
	results, _, err := parseHTML(r)
	return results, err
}

func parseHTML(r io.Reader) ([]Result, string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, "", fmt.Errorf("parse html: %w", err)
	}

	for _, strategy := range containerStrategies {
		set := newResultSet()
		doc.Find(strategy.selector).Each(func(_ int, s *goquery.Selection) {
			extractContainer(set, s)
		})
		if len(set.results) > 0 {
			return set.results, strategy.name, nil
		}
	}

	root := doc.Find("#search").First()
	if root.Length() == 0 {
		root = doc.Selection
	}

	set := newResultSet()
	root.Find("a:has(h3)").Each(func(_ int, a *goquery.Selection) {
		if isAd(a) {
			return
		}
		href, _ := a.Attr("href")
		set.add(href, a.Find("h3").First().Text(), "")
	})

	if set.results == nil {
		return []Result{}, StrategyAnchor, nil
	}
	return set.results, StrategyAnchor, nil
}

// extractContainer pulls the title link and snippet out of one result block.
func extractContainer(set *resultSet, s *goquery.Selection) {
	if isAd(s) {
		return
	}

	link := s.Find("a:has(h3)").First()
	title := link.Find("h3").First().Text()
	if link.Length() == 0 {
		h3 := s.Find("h3").First()
		if h3.Length() == 0 {
			return
		}
		title = h3.Text()
		link = h3.Closest("a")
		if link.Length() == 0 {
			link = s.Find("a[href]").First()
		}
	}

	href, ok := link.Attr("href")
	if !ok {
		return
	}

	snippet := s.Find(snippetSelector).First().Text()
	set.add(href, title, snippet)
}

func isAd(s *goquery.Selection) bool {
	return s.Is("[data-text-ad]") || s.Closest(adSelector).Length() > 0
}
