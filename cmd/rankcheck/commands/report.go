package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/rankwatch/rankwatch/internal/serp"
)

type report struct {
	Phrase   string        `json:"phrase,omitempty"`
	Domain   string        `json:"domain,omitempty"`
	Source   serp.Source   `json:"source"`
	Strategy string        `json:"strategy,omitempty"`
	Position *int          `json:"position"`
	URL      string        `json:"url,omitempty"`
	Elapsed  string        `json:"elapsed,omitempty"`
	Results  []serp.Result `json:"results"`
}

func newReport(e *serp.Extraction, domain string) report {
	rep := report{
		Domain:   serp.NormalizeHostname(domain),
		Source:   e.Source,
		Strategy: e.Strategy,
		Results:  e.Results,
	}
	if rep.Results == nil {
		rep.Results = []serp.Result{}
	}
	if rep.Domain != "" {
		if hit, ok := serp.FindPosition(e.Results, rep.Domain); ok {
			pos := hit.Position
			rep.Position = &pos
			rep.URL = hit.URL
		}
	}
	return rep
}

func render(w io.Writer, rep report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Host", "Title", "URL"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 3, WidthMax: 50},
		{Number: 4, WidthMax: 70},
	})

	for _, r := range rep.Results {
		row := table.Row{r.Position, r.Host, r.Title, r.URL}
		if rep.Position != nil && r.Position == *rep.Position {
			row[1] = "* " + r.Host
		}
		t.AppendRow(row)
	}
	t.AppendFooter(table.Row{"", "", "results", len(rep.Results)})
	t.Render()

	summary := fmt.Sprintf("source=%s", rep.Source)
	if rep.Strategy != "" {
		summary += " strategy=" + rep.Strategy
	}
	if rep.Elapsed != "" {
		summary += " elapsed=" + rep.Elapsed
	}
	if _, err := fmt.Fprintln(w, summary); err != nil {
		return err
	}

	if rep.Domain == "" {
		return nil
	}
	if rep.Position == nil {
		_, err := fmt.Fprintf(w, "%s: not ranked in top %d\n", rep.Domain, len(rep.Results))
		return err
	}
	_, err := fmt.Fprintf(w, "%s: position %d (%s)\n", rep.Domain, *rep.Position, rep.URL)
	return err
}
