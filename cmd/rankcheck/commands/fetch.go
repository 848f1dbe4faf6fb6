package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/spf13/cobra"

	"github.com/rankwatch/rankwatch/internal/scraper"
	"github.com/rankwatch/rankwatch/internal/serp"
)

// scraperEnv reads the same variables as the API server.
type scraperEnv struct {
	Endpoint   string        `env:"SCRAPER_ENDPOINT" envDefault:"https://api.scrapingrobot.com/"`
	Token      string        `env:"SCRAPER_TOKEN"`
	Module     string        `env:"SCRAPER_MODULE" envDefault:"GoogleScraper"`
	Timeout    time.Duration `env:"SCRAPER_TIMEOUT" envDefault:"60s"`
	MaxRetries int           `env:"SCRAPER_MAX_RETRIES" envDefault:"2"`
	RetryWait  time.Duration `env:"SCRAPER_RETRY_WAIT" envDefault:"2s"`
}

func newFetchCmd(opts *options) *cobra.Command {
	var (
		country  string
		language string
		device   string
		depth    int
		save     string
	)

	cmd := &cobra.Command{
		Use:   "fetch <phrase>",
		Short: "Runs a live search through the scraping API and reports where the domain ranks.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg scraperEnv
			if err := env.Parse(&cfg); err != nil {
				return fmt.Errorf("read scraper settings: %w", err)
			}
			if strings.TrimSpace(cfg.Token) == "" {
				return fmt.Errorf("SCRAPER_TOKEN is not set")
			}

			client := scraper.New(scraper.Config{
				Endpoint:   cfg.Endpoint,
				Token:      cfg.Token,
				Module:     cfg.Module,
				Timeout:    cfg.Timeout,
				MaxRetries: cfg.MaxRetries,
				RetryWait:  cfg.RetryWait,
				Depth:      depth,
			}, opts.logger(cmd.ErrOrStderr()))

			query := scraper.Query{
				Phrase:   strings.Join(args, " "),
				Country:  strings.ToUpper(country),
				Language: strings.ToLower(language),
				Device:   device,
				Depth:    depth,
			}

			started := time.Now()
			payload, err := client.Fetch(cmd.Context(), query)
			if err != nil {
				return fmt.Errorf("fetch %q: %w", query.Phrase, err)
			}
			if save != "" {
				if err := os.WriteFile(save, payload, 0o644); err != nil {
					return fmt.Errorf("save payload: %w", err)
				}
			}

			extraction, err := serp.Parse(payload)
			if err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			rep := newReport(extraction, opts.domain)
			rep.Phrase = query.Phrase
			rep.Elapsed = time.Since(started).Round(time.Millisecond).String()
			return render(cmd.OutOrStdout(), rep, opts.asJSON)
		},
	}
	cmd.Flags().StringVar(&country, "country", "US", "ISO 3166-1 alpha-2 country code.")
	cmd.Flags().StringVar(&language, "language", "en", "Interface language.")
	cmd.Flags().StringVar(&device, "device", "desktop", "desktop or mobile.")
	cmd.Flags().IntVar(&depth, "depth", scraper.DefaultDepth, "Number of results to request.")
	cmd.Flags().StringVar(&save, "save", "", "Write the raw response to this file.")
	return cmd
}
