package scraper

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// restyLogger sends resty's own messages to slog. Transport errors embed
// the request URL, so the token is masked before anything is written.
type restyLogger struct {
	logger *slog.Logger
	token  string
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error("scraper_transport", "detail", l.scrub(format, v))
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn("scraper_transport", "detail", l.scrub(format, v))
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug("scraper_transport", "detail", l.scrub(format, v))
}

func (l restyLogger) scrub(format string, v []interface{}) string {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	if l.token == "" {
		return msg
	}
	msg = strings.ReplaceAll(msg, url.QueryEscape(l.token), "REDACTED")
	return strings.ReplaceAll(msg, l.token, "REDACTED")
}
