package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/repository"
)

const defaultMoversLimit = 5

// ReportStore reads what a domain report is built from.
type ReportStore interface {
	GetDomainByID(ctx context.Context, ownerID, id string) (*model.Domain, error)
	ListKeywordsByDomain(ctx context.Context, ownerID, domainID string) ([]*model.Keyword, error)
	LatestRankChecksByDomain(ctx context.Context, domainID string) ([]*model.RankCheck, error)
}

// Bucket counts keywords whose position falls in [Min, Max].
// The "not ranking" bucket has Min and Max of zero.
type Bucket struct {
	Label string `json:"label"`
	Min   int    `json:"min"`
	Max   int    `json:"max"`
	Count int    `json:"count"`
}

// Mover is a keyword whose position changed in its latest check.
type Mover struct {
	KeywordID        string `json:"keyword_id"`
	Phrase           string `json:"phrase"`
	Position         *int   `json:"position"`
	PreviousPosition *int   `json:"previous_position"`
	Change           int    `json:"change"`
}

// DomainReport summarizes a domain's current rankings.
type DomainReport struct {
	Domain          *model.Domain `json:"domain"`
	KeywordCount    int           `json:"keyword_count"`
	CheckedCount    int           `json:"checked_count"`
	RankedCount     int           `json:"ranked_count"`
	AveragePosition *float64      `json:"average_position"`
	Distribution    []Bucket      `json:"distribution"`
	Improved        int           `json:"improved"`
	Declined        int           `json:"declined"`
	Unchanged       int           `json:"unchanged"`
	FailingChecks   int           `json:"failing_checks"`
	LastCheckedAt   *time.Time    `json:"last_checked_at,omitempty"`
	TopGainers      []Mover       `json:"top_gainers"`
	TopLosers       []Mover       `json:"top_losers"`
}

// ReportService builds ranking reports.
type ReportService struct {
	store ReportStore
}

// NewReportService creates a new ReportService.
func NewReportService(store ReportStore) *ReportService {
	return &ReportService{store: store}
}

// DomainSummary builds the report for one of the owner's domains.
func (s *ReportService) DomainSummary(ctx context.Context, ownerID, domainID string) (*DomainReport, error) {
	domain, err := s.store.GetDomainByID(ctx, ownerID, domainID)
	if err != nil {
		if errors.Is(err, repository.ErrDomainNotFound) {
			return nil, ErrDomainNotFound
		}
		return nil, fmt.Errorf("failed to get domain: %w", err)
	}

	keywords, err := s.store.ListKeywordsByDomain(ctx, ownerID, domainID)
	if err != nil {
		return nil, fmt.Errorf("failed to list keywords: %w", err)
	}

	latest, err := s.store.LatestRankChecksByDomain(ctx, domainID)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest checks: %w", err)
	}

	return BuildDomainReport(domain, keywords, latest, defaultMoversLimit), nil
}

func newDistribution() []Bucket {
	return []Bucket{
		{Label: "1-3", Min: 1, Max: 3},
		{Label: "4-10", Min: 4, Max: 10},
		{Label: "11-20", Min: 11, Max: 20},
		{Label: "21-50", Min: 21, Max: 50},
		{Label: "51-100", Min: 51, Max: 100},
		{Label: "not ranking"},
	}
}

// BuildDomainReport computes a report from keywords and their latest checks.
// Keywords never checked only count towards KeywordCount.
func BuildDomainReport(domain *model.Domain, keywords []*model.Keyword, latest []*model.RankCheck, moversLimit int) *DomainReport {
	if moversLimit <= 0 {
		moversLimit = defaultMoversLimit
	}
	report := &DomainReport{
		Domain:       domain,
		KeywordCount: len(keywords),
		Distribution: newDistribution(),
		TopGainers:   []Mover{},
		TopLosers:    []Mover{},
	}
	notRanking := &report.Distribution[len(report.Distribution)-1]

	var sum int
	var movers []Mover
	for _, kw := range keywords {
		if kw.LastCheckedAt == nil {
			continue
		}
		report.CheckedCount++
		if report.LastCheckedAt == nil || kw.LastCheckedAt.After(*report.LastCheckedAt) {
			t := *kw.LastCheckedAt
			report.LastCheckedAt = &t
		}

		if kw.LastPosition == nil {
			notRanking.Count++
		} else {
			pos := *kw.LastPosition
			report.RankedCount++
			sum += pos
			placed := false
			for i := range report.Distribution[:len(report.Distribution)-1] {
				b := &report.Distribution[i]
				if pos >= b.Min && pos <= b.Max {
					b.Count++
					placed = true
					break
				}
			}
			if !placed {
				notRanking.Count++
			}
		}

		switch kw.Trend() {
		case model.TrendUp, model.TrendNew:
			report.Improved++
		case model.TrendDown, model.TrendLost:
			report.Declined++
		case model.TrendSame:
			report.Unchanged++
		}

		if change := kw.Change(); change != 0 {
			movers = append(movers, Mover{
				KeywordID:        kw.ID,
				Phrase:           kw.Phrase,
				Position:         kw.LastPosition,
				PreviousPosition: kw.PreviousPosition,
				Change:           change,
			})
		}
	}

	if report.RankedCount > 0 {
		avg := math.Round(float64(sum)/float64(report.RankedCount)*10) / 10
		report.AveragePosition = &avg
	}

	for _, check := range latest {
		if check.Status == model.CheckStatusFailed {
			report.FailingChecks++
		}
	}

	sort.SliceStable(movers, func(i, j int) bool { return movers[i].Change > movers[j].Change })
	for _, m := range movers {
		if m.Change > 0 && len(report.TopGainers) < moversLimit {
			report.TopGainers = append(report.TopGainers, m)
		}
	}
	for i := len(movers) - 1; i >= 0; i-- {
		if movers[i].Change < 0 && len(report.TopLosers) < moversLimit {
			report.TopLosers = append(report.TopLosers, movers[i])
		}
	}
	return report
}
