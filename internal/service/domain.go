package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rankwatch/rankwatch/internal/metrics"
	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/repository"
	"github.com/rankwatch/rankwatch/internal/serp"
)

const (
	maxHostnameLength    = 253
	maxDisplayNameLength = 100
)

var hostnameLabel = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// DomainStore persists domains.
type DomainStore interface {
	CreateDomainWithinLimit(ctx context.Context, domain *model.Domain, limit int) error
	GetDomainByID(ctx context.Context, ownerID, id string) (*model.Domain, error)
	ListDomains(ctx context.Context, ownerID, cursor string, limit int) ([]*model.Domain, string, error)
	UpdateDomain(ctx context.Context, domain *model.Domain) error
	DeleteDomain(ctx context.Context, ownerID, id string) error
}

// DomainService handles domain business logic.
type DomainService struct {
	store   DomainStore
	plans   PlanSource
	metrics metrics.Recorder
}

// NewDomainService creates a new DomainService.
func NewDomainService(store DomainStore, plans PlanSource, recorder metrics.Recorder) *DomainService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &DomainService{
		store:   store,
		plans:   plans,
		metrics: recorder,
	}
}

// CreateDomainInput defines input for creating a domain.
type CreateDomainInput struct {
	OwnerID     string
	Hostname    string
	DisplayName string
}

// CreateDomain validates and stores a domain within the owner's plan limit.
func (s *DomainService) CreateDomain(ctx context.Context, input CreateDomainInput) (*model.Domain, error) {
	hostname, err := NormalizeDomainHostname(input.Hostname)
	if err != nil {
		return nil, err
	}

	displayName := strings.TrimSpace(input.DisplayName)
	if utf8.RuneCountInString(displayName) > maxDisplayNameLength {
		return nil, ErrDisplayNameTooLong
	}

	plan, err := s.plans.PlanFor(ctx, input.OwnerID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	domain := &model.Domain{
		ID:          newID(),
		OwnerID:     input.OwnerID,
		Hostname:    hostname,
		DisplayName: displayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.CreateDomainWithinLimit(ctx, domain, plan.DomainLimit); err != nil {
		if errors.Is(err, repository.ErrDomainExists) {
			return nil, ErrDomainExists
		}
		if errors.Is(err, repository.ErrLimitReached) {
			return nil, fmt.Errorf("%w: %s plan allows %d domains", ErrPlanLimitReached, plan.Name, plan.DomainLimit)
		}
		return nil, fmt.Errorf("failed to create domain: %w", err)
	}

	s.metrics.IncDomainCreated()
	return domain, nil
}

// GetDomain returns a domain owned by ownerID.
func (s *DomainService) GetDomain(ctx context.Context, ownerID, id string) (*model.Domain, error) {
	domain, err := s.store.GetDomainByID(ctx, ownerID, id)
	if err != nil {
		if errors.Is(err, repository.ErrDomainNotFound) {
			return nil, ErrDomainNotFound
		}
		return nil, fmt.Errorf("failed to get domain: %w", err)
	}
	return domain, nil
}

// ListDomainsOutput is a page of domains.
type ListDomainsOutput struct {
	Domains    []*model.Domain
	NextCursor string
	HasMore    bool
}

// ListDomains returns a page of the owner's domains.
func (s *DomainService) ListDomains(ctx context.Context, ownerID, cursor string, limit int) (*ListDomainsOutput, error) {
	domains, next, err := s.store.ListDomains(ctx, ownerID, cursor, repository.ClampLimit(limit))
	if err != nil {
		return nil, mapCursorError(err)
	}
	if domains == nil {
		domains = []*model.Domain{}
	}
	return &ListDomainsOutput{
		Domains:    domains,
		NextCursor: next,
		HasMore:    next != "",
	}, nil
}

// UpdateDomain changes a domain's display name. The hostname is immutable.
func (s *DomainService) UpdateDomain(ctx context.Context, ownerID, id string, displayName *string) (*model.Domain, error) {
	domain, err := s.GetDomain(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if displayName == nil {
		return domain, nil
	}

	name := strings.TrimSpace(*displayName)
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		return nil, ErrDisplayNameTooLong
	}
	domain.DisplayName = name
	domain.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateDomain(ctx, domain); err != nil {
		if errors.Is(err, repository.ErrDomainNotFound) {
			return nil, ErrDomainNotFound
		}
		return nil, fmt.Errorf("failed to update domain: %w", err)
	}
	return domain, nil
}

// DeleteDomain soft-deletes a domain together with its keywords.
func (s *DomainService) DeleteDomain(ctx context.Context, ownerID, id string) error {
	if err := s.store.DeleteDomain(ctx, ownerID, id); err != nil {
		if errors.Is(err, repository.ErrDomainNotFound) {
			return ErrDomainNotFound
		}
		return fmt.Errorf("failed to delete domain: %w", err)
	}
	s.metrics.IncDomainDeleted()
	return nil
}

// NormalizeDomainHostname normalizes a hostname or URL and checks that the
// result is a plausible public DNS name.
func NormalizeDomainHostname(raw string) (string, error) {
	host := serp.NormalizeHostname(raw)
	if host == "" || len(host) > maxHostnameLength {
		return "", ErrInvalidHostname
	}

	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return "", ErrInvalidHostname
	}
	for _, label := range labels {
		if !hostnameLabel.MatchString(label) {
			return "", ErrInvalidHostname
		}
	}
	// TLDs are never all-numeric; this also rejects IPv4 literals.
	if strings.Trim(labels[len(labels)-1], "0123456789") == "" {
		return "", ErrInvalidHostname
	}
	return host, nil
}
