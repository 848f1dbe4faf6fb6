// Package plan holds the catalog of subscription plans and their limits.
package plan

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rankwatch/rankwatch/internal/model"
)

// Plan codes shipped with the built-in catalog.
const (
	CodeFree    = "free"
	CodeStarter = "starter"
	CodePro     = "pro"
	CodeAgency  = "agency"
)

// MinCheckInterval is the shortest allowed interval between rank checks.
const MinCheckInterval = time.Hour

var (
	ErrPlanNotFound   = errors.New("plan not found")
	ErrInvalidCatalog = errors.New("invalid plan catalog")
)

// Catalog is an immutable set of plans.
type Catalog struct {
	plans       map[string]model.Plan
	order       []string
	defaultCode string
}

type catalogFile struct {
	Default string       `yaml:"default"`
	Plans   []model.Plan `yaml:"plans"`
}

// Builtin returns the catalog used when no plan file is configured.
func Builtin() *Catalog {
	c, err := New(CodeFree, []model.Plan{
		{Code: CodeFree, Name: "Free", KeywordLimit: 10, DomainLimit: 1, CheckInterval: 7 * 24 * time.Hour, RateLimitTier: model.TierFree},
		{Code: CodeStarter, Name: "Starter", KeywordLimit: 100, DomainLimit: 3, CheckInterval: 24 * time.Hour, RateLimitTier: model.TierStarter, PriceCents: 1900},
		{Code: CodePro, Name: "Pro", KeywordLimit: 1000, DomainLimit: 20, CheckInterval: 24 * time.Hour, RateLimitTier: model.TierPro, PriceCents: 7900},
		{Code: CodeAgency, Name: "Agency", KeywordLimit: 0, DomainLimit: 0, CheckInterval: 6 * time.Hour, RateLimitTier: model.TierUnlimited, PriceCents: 24900},
	})
	if err != nil {
		panic(err)
	}
	return c
}

// New validates plans and builds a catalog. defaultCode names the plan
// applied to users without a subscription.
func New(defaultCode string, plans []model.Plan) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, fmt.Errorf("%w: no plans", ErrInvalidCatalog)
	}

	c := &Catalog{plans: make(map[string]model.Plan, len(plans))}
	for _, p := range plans {
		if err := validatePlan(p); err != nil {
			return nil, err
		}
		if _, dup := c.plans[p.Code]; dup {
			return nil, fmt.Errorf("%w: duplicate plan code %q", ErrInvalidCatalog, p.Code)
		}
		c.plans[p.Code] = p
		c.order = append(c.order, p.Code)
	}

	if defaultCode == "" {
		defaultCode = plans[0].Code
	}
	if _, ok := c.plans[defaultCode]; !ok {
		return nil, fmt.Errorf("%w: default plan %q not defined", ErrInvalidCatalog, defaultCode)
	}
	c.defaultCode = defaultCode

	sort.SliceStable(c.order, func(i, j int) bool {
		return c.plans[c.order[i]].PriceCents < c.plans[c.order[j]].PriceCents
	})
	return c, nil
}

func validatePlan(p model.Plan) error {
	switch {
	case p.Code == "":
		return fmt.Errorf("%w: plan code is required", ErrInvalidCatalog)
	case p.KeywordLimit < 0 || p.DomainLimit < 0:
		return fmt.Errorf("%w: plan %q has negative limits", ErrInvalidCatalog, p.Code)
	case p.CheckInterval < MinCheckInterval:
		return fmt.Errorf("%w: plan %q check interval must be at least %s", ErrInvalidCatalog, p.Code, MinCheckInterval)
	case p.PriceCents < 0:
		return fmt.Errorf("%w: plan %q has negative price", ErrInvalidCatalog, p.Code)
	case p.RateLimitTier != "" && !model.IsValidTier(p.RateLimitTier):
		return fmt.Errorf("%w: plan %q has unknown rate limit tier %q", ErrInvalidCatalog, p.Code, p.RateLimitTier)
	}
	return nil
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return New(f.Default, f.Plans)
}

// Load reads a YAML catalog from path. An empty path yields the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Builtin(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog: %w", err)
	}
	return Parse(data)
}

// Get returns the plan with the given code.
func (c *Catalog) Get(code string) (model.Plan, error) {
	p, ok := c.plans[code]
	if !ok {
		return model.Plan{}, fmt.Errorf("%w: %s", ErrPlanNotFound, code)
	}
	return p, nil
}

// Default returns the plan for users without a subscription.
func (c *Catalog) Default() model.Plan {
	return c.plans[c.defaultCode]
}

// List returns all plans ordered by price.
func (c *Catalog) List() []model.Plan {
	out := make([]model.Plan, 0, len(c.order))
	for _, code := range c.order {
		out = append(out, c.plans[code])
	}
	return out
}
