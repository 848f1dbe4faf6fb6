package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankwatch/rankwatch/internal/metrics"
	"github.com/rankwatch/rankwatch/internal/model"
)

func TestNormalizeDomainHostname(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "example.com", want: "example.com"},
		{input: "https://www.Example.com/pricing?x=1", want: "example.com"},
		{input: "shop.example.co.uk", want: "shop.example.co.uk"},
		{input: "  EXAMPLE.com.  ", want: "example.com"},
		{input: "", wantErr: true},
		{input: "localhost", wantErr: true},
		{input: "192.168.0.1", wantErr: true},
		{input: "bad_host.com", wantErr: true},
		{input: "-lead.com", wantErr: true},
		{input: strings.Repeat("a", 64) + ".com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := NormalizeDomainHostname(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidHostname)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func newDomainService(limit int) (*DomainService, *memStore, *metrics.InMemoryRecorder) {
	store := newMemStore()
	recorder := metrics.NewInMemory()
	plans := staticPlans{plan: model.Plan{Code: "starter", Name: "Starter", DomainLimit: limit}}
	return NewDomainService(store, plans, recorder), store, recorder
}

func TestDomainService_CreateDomain(t *testing.T) {
	svc, _, recorder := newDomainService(3)
	ctx := context.Background()

	domain, err := svc.CreateDomain(ctx, CreateDomainInput{
		OwnerID:     "u1",
		Hostname:    "https://www.Example.com/",
		DisplayName: "  Main site ",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, domain.ID)
	assert.Equal(t, "example.com", domain.Hostname)
	assert.Equal(t, "Main site", domain.DisplayName)
	assert.Equal(t, int64(1), recorder.Snapshot().DomainsCreated)

	_, err = svc.CreateDomain(ctx, CreateDomainInput{OwnerID: "u1", Hostname: "example.com"})
	assert.ErrorIs(t, err, ErrDomainExists)

	// Another owner can track the same hostname.
	_, err = svc.CreateDomain(ctx, CreateDomainInput{OwnerID: "u2", Hostname: "example.com"})
	assert.NoError(t, err)
}

func TestDomainService_CreateDomain_PlanLimit(t *testing.T) {
	svc, _, _ := newDomainService(1)
	ctx := context.Background()

	_, err := svc.CreateDomain(ctx, CreateDomainInput{OwnerID: "u1", Hostname: "one.com"})
	require.NoError(t, err)

	_, err = svc.CreateDomain(ctx, CreateDomainInput{OwnerID: "u1", Hostname: "two.com"})
	assert.ErrorIs(t, err, ErrPlanLimitReached)
}

func TestDomainService_CreateDomain_PlanLimitConcurrent(t *testing.T) {
	const limit = 3
	svc, _, _ := newDomainService(limit)
	ctx := context.Background()

	var wg sync.WaitGroup
	var created, rejected atomic.Int32
	for i := range limit + 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateDomain(ctx, CreateDomainInput{OwnerID: "u1", Hostname: fmt.Sprintf("site%d.com", i)})
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, ErrPlanLimitReached):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(limit), created.Load())
	assert.Equal(t, int32(3), rejected.Load())
}

func TestDomainService_CreateDomain_Unlimited(t *testing.T) {
	svc, _, _ := newDomainService(0)
	ctx := context.Background()

	for _, host := range []string{"a.com", "b.com", "c.com", "d.com"} {
		_, err := svc.CreateDomain(ctx, CreateDomainInput{OwnerID: "u1", Hostname: host})
		require.NoError(t, err)
	}
}

func TestDomainService_CreateDomain_Validation(t *testing.T) {
	svc, _, _ := newDomainService(0)
	ctx := context.Background()

	_, err := svc.CreateDomain(ctx, CreateDomainInput{OwnerID: "u1", Hostname: "not a host"})
	assert.ErrorIs(t, err, ErrInvalidHostname)

	_, err = svc.CreateDomain(ctx, CreateDomainInput{
		OwnerID:     "u1",
		Hostname:    "example.com",
		DisplayName: strings.Repeat("x", maxDisplayNameLength+1),
	})
	assert.ErrorIs(t, err, ErrDisplayNameTooLong)
}

func TestDomainService_DeleteFreesPlanSlot(t *testing.T) {
	svc, _, recorder := newDomainService(1)
	ctx := context.Background()

	domain, err := svc.CreateDomain(ctx, CreateDomainInput{OwnerID: "u1", Hostname: "one.com"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteDomain(ctx, "u1", domain.ID))
	assert.ErrorIs(t, svc.DeleteDomain(ctx, "u1", domain.ID), ErrDomainNotFound)
	assert.Equal(t, int64(1), recorder.Snapshot().DomainsDeleted)

	_, err = svc.GetDomain(ctx, "u1", domain.ID)
	assert.ErrorIs(t, err, ErrDomainNotFound)

	_, err = svc.CreateDomain(ctx, CreateDomainInput{OwnerID: "u1", Hostname: "two.com"})
	assert.NoError(t, err)
}

func TestDomainService_OwnerIsolation(t *testing.T) {
	svc, _, _ := newDomainService(0)
	ctx := context.Background()

	domain, err := svc.CreateDomain(ctx, CreateDomainInput{OwnerID: "u1", Hostname: "one.com"})
	require.NoError(t, err)

	_, err = svc.GetDomain(ctx, "u2", domain.ID)
	assert.ErrorIs(t, err, ErrDomainNotFound)
	assert.ErrorIs(t, svc.DeleteDomain(ctx, "u2", domain.ID), ErrDomainNotFound)

	out, err := svc.ListDomains(ctx, "u2", "", 10)
	require.NoError(t, err)
	assert.Empty(t, out.Domains)
	assert.NotNil(t, out.Domains)
	assert.False(t, out.HasMore)
}

func TestDomainService_ListDomains_InvalidCursor(t *testing.T) {
	svc, _, _ := newDomainService(0)

	_, err := svc.ListDomains(context.Background(), "u1", "bad", 10)
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestDomainService_UpdateDomain(t *testing.T) {
	svc, _, _ := newDomainService(0)
	ctx := context.Background()

	domain, err := svc.CreateDomain(ctx, CreateDomainInput{OwnerID: "u1", Hostname: "one.com"})
	require.NoError(t, err)

	unchanged, err := svc.UpdateDomain(ctx, "u1", domain.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "", unchanged.DisplayName)

	name := " Storefront "
	updated, err := svc.UpdateDomain(ctx, "u1", domain.ID, &name)
	require.NoError(t, err)
	assert.Equal(t, "Storefront", updated.DisplayName)
	assert.Equal(t, "one.com", updated.Hostname)

	stored, err := svc.GetDomain(ctx, "u1", domain.ID)
	require.NoError(t, err)
	assert.Equal(t, "Storefront", stored.DisplayName)

	tooLong := strings.Repeat("y", maxDisplayNameLength+1)
	_, err = svc.UpdateDomain(ctx, "u1", domain.ID, &tooLong)
	assert.ErrorIs(t, err, ErrDisplayNameTooLong)
}
