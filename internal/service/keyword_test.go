package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankwatch/rankwatch/internal/metrics"
	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/rankqueue"
)

type keywordFixture struct {
	svc      *KeywordService
	store    *memStore
	queue    *recordingQueue
	recorder *metrics.InMemoryRecorder
	domain   *model.Domain
}

func newKeywordFixture(t *testing.T, limit int) *keywordFixture {
	t.Helper()
	store := newMemStore()
	queue := &recordingQueue{}
	recorder := metrics.NewInMemory()
	plans := staticPlans{plan: model.Plan{Code: "free", Name: "Free", KeywordLimit: limit}}

	domain := &model.Domain{ID: "dom1", OwnerID: "u1", Hostname: "example.com"}
	require.NoError(t, store.CreateDomain(context.Background(), domain))

	svc := NewKeywordService(store, plans, queue, KeywordDefaults{Country: "us", Language: "EN"}, discardLogger(), recorder)
	return &keywordFixture{svc: svc, store: store, queue: queue, recorder: recorder, domain: domain}
}

func TestKeywordService_CreateKeywords(t *testing.T) {
	f := newKeywordFixture(t, 10)
	before := time.Now().UTC()

	keywords, err := f.svc.CreateKeywords(context.Background(), CreateKeywordsInput{
		OwnerID:  "u1",
		DomainID: f.domain.ID,
		Phrases:  []string{"  best   coffee ", "Best Coffee", "espresso machine"},
	})
	require.NoError(t, err)
	require.Len(t, keywords, 2)

	assert.Equal(t, "best coffee", keywords[0].Phrase)
	assert.Equal(t, "espresso machine", keywords[1].Phrase)
	for _, k := range keywords {
		assert.Equal(t, "US", k.Country)
		assert.Equal(t, "en", k.Language)
		assert.Equal(t, model.DeviceDesktop, k.Device)
		assert.True(t, k.IsDue(time.Now().UTC()))
		assert.False(t, k.NextCheckAt.Before(before))
	}
	assert.Equal(t, int64(2), f.recorder.Snapshot().KeywordsCreated)
}

func TestKeywordService_CreateKeywords_PlanLimit(t *testing.T) {
	f := newKeywordFixture(t, 3)
	ctx := context.Background()

	_, err := f.svc.CreateKeywords(ctx, CreateKeywordsInput{
		OwnerID: "u1", DomainID: f.domain.ID, Phrases: []string{"one", "two"},
	})
	require.NoError(t, err)

	_, err = f.svc.CreateKeywords(ctx, CreateKeywordsInput{
		OwnerID: "u1", DomainID: f.domain.ID, Phrases: []string{"three", "four"},
	})
	assert.ErrorIs(t, err, ErrPlanLimitReached)

	count, err := f.store.CountKeywordsByOwner(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "rejected batch must not be stored partially")

	_, err = f.svc.CreateKeywords(ctx, CreateKeywordsInput{
		OwnerID: "u1", DomainID: f.domain.ID, Phrases: []string{"three"},
	})
	assert.NoError(t, err)
}

func TestKeywordService_CreateKeywords_Validation(t *testing.T) {
	f := newKeywordFixture(t, 0)

	tests := []struct {
		name  string
		input CreateKeywordsInput
		want  error
	}{
		{
			name:  "no phrases",
			input: CreateKeywordsInput{OwnerID: "u1", DomainID: "dom1"},
			want:  ErrNoPhrases,
		},
		{
			name:  "blank phrase",
			input: CreateKeywordsInput{OwnerID: "u1", DomainID: "dom1", Phrases: []string{"ok", "   "}},
			want:  ErrInvalidPhrase,
		},
		{
			name:  "phrase too long",
			input: CreateKeywordsInput{OwnerID: "u1", DomainID: "dom1", Phrases: []string{strings.Repeat("a", maxPhraseLength+1)}},
			want:  ErrInvalidPhrase,
		},
		{
			name:  "too many phrases",
			input: CreateKeywordsInput{OwnerID: "u1", DomainID: "dom1", Phrases: make([]string, MaxPhrasesPerRequest+1)},
			want:  ErrTooManyPhrases,
		},
		{
			name:  "bad country",
			input: CreateKeywordsInput{OwnerID: "u1", DomainID: "dom1", Phrases: []string{"ok"}, Country: "USA"},
			want:  ErrInvalidCountry,
		},
		{
			name:  "bad language",
			input: CreateKeywordsInput{OwnerID: "u1", DomainID: "dom1", Phrases: []string{"ok"}, Language: "english"},
			want:  ErrInvalidLanguage,
		},
		{
			name:  "bad device",
			input: CreateKeywordsInput{OwnerID: "u1", DomainID: "dom1", Phrases: []string{"ok"}, Device: "tablet"},
			want:  ErrInvalidDevice,
		},
		{
			name:  "unknown domain",
			input: CreateKeywordsInput{OwnerID: "u1", DomainID: "missing", Phrases: []string{"ok"}},
			want:  ErrDomainNotFound,
		},
		{
			name:  "foreign domain",
			input: CreateKeywordsInput{OwnerID: "u2", DomainID: "dom1", Phrases: []string{"ok"}},
			want:  ErrDomainNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateKeywords(context.Background(), tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestKeywordService_CreateKeywords_Locale(t *testing.T) {
	f := newKeywordFixture(t, 0)

	keywords, err := f.svc.CreateKeywords(context.Background(), CreateKeywordsInput{
		OwnerID:  "u1",
		DomainID: f.domain.ID,
		Phrases:  []string{"zapatos"},
		Country:  "es",
		Language: "ES-es",
		Device:   "Mobile",
	})
	require.NoError(t, err)
	require.Len(t, keywords, 1)
	assert.Equal(t, "ES", keywords[0].Country)
	assert.Equal(t, "es-es", keywords[0].Language)
	assert.Equal(t, model.DeviceMobile, keywords[0].Device)
}

func TestKeywordService_CreateKeywords_Duplicate(t *testing.T) {
	f := newKeywordFixture(t, 0)
	ctx := context.Background()

	_, err := f.svc.CreateKeywords(ctx, CreateKeywordsInput{OwnerID: "u1", DomainID: f.domain.ID, Phrases: []string{"coffee"}})
	require.NoError(t, err)

	_, err = f.svc.CreateKeywords(ctx, CreateKeywordsInput{OwnerID: "u1", DomainID: f.domain.ID, Phrases: []string{"tea", "COFFEE"}})
	assert.ErrorIs(t, err, ErrKeywordExists)

	// Same phrase in another locale is a separate keyword.
	_, err = f.svc.CreateKeywords(ctx, CreateKeywordsInput{OwnerID: "u1", DomainID: f.domain.ID, Phrases: []string{"coffee"}, Country: "DE"})
	assert.NoError(t, err)
}

func TestKeywordService_UpdateKeyword(t *testing.T) {
	f := newKeywordFixture(t, 0)
	ctx := context.Background()

	created, err := f.svc.CreateKeywords(ctx, CreateKeywordsInput{OwnerID: "u1", DomainID: f.domain.ID, Phrases: []string{"coffee"}})
	require.NoError(t, err)
	id := created[0].ID

	stored := f.store.keywords[id]
	stored.NextCheckAt = time.Now().Add(24 * time.Hour)

	same := "us"
	kw, err := f.svc.UpdateKeyword(ctx, UpdateKeywordInput{OwnerID: "u1", ID: id, Country: &same})
	require.NoError(t, err)
	assert.False(t, kw.IsDue(time.Now()), "unchanged locale keeps the schedule")

	country := "gb"
	device := "mobile"
	kw, err = f.svc.UpdateKeyword(ctx, UpdateKeywordInput{OwnerID: "u1", ID: id, Country: &country, Device: &device})
	require.NoError(t, err)
	assert.Equal(t, "GB", kw.Country)
	assert.Equal(t, model.DeviceMobile, kw.Device)
	assert.True(t, kw.IsDue(time.Now().Add(time.Second)))

	bad := "x"
	_, err = f.svc.UpdateKeyword(ctx, UpdateKeywordInput{OwnerID: "u1", ID: id, Language: &bad})
	assert.ErrorIs(t, err, ErrInvalidLanguage)

	_, err = f.svc.UpdateKeyword(ctx, UpdateKeywordInput{OwnerID: "u2", ID: id, Country: &country})
	assert.ErrorIs(t, err, ErrKeywordNotFound)
}

func TestKeywordService_DeleteKeyword(t *testing.T) {
	f := newKeywordFixture(t, 1)
	ctx := context.Background()

	created, err := f.svc.CreateKeywords(ctx, CreateKeywordsInput{OwnerID: "u1", DomainID: f.domain.ID, Phrases: []string{"coffee"}})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteKeyword(ctx, "u1", created[0].ID))
	assert.ErrorIs(t, f.svc.DeleteKeyword(ctx, "u1", created[0].ID), ErrKeywordNotFound)
	assert.Equal(t, int64(1), f.recorder.Snapshot().KeywordsDeleted)

	_, err = f.svc.CreateKeywords(ctx, CreateKeywordsInput{OwnerID: "u1", DomainID: f.domain.ID, Phrases: []string{"tea"}})
	assert.NoError(t, err, "deleted keywords do not count against the plan")
}

func TestKeywordService_ListKeywords(t *testing.T) {
	f := newKeywordFixture(t, 0)
	ctx := context.Background()

	other := &model.Domain{ID: "dom2", OwnerID: "u1", Hostname: "other.com"}
	require.NoError(t, f.store.CreateDomain(ctx, other))

	_, err := f.svc.CreateKeywords(ctx, CreateKeywordsInput{OwnerID: "u1", DomainID: f.domain.ID, Phrases: []string{"a", "b"}})
	require.NoError(t, err)
	_, err = f.svc.CreateKeywords(ctx, CreateKeywordsInput{OwnerID: "u1", DomainID: other.ID, Phrases: []string{"c"}})
	require.NoError(t, err)

	all, err := f.svc.ListKeywords(ctx, ListKeywordsInput{OwnerID: "u1"})
	require.NoError(t, err)
	assert.Len(t, all.Keywords, 3)

	scoped, err := f.svc.ListKeywords(ctx, ListKeywordsInput{OwnerID: "u1", DomainID: other.ID})
	require.NoError(t, err)
	require.Len(t, scoped.Keywords, 1)
	assert.Equal(t, "c", scoped.Keywords[0].Phrase)

	_, err = f.svc.ListKeywords(ctx, ListKeywordsInput{OwnerID: "u1", Cursor: "bad"})
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestKeywordService_RequestCheck(t *testing.T) {
	f := newKeywordFixture(t, 0)
	ctx := context.Background()

	created, err := f.svc.CreateKeywords(ctx, CreateKeywordsInput{OwnerID: "u1", DomainID: f.domain.ID, Phrases: []string{"coffee"}})
	require.NoError(t, err)

	_, err = f.svc.RequestCheck(ctx, "u1", created[0].ID)
	require.NoError(t, err)
	require.Len(t, f.queue.jobs, 1)
	job := f.queue.jobs[0]
	assert.Equal(t, created[0].ID, job.KeywordID)
	assert.Equal(t, "u1", job.OwnerID)
	assert.Equal(t, rankqueue.ReasonManual, job.Reason)
	assert.NoError(t, job.Validate())

	_, err = f.svc.RequestCheck(ctx, "u2", created[0].ID)
	assert.ErrorIs(t, err, ErrKeywordNotFound)

	f.queue.err = errors.New("redis down")
	_, err = f.svc.RequestCheck(ctx, "u1", created[0].ID)
	assert.ErrorIs(t, err, ErrQueueUnavailable)
}

func TestKeywordService_RequestCheck_NoQueue(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.CreateDomain(context.Background(), &model.Domain{ID: "dom1", OwnerID: "u1", Hostname: "example.com"}))
	svc := NewKeywordService(store, staticPlans{}, nil, KeywordDefaults{}, discardLogger(), nil)

	created, err := svc.CreateKeywords(context.Background(), CreateKeywordsInput{OwnerID: "u1", DomainID: "dom1", Phrases: []string{"coffee"}})
	require.NoError(t, err)

	_, err = svc.RequestCheck(context.Background(), "u1", created[0].ID)
	assert.ErrorIs(t, err, ErrQueueUnavailable)
}

func TestNormalizePhrase(t *testing.T) {
	got, err := NormalizePhrase("\tbest \n coffee  ")
	require.NoError(t, err)
	assert.Equal(t, "best coffee", got)

	_, err = NormalizePhrase(" ")
	assert.ErrorIs(t, err, ErrInvalidPhrase)

	got, err = NormalizePhrase(strings.Repeat("é", maxPhraseLength))
	require.NoError(t, err)
	assert.Len(t, []rune(got), maxPhraseLength)
}
