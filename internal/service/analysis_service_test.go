package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/toser-api/internal/assessment"
	"github.com/noah-isme/toser-api/internal/dto"
	"github.com/noah-isme/toser-api/internal/models"
	"github.com/noah-isme/toser-api/internal/repository"
	"github.com/noah-isme/toser-api/pkg/ai"
	"github.com/noah-isme/toser-api/pkg/document"
)

const modelReply = "```json\n{\n" +
	`"initial_assessment": "Readable but broad.",` + "\n" +
	`"categories": [{"name": "Clarity and Readability", "user_friendly_aspect": "Short", "concerning_aspect": "Vague", "score": 8, "justification": "Headings"},` + "\n" +
	`{"name": "Privacy and Data Security", "user_friendly_aspect": "Encryption", "concerning_aspect": "Sharing", "score": 4, "justification": "Affiliates"}],` + "\n" +
	`"final_score": 9.9, "letter_grade": "A+", "summary": "Mixed.", "green_flags": ["Plain language"], "red_flags": ["Sharing"]` +
	"\n}\n```"

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type analysisRepoStub struct {
	mu      sync.Mutex
	rows    []models.Analysis
	err     error
	listed  repository.AnalysisFilter
	creates int
}

func (r *analysisRepoStub) Create(ctx context.Context, analysis *models.Analysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.creates++
	analysis.ID = uint(len(r.rows) + 1)
	if analysis.CreatedAt.IsZero() {
		analysis.CreatedAt = time.Now()
	}
	r.rows = append(r.rows, *analysis)
	return nil
}

func (r *analysisRepoStub) FindByReference(ctx context.Context, referenceID string) (models.Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ReferenceID == referenceID {
			return row, nil
		}
	}
	return models.Analysis{}, gorm.ErrRecordNotFound
}

func (r *analysisRepoStub) LatestCompleted(ctx context.Context, url, schemaVersion string) (models.Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.rows) - 1; i >= 0; i-- {
		row := r.rows[i]
		if row.URL == url && row.SchemaVersion == schemaVersion && row.Status == models.AnalysisStatusCompleted {
			return row, nil
		}
	}
	return models.Analysis{}, gorm.ErrRecordNotFound
}

func (r *analysisRepoStub) List(ctx context.Context, filter repository.AnalysisFilter) ([]models.Analysis, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listed = filter
	return r.rows, int64(len(r.rows)), nil
}

type fetcherStub struct {
	doc   document.Document
	err   error
	calls int
}

func (f *fetcherStub) Fetch(ctx context.Context, url string) (document.Document, error) {
	f.calls++
	if f.err != nil {
		return document.Document{}, f.err
	}
	doc := f.doc
	doc.URL = url
	return doc, nil
}

type invokerStub struct {
	reply   string
	err     error
	prompts []ai.Prompt
}

func (i *invokerStub) Provider() string { return "stub" }

func (i *invokerStub) Complete(ctx context.Context, prompt ai.Prompt) (ai.Completion, error) {
	i.prompts = append(i.prompts, prompt)
	if i.err != nil {
		return ai.Completion{}, i.err
	}
	return ai.Completion{Text: i.reply, Provider: "stub", Model: "stub-1", InputTokens: 100, OutputTokens: 50}, nil
}

func newTestAnalysisService(t *testing.T, repo *analysisRepoStub, fetcher DocumentFetcher, invoker ai.Invoker, cache *redis.Client, cfg AnalysisConfig) AnalysisService {
	t.Helper()
	svc, err := NewAnalysisService(repo, fetcher, invoker, assessment.DefaultSchema(), cache, nil, validator.New(), cfg, testLogger())
	require.NoError(t, err)
	return svc
}

func TestAnalysisServiceAnalyzeSuccess(t *testing.T) {
	repo := &analysisRepoStub{}
	fetcher := &fetcherStub{doc: document.Document{Company: "Example", Text: "We may share your data."}}
	invoker := &invokerStub{reply: modelReply}
	svc := newTestAnalysisService(t, repo, fetcher, invoker, nil, AnalysisConfig{})

	userID := uint(3)
	resp, err := svc.Analyze(context.Background(), dto.AnalysisRequest{URL: " https://example.com/terms ", UserID: &userID})
	require.NoError(t, err)
	require.Equal(t, models.AnalysisStatusCompleted, resp.Status)
	require.Equal(t, "https://example.com/terms", resp.URL)
	require.Equal(t, "Example", resp.Company)
	require.Equal(t, assessment.TierRepair, resp.Tier)
	require.Equal(t, "stub", resp.Provider)
	require.False(t, resp.Cached)
	require.NotNil(t, resp.Assessment)
	require.Equal(t, 5.5, resp.Assessment.FinalScore)
	require.Equal(t, "C", resp.Assessment.LetterGrade)
	require.Nil(t, resp.Failure)

	require.Len(t, repo.rows, 1)
	row := repo.rows[0]
	require.Equal(t, &userID, row.UserID)
	require.Equal(t, "stub-1", row.Model)
	require.EqualValues(t, 100, row.InputTokens)
	require.Equal(t, "tos-v2", row.SchemaVersion)

	require.Len(t, invoker.prompts, 1)
	require.Contains(t, invoker.prompts[0].User, "Terms of Service (ToS) for Example")
	require.Contains(t, invoker.prompts[0].User, "We may share your data.")
	require.NotEmpty(t, invoker.prompts[0].Schema)
}

func TestAnalysisServiceRecordsParseFailure(t *testing.T) {
	repo := &analysisRepoStub{}
	svc := newTestAnalysisService(t, repo, &fetcherStub{doc: document.Document{Text: "terms"}}, &invokerStub{reply: "I cannot help with that."}, nil, AnalysisConfig{})

	resp, err := svc.Analyze(context.Background(), dto.AnalysisRequest{URL: "https://example.com/tos"})
	require.ErrorIs(t, err, ErrAnalysisFailed)
	failure, ok := assessment.AsFailure(err)
	require.True(t, ok)
	require.Equal(t, assessment.ParseFailure, failure.Kind)

	require.Equal(t, models.AnalysisStatusFailed, resp.Status)
	require.NotNil(t, resp.Failure)
	require.Equal(t, assessment.ParseFailure, resp.Failure.Kind)
	require.Equal(t, "I cannot help with that.", resp.Failure.RawExcerpt)
	require.Equal(t, "Example", resp.Company)
	require.Len(t, repo.rows, 1)
	require.Equal(t, assessment.TierExtract, repo.rows[0].Tier)
}

func TestAnalysisServiceRecordsUpstreamFailure(t *testing.T) {
	repo := &analysisRepoStub{}
	svc := newTestAnalysisService(t, repo, &fetcherStub{doc: document.Document{Text: "terms"}}, &invokerStub{err: errors.New("quota exceeded")}, nil, AnalysisConfig{})

	resp, err := svc.Analyze(context.Background(), dto.AnalysisRequest{URL: "https://example.com/tos"})
	require.ErrorIs(t, err, ErrAnalysisFailed)
	require.Equal(t, assessment.UpstreamError, resp.Failure.Kind)
	require.Contains(t, resp.Failure.Message, "quota exceeded")

	var stored assessment.Failure
	require.NoError(t, json.Unmarshal(repo.rows[0].Failure, &stored))
	require.Equal(t, assessment.UpstreamError, stored.Kind)
}

func TestAnalysisServiceFetchFailure(t *testing.T) {
	repo := &analysisRepoStub{}
	invoker := &invokerStub{reply: modelReply}
	svc := newTestAnalysisService(t, repo, &fetcherStub{err: document.ErrUnexpectedStatus}, invoker, nil, AnalysisConfig{})

	_, err := svc.Analyze(context.Background(), dto.AnalysisRequest{URL: "https://example.com/tos"})
	require.ErrorIs(t, err, ErrFetchFailed)
	require.ErrorIs(t, err, document.ErrUnexpectedStatus)
	require.Empty(t, repo.rows)
	require.Empty(t, invoker.prompts)
}

func TestAnalysisServiceValidation(t *testing.T) {
	svc := newTestAnalysisService(t, &analysisRepoStub{}, &fetcherStub{}, &invokerStub{}, nil, AnalysisConfig{})

	for _, url := range []string{"", "   ", "not a url"} {
		_, err := svc.Analyze(context.Background(), dto.AnalysisRequest{URL: url})
		var validationErrs validator.ValidationErrors
		require.True(t, errors.As(err, &validationErrs), "url %q: %v", url, err)
	}
}

func TestAnalysisServiceWithoutInvoker(t *testing.T) {
	svc := newTestAnalysisService(t, &analysisRepoStub{}, &fetcherStub{}, nil, nil, AnalysisConfig{})
	_, err := svc.Analyze(context.Background(), dto.AnalysisRequest{URL: "https://example.com/tos"})
	require.ErrorIs(t, err, ErrInvokerUnavailable)
}

func TestAnalysisServiceCachesCompletedRuns(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer redisClient.Close()

	repo := &analysisRepoStub{}
	fetcher := &fetcherStub{doc: document.Document{Company: "Example", Text: "terms"}}
	svc := newTestAnalysisService(t, repo, fetcher, &invokerStub{reply: modelReply}, redisClient, AnalysisConfig{CacheTTL: time.Hour})

	ctx := context.Background()
	first, err := svc.Analyze(ctx, dto.AnalysisRequest{URL: "https://example.com/terms"})
	require.NoError(t, err)
	require.False(t, first.Cached)
	require.Len(t, server.Keys(), 1)

	second, err := svc.Analyze(ctx, dto.AnalysisRequest{URL: "https://example.com/terms"})
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, first.ReferenceID, second.ReferenceID)
	require.Equal(t, 1, fetcher.calls)

	_, err = svc.Analyze(ctx, dto.AnalysisRequest{URL: "https://example.com/terms", Refresh: true})
	require.NoError(t, err)
	require.Equal(t, 2, fetcher.calls)
	require.Len(t, repo.rows, 2)
}

func TestAnalysisServiceFallsBackToStoredRun(t *testing.T) {
	repo := &analysisRepoStub{}
	fetcher := &fetcherStub{doc: document.Document{Text: "terms"}}
	svc := newTestAnalysisService(t, repo, fetcher, &invokerStub{reply: modelReply}, nil, AnalysisConfig{CacheTTL: time.Hour})

	ctx := context.Background()
	first, err := svc.Analyze(ctx, dto.AnalysisRequest{URL: "https://example.com/terms"})
	require.NoError(t, err)

	second, err := svc.Analyze(ctx, dto.AnalysisRequest{URL: "https://example.com/terms"})
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, first.ReferenceID, second.ReferenceID)
	require.Equal(t, 1, fetcher.calls)

	repo.rows[0].CreatedAt = time.Now().Add(-2 * time.Hour)
	_, err = svc.Analyze(ctx, dto.AnalysisRequest{URL: "https://example.com/terms"})
	require.NoError(t, err)
	require.Equal(t, 2, fetcher.calls)
}

func TestAnalysisServiceGet(t *testing.T) {
	repo := &analysisRepoStub{}
	svc := newTestAnalysisService(t, repo, &fetcherStub{doc: document.Document{Text: "terms"}}, &invokerStub{reply: modelReply}, nil, AnalysisConfig{})

	owner := uint(1)
	created, err := svc.Analyze(context.Background(), dto.AnalysisRequest{URL: "https://example.com/terms", UserID: &owner})
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), created.ReferenceID, &owner)
	require.NoError(t, err)
	require.Equal(t, created.ReferenceID, got.ReferenceID)
	require.Equal(t, created.Assessment, got.Assessment)

	stranger := uint(2)
	_, err = svc.Get(context.Background(), created.ReferenceID, &stranger)
	require.ErrorIs(t, err, ErrAnalysisNotFound)

	_, err = svc.Get(context.Background(), "not-a-uuid", nil)
	require.ErrorIs(t, err, ErrAnalysisNotFound)

	_, err = svc.Get(context.Background(), "6f1c1f0e-8a4e-4d1b-9f3e-0b7c2a1d9e55", nil)
	require.ErrorIs(t, err, ErrAnalysisNotFound)
}

func TestAnalysisServiceListClampsPaging(t *testing.T) {
	repo := &analysisRepoStub{rows: []models.Analysis{{ReferenceID: "a", Status: models.AnalysisStatusCompleted}}}
	svc := newTestAnalysisService(t, repo, &fetcherStub{}, nil, nil, AnalysisConfig{})

	resp, err := svc.List(context.Background(), dto.AnalysisListRequest{PageSize: 1000})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Pagination.Page)
	require.Equal(t, maxAnalysisPageSize, resp.Pagination.PageSize)
	require.Equal(t, 1, resp.Pagination.TotalPages)
	require.Len(t, resp.Items, 1)
	require.Equal(t, maxAnalysisPageSize, repo.listed.PageSize)

	_, err = svc.List(context.Background(), dto.AnalysisListRequest{Status: "pending"})
	require.Error(t, err)
}

func TestAnalysisServicePersistenceError(t *testing.T) {
	repo := &analysisRepoStub{err: errors.New("db down")}
	svc := newTestAnalysisService(t, repo, &fetcherStub{doc: document.Document{Text: "terms"}}, &invokerStub{reply: modelReply}, nil, AnalysisConfig{})

	_, err := svc.Analyze(context.Background(), dto.AnalysisRequest{URL: "https://example.com/terms"})
	require.EqualError(t, err, "db down")
}

func TestNewAnalysisServiceRejectsInvalidSchema(t *testing.T) {
	schema := assessment.DefaultSchema()
	schema.Version = ""
	_, err := NewAnalysisService(&analysisRepoStub{}, &fetcherStub{}, nil, schema, nil, nil, validator.New(), AnalysisConfig{}, testLogger())
	require.ErrorIs(t, err, assessment.ErrInvalidSchema)
}
