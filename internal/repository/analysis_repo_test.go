package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/toser-api/internal/models"
)

func TestAnalysisRepositoryCreateAndFind(t *testing.T) {
	db := setupAnalysisTestDB(t)
	repo := NewAnalysisRepository(db)
	ctx := context.Background()

	analysis := models.Analysis{
		ReferenceID:   "ref-1",
		URL:           "https://example.com/terms",
		Company:       "Example",
		Status:        models.AnalysisStatusCompleted,
		SchemaVersion: "tos-v2",
		Tier:          "strict",
		FinalScore:    6.5,
		LetterGrade:   "B-",
		Result:        datatypes.JSON(`{"final_score": 6.5}`),
	}
	require.NoError(t, repo.Create(ctx, &analysis))
	require.NotZero(t, analysis.ID)

	found, err := repo.FindByReference(ctx, "ref-1")
	require.NoError(t, err)
	require.Equal(t, "Example", found.Company)
	require.JSONEq(t, `{"final_score": 6.5}`, string(found.Result))

	_, err = repo.FindByReference(ctx, "missing")
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestAnalysisRepositoryLatestCompleted(t *testing.T) {
	db := setupAnalysisTestDB(t)
	repo := NewAnalysisRepository(db)
	ctx := context.Background()

	url := "https://example.com/terms"
	now := time.Now()
	rows := []models.Analysis{
		{ReferenceID: "old", URL: url, Status: models.AnalysisStatusCompleted, SchemaVersion: "tos-v2", CreatedAt: now.Add(-time.Hour)},
		{ReferenceID: "new", URL: url, Status: models.AnalysisStatusCompleted, SchemaVersion: "tos-v2", CreatedAt: now},
		{ReferenceID: "failed", URL: url, Status: models.AnalysisStatusFailed, SchemaVersion: "tos-v2", CreatedAt: now.Add(time.Minute)},
		{ReferenceID: "legacy", URL: url, Status: models.AnalysisStatusCompleted, SchemaVersion: "tos-v1", CreatedAt: now.Add(time.Minute)},
	}
	for i := range rows {
		require.NoError(t, repo.Create(ctx, &rows[i]))
	}

	latest, err := repo.LatestCompleted(ctx, url, "tos-v2")
	require.NoError(t, err)
	require.Equal(t, "new", latest.ReferenceID)

	_, err = repo.LatestCompleted(ctx, "https://other.example", "tos-v2")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestAnalysisRepositoryListFiltersAndPaginates(t *testing.T) {
	db := setupAnalysisTestDB(t)
	repo := NewAnalysisRepository(db)
	ctx := context.Background()

	owner := uint(7)
	other := uint(8)
	now := time.Now()
	rows := []models.Analysis{
		{ReferenceID: "a", URL: "https://a.example", UserID: &owner, Status: models.AnalysisStatusCompleted, SchemaVersion: "v", CreatedAt: now.Add(-3 * time.Minute)},
		{ReferenceID: "b", URL: "https://b.example", UserID: &owner, Status: models.AnalysisStatusFailed, SchemaVersion: "v", CreatedAt: now.Add(-2 * time.Minute)},
		{ReferenceID: "c", URL: "https://c.example", UserID: &owner, Status: models.AnalysisStatusCompleted, SchemaVersion: "v", CreatedAt: now.Add(-time.Minute)},
		{ReferenceID: "d", URL: "https://d.example", UserID: &other, Status: models.AnalysisStatusCompleted, SchemaVersion: "v", CreatedAt: now},
	}
	for i := range rows {
		require.NoError(t, repo.Create(ctx, &rows[i]))
	}

	items, total, err := repo.List(ctx, AnalysisFilter{UserID: &owner})
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	require.Equal(t, []string{"c", "b", "a"}, referencesOf(items))

	items, total, err = repo.List(ctx, AnalysisFilter{UserID: &owner, Status: models.AnalysisStatusCompleted, Page: 2, PageSize: 1})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Equal(t, []string{"a"}, referencesOf(items))

	items, total, err = repo.List(ctx, AnalysisFilter{URL: "https://d.example"})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, []string{"d"}, referencesOf(items))
}

func referencesOf(items []models.Analysis) []string {
	refs := make([]string, 0, len(items))
	for _, item := range items {
		refs = append(refs, item.ReferenceID)
	}
	return refs
}

func setupAnalysisTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Analysis{}))
	return db
}
