package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/toser-api/internal/models"
)

// AnalysisFilter narrows analysis history queries.
type AnalysisFilter struct {
	Page     int
	PageSize int
	UserID   *uint
	Status   string
	URL      string
}

// AnalysisRepository persists assessment runs.
type AnalysisRepository interface {
	Create(ctx context.Context, analysis *models.Analysis) error
	FindByReference(ctx context.Context, referenceID string) (models.Analysis, error)
	LatestCompleted(ctx context.Context, url, schemaVersion string) (models.Analysis, error)
	List(ctx context.Context, filter AnalysisFilter) ([]models.Analysis, int64, error)
}

type analysisRepository struct {
	db *gorm.DB
}

// NewAnalysisRepository constructs a repository backed by GORM.
func NewAnalysisRepository(db *gorm.DB) AnalysisRepository {
	return &analysisRepository{db: db}
}

func (r *analysisRepository) Create(ctx context.Context, analysis *models.Analysis) error {
	return r.db.WithContext(ctx).Create(analysis).Error
}

func (r *analysisRepository) FindByReference(ctx context.Context, referenceID string) (models.Analysis, error) {
	var analysis models.Analysis
	err := r.db.WithContext(ctx).Where("reference_id = ?", referenceID).First(&analysis).Error
	return analysis, err
}

func (r *analysisRepository) LatestCompleted(ctx context.Context, url, schemaVersion string) (models.Analysis, error) {
	var analysis models.Analysis
	err := r.db.WithContext(ctx).
		Where("url = ? AND schema_version = ? AND status = ?", url, schemaVersion, models.AnalysisStatusCompleted).
		Order("created_at DESC").
		Order("id DESC").
		First(&analysis).Error
	return analysis, err
}

func (r *analysisRepository) List(ctx context.Context, filter AnalysisFilter) ([]models.Analysis, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Analysis{})

	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	if filter.URL != "" {
		query = query.Where("url = ?", filter.URL)
	}

	countQuery := query.Session(&gorm.Session{})
	var total int64
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.PageSize > 0 {
		page := filter.Page
		if page <= 0 {
			page = 1
		}
		offset := (page - 1) * filter.PageSize
		query = query.Offset(offset).Limit(filter.PageSize)
	}

	var analyses []models.Analysis
	if err := query.Order("created_at DESC").Order("id DESC").Find(&analyses).Error; err != nil {
		return nil, 0, err
	}

	return analyses, total, nil
}
