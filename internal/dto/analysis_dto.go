package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/toser-api/internal/assessment"
	"github.com/noah-isme/toser-api/internal/models"
)

// PaginationMeta captures pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
}

// NewPaginationMeta derives page counts from a total.
func NewPaginationMeta(page, pageSize int, total int64) PaginationMeta {
	pages := 0
	if pageSize > 0 {
		pages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return PaginationMeta{Page: page, PageSize: pageSize, TotalItems: total, TotalPages: pages}
}

// AnalysisRequest is the payload accepted by the analysis endpoints.
type AnalysisRequest struct {
	URL     string `json:"url" validate:"required,url,max=2048"`
	Refresh bool   `json:"refresh"`
	UserID  *uint  `json:"-"`
}

// AnalysisListRequest defines filters for the analysis history.
type AnalysisListRequest struct {
	Page     int
	PageSize int
	Status   string `validate:"omitempty,oneof=completed failed"`
	URL      string
	UserID   *uint
}

// AnalysisResponse serializes a stored analysis.
type AnalysisResponse struct {
	ReferenceID   string                 `json:"reference_id"`
	URL           string                 `json:"url"`
	Company       string                 `json:"company"`
	Status        string                 `json:"status"`
	SchemaVersion string                 `json:"schema_version"`
	Provider      string                 `json:"provider,omitempty"`
	Model         string                 `json:"model,omitempty"`
	Tier          string                 `json:"tier,omitempty"`
	Cached        bool                   `json:"cached"`
	Assessment    *assessment.Assessment `json:"assessment,omitempty"`
	Failure       *assessment.Failure    `json:"failure,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// AnalysisListResponse wraps a page of analyses.
type AnalysisListResponse struct {
	Items      []AnalysisResponse `json:"items"`
	Pagination PaginationMeta     `json:"pagination"`
}

// NewAnalysisResponse decodes the stored JSON columns of a row.
func NewAnalysisResponse(row models.Analysis) AnalysisResponse {
	resp := AnalysisResponse{
		ReferenceID:   row.ReferenceID,
		URL:           row.URL,
		Company:       row.Company,
		Status:        row.Status,
		SchemaVersion: row.SchemaVersion,
		Provider:      row.Provider,
		Model:         row.Model,
		Tier:          row.Tier,
		CreatedAt:     row.CreatedAt,
	}

	if len(row.Result) > 0 {
		var result assessment.Assessment
		if err := json.Unmarshal(row.Result, &result); err == nil {
			resp.Assessment = &result
		}
	}
	if len(row.Failure) > 0 {
		var failure assessment.Failure
		if err := json.Unmarshal(row.Failure, &failure); err == nil {
			resp.Failure = &failure
		}
	}

	return resp
}

// NewAnalysisListResponse converts a page of rows.
func NewAnalysisListResponse(rows []models.Analysis, pagination PaginationMeta) AnalysisListResponse {
	items := make([]AnalysisResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, NewAnalysisResponse(row))
	}
	return AnalysisListResponse{Items: items, Pagination: pagination}
}
