package models

import (
	"time"

	"gorm.io/datatypes"
)

// Analysis statuses.
const (
	AnalysisStatusCompleted = "completed"
	AnalysisStatusFailed    = "failed"
)

// Analysis stores one terms-of-service assessment run and its outcome.
type Analysis struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	ReferenceID   string         `gorm:"size:64;uniqueIndex" json:"reference_id"`
	URL           string         `gorm:"size:2048;not null;index" json:"url"`
	Company       string         `gorm:"size:128" json:"company"`
	UserID        *uint          `gorm:"index" json:"user_id,omitempty"`
	Status        string         `gorm:"size:32;not null;index" json:"status"`
	SchemaVersion string         `gorm:"size:32;not null" json:"schema_version"`
	Provider      string         `gorm:"size:32" json:"provider"`
	Model         string         `gorm:"size:128" json:"model"`
	Tier          string         `gorm:"size:32" json:"tier"`
	FinalScore    float64        `json:"final_score"`
	LetterGrade   string         `gorm:"size:4" json:"letter_grade"`
	Result        datatypes.JSON `json:"result,omitempty"`
	Failure       datatypes.JSON `json:"failure,omitempty"`
	InputTokens   int64          `json:"input_tokens"`
	OutputTokens  int64          `json:"output_tokens"`
	DurationMS    int64          `json:"duration_ms"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
