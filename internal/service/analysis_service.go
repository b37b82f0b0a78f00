package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/toser-api/internal/assessment"
	"github.com/noah-isme/toser-api/internal/dto"
	"github.com/noah-isme/toser-api/internal/models"
	"github.com/noah-isme/toser-api/internal/observability"
	"github.com/noah-isme/toser-api/internal/repository"
	"github.com/noah-isme/toser-api/pkg/ai"
	"github.com/noah-isme/toser-api/pkg/document"
)

var (
	// ErrAnalysisNotFound indicates no analysis exists for the reference.
	ErrAnalysisNotFound = errors.New("analysis not found")
	// ErrFetchFailed indicates the terms document could not be retrieved.
	ErrFetchFailed = errors.New("unable to fetch terms of service document")
	// ErrInvokerUnavailable indicates no model provider is configured.
	ErrInvokerUnavailable = errors.New("no model provider configured")
	// ErrAnalysisFailed indicates the run ended with a failure record.
	ErrAnalysisFailed = errors.New("analysis failed")
)

const (
	defaultAnalysisPageSize = 20
	maxAnalysisPageSize     = 100
	analysisSubjectBase     = "toser.analysis"
)

// DocumentFetcher retrieves the readable text of a terms page.
type DocumentFetcher interface {
	Fetch(ctx context.Context, url string) (document.Document, error)
}

// AnalysisService runs and records terms-of-service assessments.
type AnalysisService interface {
	Analyze(ctx context.Context, req dto.AnalysisRequest) (dto.AnalysisResponse, error)
	Get(ctx context.Context, referenceID string, userID *uint) (dto.AnalysisResponse, error)
	List(ctx context.Context, req dto.AnalysisListRequest) (dto.AnalysisListResponse, error)
}

// AnalysisConfig tunes caching and limits of the analysis workflow.
type AnalysisConfig struct {
	CacheTTL         time.Duration
	Timeout          time.Duration
	MaxDocumentChars int
}

type analysisService struct {
	repo      repository.AnalysisRepository
	fetcher   DocumentFetcher
	invoker   ai.Invoker
	pipeline  *assessment.Pipeline
	cache     *redis.Client
	nats      *nats.Conn
	validator *validator.Validate
	cfg       AnalysisConfig
	nodeID    string
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

type analysisEvent struct {
	Source      string    `json:"source"`
	ReferenceID string    `json:"reference_id"`
	URL         string    `json:"url"`
	Status      string    `json:"status"`
	Tier        string    `json:"tier,omitempty"`
	FinalScore  float64   `json:"final_score,omitempty"`
	LetterGrade string    `json:"letter_grade,omitempty"`
	FailureKind string    `json:"failure_kind,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}

// NewAnalysisService wires the analysis workflow. invoker may be nil, in which
// case Analyze reports ErrInvokerUnavailable; cache and natsConn are optional.
func NewAnalysisService(
	repo repository.AnalysisRepository,
	fetcher DocumentFetcher,
	invoker ai.Invoker,
	schema assessment.Schema,
	cache *redis.Client,
	natsConn *nats.Conn,
	validate *validator.Validate,
	cfg AnalysisConfig,
	logger zerolog.Logger,
) (AnalysisService, error) {
	pipeline, err := assessment.NewPipeline(schema, assessment.WithObserver(observeTier))
	if err != nil {
		return nil, err
	}
	if cfg.MaxDocumentChars <= 0 {
		cfg.MaxDocumentChars = DefaultMaxDocumentChars
	}

	return &analysisService{
		repo:      repo,
		fetcher:   fetcher,
		invoker:   invoker,
		pipeline:  pipeline,
		cache:     cache,
		nats:      natsConn,
		validator: validate,
		cfg:       cfg,
		nodeID:    uuid.NewString(),
		logger:    logger.With().Str("component", "analysis_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/toser-api/internal/service/analysis"),
		now:       time.Now,
	}, nil
}

func observeTier(event assessment.TierEvent) {
	outcome := "miss"
	if event.OK {
		outcome = "success"
	}
	observability.RecoveryTiers().WithLabelValues(event.Tier, outcome).Inc()
}

func (s *analysisService) Analyze(ctx context.Context, req dto.AnalysisRequest) (dto.AnalysisResponse, error) {
	ctx, span := s.tracer.Start(ctx, "analysis.analyze")
	defer span.End()

	req.URL = strings.TrimSpace(req.URL)
	if err := s.validator.Struct(req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return dto.AnalysisResponse{}, err
	}
	span.SetAttributes(attribute.String("analysis.url", req.URL))

	schemaVersion := s.pipeline.Schema().Version
	cacheKey := analysisCacheKey(schemaVersion, req.URL)

	if !req.Refresh {
		if cached, ok := s.lookup(ctx, cacheKey, req.URL, schemaVersion); ok {
			observability.Analyses().WithLabelValues("cached").Inc()
			span.SetAttributes(attribute.Bool("analysis.cached", true))
			return cached, nil
		}
	}

	if s.invoker == nil {
		span.SetStatus(codes.Error, "no invoker")
		observability.Analyses().WithLabelValues("error").Inc()
		return dto.AnalysisResponse{}, ErrInvokerUnavailable
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := s.now()
	doc, err := s.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		observability.Analyses().WithLabelValues("error").Inc()
		s.logger.Warn().Err(err).Str("url", req.URL).Msg("terms fetch failed")
		return dto.AnalysisResponse{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if doc.Company == "" {
		doc.Company = document.CompanyName(req.URL)
	}

	prompt, err := buildAnalysisPrompt(s.pipeline.Schema(), doc.Company, doc.Text, s.cfg.MaxDocumentChars)
	if err != nil {
		span.RecordError(err)
		return dto.AnalysisResponse{}, err
	}

	row := models.Analysis{
		ReferenceID:   uuid.NewString(),
		URL:           req.URL,
		Company:       doc.Company,
		UserID:        req.UserID,
		SchemaVersion: schemaVersion,
		Provider:      s.invoker.Provider(),
	}

	completion, err := s.invoker.Complete(ctx, prompt)
	var result assessment.Result
	if err != nil {
		err = assessment.Upstream(err, "")
	} else {
		row.Model = completion.Model
		row.InputTokens = completion.InputTokens
		row.OutputTokens = completion.OutputTokens
		result, err = s.pipeline.Run(completion.Text)
	}
	row.DurationMS = s.now().Sub(start).Milliseconds()
	observability.AnalysisDuration().WithLabelValues(row.Provider).Observe(float64(row.DurationMS) / 1000)

	if err != nil {
		return s.recordFailure(ctx, span, row, err)
	}
	return s.recordSuccess(ctx, span, row, result, cacheKey)
}

func (s *analysisService) recordSuccess(ctx context.Context, span trace.Span, row models.Analysis, result assessment.Result, cacheKey string) (dto.AnalysisResponse, error) {
	payload, err := json.Marshal(result.Assessment)
	if err != nil {
		span.RecordError(err)
		return dto.AnalysisResponse{}, err
	}

	row.Status = models.AnalysisStatusCompleted
	row.Tier = result.Tier
	row.FinalScore = result.Assessment.FinalScore
	row.LetterGrade = result.Assessment.LetterGrade
	row.Result = datatypes.JSON(payload)

	if err := s.repo.Create(ctx, &row); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		observability.Analyses().WithLabelValues("error").Inc()
		return dto.AnalysisResponse{}, err
	}

	response := dto.NewAnalysisResponse(row)
	s.store(ctx, cacheKey, response)
	s.publish(ctx, row, "")

	observability.Analyses().WithLabelValues(models.AnalysisStatusCompleted).Inc()
	span.SetAttributes(attribute.String("analysis.tier", result.Tier), attribute.Float64("analysis.final_score", row.FinalScore))
	span.SetStatus(codes.Ok, "completed")
	s.logger.Info().
		Str("reference_id", row.ReferenceID).
		Str("tier", result.Tier).
		Float64("final_score", row.FinalScore).
		Msg("analysis completed")

	return response, nil
}

func (s *analysisService) recordFailure(ctx context.Context, span trace.Span, row models.Analysis, cause error) (dto.AnalysisResponse, error) {
	failure, ok := assessment.AsFailure(cause)
	if !ok {
		failure = assessment.Upstream(cause, "")
	}
	span.RecordError(failure)
	span.SetStatus(codes.Error, string(failure.Kind))
	observability.RecoveryFailures().WithLabelValues(string(failure.Kind)).Inc()

	payload, err := json.Marshal(failure)
	if err != nil {
		return dto.AnalysisResponse{}, err
	}
	row.Status = models.AnalysisStatusFailed
	row.Tier = failure.Tier
	row.Failure = datatypes.JSON(payload)

	if err := s.repo.Create(ctx, &row); err != nil {
		span.RecordError(err)
		observability.Analyses().WithLabelValues("error").Inc()
		return dto.AnalysisResponse{}, err
	}
	s.publish(ctx, row, string(failure.Kind))

	observability.Analyses().WithLabelValues(models.AnalysisStatusFailed).Inc()
	s.logger.Warn().
		Str("reference_id", row.ReferenceID).
		Str("kind", string(failure.Kind)).
		Str("tier", failure.Tier).
		Msg(failure.Message)

	return dto.NewAnalysisResponse(row), fmt.Errorf("%w: %w", ErrAnalysisFailed, failure)
}

// lookup serves a recent completed analysis from redis, falling back to the
// newest stored row still inside the cache window.
func (s *analysisService) lookup(ctx context.Context, key, url, schemaVersion string) (dto.AnalysisResponse, bool) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key).Result(); err == nil {
			var response dto.AnalysisResponse
			if unmarshalErr := json.Unmarshal([]byte(cached), &response); unmarshalErr == nil {
				s.logger.Debug().Str("url", url).Msg("analysis cache hit")
				response.Cached = true
				return response, true
			}
		} else if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("failed to read analysis cache")
		}
	}

	if s.cfg.CacheTTL <= 0 {
		return dto.AnalysisResponse{}, false
	}
	row, err := s.repo.LatestCompleted(ctx, url, schemaVersion)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn().Err(err).Msg("failed to read stored analysis")
		}
		return dto.AnalysisResponse{}, false
	}
	if s.now().Sub(row.CreatedAt) > s.cfg.CacheTTL {
		return dto.AnalysisResponse{}, false
	}

	response := dto.NewAnalysisResponse(row)
	s.store(ctx, key, response)
	response.Cached = true
	return response, true
}

func (s *analysisService) store(ctx context.Context, key string, response dto.AnalysisResponse) {
	if s.cache == nil || s.cfg.CacheTTL <= 0 {
		return
	}
	payload, err := json.Marshal(response)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, payload, s.cfg.CacheTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to store analysis cache")
	}
}

func (s *analysisService) publish(ctx context.Context, row models.Analysis, failureKind string) {
	if s.nats == nil {
		return
	}
	event := analysisEvent{
		Source:      s.nodeID,
		ReferenceID: row.ReferenceID,
		URL:         row.URL,
		Status:      row.Status,
		Tier:        row.Tier,
		FinalScore:  row.FinalScore,
		LetterGrade: row.LetterGrade,
		FailureKind: failureKind,
		SentAt:      s.now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	subject := analysisSubjectBase + "." + row.Status
	if err := s.nats.Publish(subject, payload); err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
		s.logger.Warn().Err(err).Str("subject", subject).Msg("failed to publish analysis event")
	}
}

func (s *analysisService) Get(ctx context.Context, referenceID string, userID *uint) (dto.AnalysisResponse, error) {
	ctx, span := s.tracer.Start(ctx, "analysis.get")
	defer span.End()

	if _, err := uuid.Parse(referenceID); err != nil {
		return dto.AnalysisResponse{}, ErrAnalysisNotFound
	}

	row, err := s.repo.FindByReference(ctx, referenceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AnalysisResponse{}, ErrAnalysisNotFound
		}
		span.RecordError(err)
		return dto.AnalysisResponse{}, err
	}
	if userID != nil && row.UserID != nil && *row.UserID != *userID {
		return dto.AnalysisResponse{}, ErrAnalysisNotFound
	}

	return dto.NewAnalysisResponse(row), nil
}

func (s *analysisService) List(ctx context.Context, req dto.AnalysisListRequest) (dto.AnalysisListResponse, error) {
	ctx, span := s.tracer.Start(ctx, "analysis.list")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		return dto.AnalysisListResponse{}, err
	}

	page := req.Page
	if page <= 0 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultAnalysisPageSize
	}
	if pageSize > maxAnalysisPageSize {
		pageSize = maxAnalysisPageSize
	}

	rows, total, err := s.repo.List(ctx, repository.AnalysisFilter{
		Page:     page,
		PageSize: pageSize,
		UserID:   req.UserID,
		Status:   req.Status,
		URL:      strings.TrimSpace(req.URL),
	})
	if err != nil {
		span.RecordError(err)
		return dto.AnalysisListResponse{}, err
	}

	return dto.NewAnalysisListResponse(rows, dto.NewPaginationMeta(page, pageSize, total)), nil
}

func analysisCacheKey(schemaVersion, url string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(url)))
	return fmt.Sprintf("analysis:%s:%s", schemaVersion, hex.EncodeToString(sum[:]))
}
