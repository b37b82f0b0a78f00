package handler

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toser-api/internal/assessment"
	"github.com/noah-isme/toser-api/internal/dto"
	"github.com/noah-isme/toser-api/internal/service"
	"github.com/noah-isme/toser-api/internal/utils"
)

const (
	msgNoURL       = "No URL provided"
	msgFetchFailed = "Unable to fetch the Terms of Service document. Please check the URL and try again."
)

// AnalysisHandler exposes terms-of-service analyses over HTTP.
type AnalysisHandler struct {
	service service.AnalysisService
	logger  zerolog.Logger
}

// NewAnalysisHandler constructs an analysis handler.
func NewAnalysisHandler(service service.AnalysisService, logger zerolog.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		service: service,
		logger:  logger.With().Str("component", "analysis_handler").Logger(),
	}
}

// Register wires the versioned analysis routes.
func (h *AnalysisHandler) Register(router fiber.Router) {
	router.Post("", h.create)
	router.Get("", h.list)
	router.Get("/:id", h.get)
}

// RegisterAdmin wires the unscoped history listing.
func (h *AnalysisHandler) RegisterAdmin(router fiber.Router) {
	router.Get("", h.listAll)
}

// RegisterLegacy wires POST /analyze, which answers with the bare assessment
// document or {"error": ...} like the first public release did.
func (h *AnalysisHandler) RegisterLegacy(router fiber.Router) {
	router.Post("/analyze", h.legacyAnalyze)
}

func (h *AnalysisHandler) create(c *fiber.Ctx) error {
	var payload dto.AnalysisRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if strings.TrimSpace(payload.URL) == "" {
		return utils.SendError(c, fiber.StatusBadRequest, msgNoURL)
	}
	payload.UserID = optionalUserID(c)

	response, err := h.service.Analyze(c.UserContext(), payload)
	if err != nil {
		switch {
		case isValidationError(err):
			return utils.SendError(c, fiber.StatusBadRequest, "invalid url")
		case errors.Is(err, service.ErrFetchFailed):
			return utils.SendError(c, fiber.StatusBadRequest, msgFetchFailed)
		case errors.Is(err, service.ErrAnalysisFailed):
			return utils.SendErrorWithData(c, fiber.StatusBadRequest, "analysis failed", response)
		case errors.Is(err, service.ErrInvokerUnavailable):
			return utils.SendError(c, fiber.StatusServiceUnavailable, "analysis provider unavailable")
		default:
			requestLogger(h.logger, c).Error().Err(err).Msg("failed to analyze terms")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to analyze terms")
		}
	}

	if response.Cached {
		return utils.SendSuccess(c, "analysis retrieved", response)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "analysis completed", response)
}

func (h *AnalysisHandler) get(c *fiber.Ctx) error {
	response, err := h.service.Get(c.UserContext(), c.Params("id"), optionalUserID(c))
	if err != nil {
		if errors.Is(err, service.ErrAnalysisNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "analysis not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to load analysis")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load analysis")
	}

	return utils.SendSuccess(c, "analysis retrieved", response)
}

func (h *AnalysisHandler) list(c *fiber.Ctx) error {
	return h.respondList(c, optionalUserID(c))
}

func (h *AnalysisHandler) listAll(c *fiber.Ctx) error {
	return h.respondList(c, nil)
}

func (h *AnalysisHandler) respondList(c *fiber.Ctx, userID *uint) error {
	page, err := parseQueryInt(c, "page")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page")
	}
	pageSize, err := parseQueryInt(c, "page_size")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page_size")
	}

	response, err := h.service.List(c.UserContext(), dto.AnalysisListRequest{
		Page:     page,
		PageSize: pageSize,
		Status:   strings.TrimSpace(c.Query("status")),
		URL:      c.Query("url"),
		UserID:   userID,
	})
	if err != nil {
		if isValidationError(err) {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid filter")
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to list analyses")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list analyses")
	}

	return utils.SendSuccess(c, "analyses retrieved", response)
}

type legacyError struct {
	Error       string `json:"error"`
	Kind        string `json:"kind,omitempty"`
	RawResponse string `json:"raw_response,omitempty"`
}

func (h *AnalysisHandler) legacyAnalyze(c *fiber.Ctx) error {
	var payload dto.AnalysisRequest
	if err := c.BodyParser(&payload); err != nil || strings.TrimSpace(payload.URL) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(legacyError{Error: msgNoURL})
	}
	payload.UserID = optionalUserID(c)

	response, err := h.service.Analyze(c.UserContext(), payload)
	if err != nil {
		var failure *assessment.Failure
		switch {
		case isValidationError(err), errors.Is(err, service.ErrFetchFailed):
			return c.Status(fiber.StatusBadRequest).JSON(legacyError{Error: msgFetchFailed})
		case errors.As(err, &failure):
			return c.Status(fiber.StatusBadRequest).JSON(legacyError{
				Error:       failure.Message,
				Kind:        string(failure.Kind),
				RawResponse: failure.RawExcerpt,
			})
		default:
			requestLogger(h.logger, c).Error().Err(err).Msg("legacy analyze failed")
			return c.Status(fiber.StatusInternalServerError).JSON(legacyError{Error: "An unexpected error occurred"})
		}
	}

	return c.JSON(response.Assessment)
}

func optionalUserID(c *fiber.Ctx) *uint {
	if id := userIDFromContext(c); id > 0 {
		return &id
	}
	return nil
}
