package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ShenlongDev/afp-integration/internal/application/importer"
	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/logger"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/scheduler"
	"github.com/ShenlongDev/afp-integration/internal/interfaces/http/dto"
	"github.com/ShenlongDev/afp-integration/internal/interfaces/http/middleware"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	return middleware.GetRequestID(c)
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Accepted sends a 202 accepted response for work that continues asynchronously
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// ErrorWithCode sends an error response, deriving status code from error code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// Conflict sends a 409 conflict response
func (h *BaseHandler) Conflict(c *gin.Context, message string) {
	h.Error(c, http.StatusConflict, dto.ErrCodeConflict, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// HandleBindError answers a failed ShouldBind* call: field errors become a
// validation envelope, anything else is a malformed body
func (h *BaseHandler) HandleBindError(c *gin.Context, err error) {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		middleware.HandleValidationError(c, err)
		return
	}
	h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Malformed request: "+err.Error())
}

// errorMapping binds a sentinel to the API error code it surfaces as
type errorMapping struct {
	target error
	code   string
}

// errorMappings is checked in order with errors.Is
var errorMappings = []errorMapping{
	{integration.ErrValidation, dto.ErrCodeValidation},
	{scheduler.ErrInvalidLane, dto.ErrCodeValidation},
	{integration.ErrIntegrationNotFound, dto.ErrCodeNotFound},
	{integration.ErrRunNotFound, dto.ErrCodeNotFound},
	{scheduler.ErrJobNotFound, dto.ErrCodeNotFound},
	{integration.ErrRunTerminal, dto.ErrCodeConflict},
	{scheduler.ErrJobFinished, dto.ErrCodeConflict},
	{importer.ErrNoEligibleIntegrations, dto.ErrCodeNoEligibleIntegrations},
	{integration.ErrIntegrationInactive, dto.ErrCodeInvalidState},
	{integration.ErrAdapterNotFound, dto.ErrCodeInvalidState},
	{integration.ErrCredential, dto.ErrCodeInvalidState},
	{scheduler.ErrJobQueueFull, dto.ErrCodeUnavailable},
	{scheduler.ErrSchedulerNotRunning, dto.ErrCodeUnavailable},
}

// HandleError converts import engine errors to HTTP responses
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			if m.code == dto.ErrCodeUnavailable {
				c.Header("Retry-After", "5")
			}
			h.ErrorWithCode(c, m.code, err.Error())
			return
		}
	}

	logger.L(c.Request.Context()).Error("Unhandled API error",
		zap.String("route", c.FullPath()),
		zap.Error(err),
	)
	h.InternalError(c, "An unexpected error occurred")
}
