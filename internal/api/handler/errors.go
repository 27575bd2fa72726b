package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/pyrx-compute/internal/api/dto"
	"github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/gin-gonic/gin"
)

// StatusFor maps an engine error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound
	case domain.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as an ErrorResponse. Internal errors are logged
// and hidden from the client.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	status := StatusFor(err)
	body := dto.ErrorResponse{Error: err.Error(), Code: domain.ErrorCode(err)}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		body.Error = verr.Reason
		body.Field = verr.Field
	}

	var ierr *domain.InsufficientCreditsError
	if errors.As(err, &ierr) {
		body.Details = map[string]string{
			"required":  ierr.Required.String(),
			"available": ierr.Available.String(),
			"shortfall": ierr.Shortfall().String(),
		}
	}

	if status == http.StatusInternalServerError {
		logger.Error("Request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
		body.Error = "internal server error"
	}

	c.AbortWithStatusJSON(status, body)
}

// badRequest answers a malformed request that never reached the engine.
func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{
		Error: message,
		Code:  domain.CodeValidation,
	})
}
