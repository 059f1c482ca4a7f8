package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	orgdomain "github.com/smallbiznis/callquota/internal/organization/domain"
	retentiondomain "github.com/smallbiznis/callquota/internal/retention/domain"
	usagedomain "github.com/smallbiznis/callquota/internal/usage/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type     string                     `json:"type"`
	Message  string                     `json:"message"`
	Errors   []ValidationError          `json:"errors,omitempty"`
	Decision *usagedomain.QuotaDecision `json:"decision,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var quotaErr *usagedomain.QuotaExceededError
	if errors.As(err, &quotaErr) {
		decision := quotaErr.Decision
		return http.StatusPaymentRequired, errorPayload{
			Type:     "quota_exceeded",
			Message:  decision.Message,
			Decision: &decision,
		}
	}

	if code, ok := validationCode(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case isTransientError(err):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "temporarily unavailable, try again",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the access log error_type and error_code fields.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	if status >= http.StatusInternalServerError && payload.Type == "internal_error" {
		return payload.Type, "unhandled"
	}
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	if payload.Decision != nil {
		return payload.Type, payload.Decision.Reason
	}
	return payload.Type, payload.Type
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

var validationSentinels = []error{
	ErrInvalidRequest,
	usagedomain.ErrInvalidOrganization,
	usagedomain.ErrInvalidMinutes,
	usagedomain.ErrInvalidRecordedAt,
	usagedomain.ErrInvalidIdempotencyKey,
	usagedomain.ErrInvalidTransactionID,
	usagedomain.ErrInvalidPeriod,
	usagedomain.ErrInvalidPageToken,
	orgdomain.ErrInvalidName,
	orgdomain.ErrInvalidOrganization,
	orgdomain.ErrInvalidPlanTier,
	orgdomain.ErrInvalidPageToken,
	retentiondomain.ErrInvalidOrganization,
	retentiondomain.ErrNoPolicy,
}

// validationCode returns the sentinel code err wraps, if any.
func validationCode(err error) (string, bool) {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error(), true
		}
	}
	return "", false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, usagedomain.ErrOrganizationNotFound),
		errors.Is(err, orgdomain.ErrOrganizationNotFound),
		errors.Is(err, retentiondomain.ErrOrganizationNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, usagedomain.ErrOrganizationArchived),
		errors.Is(err, orgdomain.ErrOrganizationArchived),
		errors.Is(err, orgdomain.ErrSlugTaken),
		errors.Is(err, usagedomain.ErrIdempotencyKeyConflict),
		errors.Is(err, retentiondomain.ErrSweepInProgress):
		return true
	default:
		return false
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, usagedomain.ErrOrganizationArchived),
		errors.Is(err, orgdomain.ErrOrganizationArchived):
		return "account is archived"
	case errors.Is(err, retentiondomain.ErrSweepInProgress):
		return "retention sweep already running"
	case errors.Is(err, usagedomain.ErrIdempotencyKeyConflict):
		return "idempotency key already used by another ledger event"
	default:
		return "conflict"
	}
}

func isTransientError(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) || usagedomain.IsTransient(err)
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "retention_policy_not_found":
		return "no retention policy for plan tier"
	default:
		return "invalid value"
	}
}
