package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/fieldops/internal/auth/domain"
	"github.com/smallbiznis/fieldops/internal/authorization"
	billingdomain "github.com/smallbiznis/fieldops/internal/billing/domain"
	equipmentdomain "github.com/smallbiznis/fieldops/internal/equipment/domain"
	invitationdomain "github.com/smallbiznis/fieldops/internal/invitation/domain"
	organizationdomain "github.com/smallbiznis/fieldops/internal/organization/domain"
	"github.com/smallbiznis/fieldops/internal/provisioning"
	"github.com/smallbiznis/fieldops/internal/tenant"
	"github.com/smallbiznis/fieldops/pkg/db/pagination"
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
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not_found")
	ErrTooManyRequests = errors.New("too_many_requests")
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

	if isValidationError(err) {
		code := err.Error()
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
	case isUnauthorizedError(err):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, organizationdomain.ErrNotAMember),
		errors.Is(err, invitationdomain.ErrEmailMismatch):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: messageFor(err, "forbidden"),
		}
	case errors.Is(err, authdomain.ErrUserExists),
		errors.Is(err, invitationdomain.ErrAlreadyMember),
		errors.Is(err, equipmentdomain.ErrInUse),
		errors.Is(err, tenant.ErrNoActiveOrganization):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: messageFor(err, "conflict"),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, billingdomain.ErrNotConfigured):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger the same classification the
// client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func messageFor(err error, fallback string) string {
	for _, known := range []error{
		organizationdomain.ErrNotAMember,
		invitationdomain.ErrEmailMismatch,
		invitationdomain.ErrAlreadyMember,
		equipmentdomain.ErrInUse,
		tenant.ErrNoActiveOrganization,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return fallback
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isUnauthorizedError(err error) bool {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, tenant.ErrUnauthenticated),
		errors.Is(err, provisioning.ErrUnauthenticated),
		errors.Is(err, authdomain.ErrInvalidCredentials),
		errors.Is(err, authdomain.ErrInvalidSession),
		errors.Is(err, authdomain.ErrInvalidToken),
		errors.Is(err, authdomain.ErrSessionNotFound),
		errors.Is(err, authdomain.ErrSessionExpired),
		errors.Is(err, authdomain.ErrSessionRevoked):
		return true
	default:
		return false
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, pagination.ErrInvalidPageToken),
		errors.Is(err, authdomain.ErrInvalidEmail),
		errors.Is(err, authdomain.ErrWeakPassword):
		return true
	case isOrganizationValidationError(err),
		isInviteValidationError(err),
		isCustomerValidationError(err),
		isEquipmentValidationError(err),
		isJobValidationError(err),
		isWebhookValidationError(err):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, organizationdomain.ErrOrganizationNotFound),
		errors.Is(err, invitationdomain.ErrInviteNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	case isCustomerNotFoundError(err),
		isEquipmentNotFoundError(err),
		isJobNotFoundError(err):
		return true
	default:
		return false
	}
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
	case "weak_password":
		return "password must be at least 8 characters"
	default:
		return "invalid value"
	}
}
