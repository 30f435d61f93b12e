package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/fieldops/internal/billing/domain"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// StripeWebhook acknowledges every verified event, including the ones it
// ignores, so the processor stops redelivering them.
func (s *Server) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.billingSvc.HandleStripeWebhook(c.Request.Context(), payload, c.Request.Header)
	if err != nil {
		if !isWebhookValidationError(err) && !errors.Is(err, billingdomain.ErrNotConfigured) {
			s.log.Error("stripe webhook failed", zap.Error(err))
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received": true,
		"event_id": result.EventID,
		"outcome":  result.Outcome,
	})
}

func isWebhookValidationError(err error) bool {
	return errors.Is(err, billingdomain.ErrInvalidSignature) ||
		errors.Is(err, billingdomain.ErrInvalidPayload) ||
		errors.Is(err, billingdomain.ErrInvalidEvent)
}
