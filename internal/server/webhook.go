package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	billingdomain "github.com/smallbiznis/couture/internal/billing/domain"
)

const maxWebhookBody = 1 << 20

// handleProviderWebhook receives signed billing provider events. Response
// policy: 400 only for signature or parse failures, 200 for every consumed
// event whatever its outcome, 500 only for transient infrastructure failures
// so the provider retries.
func (s *Server) handleProviderWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, billingdomain.ErrMalformedPayload)
		return
	}

	sig := c.GetHeader("Stripe-Signature")
	if sig == "" {
		sig = c.GetHeader("Webhook-Signature")
	}
	if err := s.verifier.Verify(payload, sig); err != nil {
		s.log.Warn("webhook signature rejected",
			zap.String("provider", c.Param("provider")),
			zap.Error(err))
		AbortWithError(c, err)
		return
	}

	ev, err := s.verifier.Parse(payload)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Lock timeouts and database failures map to 500 so the provider
	// redelivers; everything consumed is acknowledged below.
	outcome, err := s.billingSvc.ProcessEvent(c.Request.Context(), ev)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received": true,
		"outcome":  string(outcome),
	})
}
