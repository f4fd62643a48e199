// Package billing assembles the event pipeline: verifier, dedup index,
// per-tenant sequencer, and the subscription state machine.
package billing

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/couture/internal/billing/repository"
	"github.com/smallbiznis/couture/internal/billing/sequencer"
	"github.com/smallbiznis/couture/internal/billing/service"
	"github.com/smallbiznis/couture/internal/billing/verifier"
	"github.com/smallbiznis/couture/internal/config"
)

func newVerifier(cfg config.Config) *verifier.Verifier {
	return verifier.New(cfg.BillingWebhookSecret)
}

// Module registers the billing pipeline components.
var Module = fx.Module("billing",
	sequencer.Module,
	fx.Provide(
		newVerifier,
		repository.Provide,
		service.New,
	),
)
