package provider

import (
	"github.com/smallbiznis/couture/internal/config"
	providerdomain "github.com/smallbiznis/couture/internal/provider/domain"
	"github.com/smallbiznis/couture/internal/provider/stripe"
	"go.uber.org/fx"
)

var Module = fx.Module("provider",
	fx.Provide(func(cfg config.Config) providerdomain.Client {
		return stripe.NewClient(cfg.BillingProviderBaseURL, cfg.BillingProviderAPIKey)
	}),
)
