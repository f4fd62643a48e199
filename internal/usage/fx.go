package usage

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/couture/internal/usage/repository"
	"github.com/smallbiznis/couture/internal/usage/service"
)

// Module wires the usage tracker.
var Module = fx.Module("usage",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
