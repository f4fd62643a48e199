package quota

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/couture/internal/quota/repository"
	"github.com/smallbiznis/couture/internal/quota/service"
)

// Module wires the quota engine.
var Module = fx.Module("quota",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
