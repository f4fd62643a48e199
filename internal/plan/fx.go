package plan

import (
	"github.com/smallbiznis/couture/internal/plan/publisher"
	"github.com/smallbiznis/couture/internal/plan/repository"
	"github.com/smallbiznis/couture/internal/plan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plan",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(publisher.New),
)
