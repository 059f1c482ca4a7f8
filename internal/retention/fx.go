package retention

import (
	"github.com/smallbiznis/callquota/internal/retention/repository"
	"github.com/smallbiznis/callquota/internal/retention/service"
	"go.uber.org/fx"
)

var Module = fx.Module("retention.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
