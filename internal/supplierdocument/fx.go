package supplierdocument

import (
	"github.com/smallbiznis/payables/internal/supplierdocument/repository"
	"github.com/smallbiznis/payables/internal/supplierdocument/service"
	"go.uber.org/fx"
)

var Module = fx.Module("supplierdocument.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(service.NewLedger),
)
