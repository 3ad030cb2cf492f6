package creditapplication

import (
	"github.com/smallbiznis/payables/internal/creditapplication/domain"
	"github.com/smallbiznis/payables/internal/creditapplication/repository"
	"github.com/smallbiznis/payables/internal/creditapplication/service"
	"go.uber.org/fx"
)

var Module = fx.Module("creditapplication.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(asService),
	fx.Provide(asEngine),
)

func asService(s *service.Service) domain.Service { return s }

func asEngine(s *service.Service) domain.Engine { return s }
