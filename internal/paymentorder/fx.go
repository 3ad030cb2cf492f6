package paymentorder

import (
	"github.com/smallbiznis/payables/internal/paymentorder/repository"
	"github.com/smallbiznis/payables/internal/paymentorder/service"
	"github.com/smallbiznis/payables/internal/paymentorder/voucher"
	"go.uber.org/fx"
)

var Module = fx.Module("paymentorder.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(voucher.New),
)
