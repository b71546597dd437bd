package checkout

import (
	"go.uber.org/fx"

	"github.com/snapvend/snapvend/internal/checkout/repository"
	"github.com/snapvend/snapvend/internal/checkout/service"
)

var Module = fx.Module("checkout",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
