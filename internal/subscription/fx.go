package subscription

import (
	"go.uber.org/fx"

	checkoutdomain "github.com/snapvend/snapvend/internal/checkout/domain"
	"github.com/snapvend/snapvend/internal/subscription/domain"
	"github.com/snapvend/snapvend/internal/subscription/repository"
	"github.com/snapvend/snapvend/internal/subscription/service"
)

var Module = fx.Module("subscription",
	fx.Provide(
		repository.Provide,
		service.NewService,
		func(svc domain.Service) checkoutdomain.PlanGate { return svc },
	),
)
