package webhook

import (
	"go.uber.org/fx"

	"github.com/snapvend/snapvend/internal/webhook/repository"
	"github.com/snapvend/snapvend/internal/webhook/service"
)

var Module = fx.Module("webhook",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
