package idempotency

import (
	"github.com/snapvend/snapvend/internal/idempotency/repository"
	"github.com/snapvend/snapvend/internal/idempotency/service"
	"go.uber.org/fx"
)

var Module = fx.Module("idempotency",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
