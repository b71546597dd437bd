package payout

import (
	"go.uber.org/fx"

	"github.com/snapvend/snapvend/internal/payout/repository"
)

var Module = fx.Module("payout",
	fx.Provide(repository.Provide),
)
