package wallet

import (
	"github.com/snapvend/snapvend/internal/wallet/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("wallet",
	fx.Provide(repository.Provide),
)
