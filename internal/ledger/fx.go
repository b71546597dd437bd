package ledger

import (
	"go.uber.org/fx"

	"github.com/snapvend/snapvend/internal/ledger/repository"
	"github.com/snapvend/snapvend/internal/ledger/service"
)

var Module = fx.Module("ledger",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
