package providers

import (
	"go.uber.org/fx"

	"github.com/snapvend/snapvend/internal/config"
	"github.com/snapvend/snapvend/internal/providers/flutterwave"
	"github.com/snapvend/snapvend/internal/providers/paypal"
	"github.com/snapvend/snapvend/internal/providers/paystack"
	"github.com/snapvend/snapvend/internal/providers/stripe"
)

var Module = fx.Module("providers",
	fx.Provide(
		func(cfg config.Config) (*Registry, error) {
			return NewRegistry(cfg,
				stripe.NewFactory(),
				paypal.NewFactory(),
				flutterwave.NewFactory(),
				paystack.NewFactory(),
			)
		},
	),
)
