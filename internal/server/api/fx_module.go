package api

import "go.uber.org/fx"

var Module = fx.Module("api",
	fx.Provide(NewTaskHandlers),
	fx.Provide(NewRundownHandlers),
	fx.Provide(NewStructuredHandlers),
	fx.Provide(NewSystemHandlers),
)
