package api

import (
	"go.uber.org/fx"
)

var Module = fx.Module("api",
	fx.Provide(NewSystemHandlers),
	fx.Provide(NewAuthHandlers),
	fx.Provide(NewRecordHandlers),
	fx.Provide(NewNotificationHandlers),
	fx.Provide(NewBackupHandlers),
)
