package main

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

func main() {
	app := mustBootstrapSyncAPI()
	defer app.Close()

	if err := app.Run(); err != nil && !errors.Is(err, context.Canceled) {
		app.log.Error("sync-api stopped", zap.Error(err))
	}
}
