package utils

import (
	"go.uber.org/zap"
)

var Logger *zap.Logger

func InitLogger() {
	var err error
	// Structured JSON logs for aggregation tools (ELK, Datadog)
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	Logger, err = config.Build()
	if err != nil {
		panic(err)
	}
	defer Logger.Sync()
}
