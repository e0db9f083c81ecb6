// Command hanjang-processor is the Lambda that turns images uploaded with a
// presigned URL into notes.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"hanjang/internal/app"
	"hanjang/internal/config"
	hlog "hanjang/internal/log"
)

func main() {
	if err := config.LoadAndApply(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg := config.FromEnv()
	logger := hlog.NewWithLevel(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	// Reused across warm invocations.
	a, err := app.Build(context.Background(), cfg, logger, app.Overrides{})
	if err != nil {
		logger.Fatal("processor.init", zap.Error(err))
	}
	defer a.Close()
	lambda.Start(newHandler(a.Notes, logger).Handle)
}
