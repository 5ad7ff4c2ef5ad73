package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/jun/drivechat/internal/app"
	"github.com/jun/drivechat/internal/logger"
)

func main() {
	logger.Init(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	application, err := app.NewApp(context.Background())
	if err != nil {
		logger.Default().Error("failed to initialize app", "error", err)
		os.Exit(1)
	}
	lambda.Start(application.HandleRequest)
}
