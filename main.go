package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	logger "github.com/sirupsen/logrus"

	"tokenexchange/src/app"
	"tokenexchange/src/security"
	"tokenexchange/src/server"
)

var APP_NAME = os.Getenv("APP_NAME")

func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		level = logger.DebugLevel
	}

	logger.SetLevel(level)
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		logger.SetFormatter(&logger.JSONFormatter{})
		return
	}
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	SetupLogger()
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Failed to start exchange services")
	}
	defer a.Close()

	go a.Hub.Run(ctx)

	operatorKey := security.GetConfig().OperatorAPIKey
	if operatorKey == "" {
		logger.Warn("OPERATOR_API_KEY not set, operator routes are disabled")
	}

	if err := server.StartServer(ctx, server.GetConfig(), server.NewRouter(a, operatorKey)); err != nil {
		logger.WithError(err).Error("Server stopped with error")
	}
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", APP_NAME))
	}
}
