package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meridianml/forecast-backend/internal/automl"
	"github.com/meridianml/forecast-backend/internal/domain"
	"github.com/meridianml/forecast-backend/internal/engine"
	"github.com/meridianml/forecast-backend/internal/server"
	"github.com/meridianml/forecast-backend/internal/session"
	"github.com/meridianml/forecast-backend/internal/training"
)

func main() {
	conf := domain.GetDefaultConfig()
	conf.CheckUsage()

	devEnvironment := os.Getenv("DEV_ENVIRONMENT")
	var environmentFileName string
	if devEnvironment == "production" {
		environmentFileName = ".production.env"
	} else {
		environmentFileName = ".development.env"
	}

	// Load ENV from .env file, if one is present.
	if err := godotenv.Load(environmentFileName); err != nil {
		log.Printf("No environment file \"%s\" loaded: %v", environmentFileName, err)
	}

	atom := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if conf.Debug {
		atom = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	store, err := session.NewStore(conf.SessionsDirectory, &atom)
	if err != nil {
		log.Fatalf("Failed to initialize session store: %v", err)
	}

	forecastEngine := engine.New(&atom)
	manager := automl.NewManager(&atom,
		automl.NewEnsembleStrategy(forecastEngine, &atom),
		automl.NewClassicalStrategy(forecastEngine, &atom))

	executor := training.NewExecutor(conf.ExecutorWorkers, conf.ExecutorQueueSize, &atom)
	orchestrator := training.NewOrchestrator(conf, store, manager, executor)

	// Sessions a previous process left mid-run can never resume.
	orchestrator.RecoverInterrupted()

	// Retention sweep for sessions left behind by previous runs.
	orchestrator.Cleanup()

	srv := server.NewServer(conf, store, orchestrator, executor, &atom)

	// Blocking call.
	if err := srv.Serve(); err != nil {
		panic(err)
	}
}
