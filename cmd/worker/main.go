package main

import (
	"errors"
	"log"
	"log/slog"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/Keyring-Network/keyring-chat/internal/bootstrap"
	"github.com/Keyring-Network/keyring-chat/internal/config"
	"github.com/Keyring-Network/keyring-chat/internal/turn"
	"github.com/Keyring-Network/keyring-chat/internal/workflows"
)

var (
	loadConfig      = config.Load
	dialTemporal    = client.Dial
	openStore       = bootstrap.OpenStore
	newWorker       = worker.New
	workerInterrupt = worker.InterruptCh
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// run serves PersistTurnWorkflow for additional capacity. Turns persisted
// here are not announced to thread subscribers of the chat server.
func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := bootstrap.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.TemporalAddress == "" {
		return errors.New("TEMPORAL_ADDRESS is required")
	}
	if cfg.StoreDriver == "memory" {
		return errors.New("worker needs a shared store; set STORE_DRIVER to postgres or sqlite")
	}

	temporalClient, err := dialTemporal(client.Options{
		HostPort: cfg.TemporalAddress,
	})
	if err != nil {
		return err
	}
	if temporalClient != nil {
		defer temporalClient.Close()
	}

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	w := newWorker(temporalClient, cfg.TemporalTaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.PersistTurnWorkflow)
	w.RegisterActivity(workflows.NewTurnActivities(turn.NewStoreRecorder(st, nil), nil))

	logger.Info("chat worker started", "task_queue", cfg.TemporalTaskQueue)
	return w.Run(workerInterrupt())
}
