package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/Keyring-Network/keyring-chat/internal/api"
	"github.com/Keyring-Network/keyring-chat/internal/auth"
	"github.com/Keyring-Network/keyring-chat/internal/bootstrap"
	"github.com/Keyring-Network/keyring-chat/internal/catalog"
	"github.com/Keyring-Network/keyring-chat/internal/config"
	"github.com/Keyring-Network/keyring-chat/internal/events"
	"github.com/Keyring-Network/keyring-chat/internal/persona"
	"github.com/Keyring-Network/keyring-chat/internal/store"
	"github.com/Keyring-Network/keyring-chat/internal/title"
	"github.com/Keyring-Network/keyring-chat/internal/turn"
	"github.com/Keyring-Network/keyring-chat/internal/workflows"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

var (
	loadConfig     = config.Load
	newBroker      = events.NewBroker
	openStore      = bootstrap.OpenStore
	seedCatalog    = catalog.EnsureSeed
	newProvider    = bootstrap.NewProvider
	newTitleLocker = bootstrap.NewTitleLocker
	newResolver    = bootstrap.NewResolver
	loadPersona    = persona.Load
	dialTemporal   = client.Dial
	newWorker      = worker.New
	newServer      = func(st store.Store, broker *events.Broker, turns api.TurnRunner, titles api.TitleGenerator, resolver auth.Resolver) server {
		return api.NewServer(st, broker, turns, titles, resolver)
	}
	notifyContext = signal.NotifyContext
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := bootstrap.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	if count, err := seedCatalog(ctx, st, cfg.ModelCatalogPath); err != nil {
		logger.Warn("failed to seed model catalog", "error", err)
	} else {
		logger.Info("model catalog seeded", "models", count)
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}
	systemPrompt, err := loadPersona(cfg.PersonaPath)
	if err != nil {
		return err
	}
	resolver, err := newResolver(cfg)
	if err != nil {
		return err
	}
	locker, closeLocker, err := newTitleLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeLocker() }()

	broker := newBroker()
	storeRecorder := turn.NewStoreRecorder(st, broker)

	var recorder turn.Recorder
	if cfg.TemporalAddress != "" {
		temporalClient, err := dialTemporal(client.Options{HostPort: cfg.TemporalAddress})
		if err != nil {
			return err
		}
		if temporalClient != nil {
			defer temporalClient.Close()
		}
		// An in-process worker shares the broker so persisted turns still
		// reach live subscribers.
		w := newWorker(temporalClient, cfg.TemporalTaskQueue, worker.Options{})
		w.RegisterWorkflow(workflows.PersistTurnWorkflow)
		w.RegisterActivity(workflows.NewTurnActivities(storeRecorder, broker))
		if err := w.Start(); err != nil {
			return err
		}
		defer w.Stop()
		recorder = workflows.NewService(temporalClient, cfg.TemporalTaskQueue)
	} else {
		async := turn.NewAsyncRecorder(storeRecorder, 0, logger)
		defer async.Close()
		recorder = async
	}

	orchestrator := turn.New(turn.Config{
		History:  st,
		Streamer: provider,
		Search:   bootstrap.NewSearch(cfg),
		Recorder: recorder,
		Logger:   logger,

		SystemPrompt: systemPrompt,
	})
	titles := title.NewService(title.Config{
		Threads:   st,
		Completer: provider,
		Locker:    locker,
		Publisher: broker,
		Logger:    logger,
	})

	srv := newServer(st, broker, orchestrator, titles, resolver)
	addr := fmt.Sprintf(":%s", cfg.Port)
	logger.Info("chat server listening", "addr", addr, "store", cfg.StoreDriver)
	if err := srv.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
