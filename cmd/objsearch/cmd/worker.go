package cmd

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reefdata/objsearch/internal/config"
	"github.com/reefdata/objsearch/internal/events"
	"github.com/reefdata/objsearch/internal/events/sqlite"
	"github.com/reefdata/objsearch/internal/handler"
	"github.com/reefdata/objsearch/internal/indexer"
	"github.com/reefdata/objsearch/internal/retrier"
	"github.com/reefdata/objsearch/internal/rules"
	"github.com/reefdata/objsearch/internal/search"
	"github.com/reefdata/objsearch/internal/worker"
)

// newWorkerCmd creates the worker command.
func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the event-processing worker",
		Long: `Run a worker that claims events from the queue and keeps the
search index in sync. Multiple workers may run against the same queue, each
with its own scratch directory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, cleanup, err := loadConfig()
			if err != nil {
				return err
			}
			defer cleanup()
			return runWorker(cmd, cfg)
		},
	}
}

func runWorker(cmd *cobra.Command, cfg config.Config) error {
	log := slog.Default()

	store, err := sqlite.Open(cfg.Events.Path)
	if err != nil {
		return fmt.Errorf("opening event store: %w", err)
	}
	defer store.Close()

	types, err := rules.NewFileTypeStorage(cfg.Rules.Dir, log)
	if err != nil {
		return fmt.Errorf("loading rule sets: %w", err)
	}
	defer types.Close()
	if cfg.Rules.Watch {
		if err := types.Watch(); err != nil {
			return fmt.Errorf("watching rule dir: %w", err)
		}
	}

	index, err := search.Open(cfg.Index.Path)
	if err != nil {
		return fmt.Errorf("opening search index: %w", err)
	}
	defer index.Close()

	handlers := make(map[string]handler.EventHandler, len(cfg.Sources))
	for _, src := range cfg.Sources {
		h, err := handler.NewFSHandler(src.Code, src.Root)
		if err != nil {
			return fmt.Errorf("source %s: %w", src.Code, err)
		}
		handlers[h.StorageCode()] = h
	}
	if len(handlers) == 0 {
		return fmt.Errorf("no sources configured; add a sources entry to the config")
	}

	ret, err := retrier.New(cfg.Retry.Count, cfg.Retry.Delay, cfg.Retry.FatalBackoffs,
		func(retryCount int, event events.Handle, err error) {
			attrs := []any{"retry", retryCount, "error", err}
			if event != nil {
				attrs = append(attrs, "event", string(event.EventID()))
			}
			log.Warn("operation failed, retrying", attrs...)
		})
	if err != nil {
		return err
	}

	ix, err := indexer.New(indexer.Config{
		ID:              cfg.Worker.ID,
		ScratchDir:      cfg.Worker.ScratchDir,
		TypeStorage:     types,
		IndexingStorage: index,
		Handlers:        handlers,
		Retrier:         ret,
		MaxSubObjects:   cfg.Worker.MaxSubObjects,
		MaxRefPathDepth: cfg.Worker.MaxRefPathDepth,
		Log:             log,
	})
	if err != nil {
		return err
	}
	defer ix.Close()

	w, err := worker.New(worker.Config{
		ID:          cfg.Worker.ID,
		WorkerCodes: cfg.Worker.Codes,
		Storage:     store,
		TypeStorage: types,
		Indexer:     ix,
		Retrier:     ret,
		Tick:        cfg.Worker.Tick,
		Log:         log,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("worker starting", "events", cfg.Events.Path, "index", cfg.Index.Path)
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("worker stopped")
	return nil
}
