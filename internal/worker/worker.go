// Package worker runs the event processing loop: claim one ready event,
// process or expand it, and record exactly one terminal state for it.
package worker

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reefdata/objsearch/internal/errors"
	"github.com/reefdata/objsearch/internal/events"
	"github.com/reefdata/objsearch/internal/guid"
	"github.com/reefdata/objsearch/internal/handler"
	"github.com/reefdata/objsearch/internal/indexer"
	"github.com/reefdata/objsearch/internal/retrier"
	"github.com/reefdata/objsearch/internal/rules"
)

// DefaultTick is the poll interval when the queue is drained.
const DefaultTick = time.Second

// errNoStorageType marks a new-version event whose storage type is still
// unknown after the source refresh. Indexing it would match zero rule sets,
// so the event terminates UNINDEXED instead of INDEXED.
var errNoStorageType = stderrors.New("object event has no storage type")

// Config configures a Worker.
type Config struct {
	// ID names the worker; it is recorded as the updater on claimed
	// events.
	ID string

	// WorkerCodes restricts which events this worker claims. Empty means
	// the default code.
	WorkerCodes []string

	// Storage is the durable event queue.
	Storage events.Storage

	// TypeStorage serves the registered rule sets.
	TypeStorage rules.TypeStorage

	// Indexer performs the actual object indexing.
	Indexer *indexer.Indexer

	// Retrier wraps event store and handler operations.
	Retrier *retrier.Retrier

	// Tick overrides DefaultTick when > 0.
	Tick time.Duration

	// Log is the structured logger. Defaults to slog.Default.
	Log *slog.Logger
}

// Worker claims and processes events one at a time. Run multiple workers
// with distinct ids for parallelism; the queue's atomic claim keeps them
// from colliding.
type Worker struct {
	id          string
	workerCodes []string
	storage     events.Storage
	typeStorage rules.TypeStorage
	indexer     *indexer.Indexer
	retrier     *retrier.Retrier
	tick        time.Duration
	log         *slog.Logger
}

// New creates a Worker.
func New(cfg Config) (*Worker, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("worker requires an id")
	}
	if cfg.Storage == nil || cfg.TypeStorage == nil || cfg.Indexer == nil || cfg.Retrier == nil {
		return nil, fmt.Errorf("worker requires event storage, type storage, an indexer and a retrier")
	}
	codes := cfg.WorkerCodes
	if len(codes) == 0 {
		codes = []string{events.DefaultWorkerCode}
	}
	tick := cfg.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("worker", cfg.ID)
	log.Info("worker configured", "worker_codes", codes)
	return &Worker{
		id:          cfg.ID,
		workerCodes: codes,
		storage:     cfg.Storage,
		typeStorage: cfg.TypeStorage,
		indexer:     cfg.Indexer,
		retrier:     cfg.Retrier,
		tick:        tick,
		log:         log,
	}, nil
}

// Run drains the queue, then polls it every tick until the context is
// cancelled or a fatal error stops the worker.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()
	for {
		for {
			processed, err := w.RunCycle(ctx)
			if err != nil {
				if errors.IsFatal(err) {
					w.log.Error("fatal error, worker shutting down", "error", err)
				}
				return err
			}
			if !processed {
				break
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle processes up to one event. It reports whether an event was
// claimed; an error return is fatal for the worker.
func (w *Worker) RunCycle(ctx context.Context) (bool, error) {
	ev, err := retrier.Func(ctx, w.retrier, nil, func() (*events.StoredStatusEvent, error) {
		return w.storage.Claim(ctx, events.StateReady, w.workerCodes,
			events.StateProcessing, w.id)
	})
	if err != nil {
		return false, err
	}
	if ev == nil {
		return false, nil
	}
	h, err := w.indexer.Handler(ev.Event().StorageCode())
	if err != nil {
		w.log.Error("no handler for event", "event", string(ev.EventID()), "error", err)
		return true, w.finishError(ctx, ev.EventID(), errors.AsIndexing(err))
	}
	if h.IsExpandable(*ev) {
		return true, w.expandAndProcess(ctx, h, *ev)
	}
	state, procErr := w.processEvent(ctx, *ev)
	if procErr != nil && ctx.Err() != nil {
		// interrupted mid-event: leave it in PROC for a restart
		return true, procErr
	}
	if state == events.StateFailed {
		if err := w.finishError(ctx, ev.EventID(), procErr); err != nil {
			return true, err
		}
	} else {
		if err := w.finish(ctx, ev.EventID(), state); err != nil {
			return true, err
		}
	}
	if errors.IsFatal(procErr) {
		return true, procErr
	}
	return true, nil
}

// expandAndProcess fans an access-group level event out into child events
// and processes each inline. Failed children are stored with their errors;
// any child failure fails the parent. The parent still gets exactly one
// terminal write.
func (w *Worker) expandAndProcess(
	ctx context.Context,
	h handler.EventHandler,
	parent events.StoredStatusEvent,
) error {
	w.log.Info("expanding event",
		"event", string(parent.EventID()),
		"type", parent.Event().Type().String())
	iter, err := retrier.Func(ctx, w.retrier, parent, func() (handler.ChildIterator, error) {
		return h.Expand(ctx, parent)
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		w.log.Error("error expanding event", "event", string(parent.EventID()), "error", err)
		if werr := w.finishError(ctx, parent.EventID(), err); werr != nil {
			return werr
		}
		if errors.IsFatal(err) {
			return err
		}
		return nil
	}

	result := events.StateIndexed
	var parentErr error
	for {
		child, err := retrier.Func(ctx, w.retrier, parent, iter.Next)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			w.log.Error("error getting child event",
				"event", string(parent.EventID()), "error", err)
			result = events.StateFailed
			parentErr = err
			if errors.IsFatal(err) {
				if werr := w.finishError(ctx, parent.EventID(), err); werr != nil {
					return werr
				}
				return err
			}
			break
		}
		if child == nil {
			break
		}
		state, cerr := w.processEvent(ctx, *child)
		if cerr != nil && ctx.Err() != nil {
			return cerr
		}
		if state == events.StateFailed {
			result = events.StateFailed
			serr := w.retrier.Run(ctx, child, func() error {
				return w.storage.StoreChild(ctx, *child, errors.CodeOf(cerr), cerr)
			})
			if serr != nil {
				return serr
			}
			if errors.IsFatal(cerr) {
				if werr := w.finishError(ctx, parent.EventID(), cerr); werr != nil {
					return werr
				}
				return cerr
			}
		}
	}
	if result == events.StateFailed && parentErr != nil {
		return w.finishError(ctx, parent.EventID(), parentErr)
	}
	return w.finish(ctx, parent.EventID(), result)
}

// processEvent runs one event to a terminal state without writing it.
// Events for object types with no registered rule sets are skipped as
// UNINDEXED, which is not an error.
func (w *Worker) processEvent(ctx context.Context, ev events.Handle) (events.ProcessingState, error) {
	sev := ev.Event()
	if sev.HasStorageType() {
		sets, err := w.typeStorage.ListRuleSets(sev.StorageType())
		if err != nil {
			return events.StateFailed, errors.AsIndexing(err)
		}
		if len(sets) == 0 {
			w.log.Info("skipping event, no rule sets for type",
				"event", string(ev.EventID()),
				"type", sev.Type().String(),
				"storage_type", sev.StorageType().String())
			return events.StateUnindexed, nil
		}
	}
	w.log.Info("processing event",
		"event", string(ev.EventID()),
		"child", ev.IsChild(),
		"type", sev.Type().String(),
		"guid", sev.GUID().String())
	start := time.Now()
	err := w.retrier.Run(ctx, ev, func() error {
		return w.dispatch(ctx, sev)
	})
	if stderrors.Is(err, errNoStorageType) {
		w.log.Info("skipping event, storage type unknown after refresh",
			"event", string(ev.EventID()),
			"guid", sev.GUID().String())
		return events.StateUnindexed, nil
	}
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error("error processing event",
				"event", string(ev.EventID()), "error", err)
		}
		return events.StateFailed, err
	}
	w.log.Info("processed event",
		"event", string(ev.EventID()), "duration", time.Since(start))
	return events.StateIndexed, nil
}

// dispatch performs the index mutation one event calls for. The event is
// first refreshed against the source so stale events act on current state.
func (w *Worker) dispatch(ctx context.Context, ev events.StatusEvent) error {
	h, err := w.indexer.Handler(ev.StorageCode())
	if err != nil {
		return err
	}
	updated, err := h.UpdateObjectEvent(ctx, ev)
	if err != nil {
		return err
	}
	store := w.indexer.Storage()
	g := updated.GUID()
	switch updated.Type() {
	case events.NewVersion:
		if !updated.HasStorageType() {
			return errNoStorageType
		}
		exists, err := store.CheckParentGUIDsExist(ctx, []guid.GUID{g})
		if err != nil {
			return retriableIfPlain(err)
		}
		if exists[g] && !updated.OverwriteExisting() {
			// already indexed; just re-assert visibility so a public
			// flag change is not lost
			w.log.Info("skipping already indexed object", "guid", g.String())
			if updated.IsPublic() {
				return retriableIfPlain(store.PublishObjects(ctx, []guid.GUID{g}))
			}
			return retriableIfPlain(store.UnpublishObjects(ctx, []guid.GUID{g}))
		}
		return w.indexer.IndexObject(ctx, g, updated.StorageType(),
			updated.Timestamp(), updated.IsPublic(), nil, nil)
	case events.DeleteAllVersions:
		return retriableIfPlain(store.DeleteAllVersions(ctx, g))
	case events.UndeleteAllVersions:
		return retriableIfPlain(store.UndeleteAllVersions(ctx, g))
	case events.RenameAllVersions:
		return retriableIfPlain(store.SetNameOnAllObjectVersions(ctx, g, updated.NewName()))
	case events.PublishAllVersions:
		return retriableIfPlain(store.PublishAllVersions(ctx, g))
	case events.UnpublishAllVersions:
		return retriableIfPlain(store.UnpublishAllVersions(ctx, g))
	default:
		return errors.Unprocessable(errors.CodeOther,
			fmt.Sprintf("unsupported event type: %s", updated.Type()), nil)
	}
}

// finish writes the single terminal state for an event. A store failure
// after retries is fatal since the queue can no longer be trusted.
func (w *Worker) finish(ctx context.Context, id events.ID, state events.ProcessingState) error {
	return w.retrier.Run(ctx, nil, func() error {
		ok, err := w.storage.SetState(ctx, id, events.StateProcessing, state)
		if err != nil {
			return err
		}
		if !ok {
			w.log.Warn("event changed state underneath the worker",
				"event", string(id), "wanted", state.String())
		}
		return nil
	})
}

func (w *Worker) finishError(ctx context.Context, id events.ID, cause error) error {
	return w.retrier.Run(ctx, nil, func() error {
		ok, err := w.storage.SetStateError(ctx, id, events.StateProcessing,
			errors.CodeOf(cause), cause)
		if err != nil {
			return err
		}
		if !ok {
			w.log.Warn("event changed state underneath the worker",
				"event", string(id), "wanted", events.StateFailed.String())
		}
		return nil
	})
}

// retriableIfPlain classifies bare index storage errors as retriable, the
// safe default for a remote index.
func retriableIfPlain(err error) error {
	if err == nil {
		return nil
	}
	if errors.KindOf(err) != errors.KindNone {
		return err
	}
	return errors.Retriable(errors.CodeOther, err.Error(), err)
}
