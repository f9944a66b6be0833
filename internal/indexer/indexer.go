// Package indexer loads objects from their source systems, applies every
// registered rule set and writes the resulting documents to the search
// index.
//
// Indexing one object may recurse: guid and lookup transforms pull in
// referenced objects, which are loaded and parsed the same way. All loads
// spool through scratch files under a per-indexer directory that is locked
// against concurrent indexers and deleted on close.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/reefdata/objsearch/internal/errors"
	"github.com/reefdata/objsearch/internal/extract"
	"github.com/reefdata/objsearch/internal/guid"
	"github.com/reefdata/objsearch/internal/handler"
	"github.com/reefdata/objsearch/internal/retrier"
	"github.com/reefdata/objsearch/internal/rules"
)

// DefaultMaxSubObjects bounds the sub-objects indexed per object. Exceeding
// it makes the event unprocessable, which bounds worst-case memory and time
// for pathological inputs.
const DefaultMaxSubObjects = 10000

// DefaultMaxRefPathDepth bounds recursive lookups through object references.
const DefaultMaxRefPathDepth = 50

// Config configures an Indexer.
type Config struct {
	// ID names the indexer in scratch paths and logs.
	ID string

	// ScratchDir is the root under which the indexer creates its private
	// scratch directory.
	ScratchDir string

	// TypeStorage serves the registered rule sets.
	TypeStorage rules.TypeStorage

	// IndexingStorage is the search index.
	IndexingStorage IndexingStorage

	// Handlers maps storage codes to their event handlers.
	Handlers map[string]handler.EventHandler

	// Retrier wraps the parse and index steps.
	Retrier *retrier.Retrier

	// MaxSubObjects overrides DefaultMaxSubObjects when > 0.
	MaxSubObjects int

	// MaxRefPathDepth overrides DefaultMaxRefPathDepth when > 0.
	MaxRefPathDepth int

	// Log is the structured logger. Defaults to slog.Default.
	Log *slog.Logger
}

// Indexer indexes objects. Not safe for concurrent use; each worker owns one.
type Indexer struct {
	id              string
	scratchDir      string
	lock            *flock.Flock
	typeStorage     rules.TypeStorage
	indexingStorage IndexingStorage
	handlers        map[string]handler.EventHandler
	retrier         *retrier.Retrier
	maxSubObjects   int
	maxRefPathDepth int
	log             *slog.Logger
}

// New creates an Indexer and claims its scratch directory. The directory is
// guarded by a file lock so a second indexer reusing the same id fails fast
// instead of corrupting scratch files.
func New(cfg Config) (*Indexer, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("indexer requires an id")
	}
	if cfg.TypeStorage == nil || cfg.IndexingStorage == nil || cfg.Retrier == nil {
		return nil, fmt.Errorf("indexer requires type storage, indexing storage and a retrier")
	}
	if len(cfg.Handlers) == 0 {
		return nil, fmt.Errorf("indexer requires at least one event handler")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	scratch := filepath.Join(cfg.ScratchDir, cfg.ID)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch dir %s: %w", scratch, err)
	}
	lock := flock.New(filepath.Join(scratch, ".lock"))
	held, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking scratch dir %s: %w", scratch, err)
	}
	if !held {
		return nil, fmt.Errorf("scratch dir %s is locked by another indexer", scratch)
	}
	maxSub := cfg.MaxSubObjects
	if maxSub < 1 {
		maxSub = DefaultMaxSubObjects
	}
	maxDepth := cfg.MaxRefPathDepth
	if maxDepth < 1 {
		maxDepth = DefaultMaxRefPathDepth
	}
	return &Indexer{
		id:              cfg.ID,
		scratchDir:      scratch,
		lock:            lock,
		typeStorage:     cfg.TypeStorage,
		indexingStorage: cfg.IndexingStorage,
		handlers:        cfg.Handlers,
		retrier:         cfg.Retrier,
		maxSubObjects:   maxSub,
		maxRefPathDepth: maxDepth,
		log:             log,
	}, nil
}

// Close releases the scratch directory.
func (i *Indexer) Close() error {
	if err := i.lock.Unlock(); err != nil {
		return err
	}
	if err := os.RemoveAll(i.scratchDir); err != nil {
		i.log.Warn("could not remove scratch dir, delete manually",
			"dir", i.scratchDir, "error", err)
	}
	return nil
}

// Storage returns the search index collaborator.
func (i *Indexer) Storage() IndexingStorage { return i.indexingStorage }

// Handler returns the event handler for a storage code, or an unprocessable
// error when none is registered.
func (i *Indexer) Handler(storageCode string) (handler.EventHandler, error) {
	h, ok := i.handlers[storageCode]
	if !ok {
		return nil, errors.Unprocessable(errors.CodeOther,
			fmt.Sprintf("no event handler for storage code %s is registered", storageCode), nil)
	}
	return h, nil
}

// IndexObject loads the object, evaluates every rule set registered for its
// storage type and writes the results to the index. lookup carries caches
// across recursive calls; pass nil at the top level and a fresh provider
// scoped to this invocation is created. refPath is the reference path taken
// to reach the object, empty at the top level.
func (i *Indexer) IndexObject(
	ctx context.Context,
	g guid.GUID,
	storageType rules.StorageObjectType,
	timestamp time.Time,
	isPublic bool,
	lookup extract.LookupProvider,
	refPath []guid.GUID,
) error {
	if lookup == nil {
		lookup = newLookupProvider(i)
	}
	h, err := i.Handler(g.StorageCode)
	if err != nil {
		return err
	}
	tempFile, err := i.scratchFile(g.StorageCode)
	if err != nil {
		return errors.FatalRetriable(errors.CodeOther, err.Error(), err)
	}
	defer os.Remove(tempFile)

	newRefPath := make([]guid.GUID, len(refPath), len(refPath)+1)
	copy(newRefPath, refPath)
	newRefPath = append(newRefPath, g)

	start := time.Now()
	src, err := h.Load(ctx, newRefPath, tempFile)
	if err != nil {
		return err
	}
	i.log.Info("loaded object", "guid", g.String(), "duration", time.Since(start))

	ruleSets, err := i.typeStorage.ListRuleSets(storageType)
	if err != nil {
		return err
	}
	rules.SortSubObjectFirst(ruleSets)
	for _, rs := range ruleSets {
		parseStart := time.Now()
		parsed, err := retrier.Func(ctx, i.retrier, nil, func() (*parseResult, error) {
			return i.parseRuleSet(ctx, g, lookup, newRefPath, rs, tempFile)
		})
		if err != nil {
			return err
		}
		i.log.Info("parsed object",
			"guid", g.String(),
			"search_type", rs.SearchType.String(),
			"objects", len(parsed.objects),
			"duration", time.Since(parseStart))
		indexStart := time.Now()
		err = i.retrier.Run(ctx, nil, func() error {
			err := i.indexingStorage.IndexObjects(ctx, rs, src, timestamp,
				parsed.parentJSON, g, parsed.objects, isPublic)
			if err != nil && errors.KindOf(err) == errors.KindNone {
				err = errors.FatalRetriable(errors.CodeOther, err.Error(), err)
			}
			return err
		})
		if err != nil {
			return err
		}
		i.log.Info("indexed object",
			"guid", g.String(),
			"search_type", rs.SearchType.String(),
			"duration", time.Since(indexStart))
	}
	return nil
}

type parseResult struct {
	parentJSON []byte
	objects    map[guid.GUID]extract.ParsedObject
}

// parseRuleSet evaluates one rule set against the object spooled in the
// scratch file. Nothing is committed; any extraction failure discards the
// whole result, so a rule set is indexed completely or not at all.
func (i *Indexer) parseRuleSet(
	ctx context.Context,
	g guid.GUID,
	lookup extract.LookupProvider,
	refPath []guid.GUID,
	rs *rules.RuleSet,
	docPath string,
) (*parseResult, error) {
	doc, err := os.ReadFile(docPath)
	if err != nil {
		// the scratch file exists at this point, so a read failure
		// means something is badly wrong with the disk
		return nil, errors.FatalRetriable(errors.CodeOther,
			"reading scratch file: "+err.Error(), err)
	}
	var parentJSON []byte
	if rs.HasSubObjects() {
		parentJSON = doc
	}
	split, err := splitObjects(rs, g, doc)
	if err != nil {
		return nil, err
	}
	if len(split) > i.maxSubObjects {
		return nil, errors.Unprocessable(errors.CodeSubobjectCount, fmt.Sprintf(
			"object %s has %d subobjects, exceeding the limit of %d",
			g, len(split), i.maxSubObjects), nil)
	}
	objects := make(map[guid.GUID]extract.ParsedObject, len(split))
	for subGUID, raw := range split {
		kw, err := extract.Keywords(ctx, lookup, refPath, rs, raw, parentJSON)
		if err != nil {
			return nil, err
		}
		objects[subGUID] = extract.ParsedObject{JSON: raw, Keywords: kw}
	}
	return &parseResult{parentJSON: parentJSON, objects: objects}, nil
}

// scratchFile creates a fresh scratch file under the per-storage-code
// subdirectory.
func (i *Indexer) scratchFile(storageCode string) (string, error) {
	dir := filepath.Join(i.scratchDir, storageCode)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, "src_response_*.json")
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	return name, nil
}
