package rules

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/reefdata/objsearch/internal/errors"
)

// TypeStorage serves registered rule sets to the indexer.
type TypeStorage interface {
	// ListRuleSets returns every rule set registered for the storage
	// type, sub-object sets first. An empty list means the type is not
	// searchable, which is not an error.
	ListRuleSets(storageType StorageObjectType) ([]*RuleSet, error)

	// GetRuleSet returns the rule set for a search type. Returns an
	// unprocessable TYPE_NOT_FOUND error when the type is unregistered.
	GetRuleSet(searchType SearchObjectType) (*RuleSet, error)

	// GetRuleSetByName returns the highest-versioned rule set registered
	// under the search type name. Returns an unprocessable TYPE_NOT_FOUND
	// error when no version is registered.
	GetRuleSetByName(name string) (*RuleSet, error)
}

// FileTypeStorage loads rule sets from a directory of YAML files and serves
// them from memory. When watching is enabled, created or modified files are
// reloaded without a restart; a file that fails to parse keeps its previous
// version.
type FileTypeStorage struct {
	dir string
	log *slog.Logger

	mu     sync.RWMutex
	byFile map[string]*RuleSet

	watcher *fsnotify.Watcher
	done    chan struct{}
}

var _ TypeStorage = (*FileTypeStorage)(nil)

// NewFileTypeStorage loads every *.yaml rule set under dir.
func NewFileTypeStorage(dir string, log *slog.Logger) (*FileTypeStorage, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &FileTypeStorage{dir: dir, log: log, byFile: map[string]*RuleSet{}}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the whole rule set directory.
func (s *FileTypeStorage) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("reading rule set dir %s: %w", s.dir, err)
	}
	loaded := map[string]*RuleSet{}
	for _, e := range entries {
		if e.IsDir() || !isRuleFile(e.Name()) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		rs, err := Load(path)
		if err != nil {
			return err
		}
		loaded[path] = rs
	}
	s.mu.Lock()
	s.byFile = loaded
	s.mu.Unlock()
	return nil
}

// Watch reloads individual rule files as they are created or modified.
// Call Close to stop watching.
func (s *FileTypeStorage) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating rule set watcher: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return fmt.Errorf("watching rule set dir %s: %w", s.dir, err)
	}
	s.watcher = w
	s.done = make(chan struct{})
	go s.watchLoop()
	return nil
}

func (s *FileTypeStorage) watchLoop() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !isRuleFile(filepath.Base(ev.Name)) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
				s.reloadFile(ev.Name)
			case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
				s.mu.Lock()
				delete(s.byFile, ev.Name)
				s.mu.Unlock()
				s.log.Info("rule set removed", "file", ev.Name)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("rule set watcher error", "error", err)
		}
	}
}

func (s *FileTypeStorage) reloadFile(path string) {
	rs, err := Load(path)
	if err != nil {
		// keep the previous version of the file, if any
		s.log.Warn("ignoring unparseable rule set", "file", path, "error", err)
		return
	}
	s.mu.Lock()
	s.byFile[path] = rs
	s.mu.Unlock()
	s.log.Info("rule set loaded", "file", path, "search_type", rs.SearchType.String())
}

// Close stops the directory watcher if one is running.
func (s *FileTypeStorage) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	return s.watcher.Close()
}

// ListRuleSets implements TypeStorage.
func (s *FileTypeStorage) ListRuleSets(storageType StorageObjectType) ([]*RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*RuleSet
	for _, rs := range s.byFile {
		if rs.StorageType.StorageCode == storageType.StorageCode &&
			rs.StorageType.Type == storageType.Type {
			out = append(out, rs)
		}
	}
	SortSubObjectFirst(out)
	return out, nil
}

// GetRuleSet implements TypeStorage.
func (s *FileTypeStorage) GetRuleSet(searchType SearchObjectType) (*RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rs := range s.byFile {
		if rs.SearchType == searchType {
			return rs, nil
		}
	}
	return nil, errors.Unprocessable(errors.CodeTypeNotFound,
		fmt.Sprintf("no rule set registered for search type %s", searchType), nil)
}

// GetRuleSetByName implements TypeStorage.
func (s *FileTypeStorage) GetRuleSetByName(name string) (*RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *RuleSet
	for _, rs := range s.byFile {
		if rs.SearchType.Type != name {
			continue
		}
		if best == nil || rs.SearchType.Version > best.SearchType.Version {
			best = rs
		}
	}
	if best == nil {
		return nil, errors.Unprocessable(errors.CodeTypeNotFound,
			fmt.Sprintf("no rule set registered for search type %q", name), nil)
	}
	return best, nil
}

// SortSubObjectFirst orders rule sets so that sets naming a sub-object type
// come before whole-object sets. Sub-object extraction runs first so its
// results populate caches the parent-level extraction can reuse. Ties break
// on the search type name for a stable order.
func SortSubObjectFirst(sets []*RuleSet) {
	sort.SliceStable(sets, func(i, j int) bool {
		si, sj := sets[i].HasSubObjects(), sets[j].HasSubObjects()
		if si != sj {
			return si
		}
		return sets[i].SearchType.String() < sets[j].SearchType.String()
	})
}

func isRuleFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
