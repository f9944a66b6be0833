package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/reefdata/objsearch/internal/errors"
	"github.com/reefdata/objsearch/internal/events"
	"github.com/reefdata/objsearch/internal/guid"
	"github.com/reefdata/objsearch/internal/rules"
)

// FSHandler serves objects from a directory tree, one directory per access
// group, one subdirectory per object:
//
//	<root>/<group>/<object>/meta.json
//	<root>/<group>/<object>/v1.json, v2.json, ...
//
// meta.json carries the object's name, storage type and creator. Useful for
// local runs and integration tests; production sources implement
// EventHandler against their own APIs.
type FSHandler struct {
	storageCode string
	root        string
}

var _ EventHandler = (*FSHandler)(nil)

// objectMeta is the meta.json schema.
type objectMeta struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Creator string `json:"creator"`
}

// NewFSHandler creates a handler serving objects under root for the given
// storage code.
func NewFSHandler(storageCode, root string) (*FSHandler, error) {
	if storageCode == "" {
		return nil, fmt.Errorf("fs handler requires a storage code")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("fs handler root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("fs handler root %s is not a directory", root)
	}
	return &FSHandler{storageCode: storageCode, root: root}, nil
}

// StorageCode implements EventHandler.
func (h *FSHandler) StorageCode() string { return h.storageCode }

// IsExpandable implements EventHandler.
func (h *FSHandler) IsExpandable(ev events.StoredStatusEvent) bool {
	switch ev.Event().Type() {
	case events.PublishAccessGroup, events.UnpublishAccessGroup, events.CopyAccessGroup:
		return true
	}
	return false
}

// Expand implements EventHandler. Access-group events fan out into one child
// per object in the group.
func (h *FSHandler) Expand(ctx context.Context, ev events.StoredStatusEvent) (ChildIterator, error) {
	group := ev.Event().AccessGroupID()
	groupDir := filepath.Join(h.root, strconv.Itoa(group))
	entries, err := os.ReadDir(groupDir)
	if err != nil {
		return nil, errors.Unprocessable(errors.CodeExpansion,
			fmt.Sprintf("access group %d: %v", group, err), err)
	}
	var children []events.ChildStatusEvent
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		objectID := e.Name()
		version, meta, err := h.latest(group, objectID)
		if err != nil {
			return nil, err
		}
		cfg := events.StatusEventConfig{
			StorageCode:   h.storageCode,
			StorageType:   meta.Type,
			Timestamp:     ev.Event().Timestamp(),
			AccessGroupID: group,
			ObjectID:      objectID,
			Version:       version,
			IsPublic:      ev.Event().IsPublic(),
		}
		switch ev.Event().Type() {
		case events.PublishAccessGroup:
			cfg.Type = events.PublishAllVersions
		case events.UnpublishAccessGroup:
			cfg.Type = events.UnpublishAllVersions
		case events.CopyAccessGroup:
			cfg.Type = events.NewVersion
			cfg.OverwriteExisting = true
		default:
			return nil, errors.Unprocessable(errors.CodeExpansion,
				fmt.Sprintf("event type %s is not expandable", ev.Event().Type()), nil)
		}
		child, err := events.NewStatusEvent(cfg)
		if err != nil {
			return nil, errors.Unprocessable(errors.CodeExpansion, err.Error(), err)
		}
		children = append(children, events.NewChild(child, ev.EventID()))
	}
	return NewSliceIterator(children), nil
}

// Load implements EventHandler.
func (h *FSHandler) Load(ctx context.Context, refPath []guid.GUID, dest string) (SourceData, error) {
	if len(refPath) == 0 {
		return SourceData{}, errors.Unprocessable(errors.CodeOther,
			"load requires a non-empty reference path", nil)
	}
	g := refPath[len(refPath)-1]
	version := g.Version
	meta, err := h.meta(g.AccessGroupID, g.ObjectID)
	if err != nil {
		return SourceData{}, err
	}
	if version == 0 {
		version, _, err = h.latest(g.AccessGroupID, g.ObjectID)
		if err != nil {
			return SourceData{}, err
		}
	}
	srcPath := h.versionFile(g.AccessGroupID, g.ObjectID, version)
	src, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return SourceData{}, errors.Unprocessable(errors.CodeGUIDNotFound,
				fmt.Sprintf("object %s not found", g), err)
		}
		return SourceData{}, errors.Retriable(errors.CodeOther, err.Error(), err)
	}
	defer src.Close()
	out, err := os.Create(dest)
	if err != nil {
		return SourceData{}, errors.Retriable(errors.CodeOther, err.Error(), err)
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return SourceData{}, errors.Retriable(errors.CodeOther, err.Error(), err)
	}
	return SourceData{
		Path:    dest,
		Name:    meta.Name,
		Creator: meta.Creator,
	}, nil
}

// BuildReferencePaths implements EventHandler. The path string is the full
// chain of references, which uniquely identifies a resolution.
func (h *FSHandler) BuildReferencePaths(refPath []guid.GUID, refs []guid.GUID) (map[guid.GUID]string, error) {
	prefix := make([]string, 0, len(refPath))
	for _, g := range refPath {
		prefix = append(prefix, g.Ref())
	}
	out := make(map[guid.GUID]string, len(refs))
	for _, ref := range refs {
		out[ref] = strings.Join(append(prefix[:len(prefix):len(prefix)], ref.Ref()), ";")
	}
	return out, nil
}

// ResolveReferences implements EventHandler. Versionless references resolve
// to the object's latest version.
func (h *FSHandler) ResolveReferences(ctx context.Context, refPath []guid.GUID, refs []guid.GUID) ([]ResolvedReference, error) {
	out := make([]ResolvedReference, 0, len(refs))
	for _, ref := range refs {
		version := ref.Version
		var meta *objectMeta
		var err error
		if version == 0 {
			version, meta, err = h.latest(ref.AccessGroupID, ref.ObjectID)
		} else {
			meta, err = h.meta(ref.AccessGroupID, ref.ObjectID)
		}
		if err != nil {
			return nil, err
		}
		path := h.versionFile(ref.AccessGroupID, ref.ObjectID, version)
		info, err := os.Stat(path)
		if err != nil {
			return nil, errors.Unprocessable(errors.CodeGUIDNotFound,
				fmt.Sprintf("reference %s not found", ref), err)
		}
		out = append(out, ResolvedReference{
			Reference: ref,
			Resolved:  ref.Parent().WithVersion(version),
			Type: rules.StorageObjectType{
				StorageCode: h.storageCode,
				Type:        meta.Type,
			},
			Timestamp: info.ModTime().UTC(),
		})
	}
	return out, nil
}

// UpdateObjectEvent implements EventHandler. Versionless object events are
// pinned to the object's current latest version.
func (h *FSHandler) UpdateObjectEvent(ctx context.Context, ev events.StatusEvent) (events.StatusEvent, error) {
	if ev.ObjectID() == "" || ev.Version() != 0 {
		return ev, nil
	}
	version, meta, err := h.latest(ev.AccessGroupID(), ev.ObjectID())
	if err != nil {
		return events.StatusEvent{}, err
	}
	return events.NewStatusEvent(events.StatusEventConfig{
		Type:              ev.Type(),
		StorageCode:       h.storageCode,
		StorageType:       meta.Type,
		Timestamp:         ev.Timestamp(),
		AccessGroupID:     ev.AccessGroupID(),
		ObjectID:          ev.ObjectID(),
		Version:           version,
		NewName:           ev.NewName(),
		IsPublic:          ev.IsPublic(),
		OverwriteExisting: ev.OverwriteExisting(),
	})
}

func (h *FSHandler) objectDir(group int, objectID string) string {
	return filepath.Join(h.root, strconv.Itoa(group), objectID)
}

func (h *FSHandler) versionFile(group int, objectID string, version int) string {
	return filepath.Join(h.objectDir(group, objectID), fmt.Sprintf("v%d.json", version))
}

func (h *FSHandler) meta(group int, objectID string) (*objectMeta, error) {
	raw, err := os.ReadFile(filepath.Join(h.objectDir(group, objectID), "meta.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Unprocessable(errors.CodeGUIDNotFound,
				fmt.Sprintf("object %d/%s has no metadata", group, objectID), err)
		}
		return nil, errors.Retriable(errors.CodeOther, err.Error(), err)
	}
	var meta objectMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, errors.Unprocessable(errors.CodeParseError,
			fmt.Sprintf("object %d/%s has bad metadata", group, objectID), err)
	}
	return &meta, nil
}

// latest finds the highest version file of an object.
func (h *FSHandler) latest(group int, objectID string) (int, *objectMeta, error) {
	meta, err := h.meta(group, objectID)
	if err != nil {
		return 0, nil, err
	}
	entries, err := os.ReadDir(h.objectDir(group, objectID))
	if err != nil {
		return 0, nil, errors.Unprocessable(errors.CodeGUIDNotFound,
			fmt.Sprintf("object %d/%s not found", group, objectID), err)
	}
	var versions []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "v") || !strings.HasSuffix(name, ".json") {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "v"), ".json"))
		if err == nil && v > 0 {
			versions = append(versions, v)
		}
	}
	if len(versions) == 0 {
		return 0, nil, errors.Unprocessable(errors.CodeGUIDNotFound,
			fmt.Sprintf("object %d/%s has no versions", group, objectID), nil)
	}
	sort.Ints(versions)
	return versions[len(versions)-1], meta, nil
}
