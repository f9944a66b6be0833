// Package sqlite implements the durable event queue on SQLite.
//
// The queue is append-mostly: events are inserted once and their state column
// is updated in place, so the table doubles as an audit log. Claiming relies
// on SQLite's single-writer semantics; the claim is one UPDATE statement with
// a subselect, which makes it atomic without explicit transactions.
package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/reefdata/objsearch/internal/errors"
	"github.com/reefdata/objsearch/internal/events"
)

const (
	maxErrorCodeLen    = 20
	maxErrorMessageLen = 1000
	maxErrorTraceLen   = 100000

	maxListLimit = 10000
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id                 TEXT PRIMARY KEY,
	event_type         TEXT NOT NULL,
	storage_code       TEXT NOT NULL,
	storage_type       TEXT NOT NULL DEFAULT '',
	storage_type_ver   INTEGER NOT NULL DEFAULT 0,
	event_time         INTEGER NOT NULL,
	access_group       INTEGER NOT NULL DEFAULT 0,
	object_id          TEXT NOT NULL DEFAULT '',
	version            INTEGER NOT NULL DEFAULT 0,
	new_name           TEXT NOT NULL DEFAULT '',
	is_public          INTEGER NOT NULL DEFAULT 0,
	overwrite_existing INTEGER NOT NULL DEFAULT 0,
	state              TEXT NOT NULL,
	update_time        INTEGER NOT NULL DEFAULT 0,
	updater            TEXT NOT NULL DEFAULT '',
	stored_by          TEXT NOT NULL DEFAULT '',
	store_time         INTEGER NOT NULL,
	error_code         TEXT NOT NULL DEFAULT '',
	error_message      TEXT NOT NULL DEFAULT '',
	error_trace        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_state_time ON events(state, event_time);

CREATE TABLE IF NOT EXISTS event_worker_codes (
	event_id    TEXT NOT NULL REFERENCES events(id),
	worker_code TEXT NOT NULL,
	PRIMARY KEY (event_id, worker_code)
);
CREATE INDEX IF NOT EXISTS idx_worker_codes_code ON event_worker_codes(worker_code);

CREATE TABLE IF NOT EXISTS child_events (
	id                 TEXT PRIMARY KEY,
	parent_id          TEXT NOT NULL,
	event_type         TEXT NOT NULL,
	storage_code       TEXT NOT NULL,
	storage_type       TEXT NOT NULL DEFAULT '',
	storage_type_ver   INTEGER NOT NULL DEFAULT 0,
	event_time         INTEGER NOT NULL,
	access_group       INTEGER NOT NULL DEFAULT 0,
	object_id          TEXT NOT NULL DEFAULT '',
	version            INTEGER NOT NULL DEFAULT 0,
	new_name           TEXT NOT NULL DEFAULT '',
	is_public          INTEGER NOT NULL DEFAULT 0,
	overwrite_existing INTEGER NOT NULL DEFAULT 0,
	store_time         INTEGER NOT NULL,
	error_code         TEXT NOT NULL,
	error_message      TEXT NOT NULL,
	error_trace        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_child_events_parent ON child_events(parent_id);
`

// Store is the SQLite event queue. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

var _ events.Storage = (*Store)(nil)

// Open opens (creating if necessary) the event queue at path. ":memory:"
// opens a private in-memory queue, mostly useful in tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	// modernc's driver serializes writes per connection; a single
	// connection avoids SQLITE_BUSY entirely and keeps the claim atomic.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("event store pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("event store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Store implements events.Storage.
func (s *Store) Store(
	ctx context.Context,
	ev events.StatusEvent,
	state events.ProcessingState,
	workerCodes []string,
	storedBy string,
) (events.StoredStatusEvent, error) {
	id := events.ID(newID())
	if len(workerCodes) == 0 {
		workerCodes = []string{events.DefaultWorkerCode}
	}
	storeTime := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return events.StoredStatusEvent{}, storeErr(err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (
			id, event_type, storage_code, storage_type, storage_type_ver,
			event_time, access_group, object_id, version, new_name,
			is_public, overwrite_existing, state, stored_by, store_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(id), ev.Type().String(), ev.StorageCode(), ev.StorageType().Type,
		ev.StorageType().Version, ev.Timestamp().UnixMilli(), ev.AccessGroupID(),
		ev.ObjectID(), ev.Version(), ev.NewName(), boolInt(ev.IsPublic()),
		boolInt(ev.OverwriteExisting()), state.String(), storedBy,
		storeTime.UnixMilli())
	if err != nil {
		return events.StoredStatusEvent{}, storeErr(err)
	}
	for _, code := range workerCodes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO event_worker_codes (event_id, worker_code) VALUES (?, ?)`,
			string(id), code); err != nil {
			return events.StoredStatusEvent{}, storeErr(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return events.StoredStatusEvent{}, storeErr(err)
	}
	return events.NewStored(events.StoredConfig{
		Event:       ev,
		ID:          id,
		State:       state,
		WorkerCodes: workerCodes,
		StoredBy:    storedBy,
		StoreTime:   storeTime,
	})
}

// StoreChild implements events.Storage.
func (s *Store) StoreChild(
	ctx context.Context,
	child events.ChildStatusEvent,
	errorCode string,
	cause error,
) error {
	ev := child.Event()
	msg, trace := errorContent(cause)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO child_events (
			id, parent_id, event_type, storage_code, storage_type,
			storage_type_ver, event_time, access_group, object_id, version,
			new_name, is_public, overwrite_existing, store_time,
			error_code, error_message, error_trace
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		newID(), string(child.EventID()), ev.Type().String(), ev.StorageCode(),
		ev.StorageType().Type, ev.StorageType().Version,
		ev.Timestamp().UnixMilli(), ev.AccessGroupID(), ev.ObjectID(),
		ev.Version(), ev.NewName(), boolInt(ev.IsPublic()),
		boolInt(ev.OverwriteExisting()), time.Now().UTC().UnixMilli(),
		truncate(errorCode, maxErrorCodeLen), msg, trace)
	if err != nil {
		return storeErr(err)
	}
	return nil
}

const eventColumns = `id, event_type, storage_code, storage_type,
	storage_type_ver, event_time, access_group, object_id, version, new_name,
	is_public, overwrite_existing, state, update_time, updater, stored_by,
	store_time, error_code, error_message, error_trace`

// Get implements events.Storage.
func (s *Store) Get(ctx context.Context, id events.ID) (*events.StoredStatusEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ?`, string(id))
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err)
	}
	codes, err := s.workerCodes(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.build(ev, codes)
}

// GetByState implements events.Storage.
func (s *Store) GetByState(
	ctx context.Context,
	state events.ProcessingState,
	limit int,
) ([]events.StoredStatusEvent, error) {
	if limit < 1 || limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE state = ?
		ORDER BY event_time ASC LIMIT ?`, state.String(), limit)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	var raws []rawEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		raws = append(raws, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	out := make([]events.StoredStatusEvent, 0, len(raws))
	for _, raw := range raws {
		codes, err := s.workerCodes(ctx, events.ID(raw.id))
		if err != nil {
			return nil, err
		}
		stored, err := s.build(raw, codes)
		if err != nil {
			return nil, err
		}
		out = append(out, *stored)
	}
	return out, nil
}

// Claim implements events.Storage. The state change and candidate selection
// happen in a single UPDATE, so two workers can never claim the same event.
func (s *Store) Claim(
	ctx context.Context,
	from events.ProcessingState,
	workerCodes []string,
	to events.ProcessingState,
	updater string,
) (*events.StoredStatusEvent, error) {
	if len(workerCodes) == 0 {
		workerCodes = []string{events.DefaultWorkerCode}
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(workerCodes)), ",")
	args := []any{to.String(), time.Now().UTC().UnixMilli(), updater, from.String()}
	for _, code := range workerCodes {
		args = append(args, code)
	}
	args = append(args, from.String())

	row := s.db.QueryRowContext(ctx, `
		UPDATE events SET state = ?, update_time = ?, updater = ?
		WHERE id = (
			SELECT e.id FROM events e
			JOIN event_worker_codes w ON w.event_id = e.id
			WHERE e.state = ? AND w.worker_code IN (`+placeholders+`)
			ORDER BY e.event_time ASC LIMIT 1
		) AND state = ?
		RETURNING id`, args...)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, storeErr(err)
	}
	return s.Get(ctx, events.ID(id))
}

// SetState implements events.Storage.
func (s *Store) SetState(ctx context.Context, id events.ID, from, to events.ProcessingState) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET state = ?, update_time = ? WHERE id = ? AND state = ?`,
		to.String(), time.Now().UTC().UnixMilli(), string(id), from.String())
	if err != nil {
		return false, storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr(err)
	}
	return n > 0, nil
}

// SetStateError implements events.Storage.
func (s *Store) SetStateError(
	ctx context.Context,
	id events.ID,
	from events.ProcessingState,
	errorCode string,
	cause error,
) (bool, error) {
	msg, trace := errorContent(cause)
	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET state = ?, update_time = ?,
			error_code = ?, error_message = ?, error_trace = ?
		WHERE id = ? AND state = ?`,
		events.StateFailed.String(), time.Now().UTC().UnixMilli(),
		truncate(errorCode, maxErrorCodeLen), msg, trace,
		string(id), from.String())
	if err != nil {
		return false, storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr(err)
	}
	return n > 0, nil
}

// ResetFailed implements events.Storage.
func (s *Store) ResetFailed(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE events SET state = ?, update_time = ? WHERE state = ?`,
		events.StateUnprocessed.String(), time.Now().UTC().UnixMilli(),
		events.StateFailed.String())
	if err != nil {
		return storeErr(err)
	}
	return nil
}

type rawEvent struct {
	id, eventType, storageCode, storageType        string
	storageTypeVer                                 int
	eventTime, updateTime, storeTime               int64
	accessGroup                                    int
	objectID                                       string
	version                                        int
	newName                                        string
	isPublic, overwrite                            int
	state, updater, storedBy                       string
	errorCode, errorMessage, errorTrace            string
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (rawEvent, error) {
	var r rawEvent
	err := row.Scan(&r.id, &r.eventType, &r.storageCode, &r.storageType,
		&r.storageTypeVer, &r.eventTime, &r.accessGroup, &r.objectID,
		&r.version, &r.newName, &r.isPublic, &r.overwrite, &r.state,
		&r.updateTime, &r.updater, &r.storedBy, &r.storeTime,
		&r.errorCode, &r.errorMessage, &r.errorTrace)
	return r, err
}

func (s *Store) workerCodes(ctx context.Context, id events.ID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT worker_code FROM event_worker_codes WHERE event_id = ? ORDER BY worker_code`,
		string(id))
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, storeErr(err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return codes, nil
}

func (s *Store) build(r rawEvent, codes []string) (*events.StoredStatusEvent, error) {
	eventType, err := events.ParseEventType(r.eventType)
	if err != nil {
		return nil, storeErr(err)
	}
	state, err := events.ParseState(r.state)
	if err != nil {
		return nil, storeErr(err)
	}
	ev, err := events.NewStatusEvent(events.StatusEventConfig{
		Type:              eventType,
		StorageCode:       r.storageCode,
		StorageType:       r.storageType,
		StorageTypeVer:    r.storageTypeVer,
		Timestamp:         time.UnixMilli(r.eventTime).UTC(),
		AccessGroupID:     r.accessGroup,
		ObjectID:          r.objectID,
		Version:           r.version,
		NewName:           r.newName,
		IsPublic:          r.isPublic != 0,
		OverwriteExisting: r.overwrite != 0,
	})
	if err != nil {
		return nil, storeErr(err)
	}
	var updateTime time.Time
	if r.updateTime != 0 {
		updateTime = time.UnixMilli(r.updateTime).UTC()
	}
	stored, err := events.NewStored(events.StoredConfig{
		Event:       ev,
		ID:          events.ID(r.id),
		State:       state,
		UpdateTime:  updateTime,
		Updater:     r.updater,
		WorkerCodes: codes,
		StoredBy:    r.storedBy,
		StoreTime:   time.UnixMilli(r.storeTime).UTC(),
		ErrorCode:   r.errorCode,
		ErrorMsg:    r.errorMessage,
		ErrorTrace:  r.errorTrace,
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return &stored, nil
}

func errorContent(cause error) (msg, trace string) {
	if cause == nil {
		return "", ""
	}
	msg = truncate(cause.Error(), maxErrorMessageLen)
	trace = msg
	for wrapped := cause; wrapped != nil; {
		u, ok := wrapped.(interface{ Unwrap() error })
		if !ok {
			break
		}
		wrapped = u.Unwrap()
		if wrapped != nil {
			trace += "\ncaused by: " + wrapped.Error()
		}
	}
	return msg, truncate(trace, maxErrorTraceLen)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

func storeErr(err error) error {
	return errors.FatalRetriable(errors.CodeEventStore, "event store: "+err.Error(), err)
}
