package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/reefdata/objsearch/internal/errors"
	"github.com/reefdata/objsearch/internal/events"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newEvent(t *testing.T, objectID string, ts time.Time) events.StatusEvent {
	t.Helper()
	ev, err := events.NewStatusEvent(events.StatusEventConfig{
		Type:          events.NewVersion,
		StorageCode:   "WS",
		StorageType:   "Mod.Thing",
		Timestamp:     ts,
		AccessGroupID: 1,
		ObjectID:      objectID,
		Version:       1,
	})
	require.NoError(t, err)
	return ev
}

func TestStore_StoreAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	ts := time.Now().UTC().Truncate(time.Millisecond)

	stored, err := s.Store(ctx, newEvent(t, "obj1", ts), events.StateUnprocessed,
		[]string{"codeA", "codeB"}, "generator")
	require.NoError(t, err)
	require.NotEmpty(t, stored.EventID())

	got, err := s.Get(ctx, stored.EventID())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, events.StateUnprocessed, got.State())
	assert.Equal(t, []string{"codeA", "codeB"}, got.WorkerCodes())
	assert.Equal(t, "generator", got.StoredBy())
	assert.Equal(t, "obj1", got.Event().ObjectID())
	assert.Equal(t, ts, got.Event().Timestamp())
	assert.Equal(t, events.NewVersion, got.Event().Type())
}

func TestStore_GetMissingReturnsNil(t *testing.T) {
	s := openStore(t)
	got, err := s.Get(context.Background(), "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_DefaultWorkerCodeApplied(t *testing.T) {
	s := openStore(t)
	stored, err := s.Store(context.Background(), newEvent(t, "obj1", time.Now()),
		events.StateReady, nil, "gen")
	require.NoError(t, err)
	assert.Equal(t, []string{events.DefaultWorkerCode}, stored.WorkerCodes())
}

func TestStore_Claim_EarliestEventFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	// stored out of order; the claim must follow event time
	_, err := s.Store(ctx, newEvent(t, "later", base.Add(time.Hour)),
		events.StateReady, nil, "gen")
	require.NoError(t, err)
	_, err = s.Store(ctx, newEvent(t, "earlier", base),
		events.StateReady, nil, "gen")
	require.NoError(t, err)

	claimed, err := s.Claim(ctx, events.StateReady, nil, events.StateProcessing, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "earlier", claimed.Event().ObjectID())
	assert.Equal(t, events.StateProcessing, claimed.State())
	assert.Equal(t, "w1", claimed.Updater())
}

func TestStore_Claim_RespectsWorkerCodes(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.Store(ctx, newEvent(t, "restricted", time.Now()),
		events.StateReady, []string{"special"}, "gen")
	require.NoError(t, err)

	claimed, err := s.Claim(ctx, events.StateReady, []string{"default"},
		events.StateProcessing, "w1")
	require.NoError(t, err)
	assert.Nil(t, claimed, "default workers must not claim restricted events")

	claimed, err = s.Claim(ctx, events.StateReady, []string{"special"},
		events.StateProcessing, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "restricted", claimed.Event().ObjectID())
}

func TestStore_Claim_EmptyQueueReturnsNil(t *testing.T) {
	s := openStore(t)
	claimed, err := s.Claim(context.Background(), events.StateReady, nil,
		events.StateProcessing, "w1")
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestStore_Claim_ConcurrentWorkersNeverShareAnEvent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	const eventCount = 20
	for i := 0; i < eventCount; i++ {
		_, err := s.Store(ctx, newEvent(t, fmt.Sprintf("obj%d", i),
			base.Add(time.Duration(i)*time.Second)), events.StateReady, nil, "gen")
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := map[events.ID]string{}
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < 8; w++ {
		worker := fmt.Sprintf("w%d", w)
		g.Go(func() error {
			for {
				claimed, err := s.Claim(gctx, events.StateReady, nil,
					events.StateProcessing, worker)
				if err != nil {
					return err
				}
				if claimed == nil {
					return nil
				}
				mu.Lock()
				if prev, dup := seen[claimed.EventID()]; dup {
					mu.Unlock()
					return fmt.Errorf("event %s claimed by both %s and %s",
						claimed.EventID(), prev, worker)
				}
				seen[claimed.EventID()] = worker
				mu.Unlock()
			}
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, seen, eventCount, "every event claimed exactly once")
}

func TestStore_SetState_CompareAndSwap(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	stored, err := s.Store(ctx, newEvent(t, "obj1", time.Now()),
		events.StateProcessing, nil, "gen")
	require.NoError(t, err)

	ok, err := s.SetState(ctx, stored.EventID(), events.StateProcessing, events.StateIndexed)
	require.NoError(t, err)
	assert.True(t, ok)

	// the second swap must miss: the event is no longer PROC
	ok, err = s.SetState(ctx, stored.EventID(), events.StateProcessing, events.StateFailed)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Get(ctx, stored.EventID())
	require.NoError(t, err)
	assert.Equal(t, events.StateIndexed, got.State())
	assert.False(t, got.UpdateTime().IsZero())
}

func TestStore_SetStateError_RecordsErrorContent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	stored, err := s.Store(ctx, newEvent(t, "obj1", time.Now()),
		events.StateProcessing, nil, "gen")
	require.NoError(t, err)

	cause := errors.Unprocessable(errors.CodeCyclicKey, "keyword cycle",
		fmt.Errorf("underlying"))
	ok, err := s.SetStateError(ctx, stored.EventID(), events.StateProcessing,
		errors.CodeCyclicKey, cause)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, stored.EventID())
	require.NoError(t, err)
	assert.Equal(t, events.StateFailed, got.State())
	assert.Equal(t, errors.CodeCyclicKey, got.ErrorCode())
	assert.Contains(t, got.ErrorMessage(), "keyword cycle")
	assert.Contains(t, got.ErrorTrace(), "caused by: underlying")
}

func TestStore_SetStateError_TruncatesOversizeContent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	stored, err := s.Store(ctx, newEvent(t, "obj1", time.Now()),
		events.StateProcessing, nil, "gen")
	require.NoError(t, err)

	longCode := strings.Repeat("X", 50)
	longMsg := strings.Repeat("m", 5000)
	ok, err := s.SetStateError(ctx, stored.EventID(), events.StateProcessing,
		longCode, fmt.Errorf("%s", longMsg))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, stored.EventID())
	require.NoError(t, err)
	assert.Len(t, got.ErrorCode(), maxErrorCodeLen)
	assert.Len(t, got.ErrorMessage(), maxErrorMessageLen)
}

func TestStore_GetByState_OrderedByEventTime(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"c", "a", "b"} {
		offsets := []time.Duration{2 * time.Hour, 0, time.Hour}
		_, err := s.Store(ctx, newEvent(t, id, base.Add(offsets[i])),
			events.StateUnprocessed, nil, "gen")
		require.NoError(t, err)
	}
	_, err := s.Store(ctx, newEvent(t, "other-state", base), events.StateReady, nil, "gen")
	require.NoError(t, err)

	evs, err := s.GetByState(ctx, events.StateUnprocessed, 10)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, "a", evs[0].Event().ObjectID())
	assert.Equal(t, "b", evs[1].Event().ObjectID())
	assert.Equal(t, "c", evs[2].Event().ObjectID())

	evs, err = s.GetByState(ctx, events.StateUnprocessed, 2)
	require.NoError(t, err)
	assert.Len(t, evs, 2)
}

func TestStore_ResetFailed_RequeuesOnlyFailedEvents(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	failed, err := s.Store(ctx, newEvent(t, "failed", time.Now()),
		events.StateFailed, nil, "gen")
	require.NoError(t, err)
	indexed, err := s.Store(ctx, newEvent(t, "indexed", time.Now()),
		events.StateIndexed, nil, "gen")
	require.NoError(t, err)

	require.NoError(t, s.ResetFailed(ctx))

	got, err := s.Get(ctx, failed.EventID())
	require.NoError(t, err)
	assert.Equal(t, events.StateUnprocessed, got.State())

	got, err = s.Get(ctx, indexed.EventID())
	require.NoError(t, err)
	assert.Equal(t, events.StateIndexed, got.State())
}

func TestStore_StoreChild_PersistsFailureRecord(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	parent, err := s.Store(ctx, newEvent(t, "parent", time.Now()),
		events.StateProcessing, nil, "gen")
	require.NoError(t, err)

	child := events.NewChild(newEvent(t, "child", time.Now()), parent.EventID())
	err = s.StoreChild(ctx, child, errors.CodeGUIDNotFound, fmt.Errorf("object gone"))
	require.NoError(t, err)

	var count int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM child_events WHERE parent_id = ?`,
		string(parent.EventID()))
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 1, count)
}

func TestStore_ErrorsAreFatalRetriable(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Close())

	// operations against a closed store surface as fatal-retriable so the
	// worker backs off instead of hot-looping
	_, err := s.Get(context.Background(), "any")
	require.Error(t, err)
	assert.Equal(t, errors.KindFatalRetriable, errors.KindOf(err))
	assert.Equal(t, errors.CodeEventStore, errors.CodeOf(err))
}
