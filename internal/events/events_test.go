package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reefdata/objsearch/internal/guid"
)

func TestEventType_StringRoundTrip(t *testing.T) {
	for et := NewVersion; et <= CopyAccessGroup; et++ {
		parsed, err := ParseEventType(et.String())
		require.NoError(t, err, et.String())
		assert.Equal(t, et, parsed)
	}
	_, err := ParseEventType("NOT_A_TYPE")
	assert.Error(t, err)
}

func TestProcessingState_StringRoundTrip(t *testing.T) {
	for st := StateUnprocessed; st <= StateFailed; st++ {
		parsed, err := ParseState(st.String())
		require.NoError(t, err, st.String())
		assert.Equal(t, st, parsed)
	}
	_, err := ParseState("BOGUS")
	assert.Error(t, err)
}

func TestProcessingState_Terminal(t *testing.T) {
	assert.False(t, StateUnprocessed.Terminal())
	assert.False(t, StateReady.Terminal())
	assert.False(t, StateProcessing.Terminal())
	assert.True(t, StateIndexed.Terminal())
	assert.True(t, StateUnindexed.Terminal())
	assert.True(t, StateFailed.Terminal())
}

func TestNewStatusEvent_Validation(t *testing.T) {
	now := time.Now().UTC()

	_, err := NewStatusEvent(StatusEventConfig{Type: NewVersion, Timestamp: now})
	assert.Error(t, err, "storage code is required")

	_, err = NewStatusEvent(StatusEventConfig{Type: NewVersion, StorageCode: "WS"})
	assert.Error(t, err, "timestamp is required")

	_, err = NewStatusEvent(StatusEventConfig{
		Type: RenameAllVersions, StorageCode: "WS", Timestamp: now})
	assert.Error(t, err, "rename requires a new name")

	ev, err := NewStatusEvent(StatusEventConfig{
		Type:        RenameAllVersions,
		StorageCode: "WS",
		Timestamp:   now,
		ObjectID:    "7",
		NewName:     "fresh",
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", ev.NewName())
}

func TestStatusEvent_GUID(t *testing.T) {
	now := time.Now().UTC()
	ev, err := NewStatusEvent(StatusEventConfig{
		Type:           NewVersion,
		StorageCode:    "WS",
		StorageType:    "Mod.Genome",
		StorageTypeVer: 2,
		Timestamp:      now,
		AccessGroupID:  5,
		ObjectID:       "12",
		Version:        3,
	})
	require.NoError(t, err)

	assert.Equal(t, guid.GUID{
		StorageCode:   "WS",
		AccessGroupID: 5,
		ObjectID:      "12",
		Version:       3,
	}, ev.GUID())
	assert.True(t, ev.HasStorageType())
	assert.Equal(t, "Mod.Genome", ev.StorageType().Type)
	assert.Equal(t, 2, ev.StorageType().Version)
}

func TestStatusEvent_GroupEventsHaveNoStorageType(t *testing.T) {
	ev, err := NewStatusEvent(StatusEventConfig{
		Type:          PublishAccessGroup,
		StorageCode:   "WS",
		Timestamp:     time.Now().UTC(),
		AccessGroupID: 5,
	})
	require.NoError(t, err)
	assert.False(t, ev.HasStorageType())
	assert.Equal(t, "WS", ev.StorageCode())
}

func TestNewStored_DefaultsWorkerCodes(t *testing.T) {
	ev, err := NewStatusEvent(StatusEventConfig{
		Type:        NewVersion,
		StorageCode: "WS",
		Timestamp:   time.Now().UTC(),
		ObjectID:    "7",
	})
	require.NoError(t, err)

	stored, err := NewStored(StoredConfig{Event: ev, ID: "ev1", State: StateReady})
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultWorkerCode}, stored.WorkerCodes())
	assert.Equal(t, ID("ev1"), stored.EventID())
	assert.False(t, stored.IsChild())

	_, err = NewStored(StoredConfig{Event: ev})
	assert.Error(t, err, "an id is required")
}

func TestNewChild_CarriesParentID(t *testing.T) {
	ev, err := NewStatusEvent(StatusEventConfig{
		Type:        NewVersion,
		StorageCode: "WS",
		Timestamp:   time.Now().UTC(),
		ObjectID:    "7",
	})
	require.NoError(t, err)

	child := NewChild(ev, "parent-id")
	assert.Equal(t, ID("parent-id"), child.EventID())
	assert.True(t, child.IsChild())
	assert.Equal(t, ev, child.Event())
}
