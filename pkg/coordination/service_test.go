package coordination

import (
	"errors"
	"testing"
	"time"

	"github.com/sandialabs/firewheel/pkg/events"
	"github.com/sandialabs/firewheel/pkg/fwerrors"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return New(Config{Version: "test"})
}

func TestSetVMMappingTracksNotReady(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.SetVMMapping("test", VMMapping{ServerUUID: "vm1", State: "configuring"})
	require.NoError(t, err)
	count, err := svc.CountVMMappingsNotReady("test")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	_, err = svc.SetVMStateByUUID("test", "vm1", "configured")
	require.NoError(t, err)
	count, err = svc.CountVMMappingsNotReady("test")
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestUnknownDatabaseIsOutOfRange(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetVMMappingByUUID("staging", "vm1")
	require.Error(t, err)
	require.True(t, errors.Is(err, fwerrors.ErrOutOfRange))
}

func TestUnknownUUIDIsOutOfRange(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetVMMappingByUUID("test", "nope")
	require.Error(t, err)
	require.True(t, errors.Is(err, fwerrors.ErrOutOfRange))

	_, err = svc.SetVMStateByUUID("test", "nope", "configured")
	require.True(t, errors.Is(err, fwerrors.ErrOutOfRange))
}

func TestExperimentStartTimeFirstWins(t *testing.T) {
	svc := newTestService(t)

	first, err := svc.SetExperimentStartTime("prod", 1000)
	require.NoError(t, err)
	require.Equal(t, int64(1000), first)

	second, err := svc.SetExperimentStartTime("prod", 2000)
	require.NoError(t, err)
	require.Equal(t, int64(1000), second, "later submissions must not overwrite the first start time")

	got, err := svc.GetExperimentStartTime("prod")
	require.NoError(t, err)
	require.Equal(t, int64(1000), got)
}

func TestExperimentStartTimeUnsetIsOutOfRange(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetExperimentStartTime("test")
	require.True(t, errors.Is(err, fwerrors.ErrOutOfRange))

	_, ok, err := svc.ElapsedSinceStart("test")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInitializeExperimentStartTimeResets(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.SetExperimentLaunchTime("prod", 500)
	require.NoError(t, err)
	_, err = svc.SetExperimentStartTime("prod", 1000)
	require.NoError(t, err)

	require.NoError(t, svc.InitializeExperimentStartTime("prod"))

	_, err = svc.GetExperimentLaunchTime("prod")
	require.True(t, errors.Is(err, fwerrors.ErrOutOfRange))
	_, err = svc.GetExperimentStartTime("prod")
	require.True(t, errors.Is(err, fwerrors.ErrOutOfRange))

	// a fresh submission after reset wins again
	got, err := svc.SetExperimentStartTime("prod", 2000)
	require.NoError(t, err)
	require.Equal(t, int64(2000), got)
}

func TestDestroyAllVMMappingsClearsNotReady(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.SetVMMapping("test", VMMapping{ServerUUID: "vm1", State: "configuring"})
	require.NoError(t, err)
	_, err = svc.SetVMMapping("test", VMMapping{ServerUUID: "vm2", State: "N/A"})
	require.NoError(t, err)

	require.NoError(t, svc.DestroyAllVMMappings("test"))

	mappings, err := svc.ListVMMappings("test")
	require.NoError(t, err)
	require.Empty(t, mappings)
	count, err := svc.CountVMMappingsNotReady("test")
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestDestroyVMMappingByUUIDIsNoOpWhenUnknown(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.DestroyVMMappingByUUID("test", "ghost"))
}

func TestSetVMStateByUUIDPublishesEvent(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	svc := New(Config{Version: "test", Events: broker})
	_, err := svc.SetVMMapping("test", VMMapping{ServerUUID: "vm1", State: "configuring"})
	require.NoError(t, err)
	_, err = svc.SetVMStateByUUID("test", "vm1", "configured")
	require.NoError(t, err)

	select {
	case ev := <-sub:
		require.Equal(t, events.TypeVMStateChanged, ev.Type)
		require.Equal(t, "vm1", ev.VMUUID)
		require.Equal(t, "configured", ev.Message)
	case <-time.After(time.Second):
		t.Fatal("expected a vm.state_changed event")
	}
}

func TestSetExperimentStartTimeOnlyPublishesOnFirstWin(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	svc := New(Config{Version: "test", Events: broker})
	first, err := svc.SetExperimentStartTime("test", 100)
	require.NoError(t, err)
	require.Equal(t, int64(100), first)

	second, err := svc.SetExperimentStartTime("test", 200)
	require.NoError(t, err)
	require.Equal(t, int64(100), second, "first-wins: second call still returns the first value")

	select {
	case ev := <-sub:
		require.Equal(t, events.TypeExperimentStartTimeSet, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected an experiment.start_time_set event")
	}

	select {
	case <-sub:
		t.Fatal("expected exactly one experiment.start_time_set event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTwoDatabasesAreIndependent(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.SetVMMapping("test", VMMapping{ServerUUID: "vm1", State: "configured"})
	require.NoError(t, err)

	_, err = svc.GetVMMappingByUUID("prod", "vm1")
	require.True(t, errors.Is(err, fwerrors.ErrOutOfRange), "prod db must not see test db's mappings")
}
