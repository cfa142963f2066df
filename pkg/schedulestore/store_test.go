package schedulestore

import (
	"testing"

	"github.com/sandialabs/firewheel/pkg/schedule"
	"github.com/stretchr/testify/require"
)

func TestPutGetExtend(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	initial := []schedule.Entry{{StartTime: 0}, {StartTime: 5}}
	require.NoError(t, store.Put("vm1", initial))

	got, err := store.Get("vm1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.NoError(t, store.Extend("vm1", []schedule.Entry{{StartTime: 10}}))

	got, err = store.Get("vm1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, float64(10), got[2].StartTime)
}

func TestGetMissingReturnsEmpty(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Get("nope")
	require.NoError(t, err)
	require.Empty(t, got)
}
