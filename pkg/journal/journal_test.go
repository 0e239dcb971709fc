package journal

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/itohio/pumpctl/pkg/control"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal_AppendRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, zerolog.Nop())
	require.NoError(t, err)

	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		j.Append(control.Event{Time: t0.Add(time.Duration(i) * time.Second), Kind: control.EventLevelOn, Message: fmt.Sprint(i)})
	}
	require.NoError(t, j.Close(), "close flushes the queue")
	j.Append(control.Event{Message: "after close"})

	j, err = Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer j.Close()

	events, err := j.Recent(3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "2", events[0].Message)
	assert.Equal(t, "4", events[2].Message)
	assert.Equal(t, control.EventLevelOn, events[2].Kind)
	assert.True(t, t0.Add(4*time.Second).Equal(events[2].Time))

	all, err := j.Recent(100)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	none, err := j.Recent(0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestJournal_EventuallyVisible(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), zerolog.Nop())
	require.NoError(t, err)
	defer j.Close()

	j.Append(control.Event{Kind: control.EventStartup, Message: "System started."})

	require.Eventually(t, func() bool {
		events, err := j.Recent(1)
		return err == nil && len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, j.Dropped())
}

func TestJournal_OpenFails(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "journal.db"), zerolog.Nop())
	assert.Error(t, err)
}
