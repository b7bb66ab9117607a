package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "procrastinator/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop())
	assert.ErrorContains(t, err, "unknown storage driver")
}

func TestDriversRoundTripRecentRuns(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "history.db")
			st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })

			started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			require.NoError(t, st.AppendRun(ctx, RunRecord{Batch: "b1", Name: "a", Started: started, Duration: time.Second}))
			require.NoError(t, st.AppendRun(ctx, RunRecord{Batch: "b1", Name: "b", Started: started, Error: "boom"}))

			got, err := st.RecentRuns(ctx, 10)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "b", got[0].Name)
			assert.False(t, got[0].OK())
			assert.Equal(t, "a", got[1].Name)
			assert.True(t, got[1].OK())
			assert.Equal(t, time.Second, got[1].Duration)
			assert.True(t, started.Equal(got[1].Started))
		})
	}
}

func TestFileStoreReloadsAndCompacts(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history")
	st, err := Open(Config{Driver: "file", Path: path, Retain: 3}, logx.Nop())
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		require.NoError(t, st.AppendRun(ctx, RunRecord{Batch: "b", Name: fmt.Sprintf("r%d", i)}))
	}
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "file", Path: path, Retain: 3}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	got, err := st.RecentRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "r6", got[0].Name)
	assert.Equal(t, "r4", got[2].Name)
	assert.LessOrEqual(t, st.(*fileStore).lines, 6)
}

func TestFileStoreRequiresPath(t *testing.T) {
	_, err := Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
}
