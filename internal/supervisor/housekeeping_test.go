package supervisor

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragnarhq/ragnar-init/internal/logger"
	"github.com/ragnarhq/ragnar-init/internal/resmon"
)

func TestHousekeepingRemovesStaleLogs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, logger.Init(dir))
	t.Cleanup(logger.Close)

	stale := filepath.Join(logger.Dir(), logger.FilePrefix+"2000-01-01.log")
	require.NoError(t, os.WriteFile(stale, []byte("old\n"), 0644))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	s := &Supervisor{LogRetention: 24 * time.Hour}
	stop := s.startHousekeeping()
	defer stop()

	assert.Eventually(t, func() bool {
		_, err := os.Stat(stale)
		return os.IsNotExist(err)
	}, 5*time.Second, 20*time.Millisecond, "first run happens on start")
}

func TestHousekeepingReportsUsage(t *testing.T) {
	var reports atomic.Int32
	s := &Supervisor{
		Stats:         resmon.NewCollector(""),
		StatsInterval: 50 * time.Millisecond,
		OnChange:      func([]ChildStatus) { reports.Add(1) },
	}
	stop := s.startHousekeeping()
	defer stop()

	assert.Eventually(t, func() bool { return reports.Load() >= 2 }, 5*time.Second, 20*time.Millisecond)
}

func TestHousekeepingDisabled(t *testing.T) {
	s := &Supervisor{}
	s.startHousekeeping()()
}
