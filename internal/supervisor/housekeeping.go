package supervisor

import (
	"time"

	"github.com/go-co-op/gocron"

	"github.com/ragnarhq/ragnar-init/internal/logger"
)

// startHousekeeping schedules the periodic jobs that run while supervising:
// hourly removal of stale log files and, if enabled, usage reports. The
// returned func stops the scheduler.
func (s *Supervisor) startHousekeeping() func() {
	sched := gocron.NewScheduler(time.UTC)
	jobs := 0

	if s.LogRetention > 0 && logger.Dir() != "" {
		retention := s.LogRetention
		if _, err := sched.Every(1).Hour().Do(cleanLogs, retention); err != nil {
			logger.Warn("log cleanup not scheduled: %v", err)
		} else {
			jobs++
		}
	}
	if s.Stats != nil && s.StatsInterval > 0 && s.OnChange != nil {
		// The first report comes from the child start itself.
		if _, err := sched.Every(s.StatsInterval).WaitForSchedule().Do(s.report); err != nil {
			logger.Warn("usage reports not scheduled: %v", err)
		} else {
			jobs++
		}
	}

	if jobs == 0 {
		return func() {}
	}
	sched.StartAsync()
	return sched.Stop
}

func cleanLogs(retention time.Duration) {
	n, err := logger.Clean(time.Now(), retention)
	if err != nil {
		logger.Warn("log cleanup: %v", err)
		return
	}
	if n > 0 {
		logger.Info("log cleanup removed %d file(s)", n)
	}
}
