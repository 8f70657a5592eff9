package supervision

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Sweeper runs scheduled maintenance jobs — idle-session reaping, periodic
// compaction sweeps — on a cron schedule, independent of any single
// session's own supervised subtree, since these sweeps act across sessions
// rather than within one.
type Sweeper struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewSweeper builds a Sweeper. A nil logger uses slog.Default().
func NewSweeper(logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{cron: cron.New(), logger: logger}
}

// AddJob schedules fn on spec (standard five-field cron syntax). A panic
// inside fn is recovered and logged rather than taking down the scheduler,
// mirroring Supervisor.Guard's crash isolation one layer up.
func (s *Sweeper) AddJob(spec string, name string, fn func()) error {
	_, err := s.cron.AddFunc(spec, func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("supervision: sweep job panicked", "job", name, "panic", r)
			}
		}()
		fn()
	})
	return err
}

// Start begins running scheduled jobs in the background.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for any in-flight job to finish.
func (s *Sweeper) Stop() { <-s.cron.Stop().Done() }
