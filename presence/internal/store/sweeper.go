package store

import (
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// DefaultSweepInterval is how often expired bindings are reaped
// (spec §4.3 expanded: "runs every 10s").
const DefaultSweepInterval = 10 * time.Second

// Sweeper periodically evicts expired bindings from a Store using
// gocron — the same scheduling library the teacher uses to drive its
// backup-policy cron jobs, reused here for TTL reaping instead.
type Sweeper struct {
	scheduler gocron.Scheduler
	store     *Store
	logger    *zap.Logger
	onEvict   func(n int)
}

// NewSweeper builds a Sweeper. onEvict, if non-nil, is called after each
// sweep with the number of entries evicted (used to update a metric).
func NewSweeper(s *Store, interval time.Duration, onEvict func(n int), logger *zap.Logger) (*Sweeper, error) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	sw := &Sweeper{scheduler: sched, store: s, logger: logger, onEvict: onEvict}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(sw.tick),
	)
	if err != nil {
		return nil, err
	}
	return sw, nil
}

func (sw *Sweeper) tick() {
	n := sw.store.Sweep()
	if n > 0 {
		sw.logger.Debug("store: swept expired presence bindings", zap.Int("evicted", n))
	}
	if sw.onEvict != nil {
		sw.onEvict(n)
	}
}

// Start begins running the sweep job on its own goroutine.
func (sw *Sweeper) Start() {
	sw.scheduler.Start()
}

// Stop halts the scheduler, blocking until in-flight jobs finish.
func (sw *Sweeper) Stop() error {
	return sw.scheduler.Shutdown()
}
