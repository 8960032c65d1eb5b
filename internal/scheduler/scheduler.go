// Package scheduler runs recurring harvest and replay cycles per
// deployment, guarded by a distributed lock so only one replica works a
// deployment at a time.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one recurring unit of work, usually a full harvest cycle for a
// deployment.
type Job struct {
	// Key names the job; it doubles as the lock key suffix.
	Key string
	// Interval is the pause between cycle starts.
	Interval time.Duration
	// LockTTL bounds how long a replica may hold the job before another
	// replica can steal it. It also caps the cycle's context.
	LockTTL time.Duration
	// Run executes one cycle.
	Run func(ctx context.Context) error
}

// Health is the last observed outcome of a job.
type Health struct {
	LastSuccess       time.Time
	LastError         string
	ConsecutiveErrors int
}

// Healthy reports whether the job's latest cycle succeeded.
func (h Health) Healthy() bool {
	return h.ConsecutiveErrors == 0
}

// Scheduler drives registered jobs on their intervals.
type Scheduler struct {
	cron   *cron.Cron
	locker Locker
	logger *zap.Logger

	mu     sync.RWMutex
	health map[string]Health
}

// New builds a scheduler. A nil locker falls back to NopLocker.
func New(locker Locker, logger *zap.Logger) *Scheduler {
	if locker == nil {
		locker = NopLocker{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		locker: locker,
		logger: logger,
		health: make(map[string]Health),
	}
}

// Add registers a job. The first cycle fires one interval after Start.
func (s *Scheduler) Add(ctx context.Context, job Job) error {
	if job.Key == "" {
		return fmt.Errorf("job key is required")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Key)
	}
	if job.LockTTL <= 0 {
		job.LockTTL = 2 * job.Interval
	}

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", job.Interval), func() {
		s.runOnce(ctx, job)
	})
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", job.Key, err)
	}
	return nil
}

// Start launches the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running cycles to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Health returns the recorded outcome for a job key.
func (s *Scheduler) Health(key string) (Health, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.health[key]
	return h, ok
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	log := s.logger.With(zap.String("job", job.Key))

	release, acquired, err := s.locker.Acquire(ctx, "dexscope:lock:"+job.Key, job.LockTTL)
	if err != nil {
		log.Error("lock acquire failed", zap.Error(err))
		s.recordError(job.Key, err)
		return
	}
	if !acquired {
		log.Debug("cycle held by another replica, skipping")
		return
	}
	defer release()

	// The lock TTL bounds the cycle so a hung RPC cannot hold the
	// deployment past the point another replica may take over.
	cctx, cancel := context.WithTimeout(ctx, job.LockTTL)
	defer cancel()

	started := time.Now()
	if err := job.Run(cctx); err != nil {
		log.Error("cycle failed", zap.Error(err), zap.Duration("elapsed", time.Since(started)))
		s.recordError(job.Key, err)
		return
	}

	log.Info("cycle complete", zap.Duration("elapsed", time.Since(started)))
	s.recordSuccess(job.Key)
}

func (s *Scheduler) recordSuccess(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health[key] = Health{LastSuccess: time.Now()}
}

func (s *Scheduler) recordError(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.health[key]
	h.LastError = err.Error()
	h.ConsecutiveErrors++
	s.health[key] = h
}
