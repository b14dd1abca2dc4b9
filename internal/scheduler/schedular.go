package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/airquality-harvester/internal/services"
)

// Runner runs one harvesting cycle.
type Runner interface {
	RunCycle(ctx context.Context) (services.CycleSummary, error)
}

type Scheduler struct {
	runner       Runner
	logger       *zap.Logger
	interval     time.Duration
	cycleTimeout time.Duration

	cron     *cron.Cron
	job      cron.Job
	entryID  cron.EntryID
	inFlight sync.WaitGroup

	mu        sync.Mutex
	running   bool
	lastRun   time.Time
	lastError string
	runs      int
}

// NewScheduler repeats cycles every interval. Cycles never overlap: a tick or
// a manual trigger that arrives while a cycle is running is skipped.
func NewScheduler(runner Runner, interval, cycleTimeout time.Duration, logger *zap.Logger) *Scheduler {
	s := &Scheduler{
		runner:       runner,
		logger:       logger,
		interval:     interval,
		cycleTimeout: cycleTimeout,
	}

	cronLogger := newCronLogger(logger)
	s.job = cron.NewChain(cron.SkipIfStillRunning(cronLogger)).Then(cron.FuncJob(s.runCycle))
	s.cron = cron.New(cron.WithLogger(cronLogger))
	return s
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.entryID = s.cron.Schedule(cron.Every(s.interval), s.job)
	s.mu.Unlock()

	s.cron.Start()

	s.logger.Info("Scheduler started",
		zap.Duration("interval", s.interval),
		zap.Time("next_run", time.Now().Add(s.interval)))

	// Run immediately on start
	s.trigger()
}

func (s *Scheduler) trigger() {
	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()
		s.job.Run()
	}()
}

func (s *Scheduler) runCycle() {
	s.mu.Lock()
	s.lastRun = time.Now()
	s.runs++
	s.mu.Unlock()

	ctx := context.Background()
	if s.cycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cycleTimeout)
		defer cancel()
	}

	startTime := time.Now()
	_, err := s.runner.RunCycle(ctx)

	s.mu.Lock()
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Scheduled harvesting cycle failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(startTime)))
		return
	}
	s.logger.Info("Scheduled harvesting cycle completed",
		zap.Duration("duration", time.Since(startTime)),
		zap.Time("next_run", s.nextRun()))
}

// Stop halts the schedule and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
	s.inFlight.Wait()
}

// ForceRun starts a cycle now unless one is already running.
func (s *Scheduler) ForceRun() {
	s.logger.Info("Manually triggering harvesting cycle")
	s.trigger()
}

func (s *Scheduler) nextRun() time.Time {
	s.mu.Lock()
	id := s.entryID
	s.mu.Unlock()
	if id == 0 {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

func (s *Scheduler) GetStatus() map[string]interface{} {
	next := s.nextRun()

	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]interface{}{
		"running":    s.running,
		"interval":   s.interval.String(),
		"last_run":   s.lastRun,
		"next_run":   next,
		"runs":       s.runs,
		"last_error": s.lastError,
	}
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func newCronLogger(logger *zap.Logger) cron.Logger {
	return cronLogger{sugar: logger.Named("cron").Sugar()}
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
