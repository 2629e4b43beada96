// Package scheduler sweeps pending subjects through the aggregation engine,
// periodically and on demand.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"vote-aggregator/internal/aggregator"
	"vote-aggregator/internal/logger"
	"vote-aggregator/internal/metrics"
	"vote-aggregator/internal/models"
)

var ErrAlreadyRunning = errors.New("scheduler already running")

// Trigger tells what started a sweep.
type Trigger string

const (
	TriggerTimer  Trigger = "timer"
	TriggerManual Trigger = "manual"
)

// Evaluator is the aggregation engine as seen by the scheduler.
type Evaluator interface {
	EvaluateSubject(ctx context.Context, subject models.Subject) (aggregator.Result, error)
}

// Lister supplies the subjects to sweep.
type Lister interface {
	PendingSubjects(ctx context.Context) ([]models.Subject, error)
}

type Config struct {
	Interval    time.Duration
	Concurrency int
}

// Summary describes one sweep.
type Summary struct {
	Trigger           Trigger             `json:"trigger"`
	StartedAt         time.Time           `json:"startedAt"`
	FinishedAt        time.Time           `json:"finishedAt"`
	SubjectsEvaluated []models.Subject    `json:"subjectsEvaluated"`
	Results           []aggregator.Result `json:"results"`
	Error             string              `json:"error,omitempty"`
}

func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

func (s Summary) Committed() int {
	return s.count(aggregator.Result.Committed)
}

func (s Summary) Pending() int {
	return s.count(aggregator.Result.Pending)
}

func (s Summary) Failed() int {
	return s.count(aggregator.Result.Failed)
}

func (s Summary) count(pred func(aggregator.Result) bool) int {
	n := 0
	for _, r := range s.Results {
		if pred(r) {
			n++
		}
	}
	return n
}

// Scheduler owns the sweep timer. Sweeps may overlap with manual triggers
// and other replicas; the engine's subject lock keeps them apart.
type Scheduler struct {
	eval    Evaluator
	store   Lister
	cfg     Config
	log     logrus.FieldLogger
	metrics *metrics.Registry

	lifecycle sync.Mutex
	running   atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}

	lastMu sync.RWMutex
	last   *Summary
}

func New(eval Evaluator, store Lister, cfg Config, log logrus.FieldLogger, m *metrics.Registry) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Scheduler{
		eval:    eval,
		store:   store,
		cfg:     cfg,
		log:     logger.Or(log).WithField("component", "scheduler"),
		metrics: m,
	}
}

func (s *Scheduler) Interval() time.Duration {
	return s.cfg.Interval
}

func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Start launches the periodic loop. The loop also ends when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.running.Load() {
		return ErrAlreadyRunning
	}
	if s.cancel != nil {
		s.cancel()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.setRunning(true)
	go s.loop(loopCtx, done)
	s.log.WithField("interval", s.cfg.Interval).Info("scheduler started")
	return nil
}

// Stop halts the timer and waits for an in-flight sweep to finish. It is a
// no-op when the scheduler is stopped.
func (s *Scheduler) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
	s.log.Info("scheduler stopped")
}

// TriggerNow runs a sweep synchronously regardless of the timer state.
func (s *Scheduler) TriggerNow(ctx context.Context) Summary {
	return s.sweep(ctx, TriggerManual)
}

// LastSweep returns the most recent completed sweep.
func (s *Scheduler) LastSweep() (Summary, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return Summary{}, false
	}
	return *s.last, true
}

func (s *Scheduler) setRunning(v bool) {
	s.running.Store(v)
	s.metrics.SetSchedulerRunning(v)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.setRunning(false)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Stopping must not cut evaluations short.
			s.sweep(context.WithoutCancel(ctx), TriggerTimer)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context, trigger Trigger) Summary {
	sum := Summary{Trigger: trigger, StartedAt: time.Now().UTC()}
	log := s.log.WithField("trigger", trigger)

	subjects, err := s.store.PendingSubjects(ctx)
	if err != nil {
		log.WithError(err).Warn("list pending subjects")
		sum.Error = err.Error()
		return s.finish(sum)
	}

	results := make([]aggregator.Result, len(subjects))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, subject := range subjects {
		g.Go(func() error {
			res, err := s.eval.EvaluateSubject(ctx, subject)
			if err != nil {
				log.WithError(err).WithField("subject", subject.Key()).Debug("evaluation failed")
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	sum.SubjectsEvaluated = subjects
	sum.Results = results
	return s.finish(sum)
}

func (s *Scheduler) finish(sum Summary) Summary {
	sum.FinishedAt = time.Now().UTC()
	s.lastMu.Lock()
	s.last = &sum
	s.lastMu.Unlock()

	pending := sum.Pending()
	if sum.Error != "" {
		pending = -1
	}
	s.metrics.ObserveSweep(string(sum.Trigger), sum.Duration(), pending)
	entry := s.log.WithFields(logrus.Fields{
		"trigger":   sum.Trigger,
		"evaluated": len(sum.SubjectsEvaluated),
		"committed": sum.Committed(),
		"pending":   sum.Pending(),
		"failed":    sum.Failed(),
		"elapsed":   sum.Duration(),
	})
	if len(sum.SubjectsEvaluated) > 0 {
		entry.Info("sweep finished")
	} else {
		entry.Debug("sweep finished")
	}
	return sum
}
