// Package supervisor implements the VM Resource Handler (C8, spec.md
// §4.8): the per-VM long-lived main loop that connects to the guest
// through a driver.Driver, tracks VM state in the Coordination Service
// (C2), and dispatches schedule events produced by the schedule updater
// (C7) from a shared priority queue.
package supervisor

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sandialabs/firewheel/pkg/coordination"
	"github.com/sandialabs/firewheel/pkg/driver"
	"github.com/sandialabs/firewheel/pkg/health"
	"github.com/sandialabs/firewheel/pkg/log"
	"github.com/sandialabs/firewheel/pkg/metrics"
	"github.com/sandialabs/firewheel/pkg/schedule"
)

// CoordinationClient is the subset of the Coordination Service (C2) client
// the supervisor needs to report VM state, current time, and to attempt
// the experiment start-time election.
type CoordinationClient interface {
	SetVMStateByUUID(ctx context.Context, uuid, state string) (coordination.VMMapping, error)
	SetVMTimeByUUID(ctx context.Context, uuid string, currentTime float64) (coordination.VMMapping, error)
	CountVMMappingsNotReady(ctx context.Context) (int, error)
	SetExperimentStartTime(ctx context.Context, unixSeconds int64) (int64, error)
}

// ArtifactSource is the subset of the Artifact Store (C1) the supervisor
// uses to resolve a schedule entry's staged data files to a local path.
type ArtifactSource interface {
	GetPath(name string) (string, error)
}

// Updater is the subset of the schedule updater (C7) the supervisor
// drives: start it once connected, stop it on exit.
type Updater interface {
	Start()
	StopThread()
	Done() <-chan struct{}
}

// Config configures one Supervisor.
type Config struct {
	VMName            string
	ServerUUID        string
	Driver            driver.Driver
	Coordination      CoordinationClient
	Artifacts         ArtifactSource
	Updater           Updater
	Queue             *schedule.PriorityQueue
	Cond              *sync.Cond
	LoadBalanceFactor float64
}

// Supervisor is the per-VM main loop.
type Supervisor struct {
	cfg    Config
	logger zerolog.Logger

	mu                sync.Mutex
	experimentStart   *int64 // unix seconds, nil until known
	configured        bool
	guestOS           string
	nextWorkingDirSeq int

	negTimeWG sync.WaitGroup

	rebootMu      sync.Mutex
	rebootPending []rebootRequest

	healthStatus *health.Status

	failed chan error
}

type rebootRequest struct {
	entry    *schedule.Entry
	priority float64
}

// New creates a Supervisor for one VM.
func New(cfg Config) *Supervisor {
	if cfg.LoadBalanceFactor <= 0 {
		cfg.LoadBalanceFactor = 1
	}
	return &Supervisor{
		cfg:          cfg,
		logger:       log.WithVM(cfg.VMName).With().Str("component", "supervisor").Logger(),
		failed:       make(chan error, 1),
		healthStatus: health.NewStatus(),
	}
}

// guestComponentName is the metrics component name for this VM's guest
// connectivity, surfaced through GetHealth (GetReadiness checks only the
// coordination, artifactstore, and grpc components).
func (s *Supervisor) guestComponentName() string {
	return "guest-" + s.cfg.VMName
}

// runGuestHealthLoop periodically pings the guest driver and reports the
// result into the metrics package's component registry, the same
// consecutive-failure tracking pkg/health's HTTP/TCP checkers use for
// containers, generalized here to one guest VM. It exits when ctx is
// cancelled.
func (s *Supervisor) runGuestHealthLoop(ctx context.Context) {
	cfg := health.DefaultConfig()
	checker := health.NewDriverChecker(s.cfg.VMName, s.cfg.Driver).WithTimeout(cfg.Timeout)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := checker.Check(ctx)
			s.healthStatus.Update(result, cfg)
			metrics.UpdateComponent(s.guestComponentName(), s.healthStatus.Healthy, result.Message)
		}
	}
}

// Run connects to the guest, starts the schedule updater, and runs the
// main dispatch loop until ctx is cancelled. It returns nil on a clean
// shutdown and a non-nil error if the VM's state was set to FAILED.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.connectWithRetry(ctx); err != nil {
		return err
	}

	if _, err := s.cfg.Coordination.SetVMStateByUUID(ctx, s.cfg.ServerUUID, "configuring"); err != nil {
		s.logger.Error().Err(err).Msg("unable to publish configuring state")
	}

	if guestOS, err := s.cfg.Driver.GetOS(ctx); err == nil {
		s.guestOS = guestOS
	} else {
		s.logger.Warn().Err(err).Msg("unable to determine guest os, assuming posix")
	}

	metrics.RegisterComponent(s.guestComponentName(), true, "connected")
	go s.runGuestHealthLoop(ctx)

	s.cfg.Updater.Start()
	defer func() {
		s.cfg.Updater.StopThread()
		<-s.cfg.Updater.Done()
	}()

	for {
		select {
		case err := <-s.failed:
			return err
		default:
		}
		if ctx.Err() != nil {
			return nil
		}

		events := s.waitForEligibleEvents(ctx)
		if len(events) == 0 {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		for _, ev := range events {
			s.dispatch(ctx, ev)
		}

		s.negTimeWG.Wait()

		select {
		case err := <-s.failed:
			return err
		default:
		}

		if pending := s.takeRebootRequests(); len(pending) > 0 {
			if err := s.performReboot(ctx, pending); err != nil {
				return err
			}
		}
	}
}

// waitForEligibleEvents drains the priority queue under the shared
// condition variable, returning every sentinel event, every non-positive
// start-time event, and every positive start-time event once the
// experiment start time is known. A positive-time event observed before
// the start time is known promotes the supervisor to "configured" and is
// left on the queue (spec.md §4.8).
func (s *Supervisor) waitForEligibleEvents(ctx context.Context) []*schedule.Event {
	s.cfg.Cond.L.Lock()
	defer s.cfg.Cond.L.Unlock()

	var out []*schedule.Event
	for {
		if ctx.Err() != nil {
			return out
		}
		if s.cfg.Queue.Len() == 0 {
			if len(out) > 0 {
				return out
			}
			s.waitOnCond(ctx)
			continue
		}

		priority, ev := s.cfg.Queue.Peek()
		switch ev.Type {
		case schedule.EventEmptySchedule:
			s.cfg.Queue.Pop()
			out = append(out, ev)
			continue
		case schedule.EventExperimentStartTime:
			s.cfg.Queue.Pop()
			s.setExperimentStart(ev.StartTimeSet)
			out = append(out, ev)
			continue
		}

		s.mu.Lock()
		startKnown := s.experimentStart != nil
		s.mu.Unlock()

		if priority <= 0 || startKnown {
			s.cfg.Queue.Pop()
			out = append(out, ev)
			continue
		}

		// Positive-time event, start time not yet known: promote to
		// configured and wait for EXPERIMENT_START_TIME_SET to arrive.
		// promoteConfigured makes coordination RPCs, so release the
		// queue lock first rather than holding it across the round trip.
		s.cfg.Cond.L.Unlock()
		s.promoteConfigured(ctx)
		s.cfg.Cond.L.Lock()
		if len(out) > 0 {
			return out
		}
		s.waitOnCond(ctx)
	}
}

// waitOnCond wakes periodically even without a signal so a cancelled ctx
// is noticed promptly rather than blocking forever on a lost wakeup.
func (s *Supervisor) waitOnCond(ctx context.Context) {
	woken := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.cfg.Cond.L.Lock()
			s.cfg.Cond.Broadcast()
			s.cfg.Cond.L.Unlock()
		case <-woken:
		}
	}()
	s.cfg.Cond.Wait()
	close(woken)
}

func (s *Supervisor) setExperimentStart(unixSeconds int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.experimentStart == nil {
		s.experimentStart = &unixSeconds
	}
}

// promoteConfigured publishes state=configured and current_time=0 exactly
// once, then attempts the first-wins experiment start-time election if no
// VM is outstanding (spec.md §4.8 readiness semantics).
func (s *Supervisor) promoteConfigured(ctx context.Context) {
	s.mu.Lock()
	if s.configured {
		s.mu.Unlock()
		return
	}
	s.configured = true
	s.mu.Unlock()

	if _, err := s.cfg.Coordination.SetVMStateByUUID(ctx, s.cfg.ServerUUID, "configured"); err != nil {
		s.logger.Error().Err(err).Msg("unable to publish configured state")
		return
	}
	if _, err := s.cfg.Coordination.SetVMTimeByUUID(ctx, s.cfg.ServerUUID, 0); err != nil {
		s.logger.Error().Err(err).Msg("unable to publish current time")
	}

	notReady, err := s.cfg.Coordination.CountVMMappingsNotReady(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("unable to count not-ready vms")
		return
	}
	if notReady == 0 {
		if _, err := s.cfg.Coordination.SetExperimentStartTime(ctx, time.Now().Unix()); err != nil {
			s.logger.Error().Err(err).Msg("unable to set experiment start time")
		}
	}
}

func (s *Supervisor) dispatch(ctx context.Context, ev *schedule.Event) {
	switch ev.Type {
	case schedule.EventEmptySchedule:
		s.logger.Debug().Msg("schedule empty so far")
	case schedule.EventExperimentStartTime:
		s.logger.Info().Int64("start_unix", ev.StartTimeSet).Msg("experiment start time set")
	case schedule.EventNewItem:
		s.dispatchNewItem(ctx, ev.Entry)
	case schedule.EventTransfer:
		s.dispatchTransfer(ctx, ev.Entry)
	default:
		s.logger.Warn().Str("type", string(ev.Type)).Msg("unexpected event type reached dispatch")
	}
}

func (s *Supervisor) dispatchNewItem(ctx context.Context, entry *schedule.Entry) {
	priority := entry.StartTime
	if priority <= 0 {
		s.negTimeWG.Add(1)
		go func() {
			defer s.negTimeWG.Done()
			s.executeNewItem(ctx, entry, priority)
		}()
		return
	}

	s.mu.Lock()
	start := s.experimentStart
	s.mu.Unlock()
	if start == nil {
		// Start time arrived between eligibility check and dispatch; run now.
		go s.executeNewItem(ctx, entry, priority)
		return
	}

	fireAt := time.Unix(*start, 0).Add(time.Duration(entry.StartTime * float64(time.Second)))
	delay := time.Until(fireAt)
	time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		s.executeNewItem(ctx, entry, priority)
	})
}

func (s *Supervisor) connectWithRetry(ctx context.Context) error {
	for {
		if err := s.cfg.Driver.Connect(ctx); err == nil {
			return nil
		} else {
			s.logger.Warn().Err(err).Msg("guest connect failed, retrying")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n := 3 + rand.Intn(8) // rand(3..10)
		select {
		case <-time.After(time.Duration(float64(n) * s.cfg.LoadBalanceFactor * float64(time.Second))):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Supervisor) requestReboot(entry *schedule.Entry, priority float64) {
	s.rebootMu.Lock()
	defer s.rebootMu.Unlock()
	s.rebootPending = append(s.rebootPending, rebootRequest{entry: entry, priority: priority})
}

func (s *Supervisor) takeRebootRequests() []rebootRequest {
	s.rebootMu.Lock()
	defer s.rebootMu.Unlock()
	pending := s.rebootPending
	s.rebootPending = nil
	return pending
}

// fail publishes FAILED state and signals Run's loop to exit with an
// error on its next iteration, matching spec.md §4.8's "file load fails
// and ignore_failure=false -> set state FAILED, exit nonzero".
func (s *Supervisor) fail(ctx context.Context, cause error) error {
	err := fmt.Errorf("vm %s failed: %w", s.cfg.VMName, cause)
	if _, setErr := s.cfg.Coordination.SetVMStateByUUID(ctx, s.cfg.ServerUUID, "FAILED"); setErr != nil {
		s.logger.Error().Err(setErr).Msg("unable to publish FAILED state")
	}
	select {
	case s.failed <- err:
	default:
	}
	return err
}
