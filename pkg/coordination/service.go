// Package coordination implements the Coordination Service (C2,
// spec.md §4.2): the authoritative registry of VM state, per-VM current
// time, and the experiment launch/start timestamps, maintained as two
// independent logical databases ("test" and "prod") inside one process.
package coordination

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sandialabs/firewheel/pkg/events"
	"github.com/sandialabs/firewheel/pkg/fwerrors"
	"github.com/sandialabs/firewheel/pkg/log"
)

// VMMapping is the in-process representation of spec.md §3's VM Mapping
// Record.
type VMMapping struct {
	ServerUUID  string
	ServerName  string
	ControlIP   string
	State       string
	CurrentTime float64
}

// readyStates are the VM states that do not count toward
// CountVMMappingsNotReady, matching the original's {"N/A", "configured"}.
var readyStates = map[string]bool{"N/A": true, "configured": true}

type dbState struct {
	mu                   sync.Mutex
	vmMappings           map[string]*VMMapping
	notReady             map[string]bool
	experimentLaunchTime *float64
	experimentStartTimes []int64
}

func newDBState() *dbState {
	return &dbState{
		vmMappings: make(map[string]*VMMapping),
		notReady:   make(map[string]bool),
	}
}

func (d *dbState) updateNotReady(uuid, state string) {
	if readyStates[state] {
		delete(d.notReady, uuid)
	} else {
		d.notReady[uuid] = true
	}
}

// Service holds the "test" and "prod" databases and serves every
// coordination operation against whichever is named in the call, matching
// spec.md §9's resolution to keep both in one process rather than two.
type Service struct {
	startedAt time.Time
	version   string
	dbs       map[string]*dbState
	logger    zerolog.Logger
	events    *events.Broker

	// replicate commits replicated-mode mutations through raft before
	// they reach the in-memory dbs; nil in single-process mode.
	replicate func(op Operation) error
}

// Config configures a Service.
type Config struct {
	Version string
	// Replicate, when non-nil, is called by every mutating operation
	// before it is applied locally: the Raft-backed mode (see raft.go)
	// wires this to commit the operation through the replicated log
	// first. Left nil for the default single-process mode.
	Replicate func(op Operation) error
	// Events, when non-nil, receives a notification from SetVMStateByUUID,
	// SetVMTimeByUUID, the first SetExperimentStartTime, and
	// DestroyVMMappingByUUID.
	// The caller owns its lifecycle (Start/Stop).
	Events *events.Broker
}

// New creates a Service with both logical databases initialized.
func New(cfg Config) *Service {
	return &Service{
		startedAt: time.Now(),
		version:   cfg.Version,
		dbs: map[string]*dbState{
			"test": newDBState(),
			"prod": newDBState(),
		},
		logger:    log.WithComponent("coordination"),
		replicate: cfg.Replicate,
		events:    cfg.Events,
	}
}

// publish is a no-op when no broker was configured.
func (s *Service) publish(ev *events.Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(ev)
}

func (s *Service) db(name string) (*dbState, error) {
	d, ok := s.dbs[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, fwerrors.ErrOutOfRange)
	}
	return d, nil
}

// GetInfo returns server version, uptime, and whether the prod database has
// a launch time set.
func (s *Service) GetInfo() (version string, uptimeSeconds float64, experimentRunning bool) {
	d := s.dbs["prod"]
	d.mu.Lock()
	running := d.experimentLaunchTime != nil
	d.mu.Unlock()
	return s.version, time.Since(s.startedAt).Seconds(), running
}

// SetVMMapping upserts the mapping and recomputes the not-ready set.
func (s *Service) SetVMMapping(dbName string, m VMMapping) (VMMapping, error) {
	d, err := s.db(dbName)
	if err != nil {
		return VMMapping{}, err
	}
	if err := s.apply(Operation{Kind: OpSetVMMapping, DB: dbName, Mapping: &m}); err != nil {
		return VMMapping{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updateNotReady(m.ServerUUID, m.State)
	cp := m
	d.vmMappings[m.ServerUUID] = &cp
	return cp, nil
}

// SetVMStateByUUID partially updates state, failing OutOfRange if uuid is
// unknown.
func (s *Service) SetVMStateByUUID(dbName, uuid, state string) (VMMapping, error) {
	d, err := s.db(dbName)
	if err != nil {
		return VMMapping{}, err
	}
	if err := s.apply(Operation{Kind: OpSetVMState, DB: dbName, UUID: uuid, State: state}); err != nil {
		return VMMapping{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	vmm, ok := d.vmMappings[uuid]
	if !ok {
		return VMMapping{}, fmt.Errorf("%s: %w", uuid, fwerrors.ErrOutOfRange)
	}
	d.updateNotReady(uuid, state)
	vmm.State = state
	result := *vmm
	s.publish(&events.Event{Type: events.TypeVMStateChanged, VMUUID: uuid, Message: state})
	return result, nil
}

// SetVMTimeByUUID partially updates current_time, failing OutOfRange if
// uuid is unknown.
func (s *Service) SetVMTimeByUUID(dbName, uuid string, currentTime float64) (VMMapping, error) {
	d, err := s.db(dbName)
	if err != nil {
		return VMMapping{}, err
	}
	if err := s.apply(Operation{Kind: OpSetVMTime, DB: dbName, UUID: uuid, Time: currentTime}); err != nil {
		return VMMapping{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	vmm, ok := d.vmMappings[uuid]
	if !ok {
		return VMMapping{}, fmt.Errorf("%s: %w", uuid, fwerrors.ErrOutOfRange)
	}
	vmm.CurrentTime = currentTime
	result := *vmm
	s.publish(&events.Event{Type: events.TypeVMTimeUpdated, VMUUID: uuid})
	return result, nil
}

// GetVMMappingByUUID fails OutOfRange if uuid is unknown.
func (s *Service) GetVMMappingByUUID(dbName, uuid string) (VMMapping, error) {
	d, err := s.db(dbName)
	if err != nil {
		return VMMapping{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	vmm, ok := d.vmMappings[uuid]
	if !ok {
		return VMMapping{}, fmt.Errorf("%s: %w", uuid, fwerrors.ErrOutOfRange)
	}
	return *vmm, nil
}

// ListVMMappings returns a snapshot copied under lock, matching the
// original's copy.deepcopy-then-yield pattern.
func (s *Service) ListVMMappings(dbName string) ([]VMMapping, error) {
	d, err := s.db(dbName)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	out := make([]VMMapping, 0, len(d.vmMappings))
	for _, vmm := range d.vmMappings {
		out = append(out, *vmm)
	}
	d.mu.Unlock()
	return out, nil
}

// CountVMMappingsNotReady returns |not_ready_vmms|.
func (s *Service) CountVMMappingsNotReady(dbName string) (int, error) {
	d, err := s.db(dbName)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.notReady), nil
}

// DestroyVMMappingByUUID is a no-op if uuid is unknown.
func (s *Service) DestroyVMMappingByUUID(dbName, uuid string) error {
	d, err := s.db(dbName)
	if err != nil {
		return err
	}
	if err := s.apply(Operation{Kind: OpDestroyVMMapping, DB: dbName, UUID: uuid}); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.notReady, uuid)
	delete(d.vmMappings, uuid)
	d.mu.Unlock()
	s.publish(&events.Event{Type: events.TypeVMMappingDestroyed, VMUUID: uuid})
	return nil
}

// DestroyAllVMMappings clears the named database's mapping set.
func (s *Service) DestroyAllVMMappings(dbName string) error {
	d, err := s.db(dbName)
	if err != nil {
		return err
	}
	if err := s.apply(Operation{Kind: OpDestroyAllVMMappings, DB: dbName}); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.vmMappings = make(map[string]*VMMapping)
	d.notReady = make(map[string]bool)
	return nil
}

// SetExperimentLaunchTime sets the launch time, overwriting any prior
// value, matching the original's unconditional assignment.
func (s *Service) SetExperimentLaunchTime(dbName string, seconds float64) (float64, error) {
	d, err := s.db(dbName)
	if err != nil {
		return 0, err
	}
	if err := s.apply(Operation{Kind: OpSetLaunchTime, DB: dbName, Time: seconds}); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.experimentLaunchTime = &seconds
	return seconds, nil
}

// GetExperimentLaunchTime fails OutOfRange if unset.
func (s *Service) GetExperimentLaunchTime(dbName string) (float64, error) {
	d, err := s.db(dbName)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.experimentLaunchTime == nil {
		return 0, fmt.Errorf("experiment launch time unset: %w", fwerrors.ErrOutOfRange)
	}
	return *d.experimentLaunchTime, nil
}

// SetExperimentStartTime appends a candidate start time and always returns
// the first one submitted (first-wins), matching the original's
// experiment_start_times[0] return after append.
func (s *Service) SetExperimentStartTime(dbName string, unixSeconds int64) (int64, error) {
	d, err := s.db(dbName)
	if err != nil {
		return 0, err
	}
	if err := s.apply(Operation{Kind: OpSetStartTime, DB: dbName, StartTime: unixSeconds}); err != nil {
		return 0, err
	}
	d.mu.Lock()
	d.experimentStartTimes = append(d.experimentStartTimes, unixSeconds)
	first := d.experimentStartTimes[0]
	isFirst := len(d.experimentStartTimes) == 1
	d.mu.Unlock()
	if isFirst {
		s.publish(&events.Event{Type: events.TypeExperimentStartTimeSet, Message: fmt.Sprintf("%d", first)})
	}
	return first, nil
}

// GetExperimentStartTime fails OutOfRange if unset.
func (s *Service) GetExperimentStartTime(dbName string) (int64, error) {
	d, err := s.db(dbName)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.experimentStartTimes) == 0 {
		return 0, fmt.Errorf("experiment start time unset: %w", fwerrors.ErrOutOfRange)
	}
	return d.experimentStartTimes[0], nil
}

// InitializeExperimentStartTime clears both the launch time and the list
// of candidate start times; it is the sole reset primitive (spec.md §9).
func (s *Service) InitializeExperimentStartTime(dbName string) error {
	d, err := s.db(dbName)
	if err != nil {
		return err
	}
	if err := s.apply(Operation{Kind: OpInitStartTime, DB: dbName}); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.experimentLaunchTime = nil
	d.experimentStartTimes = nil
	return nil
}

func (s *Service) apply(op Operation) error {
	if s.replicate == nil {
		return nil
	}
	return s.replicate(op)
}

// ElapsedSinceStart returns the seconds elapsed since the named database's
// first experiment start time, for schedule-updater resume arithmetic
// (pkg/updater.StartTimeSource).
func (s *Service) ElapsedSinceStart(dbName string) (float64, bool, error) {
	start, err := s.GetExperimentStartTime(dbName)
	if err != nil {
		return 0, false, nil //nolint:nilerr // unset start time is "not ready", not an error
	}
	return float64(time.Now().Unix() - start), true, nil
}
