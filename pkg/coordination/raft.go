package coordination

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// ReplicatedConfig starts the Coordination Service in the optional
// durable, Raft-backed mode described in SPEC_FULL.md §4.2: every
// mutating RPC commits through the replicated log before it is applied to
// the in-memory databases, grounded on the teacher's pkg/manager Bootstrap
// sequence and WarrenFSM Apply pattern.
type ReplicatedConfig struct {
	NodeID   string
	BindAddr string
	DataDir  string
	Version  string
}

// Replicated wraps a Service with a single-node-bootstrapped raft.Raft
// instance. Additional voters can be added later with raft.Raft.AddVoter
// through Raft(), matching the teacher's JoinCluster flow.
type Replicated struct {
	*Service
	raft *raft.Raft
}

// StartReplicated bootstraps a new single-node raft cluster backed by
// raft-boltdb log/stable stores and wires its FSM to apply committed
// operations to a fresh Service.
func StartReplicated(cfg ReplicatedConfig) (*Replicated, error) {
	svc := New(Config{Version: cfg.Version})
	fsm := &fsm{service: svc}
	svc.replicate = fsm.commit

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("creating raft transport: %w", err)
	}
	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("creating raft snapshot store: %w", err)
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("creating raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("creating raft stable store: %w", err)
	}

	r, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("creating raft node: %w", err)
	}
	fsm.raft = r

	future := r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: raftConfig.LocalID, Address: transport.LocalAddr()}},
	})
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("bootstrapping raft cluster: %w", err)
	}

	return &Replicated{Service: svc, raft: r}, nil
}

// Raft exposes the underlying raft.Raft for cluster membership changes
// (AddVoter, RemoveServer) and leadership inspection.
func (r *Replicated) Raft() *raft.Raft {
	return r.raft
}

// IsLeader reports whether this node currently holds raft leadership.
func (r *Replicated) IsLeader() bool {
	return r.raft.State() == raft.Leader
}

// fsm applies committed operations to the wrapped Service's databases. It
// does not itself hold the databases: Service.apply is what commits an
// operation through raft before the Service methods mutate their state,
// so fsm.Apply replays the same operation locally once consensus is
// reached, exactly mirroring the teacher's WarrenFSM Apply switch over a
// JSON-encoded Command.
type fsm struct {
	service *Service
	raft    *raft.Raft
}

func (f *fsm) commit(op Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshaling coordination operation: %w", err)
	}
	future := f.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("committing coordination operation: %w", err)
	}
	if errResult, ok := future.Response().(error); ok && errResult != nil {
		return errResult
	}
	return nil
}

// Apply implements raft.FSM by replaying one committed operation directly
// against the database maps, bypassing Service.apply (which would
// otherwise re-enter raft).
func (f *fsm) Apply(entry *raft.Log) interface{} {
	var op Operation
	if err := json.Unmarshal(entry.Data, &op); err != nil {
		return fmt.Errorf("unmarshaling coordination operation: %w", err)
	}

	d, err := f.service.db(op.DB)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	switch op.Kind {
	case OpSetVMMapping:
		d.updateNotReady(op.Mapping.ServerUUID, op.Mapping.State)
		cp := *op.Mapping
		d.vmMappings[op.Mapping.ServerUUID] = &cp
	case OpSetVMState:
		d.updateNotReady(op.UUID, op.State)
		if vmm, ok := d.vmMappings[op.UUID]; ok {
			vmm.State = op.State
		}
	case OpSetVMTime:
		if vmm, ok := d.vmMappings[op.UUID]; ok {
			vmm.CurrentTime = op.Time
		}
	case OpDestroyVMMapping:
		delete(d.notReady, op.UUID)
		delete(d.vmMappings, op.UUID)
	case OpDestroyAllVMMappings:
		d.vmMappings = make(map[string]*VMMapping)
		d.notReady = make(map[string]bool)
	case OpSetLaunchTime:
		t := op.Time
		d.experimentLaunchTime = &t
	case OpSetStartTime:
		d.experimentStartTimes = append(d.experimentStartTimes, op.StartTime)
	case OpInitStartTime:
		d.experimentLaunchTime = nil
		d.experimentStartTimes = nil
	default:
		return fmt.Errorf("unknown coordination operation kind: %d", op.Kind)
	}
	return nil
}

// Snapshot captures every database as a JSON blob.
func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	snap := make(map[string]dbSnapshot, len(f.service.dbs))
	for name, d := range f.service.dbs {
		d.mu.Lock()
		mappings := make(map[string]VMMapping, len(d.vmMappings))
		for uuid, m := range d.vmMappings {
			mappings[uuid] = *m
		}
		s := dbSnapshot{VMMappings: mappings, StartTimes: append([]int64(nil), d.experimentStartTimes...)}
		if d.experimentLaunchTime != nil {
			s.LaunchTime = d.experimentLaunchTime
		}
		d.mu.Unlock()
		snap[name] = s
	}
	return &fsmSnapshot{dbs: snap}, nil
}

// Restore replaces every database's contents from a snapshot.
func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var snap map[string]dbSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("decoding coordination snapshot: %w", err)
	}
	for name, s := range snap {
		d, err := f.service.db(name)
		if err != nil {
			continue
		}
		d.mu.Lock()
		d.vmMappings = make(map[string]*VMMapping, len(s.VMMappings))
		d.notReady = make(map[string]bool)
		for uuid, m := range s.VMMappings {
			cp := m
			d.vmMappings[uuid] = &cp
			d.updateNotReady(uuid, m.State)
		}
		d.experimentLaunchTime = s.LaunchTime
		d.experimentStartTimes = s.StartTimes
		d.mu.Unlock()
	}
	return nil
}

type dbSnapshot struct {
	VMMappings map[string]VMMapping `json:"vm_mappings"`
	StartTimes []int64              `json:"start_times"`
	LaunchTime *float64             `json:"launch_time"`
}

type fsmSnapshot struct {
	dbs map[string]dbSnapshot
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s.dbs); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *fsmSnapshot) Release() {}
