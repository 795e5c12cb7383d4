package fake

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/loft-sh/wsmaster/pkg/apierror"
	"github.com/loft-sh/wsmaster/pkg/machine"
)

var _ machine.Manager = (*Manager)(nil)

// Call records a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// CallRecorder tracks method calls for assertion in tests.
type CallRecorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *CallRecorder) record(method string, args ...any) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Method: method, Args: args})
	r.mu.Unlock()
}

// Calls returns recorded calls. If method is "", returns all calls.
func (r *CallRecorder) Calls(method string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Call
	for _, c := range r.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears all recorded calls.
func (r *CallRecorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

// Manager is an in-memory machine.Manager. The hook funcs run before the
// corresponding operation and may block, fail it or trigger side effects.
type Manager struct {
	CallRecorder

	mu        sync.Mutex
	machines  map[string]*machine.Machine
	snapshots map[string]*machine.Snapshot

	// Delay simulates provisioning time
	Delay time.Duration

	CreateFunc  func(ctx context.Context, config machine.Config, workspaceID string) error
	RecoverFunc func(ctx context.Context, config machine.Config, workspaceID string) error
	DestroyErr  func(ctx context.Context, machineID string) error
	SaveErr     func(ctx context.Context, m *machine.Machine) error
}

func NewManager() *Manager {
	return &Manager{
		machines:  map[string]*machine.Machine{},
		snapshots: map[string]*machine.Snapshot{},
	}
}

func (f *Manager) CreateMachineSync(ctx context.Context, config machine.Config, workspaceID, envName, owner string) (*machine.Machine, error) {
	f.record("CreateMachineSync", config.Name, workspaceID, envName)
	if f.CreateFunc != nil {
		if err := f.CreateFunc(ctx, config, workspaceID); err != nil {
			return nil, err
		}
	}

	return f.create(ctx, config, workspaceID, envName, owner)
}

func (f *Manager) RecoverMachine(ctx context.Context, config machine.Config, workspaceID, envName, owner string) (*machine.Machine, error) {
	f.record("RecoverMachine", config.Name, workspaceID, envName)
	if f.RecoverFunc != nil {
		if err := f.RecoverFunc(ctx, config, workspaceID); err != nil {
			return nil, err
		}
	}

	if f.latestSnapshot(workspaceID, envName, config.Name) == nil {
		return nil, apierror.NotFound("Snapshot for machine '%s' of workspace '%s' not found", config.Name, workspaceID)
	}

	return f.create(ctx, config, workspaceID, envName, owner)
}

func (f *Manager) create(ctx context.Context, config machine.Config, workspaceID, envName, owner string) (*machine.Machine, error) {
	if f.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.Delay):
		}
	}

	m := &machine.Machine{
		ID:                machine.NewID(),
		WorkspaceID:       workspaceID,
		EnvName:           envName,
		Owner:             owner,
		Config:            config.Copy(),
		Status:            machine.StatusRunning,
		CreationTimestamp: time.Now(),
	}
	m.ContainerID = "fake-" + m.ID

	f.mu.Lock()
	f.machines[m.ID] = m
	f.mu.Unlock()
	return m.Copy(), nil
}

func (f *Manager) Destroy(ctx context.Context, machineID string, removeVolumes bool) error {
	f.record("Destroy", machineID, removeVolumes)
	if f.DestroyErr != nil {
		if err := f.DestroyErr(ctx, machineID); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.machines[machineID]; !ok {
		return apierror.NotFound("Machine %s not found", machineID)
	}
	delete(f.machines, machineID)
	return nil
}

func (f *Manager) SaveSync(ctx context.Context, machineID, owner, envName string) (*machine.Snapshot, error) {
	f.record("SaveSync", machineID, owner, envName)

	f.mu.Lock()
	m, ok := f.machines[machineID]
	f.mu.Unlock()
	if !ok {
		return nil, apierror.NotFound("Machine %s not found", machineID)
	}
	if f.SaveErr != nil {
		if err := f.SaveErr(ctx, m.Copy()); err != nil {
			return nil, err
		}
	}

	snapshot := &machine.Snapshot{
		ID:                machine.NewSnapshotID(),
		WorkspaceID:       m.WorkspaceID,
		EnvName:           envName,
		MachineName:       m.Config.Name,
		Owner:             owner,
		Dev:               m.Config.Dev,
		ImageID:           "fake-image-" + m.ID,
		CreationTimestamp: time.Now(),
	}

	f.mu.Lock()
	f.snapshots[snapshot.ID] = snapshot
	f.mu.Unlock()
	out := *snapshot
	return &out, nil
}

func (f *Manager) GetSnapshots(ctx context.Context, owner, workspaceID string) ([]*machine.Snapshot, error) {
	f.record("GetSnapshots", owner, workspaceID)

	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*machine.Snapshot{}
	for _, snapshot := range f.snapshots {
		if snapshot.Owner == owner && snapshot.WorkspaceID == workspaceID {
			s := *snapshot
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreationTimestamp.Before(out[j].CreationTimestamp)
	})
	return out, nil
}

// Running returns the ids of all machines that were created and not destroyed yet
func (f *Manager) Running() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.machines))
	for id := range f.machines {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (f *Manager) latestSnapshot(workspaceID, envName, machineName string) *machine.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	var latest *machine.Snapshot
	for _, snapshot := range f.snapshots {
		if snapshot.WorkspaceID != workspaceID || snapshot.EnvName != envName || snapshot.MachineName != machineName {
			continue
		}
		if latest == nil || snapshot.CreationTimestamp.After(latest.CreationTimestamp) {
			latest = snapshot
		}
	}
	return latest
}
