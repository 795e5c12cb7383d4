package manager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loft-sh/log"
	"github.com/loft-sh/wsmaster/pkg/apierror"
	"github.com/loft-sh/wsmaster/pkg/events"
	"github.com/loft-sh/wsmaster/pkg/machine"
	"github.com/loft-sh/wsmaster/pkg/machine/fake"
	"github.com/loft-sh/wsmaster/pkg/runtime"
	"github.com/loft-sh/wsmaster/pkg/store/memory"
	"github.com/loft-sh/wsmaster/pkg/workspace"
	"github.com/loft-sh/wsmaster/pkg/workspace/workspacetest"
	"gotest.tools/assert"
	"gotest.tools/assert/cmp"
)

const owner = "user123"

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.WorkspaceStatusEvent
}

func (p *recordingPublisher) Publish(event events.WorkspaceStatusEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types(workspaceID string) []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []events.EventType
	for _, event := range p.events {
		if event.WorkspaceID == workspaceID {
			out = append(out, event.EventType)
		}
	}
	return out
}

func (p *recordingPublisher) last(workspaceID string) events.WorkspaceStatusEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out events.WorkspaceStatusEvent
	for _, event := range p.events {
		if event.WorkspaceID == workspaceID {
			out = event
		}
	}
	return out
}

type recordingHooks struct {
	mu    sync.Mutex
	calls []string

	beforeStartErr error
}

func (h *recordingHooks) record(call string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call)
}

func (h *recordingHooks) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *recordingHooks) BeforeCreate(ctx context.Context, ws *workspace.Workspace, accountID string) error {
	h.record(fmt.Sprintf("BeforeCreate:%s", ws.Status))
	return nil
}

func (h *recordingHooks) AfterCreate(ctx context.Context, ws *workspace.Workspace, accountID string) error {
	h.record(fmt.Sprintf("AfterCreate:%s", ws.Status))
	return nil
}

func (h *recordingHooks) BeforeStart(ctx context.Context, ws *workspace.Workspace, envName, accountID string) error {
	h.record(fmt.Sprintf("BeforeStart:%s", envName))
	return h.beforeStartErr
}

func (h *recordingHooks) AfterRemove(ctx context.Context, workspaceID string) {
	h.record("AfterRemove")
}

type testEnv struct {
	manager   *Manager
	store     *memory.Store
	registry  *runtime.Registry
	machines  *fake.Manager
	hooks     *recordingHooks
	publisher *recordingPublisher
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:     memory.NewStore(),
		machines:  fake.NewManager(),
		hooks:     &recordingHooks{},
		publisher: &recordingPublisher{},
	}
	env.registry = runtime.NewRegistry(env.machines, log.Discard)
	env.manager = NewManager(env.store, env.registry, env.machines, log.Discard, WithHooks(env.hooks), WithPublisher(env.publisher))
	return env
}

func (e *testEnv) create(t *testing.T, name string, extraMachines ...string) *workspace.Workspace {
	t.Helper()
	ws, err := e.manager.CreateWorkspace(context.Background(), workspacetest.Config(name, extraMachines...), owner, "account")
	assert.NilError(t, err)
	return ws
}

func (e *testEnv) startAndWait(t *testing.T, workspaceID string) {
	t.Helper()
	_, err := e.manager.StartWorkspaceByID(context.Background(), workspaceID, "", "account")
	assert.NilError(t, err)
	e.manager.Wait()
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCreateWorkspace(t *testing.T) {
	env := newTestEnv()
	ws := env.create(t, "dev-workspace")

	assert.Assert(t, strings.HasPrefix(ws.ID, "workspace"))
	assert.Equal(t, ws.Owner, owner)
	assert.Equal(t, ws.Status, workspace.StatusStopped)
	assert.Assert(t, !ws.Temporary)
	assert.DeepEqual(t, env.hooks.Calls(), []string{"BeforeCreate:STOPPED", "AfterCreate:STOPPED"})

	stored, err := env.store.Get(context.Background(), ws.ID)
	assert.NilError(t, err)
	assert.Equal(t, stored.Config.Name, "dev-workspace")
}

func TestCreateWorkspaceInvalid(t *testing.T) {
	env := newTestEnv()
	invalid := workspacetest.Config("dev-workspace")
	invalid.DefaultEnv = ""

	tests := []struct {
		name     string
		config   *workspace.Config
		owner    string
		errorMsg string
	}{
		{name: "nil config", owner: owner, errorMsg: "Required non-null workspace configuration"},
		{name: "empty owner", config: workspacetest.Config("dev-workspace"), errorMsg: "Required non-null workspace owner"},
		{name: "invalid config", config: invalid, owner: owner, errorMsg: "default environment name required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.manager.CreateWorkspace(context.Background(), tt.config, tt.owner, "")
			assert.Assert(t, apierror.IsBadRequest(err))
			assert.ErrorContains(t, err, tt.errorMsg)
		})
	}

	assert.Assert(t, cmp.Len(env.hooks.Calls(), 0))
}

func TestCreateWorkspaceDuplicateName(t *testing.T) {
	env := newTestEnv()
	env.create(t, "dev-workspace")

	_, err := env.manager.CreateWorkspace(context.Background(), workspacetest.Config("dev-workspace"), owner, "")
	assert.Assert(t, apierror.IsConflict(err))
}

func TestGetWorkspaceCorrectsStaleStatus(t *testing.T) {
	env := newTestEnv()
	ws := workspacetest.Workspace("workspace1", owner, "dev-workspace")
	ws.Status = workspace.StatusRunning
	ws.Temporary = true
	assert.NilError(t, env.store.Create(context.Background(), ws))

	got, err := env.manager.GetWorkspace(context.Background(), ws.ID)
	assert.NilError(t, err)
	assert.Equal(t, got.Status, workspace.StatusStopped)
	assert.Assert(t, !got.Temporary)

	got, err = env.manager.GetWorkspaceByName(context.Background(), "dev-workspace", owner)
	assert.NilError(t, err)
	assert.Equal(t, got.Status, workspace.StatusStopped)

	_, err = env.manager.GetWorkspace(context.Background(), "")
	assert.Error(t, err, "Required non-null workspace id")
	_, err = env.manager.GetWorkspace(context.Background(), "missing")
	assert.Assert(t, apierror.IsNotFound(err))
}

func TestGetWorkspacesMergesRuntimeStatus(t *testing.T) {
	env := newTestEnv()
	running := env.create(t, "running")
	env.create(t, "stopped")
	env.startAndWait(t, running.ID)

	workspaces, err := env.manager.GetWorkspaces(context.Background(), owner)
	assert.NilError(t, err)
	assert.Equal(t, len(workspaces), 2)
	assert.Equal(t, workspaces[0].Config.Name, "running")
	assert.Equal(t, workspaces[0].Status, workspace.StatusRunning)
	assert.Equal(t, workspaces[1].Status, workspace.StatusStopped)

	got, err := env.manager.GetWorkspace(context.Background(), running.ID)
	assert.NilError(t, err)
	assert.Equal(t, got.Status, workspace.StatusRunning)

	_, err = env.manager.GetWorkspaces(context.Background(), "")
	assert.Assert(t, apierror.IsBadRequest(err))
}

func TestStartWorkspaceByID(t *testing.T) {
	env := newTestEnv()
	ws := env.create(t, "dev-workspace", "db")

	release := make(chan struct{})
	env.machines.CreateFunc = func(ctx context.Context, config machine.Config, workspaceID string) error {
		<-release
		return nil
	}

	starting, err := env.manager.StartWorkspaceByID(context.Background(), ws.ID, "", "account")
	assert.NilError(t, err)
	assert.Equal(t, starting.Status, workspace.StatusStarting)
	assert.Equal(t, starting.ID, ws.ID)

	// the registry entry appears as soon as the background start inserted it
	waitFor(t, func() bool { return env.registry.HasRuntime(ws.ID) })
	_, err = env.manager.StartWorkspaceByID(context.Background(), ws.ID, "", "account")
	assert.Assert(t, apierror.IsConflict(err))
	assert.ErrorContains(t, err, "because its status is 'STARTING'")

	close(release)
	env.manager.Wait()

	runtime, err := env.manager.GetRuntimeWorkspace(context.Background(), ws.ID)
	assert.NilError(t, err)
	assert.Equal(t, runtime.Status, workspace.StatusRunning)
	assert.Equal(t, runtime.ActiveEnv, workspacetest.DevEnv)
	assert.Equal(t, len(runtime.Machines), 2)
	assert.DeepEqual(t, env.publisher.types(ws.ID), []events.EventType{events.EventTypeStarting, events.EventTypeRunning})
	assert.DeepEqual(t, env.hooks.Calls()[2:], []string{"BeforeStart:" + workspacetest.DevEnv})
}

func TestStartWorkspaceFailureIsPublished(t *testing.T) {
	env := newTestEnv()
	ws := env.create(t, "dev-workspace")

	starting, err := env.manager.StartWorkspaceByID(context.Background(), ws.ID, "non-existing", "")
	assert.NilError(t, err)
	assert.Equal(t, starting.Status, workspace.StatusStarting)
	env.manager.Wait()

	assert.Assert(t, !env.registry.HasRuntime(ws.ID))
	last := env.publisher.last(ws.ID)
	assert.Equal(t, last.EventType, events.EventTypeError)
	assert.Assert(t, strings.Contains(last.Error, "non-existing"))
}

func TestStartWorkspaceByName(t *testing.T) {
	env := newTestEnv()
	ws := env.create(t, "dev-workspace")

	starting, err := env.manager.StartWorkspaceByName(context.Background(), "dev-workspace", owner, "", "")
	assert.NilError(t, err)
	assert.Equal(t, starting.ID, ws.ID)
	env.manager.Wait()
	assert.Assert(t, env.registry.HasRuntime(ws.ID))

	_, err = env.manager.StartWorkspaceByName(context.Background(), "dev-workspace", "", "", "")
	assert.Error(t, err, "Required non-null workspace owner")
	_, err = env.manager.StartWorkspaceByName(context.Background(), "other", owner, "", "")
	assert.Assert(t, apierror.IsNotFound(err))
}

func TestPerformSyncStart(t *testing.T) {
	env := newTestEnv()
	ws := workspacetest.Workspace("workspace1", owner, "dev-workspace", "db")

	runtime, err := env.manager.PerformSyncStart(context.Background(), ws, workspacetest.DevEnv, false, "")
	assert.NilError(t, err)
	assert.Equal(t, runtime.Status, workspace.StatusRunning)

	_, err = env.manager.PerformSyncStart(context.Background(), ws, workspacetest.DevEnv, false, "")
	assert.Assert(t, apierror.IsConflict(err))
	assert.DeepEqual(t, env.publisher.types(ws.ID), []events.EventType{
		events.EventTypeStarting, events.EventTypeRunning,
		events.EventTypeStarting, events.EventTypeError,
	})
}

func TestPerformSyncStartHookFailure(t *testing.T) {
	env := newTestEnv()
	env.hooks.beforeStartErr = apierror.NotFound("account not found")
	ws := workspacetest.Workspace("workspace1", owner, "dev-workspace")

	_, err := env.manager.PerformSyncStart(context.Background(), ws, workspacetest.DevEnv, false, "")
	assert.Assert(t, apierror.IsNotFound(err))
	assert.Assert(t, !env.registry.HasRuntime(ws.ID))
	assert.Assert(t, cmp.Len(env.publisher.types(ws.ID), 0))
	assert.Equal(t, len(env.machines.Calls("")), 0)
}

func TestStopWorkspace(t *testing.T) {
	env := newTestEnv()
	ws := env.create(t, "dev-workspace", "db")

	err := env.manager.StopWorkspace(context.Background(), ws.ID)
	assert.Assert(t, apierror.IsNotFound(err))

	env.startAndWait(t, ws.ID)
	assert.NilError(t, env.manager.StopWorkspace(context.Background(), ws.ID))
	env.manager.Wait()

	assert.Assert(t, !env.registry.HasRuntime(ws.ID))
	assert.Assert(t, cmp.Len(env.machines.Running(), 0))
	assert.DeepEqual(t, env.publisher.types(ws.ID), []events.EventType{
		events.EventTypeStarting, events.EventTypeRunning,
		events.EventTypeStopping, events.EventTypeStopped,
	})

	// only temporary workspaces are removed after a stop
	for _, call := range env.hooks.Calls() {
		assert.Assert(t, call != "AfterRemove")
	}
}

func TestStopWorkspaceWhileStarting(t *testing.T) {
	env := newTestEnv()
	ws := env.create(t, "dev-workspace", "db")

	release := make(chan struct{})
	env.machines.CreateFunc = func(ctx context.Context, config machine.Config, workspaceID string) error {
		<-release
		return nil
	}

	_, err := env.manager.StartWorkspaceByID(context.Background(), ws.ID, "", "account")
	assert.NilError(t, err)
	waitFor(t, func() bool { return env.registry.HasRuntime(ws.ID) })

	err = env.manager.StopWorkspace(context.Background(), ws.ID)
	assert.Assert(t, apierror.IsConflict(err))
	assert.ErrorContains(t, err, "because its status is 'STARTING'")

	// a stop racing past the check is rejected by the registry and never reports STOPPED
	starting, err := env.registry.Get(ws.ID)
	assert.NilError(t, err)
	env.manager.PerformAsyncStop(context.Background(), starting)
	waitFor(t, func() bool { return env.publisher.last(ws.ID).EventType == events.EventTypeError })

	close(release)
	env.manager.Wait()

	runtime, err := env.manager.GetRuntimeWorkspace(context.Background(), ws.ID)
	assert.NilError(t, err)
	assert.Equal(t, runtime.Status, workspace.StatusRunning)
	assert.DeepEqual(t, env.publisher.types(ws.ID), []events.EventType{
		events.EventTypeStarting, events.EventTypeStopping, events.EventTypeError, events.EventTypeRunning,
	})
	assert.Equal(t, len(env.machines.Calls("Destroy")), 0)
}

func TestRemoveWorkspace(t *testing.T) {
	env := newTestEnv()
	ws := env.create(t, "dev-workspace")
	env.startAndWait(t, ws.ID)

	err := env.manager.RemoveWorkspace(context.Background(), ws.ID)
	assert.Assert(t, apierror.IsConflict(err))
	assert.Error(t, err, fmt.Sprintf("The workspace %s is currently running and cannot be removed.", ws.ID))

	assert.NilError(t, env.manager.StopWorkspace(context.Background(), ws.ID))
	env.manager.Wait()

	assert.NilError(t, env.manager.RemoveWorkspace(context.Background(), ws.ID))
	_, err = env.manager.GetWorkspace(context.Background(), ws.ID)
	assert.Assert(t, apierror.IsNotFound(err))

	calls := env.hooks.Calls()
	assert.Equal(t, calls[len(calls)-1], "AfterRemove")
}

func TestUpdateWorkspace(t *testing.T) {
	env := newTestEnv()
	ws := env.create(t, "dev-workspace")

	config := workspacetest.Config("renamed", "db")
	updated, err := env.manager.UpdateWorkspace(context.Background(), ws.ID, config)
	assert.NilError(t, err)
	assert.Equal(t, updated.Config.Name, "renamed")
	assert.Equal(t, updated.Owner, owner)
	assert.Equal(t, updated.Status, workspace.StatusStopped)

	env.startAndWait(t, ws.ID)
	updated, err = env.manager.UpdateWorkspace(context.Background(), ws.ID, config)
	assert.NilError(t, err)
	assert.Equal(t, updated.Status, workspace.StatusRunning)

	config.Environments = nil
	_, err = env.manager.UpdateWorkspace(context.Background(), ws.ID, config)
	assert.Assert(t, apierror.IsBadRequest(err))

	_, err = env.manager.UpdateWorkspace(context.Background(), "missing", workspacetest.Config("other"))
	assert.Assert(t, apierror.IsNotFound(err))
}

func TestStartTemporaryWorkspace(t *testing.T) {
	env := newTestEnv()

	_, err := env.manager.StartTemporaryWorkspace(context.Background(), workspacetest.Config("temporary"), "")
	assert.Error(t, err, "Required non-null workspace owner")

	ctx := WithUser(context.Background(), owner)
	runtime, err := env.manager.StartTemporaryWorkspace(ctx, workspacetest.Config("temporary", "db"), "")
	assert.NilError(t, err)
	assert.Equal(t, runtime.Status, workspace.StatusRunning)
	assert.Assert(t, runtime.Temporary)
	assert.Equal(t, runtime.Owner, owner)
	assert.Equal(t, len(runtime.Machines), 2)
	assert.DeepEqual(t, env.hooks.Calls(), []string{"BeforeCreate:STOPPED", "BeforeStart:" + workspacetest.DevEnv, "AfterCreate:RUNNING"})

	// temporary workspaces are never persisted
	_, err = env.store.Get(ctx, runtime.ID)
	assert.Assert(t, apierror.IsNotFound(err))

	assert.NilError(t, env.manager.StopWorkspace(ctx, runtime.ID))
	env.manager.Wait()
	calls := env.hooks.Calls()
	assert.Equal(t, calls[len(calls)-1], "AfterRemove")
}

func TestSnapshotAndRecover(t *testing.T) {
	env := newTestEnv()
	ws := env.create(t, "dev-workspace", "db")
	env.startAndWait(t, ws.ID)

	assert.NilError(t, env.manager.CreateSnapshot(context.Background(), ws.ID))
	env.manager.Wait()
	assert.Equal(t, env.publisher.last(ws.ID).EventType, events.EventTypeSnapshotCreated)

	snapshots, err := env.manager.GetSnapshot(WithUser(context.Background(), owner), ws.ID)
	assert.NilError(t, err)
	assert.Equal(t, len(snapshots), 2)

	assert.NilError(t, env.manager.StopWorkspace(context.Background(), ws.ID))
	env.manager.Wait()

	recovering, err := env.manager.RecoverWorkspace(context.Background(), ws.ID, "", "")
	assert.NilError(t, err)
	assert.Equal(t, recovering.Status, workspace.StatusStarting)
	env.manager.Wait()

	runtime, err := env.manager.GetRuntimeWorkspace(context.Background(), ws.ID)
	assert.NilError(t, err)
	assert.Equal(t, runtime.Status, workspace.StatusRunning)
	assert.Equal(t, len(env.machines.Calls("RecoverMachine")), 2)
}

func TestCreateSnapshotDevMachineFailure(t *testing.T) {
	env := newTestEnv()
	ws := env.create(t, "dev-workspace", "db")
	env.startAndWait(t, ws.ID)

	env.machines.SaveErr = func(ctx context.Context, m *machine.Machine) error {
		if m.Config.Dev {
			return apierror.Server("commit failed")
		}
		return nil
	}

	assert.NilError(t, env.manager.CreateSnapshot(context.Background(), ws.ID))
	env.manager.Wait()

	last := env.publisher.last(ws.ID)
	assert.Equal(t, last.EventType, events.EventTypeSnapshotCreationError)
	assert.Equal(t, last.Error, "commit failed")

	err := env.manager.CreateSnapshot(context.Background(), "missing")
	assert.Assert(t, apierror.IsNotFound(err))
}

func TestGetRuntimeWorkspaces(t *testing.T) {
	env := newTestEnv()
	ws := env.create(t, "dev-workspace")

	runtimes, err := env.manager.GetRuntimeWorkspaces(context.Background(), owner)
	assert.NilError(t, err)
	assert.Assert(t, cmp.Len(runtimes, 0))

	env.startAndWait(t, ws.ID)
	runtimes, err = env.manager.GetRuntimeWorkspaces(context.Background(), owner)
	assert.NilError(t, err)
	assert.Equal(t, len(runtimes), 1)
	assert.Equal(t, runtimes[0].ID, ws.ID)
}

func TestShutdown(t *testing.T) {
	env := newTestEnv()
	first := env.create(t, "first", "db")
	second := env.create(t, "second")
	env.startAndWait(t, first.ID)
	env.startAndWait(t, second.ID)

	assert.NilError(t, env.manager.Shutdown(context.Background()))
	assert.Assert(t, !env.registry.HasRuntime(first.ID))
	assert.Assert(t, !env.registry.HasRuntime(second.ID))
	assert.Assert(t, cmp.Len(env.machines.Running(), 0))

	_, err := env.manager.StartWorkspaceByID(context.Background(), first.ID, "", "")
	assert.NilError(t, err)
	env.manager.Wait()
	last := env.publisher.last(first.ID)
	assert.Equal(t, last.EventType, events.EventTypeError)
	assert.Assert(t, strings.Contains(last.Error, "registry is stopping workspaces"))
}

func TestUserFromContext(t *testing.T) {
	_, ok := UserFromContext(context.Background())
	assert.Assert(t, !ok)

	userID, ok := UserFromContext(WithUser(context.Background(), "user1"))
	assert.Assert(t, ok)
	assert.Equal(t, userID, "user1")
}
