package runtime

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/loft-sh/log"
	"github.com/loft-sh/wsmaster/pkg/apierror"
	"github.com/loft-sh/wsmaster/pkg/machine"
	"github.com/loft-sh/wsmaster/pkg/machine/fake"
	"github.com/loft-sh/wsmaster/pkg/workspace"
	"github.com/loft-sh/wsmaster/pkg/workspace/workspacetest"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"gotest.tools/assert"
	"gotest.tools/assert/cmp"
)

const owner = "user123"

func newTestRegistry() (*Registry, *fake.Manager, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	machines := fake.NewManager()
	return NewRegistry(machines, log.Discard, WithTracer(provider.Tracer("registry-test"))), machines, recorder
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

// destroyedIDs returns the ids of all destroyed machines and checks that
// their volumes were removed as well
func destroyedIDs(t *testing.T, machines *fake.Manager) []string {
	t.Helper()
	var out []string
	for _, call := range machines.Calls("Destroy") {
		out = append(out, call.Args[0].(string))
		assert.Equal(t, call.Args[1], true)
	}
	return out
}

func TestStartDevWorkspace(t *testing.T) {
	registry, machines, _ := newTestRegistry()
	ws := workspacetest.Workspace("workspace1", owner, "dev-workspace", "non-dev-machine")

	runtime, err := registry.Start(context.Background(), ws, workspacetest.DevEnv, false)
	assert.NilError(t, err)
	assert.Equal(t, runtime.Status, workspace.StatusRunning)
	assert.Assert(t, runtime.DevMachine != nil)
	assert.Equal(t, runtime.DevMachine.Config.Name, workspacetest.DevMachine)
	assert.Equal(t, len(runtime.Machines), 2)
	assert.Equal(t, runtime.ActiveEnv, workspacetest.DevEnv)
	assert.Equal(t, runtime.Owner, owner)
	assert.Assert(t, registry.HasRuntime(ws.ID))

	// dev machine is always created first
	creates := machines.Calls("CreateMachineSync")
	assert.Equal(t, len(creates), 2)
	assert.Equal(t, creates[0].Args[0], workspacetest.DevMachine)
	assert.Equal(t, creates[1].Args[0], "non-dev-machine")
	assert.Equal(t, len(machines.Calls("RecoverMachine")), 0)
}

func TestStartMachineCountMatchesConfig(t *testing.T) {
	for count := 0; count < 5; count++ {
		t.Run(fmt.Sprintf("%d extra machines", count), func(t *testing.T) {
			registry, _, _ := newTestRegistry()
			var extra []string
			for i := 0; i < count; i++ {
				extra = append(extra, fmt.Sprintf("machine-%d", i))
			}
			ws := workspacetest.Workspace("workspace1", owner, "dev-workspace", extra...)

			runtime, err := registry.Start(context.Background(), ws, workspacetest.DevEnv, false)
			assert.NilError(t, err)
			assert.Equal(t, runtime.Status, workspace.StatusRunning)
			assert.Equal(t, len(runtime.Machines), count+1)
		})
	}
}

func TestStartPreconditions(t *testing.T) {
	tests := []struct {
		name      string
		workspace func() *workspace.Workspace
		envName   string
		errorMsg  string
	}{
		{
			name:      "nil workspace",
			workspace: func() *workspace.Workspace { return nil },
			envName:   workspacetest.DevEnv,
			errorMsg:  "Required non-null workspace",
		},
		{
			name: "empty environment name",
			workspace: func() *workspace.Workspace {
				return workspacetest.Workspace("workspace1", owner, "dev-workspace")
			},
			errorMsg: "workspace1",
		},
		{
			name: "unknown environment",
			workspace: func() *workspace.Workspace {
				return workspacetest.Workspace("workspace1", owner, "dev-workspace")
			},
			envName:  "non-existing",
			errorMsg: "non-existing",
		},
		{
			name: "non docker recipe",
			workspace: func() *workspace.Workspace {
				ws := workspacetest.Workspace("workspace1", owner, "dev-workspace")
				ws.Config.Environments[0].Recipe.Type = "compose"
				return ws
			},
			envName:  workspacetest.DevEnv,
			errorMsg: "unsupported type 'compose'",
		},
		{
			name: "nil recipe",
			workspace: func() *workspace.Workspace {
				ws := workspacetest.Workspace("workspace1", owner, "dev-workspace")
				ws.Config.Environments[0].Recipe = nil
				return ws
			},
			envName:  workspacetest.DevEnv,
			errorMsg: "environment recipe is null",
		},
		{
			name: "no machines",
			workspace: func() *workspace.Workspace {
				ws := workspacetest.Workspace("workspace1", owner, "dev-workspace")
				ws.Config.Environments[0].MachineConfigs = nil
				return ws
			},
			envName:  workspacetest.DevEnv,
			errorMsg: "doesn't contain machines",
		},
		{
			name: "no dev machine",
			workspace: func() *workspace.Workspace {
				ws := workspacetest.Workspace("workspace1", owner, "dev-workspace", "db")
				ws.Config.Environments[0].MachineConfigs[0].Dev = false
				return ws
			},
			envName:  workspacetest.DevEnv,
			errorMsg: "but contains '0'",
		},
		{
			name: "two dev machines",
			workspace: func() *workspace.Workspace {
				ws := workspacetest.Workspace("workspace1", owner, "dev-workspace", "db")
				ws.Config.Environments[0].MachineConfigs[1].Dev = true
				return ws
			},
			envName:  workspacetest.DevEnv,
			errorMsg: "but contains '2'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, machines, _ := newTestRegistry()
			ws := tt.workspace()

			_, err := registry.Start(context.Background(), ws, tt.envName, false)
			assert.Assert(t, apierror.IsBadRequest(err), "expected bad request, got %v", err)
			assert.ErrorContains(t, err, tt.errorMsg)
			assert.Equal(t, len(machines.Calls("")), 0)
			if ws != nil {
				assert.Assert(t, !registry.HasRuntime(ws.ID))
			}
		})
	}
}

func TestStartConflictWhileStarting(t *testing.T) {
	registry, machines, _ := newTestRegistry()
	ws := workspacetest.Workspace("workspace1", owner, "dev-workspace")

	release := make(chan struct{})
	machines.CreateFunc = func(ctx context.Context, config machine.Config, workspaceID string) error {
		<-release
		return nil
	}

	done := make(chan error)
	go func() {
		_, err := registry.Start(context.Background(), ws, workspacetest.DevEnv, false)
		done <- err
	}()
	waitFor(t, func() bool { return registry.HasRuntime(ws.ID) })

	runtime, err := registry.Get(ws.ID)
	assert.NilError(t, err)
	assert.Equal(t, runtime.Status, workspace.StatusStarting)

	_, err = registry.Start(context.Background(), ws, workspacetest.DevEnv, false)
	assert.Assert(t, apierror.IsConflict(err))
	assert.ErrorContains(t, err, "STARTING")

	err = registry.Stop(context.Background(), ws.ID)
	assert.Assert(t, apierror.IsConflict(err))
	assert.ErrorContains(t, err, "STARTING")

	close(release)
	assert.NilError(t, <-done)

	_, err = registry.Start(context.Background(), ws, workspacetest.DevEnv, false)
	assert.Assert(t, apierror.IsConflict(err))
	assert.ErrorContains(t, err, "RUNNING")
}

func TestConcurrentStartsOfSameWorkspace(t *testing.T) {
	registry, machines, _ := newTestRegistry()
	machines.Delay = 20 * time.Millisecond
	ws := workspacetest.Workspace("workspace1", owner, "dev-workspace", "db")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := registry.Start(context.Background(), ws, workspacetest.DevEnv, false)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if apierror.IsConflict(err) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, succeeded, 1)
	assert.Equal(t, conflicts, 9)
	assert.Equal(t, len(machines.Calls("CreateMachineSync")), 2)
}

func TestStartDevMachineFailure(t *testing.T) {
	registry, machines, _ := newTestRegistry()
	ws := workspacetest.Workspace("workspace1", owner, "dev-workspace", "db")
	machines.CreateFunc = func(ctx context.Context, config machine.Config, workspaceID string) error {
		return apierror.Server("no space left on device")
	}

	_, err := registry.Start(context.Background(), ws, workspacetest.DevEnv, false)
	assert.Assert(t, apierror.IsServer(err))
	assert.ErrorContains(t, err, "no space left on device")
	assert.Assert(t, !registry.HasRuntime(ws.ID))
	assert.Equal(t, len(machines.Calls("Destroy")), 0)
	assert.Equal(t, len(machines.Calls("CreateMachineSync")), 1)
}

func TestStartDevMachineFailureKeepsKind(t *testing.T) {
	registry, machines, _ := newTestRegistry()
	ws := workspacetest.Workspace("workspace1", owner, "dev-workspace")

	// without a snapshot the machine cannot be recovered
	_, err := registry.Start(context.Background(), ws, workspacetest.DevEnv, true)
	assert.Assert(t, apierror.IsNotFound(err), "expected not found, got %v", err)
	assert.Assert(t, !registry.HasRuntime(ws.ID))
	assert.Equal(t, len(machines.Calls("RecoverMachine")), 1)
	assert.Equal(t, len(machines.Calls("CreateMachineSync")), 0)
}

func TestStartRemovedBeforeDevMachineRegistered(t *testing.T) {
	registry, machines, _ := newTestRegistry()
	ws := workspacetest.Workspace("workspace1", owner, "dev-workspace", "db")
	machines.CreateFunc = func(ctx context.Context, config machine.Config, workspaceID string) error {
		registry.remove(workspaceID)
		return nil
	}

	_, err := registry.Start(context.Background(), ws, workspacetest.DevEnv, false)
	assert.Assert(t, apierror.IsServer(err))
	assert.ErrorContains(t, err, "before its dev-machine was started")
	assert.Equal(t, len(machines.Calls("CreateMachineSync")), 1)
	assert.Equal(t, len(destroyedIDs(t, machines)), 1)
	assert.Assert(t, cmp.Len(machines.Running(), 0))
	assert.Assert(t, !registry.HasRuntime(ws.ID))
}

func TestStartRemovedBeforeAllMachinesRegistered(t *testing.T) {
	registry, machines, _ := newTestRegistry()
	ws := workspacetest.Workspace("workspace1", owner, "dev-workspace", "db", "cache", "queue")
	machines.CreateFunc = func(ctx context.Context, config machine.Config, workspaceID string) error {
		if config.Name == "cache" {
			registry.remove(workspaceID)
		}
		return nil
	}

	_, err := registry.Start(context.Background(), ws, workspacetest.DevEnv, false)
	assert.Assert(t, apierror.IsServer(err))
	assert.ErrorContains(t, err, "before all its machines were started")

	// dev, db and cache were created, queue was never attempted
	assert.Equal(t, len(machines.Calls("CreateMachineSync")), 3)
	assert.Equal(t, len(destroyedIDs(t, machines)), 3)
	assert.Assert(t, cmp.Len(machines.Running(), 0))
	assert.Assert(t, !registry.HasRuntime(ws.ID))
}

func TestStartSkipsFailedNonDevMachine(t *testing.T) {
	registry, machines, _ := newTestRegistry()
	ws := workspacetest.Workspace("workspace1", owner, "dev-workspace", "db", "cache")
	machines.CreateFunc = func(ctx context.Context, config machine.Config, workspaceID string) error {
		if config.Name == "db" {
			return apierror.Server("image not found")
		}
		return nil
	}

	runtime, err := registry.Start(context.Background(), ws, workspacetest.DevEnv, false)
	assert.NilError(t, err)
	assert.Equal(t, runtime.Status, workspace.StatusRunning)
	assert.Equal(t, len(runtime.Machines), 2)
	assert.Equal(t, runtime.Machines[1].Config.Name, "cache")
}

func TestStop(t *testing.T) {
	registry, machines, _ := newTestRegistry()
	ws := workspacetest.Workspace("workspace1", owner, "dev-workspace", "db")

	runtime, err := registry.Start(context.Background(), ws, workspacetest.DevEnv, false)
	assert.NilError(t, err)

	err = registry.Stop(context.Background(), ws.ID)
	assert.NilError(t, err)
	assert.Assert(t, !registry.HasRuntime(ws.ID))

	_, err = registry.Get(ws.ID)
	assert.Assert(t, apierror.IsNotFound(err))
	assert.Error(t, err, "Workspace with id workspace1 is not running.")

	// non-dev machines are destroyed before the dev machine
	assert.DeepEqual(t, destroyedIDs(t, machines), []string{runtime.Machines[1].ID, runtime.DevMachine.ID})
	assert.Assert(t, cmp.Len(machines.Running(), 0))
}

func TestStopVisibleAsStopping(t *testing.T) {
	registry, machines, _ := newTestRegistry()
	ws := workspacetest.Workspace("workspace1", owner, "dev-workspace")
	_, err := registry.Start(context.Background(), ws, workspacetest.DevEnv, false)
	assert.NilError(t, err)

	release := make(chan struct{})
	machines.DestroyErr = func(ctx context.Context, machineID string) error {
		<-release
		return nil
	}

	done := make(chan error)
	go func() {
		done <- registry.Stop(context.Background(), ws.ID)
	}()
	waitFor(t, func() bool { return len(machines.Calls("Destroy")) == 1 })

	runtime, err := registry.Get(ws.ID)
	assert.NilError(t, err)
	assert.Equal(t, runtime.Status, workspace.StatusStopping)

	err = registry.Stop(context.Background(), ws.ID)
	assert.Assert(t, apierror.IsConflict(err))
	assert.ErrorContains(t, err, "STOPPING")

	close(release)
	assert.NilError(t, <-done)
	assert.Assert(t, !registry.HasRuntime(ws.ID))
}

func TestStopNotRunning(t *testing.T) {
	registry, _, _ := newTestRegistry()

	err := registry.Stop(context.Background(), "workspace1")
	assert.Assert(t, apierror.IsNotFound(err))
}

func TestStopDevMachineDestroyFailure(t *testing.T) {
	registry, machines, _ := newTestRegistry()
	ws := workspacetest.Workspace("workspace1", owner, "dev-workspace")
	_, err := registry.Start(context.Background(), ws, workspacetest.DevEnv, false)
	assert.NilError(t, err)

	machines.DestroyErr = func(ctx context.Context, machineID string) error {
		return fmt.Errorf("engine unavailable")
	}

	err = registry.Stop(context.Background(), ws.ID)
	assert.Assert(t, apierror.IsServer(err))
	assert.ErrorContains(t, err, "engine unavailable")
	assert.Assert(t, !registry.HasRuntime(ws.ID))
}

func TestGetByOwner(t *testing.T) {
	registry, _, _ := newTestRegistry()
	for _, ws := range []*workspace.Workspace{
		workspacetest.Workspace("workspace1", owner, "first"),
		workspacetest.Workspace("workspace2", owner, "second"),
		workspacetest.Workspace("workspace3", "other", "third"),
	} {
		_, err := registry.Start(context.Background(), ws, workspacetest.DevEnv, false)
		assert.NilError(t, err)
	}

	runtimes := registry.GetByOwner(owner)
	assert.Equal(t, len(runtimes), 2)
	assert.Equal(t, runtimes[0].ID, "workspace1")
	assert.Equal(t, runtimes[1].ID, "workspace2")

	assert.Equal(t, len(registry.GetByOwner("other")), 1)

	none := registry.GetByOwner("nobody")
	assert.Assert(t, none != nil)
	assert.Assert(t, cmp.Len(none, 0))

	assert.NilError(t, registry.Stop(context.Background(), "workspace1"))
	assert.Equal(t, len(registry.GetByOwner(owner)), 1)
}

func TestGetReturnsCopy(t *testing.T) {
	registry, _, _ := newTestRegistry()
	ws := workspacetest.Workspace("workspace1", owner, "dev-workspace", "db")
	runtime, err := registry.Start(context.Background(), ws, workspacetest.DevEnv, false)
	assert.NilError(t, err)

	runtime.Status = workspace.StatusStopping
	runtime.Machines = nil
	runtime.DevMachine.Config.Name = "changed"
	ws.Config.Name = "changed"

	stored, err := registry.Get(ws.ID)
	assert.NilError(t, err)
	assert.Equal(t, stored.Status, workspace.StatusRunning)
	assert.Equal(t, len(stored.Machines), 2)
	assert.Equal(t, stored.DevMachine.Config.Name, workspacetest.DevMachine)
	assert.Equal(t, stored.Config.Name, "dev-workspace")
}

func TestAddRunningMachine(t *testing.T) {
	registry, _, _ := newTestRegistry()

	m := &machine.Machine{ID: "machine1", WorkspaceID: "workspace1", Config: workspacetest.MachineConfig("db", false)}
	assert.Assert(t, !registry.AddRunningMachine(m))

	_, err := registry.Start(context.Background(), workspacetest.Workspace("workspace1", owner, "dev-workspace"), workspacetest.DevEnv, false)
	assert.NilError(t, err)
	assert.Assert(t, registry.AddRunningMachine(m))

	runtime, err := registry.Get("workspace1")
	assert.NilError(t, err)
	assert.Equal(t, len(runtime.Machines), 2)
}

func TestStopRegistry(t *testing.T) {
	registry, machines, _ := newTestRegistry()
	_, err := registry.Start(context.Background(), workspacetest.Workspace("workspace1", owner, "first", "db"), workspacetest.DevEnv, false)
	assert.NilError(t, err)
	_, err = registry.Start(context.Background(), workspacetest.Workspace("workspace2", "other", "second"), workspacetest.DevEnv, false)
	assert.NilError(t, err)

	registry.StopRegistry(context.Background())
	assert.Assert(t, !registry.HasRuntime("workspace1"))
	assert.Assert(t, !registry.HasRuntime("workspace2"))
	assert.Equal(t, len(destroyedIDs(t, machines)), 3)
	assert.Assert(t, cmp.Len(machines.Running(), 0))

	_, err = registry.Start(context.Background(), workspacetest.Workspace("workspace3", owner, "third"), workspacetest.DevEnv, false)
	assert.Assert(t, apierror.IsServer(err))
	assert.ErrorContains(t, err, "registry is stopping workspaces")

	err = registry.Stop(context.Background(), "workspace1")
	assert.ErrorContains(t, err, "registry is stopping workspaces")
}

func TestStopRegistryWhileStarting(t *testing.T) {
	registry, machines, _ := newTestRegistry()
	ws := workspacetest.Workspace("workspace1", owner, "dev-workspace", "db", "cache")

	entered := make(chan struct{})
	release := make(chan struct{})
	machines.CreateFunc = func(ctx context.Context, config machine.Config, workspaceID string) error {
		if config.Name == "db" {
			close(entered)
			<-release
		}
		return nil
	}

	done := make(chan error)
	go func() {
		_, err := registry.Start(context.Background(), ws, workspacetest.DevEnv, false)
		done <- err
	}()
	<-entered

	registry.StopRegistry(context.Background())
	close(release)

	err := <-done
	assert.ErrorContains(t, err, "before all its machines were started")

	// dev and db were created by the start and destroyed by its unwind only
	assert.Equal(t, len(destroyedIDs(t, machines)), 2)
	assert.Assert(t, cmp.Len(machines.Running(), 0))
}

func TestStartAndStopSpans(t *testing.T) {
	registry, machines, recorder := newTestRegistry()
	ws := workspacetest.Workspace("workspace1", owner, "dev-workspace", "db")

	_, err := registry.Start(context.Background(), ws, workspacetest.DevEnv, false)
	assert.NilError(t, err)
	assert.NilError(t, registry.Stop(context.Background(), ws.ID))

	machines.CreateFunc = func(ctx context.Context, config machine.Config, workspaceID string) error {
		return fmt.Errorf("boom")
	}
	_, err = registry.Start(context.Background(), ws, workspacetest.DevEnv, false)
	assert.ErrorContains(t, err, "boom")

	spans := recorder.Ended()
	assert.Equal(t, len(spans), 3)
	assert.Equal(t, spans[0].Name(), "runtime.Start")
	assert.Equal(t, spans[0].Status().Code, codes.Unset)
	assert.Equal(t, len(spans[0].Events()), 2)
	assert.Equal(t, spans[1].Name(), "runtime.Stop")
	assert.Equal(t, spans[2].Name(), "runtime.Start")
	assert.Equal(t, spans[2].Status().Code, codes.Error)
}
