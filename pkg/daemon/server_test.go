package daemon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loft-sh/log"
	"github.com/loft-sh/wsmaster/pkg/apierror"
	"github.com/loft-sh/wsmaster/pkg/events"
	"github.com/loft-sh/wsmaster/pkg/machine/fake"
	"github.com/loft-sh/wsmaster/pkg/manager"
	"github.com/loft-sh/wsmaster/pkg/runtime"
	"github.com/loft-sh/wsmaster/pkg/store/memory"
	"github.com/loft-sh/wsmaster/pkg/workspace"
	"github.com/loft-sh/wsmaster/pkg/workspace/workspacetest"
	"gotest.tools/assert"
)

type testDaemon struct {
	server   *httptest.Server
	manager  *manager.Manager
	bus      *events.Bus
	machines *fake.Manager
}

func newTestDaemon(t *testing.T) *testDaemon {
	bus := events.NewBus(log.Discard)
	machines := fake.NewManager()
	registry := runtime.NewRegistry(machines, log.Discard)
	workspaceManager := manager.NewManager(memory.NewStore(), registry, machines, log.Discard, manager.WithPublisher(bus))

	server := httptest.NewServer(NewServer(workspaceManager, bus, Options{DefaultOwner: "anonymous"}, log.Discard).Handler())
	t.Cleanup(func() {
		server.Close()
		_ = workspaceManager.Shutdown(context.Background())
		bus.Close()
	})

	return &testDaemon{server: server, manager: workspaceManager, bus: bus, machines: machines}
}

func (d *testDaemon) client(user string) *Client {
	return NewClient(d.server.URL, user, "account")
}

func TestWorkspaceLifecycle(t *testing.T) {
	d := newTestDaemon(t)
	client := d.client("alice")
	ctx := context.Background()

	ws, err := client.CreateWorkspace(ctx, workspacetest.Config("api-workspace", "db"))
	assert.NilError(t, err)
	assert.Equal(t, ws.Owner, "alice")
	assert.Equal(t, ws.Status, workspace.StatusStopped)

	byName, err := client.GetWorkspaceByName(ctx, "api-workspace", "")
	assert.NilError(t, err)
	assert.Equal(t, byName.ID, ws.ID)

	resolved, err := client.ResolveWorkspace(ctx, "api-workspace", "")
	assert.NilError(t, err)
	assert.Equal(t, resolved.ID, ws.ID)

	started, err := client.StartWorkspace(ctx, ws.ID, "", false)
	assert.NilError(t, err)
	assert.Equal(t, started.Status, workspace.StatusStarting)
	d.manager.Wait()

	runtimeWorkspace, err := client.GetRuntimeWorkspace(ctx, ws.ID)
	assert.NilError(t, err)
	assert.Equal(t, runtimeWorkspace.Status, workspace.StatusRunning)
	assert.Equal(t, len(runtimeWorkspace.Machines), 2)
	assert.Equal(t, runtimeWorkspace.DevMachine.Config.Name, workspacetest.DevMachine)

	runtimes, err := client.ListRuntimeWorkspaces(ctx, "")
	assert.NilError(t, err)
	assert.Equal(t, len(runtimes), 1)

	err = client.RemoveWorkspace(ctx, ws.ID)
	assert.Assert(t, apierror.IsConflict(err), "got %v", err)

	assert.NilError(t, client.StopWorkspace(ctx, ws.ID))
	d.manager.Wait()
	assert.Equal(t, len(d.machines.Running()), 0)

	assert.NilError(t, client.RemoveWorkspace(ctx, ws.ID))
	_, err = client.GetWorkspace(ctx, ws.ID)
	assert.Assert(t, apierror.IsNotFound(err), "got %v", err)
}

func TestErrorKinds(t *testing.T) {
	d := newTestDaemon(t)
	client := d.client("alice")
	ctx := context.Background()

	config := workspacetest.Config("invalid-workspace")
	config.DefaultEnv = ""
	_, err := client.CreateWorkspace(ctx, config)
	assert.Assert(t, apierror.IsBadRequest(err), "got %v", err)
	assert.ErrorContains(t, err, "default environment")

	assert.Assert(t, apierror.IsBadRequest(client.Validate(ctx, config)))
	assert.NilError(t, client.Validate(ctx, workspacetest.Config("valid-workspace")))

	err = client.StopWorkspace(ctx, "workspace404")
	assert.Assert(t, apierror.IsNotFound(err), "got %v", err)

	_, err = client.CreateWorkspace(ctx, workspacetest.Config("twice"))
	assert.NilError(t, err)
	_, err = client.CreateWorkspace(ctx, workspacetest.Config("twice"))
	assert.Assert(t, apierror.IsConflict(err), "got %v", err)

	res, err := http.Post(d.server.URL+routeWorkspaces, "application/json", strings.NewReader("{"))
	assert.NilError(t, err)
	defer res.Body.Close()
	assert.Equal(t, res.StatusCode, http.StatusBadRequest)
}

func TestDefaultOwner(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()

	ws, err := d.client("").CreateWorkspace(ctx, workspacetest.Config("shared"))
	assert.NilError(t, err)
	assert.Equal(t, ws.Owner, "anonymous")

	workspaces, err := d.client("alice").ListWorkspaces(ctx, "")
	assert.NilError(t, err)
	assert.Equal(t, len(workspaces), 0)

	workspaces, err = d.client("alice").ListWorkspaces(ctx, "anonymous")
	assert.NilError(t, err)
	assert.Equal(t, len(workspaces), 1)
}

func TestTemporaryWorkspace(t *testing.T) {
	d := newTestDaemon(t)
	client := d.client("alice")
	ctx := context.Background()

	runtimeWorkspace, err := client.StartTemporaryWorkspace(ctx, workspacetest.Config("scratch"))
	assert.NilError(t, err)
	assert.Equal(t, runtimeWorkspace.Status, workspace.StatusRunning)
	assert.Assert(t, runtimeWorkspace.Temporary)
	assert.Equal(t, runtimeWorkspace.Owner, "alice")

	_, err = client.GetWorkspace(ctx, runtimeWorkspace.ID)
	assert.Assert(t, apierror.IsNotFound(err), "got %v", err)
}

func TestSnapshot(t *testing.T) {
	d := newTestDaemon(t)
	client := d.client("alice")
	ctx := context.Background()

	ws, err := client.CreateWorkspace(ctx, workspacetest.Config("saved"))
	assert.NilError(t, err)
	_, err = client.StartWorkspace(ctx, ws.ID, "", false)
	assert.NilError(t, err)
	d.manager.Wait()

	assert.NilError(t, client.CreateSnapshot(ctx, ws.ID))
	d.manager.Wait()

	snapshots, err := client.GetSnapshot(ctx, ws.ID)
	assert.NilError(t, err)
	assert.Equal(t, len(snapshots), 1)
	assert.Assert(t, snapshots[0].Dev)

	assert.NilError(t, client.StopWorkspace(ctx, ws.ID))
	d.manager.Wait()

	recovered, err := client.StartWorkspace(ctx, ws.ID, "", true)
	assert.NilError(t, err)
	assert.Equal(t, recovered.Status, workspace.StatusStarting)
	d.manager.Wait()
	assert.Equal(t, len(d.machines.Calls("RecoverMachine")), 1)
}

func TestWatchEvents(t *testing.T) {
	d := newTestDaemon(t)
	client := d.client("alice")

	ws, err := client.CreateWorkspace(context.Background(), workspacetest.Config("watched"))
	assert.NilError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan events.WorkspaceStatusEvent, 16)
	done := make(chan error, 1)
	go func() {
		done <- client.WatchEvents(ctx, ws.ID, func(event events.WorkspaceStatusEvent) error {
			received <- event
			return nil
		})
	}()

	// the stream is open once the subscription shows up in a publish
	deadline := time.Now().Add(5 * time.Second)
	var first events.WorkspaceStatusEvent
	for first.EventType == "" {
		d.bus.Publish(events.WorkspaceStatusEvent{EventType: events.EventTypeStopped, WorkspaceID: ws.ID})
		select {
		case first = <-received:
		case <-time.After(20 * time.Millisecond):
			assert.Assert(t, time.Now().Before(deadline), "event stream never opened")
		}
	}

	_, err = client.StartWorkspace(context.Background(), ws.ID, "", false)
	assert.NilError(t, err)
	d.manager.Wait()

	var types []events.EventType
	for len(types) < 2 {
		select {
		case event := <-received:
			if event.EventType != events.EventTypeStopped {
				types = append(types, event.EventType)
			}
		case <-ctx.Done():
			t.Fatalf("missing events, got %v", types)
		}
	}
	assert.DeepEqual(t, types, []events.EventType{events.EventTypeStarting, events.EventTypeRunning})

	cancel()
	assert.NilError(t, <-done)
}

func TestDaemonNotAvailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	address := server.URL
	server.Close()

	err := NewClient(address, "alice", "").Health(context.Background())
	assert.ErrorContains(t, err, "isn't reachable")
}
