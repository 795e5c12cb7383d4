// Package storetest holds the behaviour every store.Store implementation
// has to satisfy.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/loft-sh/wsmaster/pkg/apierror"
	"github.com/loft-sh/wsmaster/pkg/store"
	"github.com/loft-sh/wsmaster/pkg/workspace"
	"github.com/loft-sh/wsmaster/pkg/workspace/workspacetest"
	"gotest.tools/assert"
	"gotest.tools/assert/cmp"
)

// Run runs the store contract against stores created by newStore
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	tests := []struct {
		name string
		test func(t *testing.T, s store.Store)
	}{
		{name: "CreateAndGet", test: testCreateAndGet},
		{name: "CreateConflicts", test: testCreateConflicts},
		{name: "GetByName", test: testGetByName},
		{name: "GetByOwner", test: testGetByOwner},
		{name: "Update", test: testUpdate},
		{name: "Remove", test: testRemove},
		{name: "ReturnsCopies", test: testReturnsCopies},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer func() {
				assert.NilError(t, s.Close())
			}()

			tt.test(t, s)
		})
	}
}

// stores may drop the monotonic clock and the location of timestamps
var equateTime = cmpopts.EquateApproxTime(time.Millisecond)

func newWorkspace(id, owner, name string) *workspace.Workspace {
	ws := workspacetest.Workspace(id, owner, name, "db")
	ws.CreationTimestamp = time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	return ws
}

func testCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	ws := newWorkspace("workspace1", "user1", "first")
	assert.NilError(t, s.Create(ctx, ws))

	stored, err := s.Get(ctx, ws.ID)
	assert.NilError(t, err)
	assert.DeepEqual(t, stored, ws, equateTime)

	_, err = s.Get(ctx, "missing")
	assert.Assert(t, apierror.IsNotFound(err), "expected not found, got %v", err)
}

func testCreateConflicts(t *testing.T, s store.Store) {
	ctx := context.Background()
	assert.NilError(t, s.Create(ctx, newWorkspace("workspace1", "user1", "first")))

	err := s.Create(ctx, newWorkspace("workspace1", "user1", "other"))
	assert.Assert(t, apierror.IsConflict(err), "expected conflict, got %v", err)

	err = s.Create(ctx, newWorkspace("workspace2", "user1", "first"))
	assert.Assert(t, apierror.IsConflict(err), "expected conflict, got %v", err)

	// the same name is fine for another owner
	assert.NilError(t, s.Create(ctx, newWorkspace("workspace3", "user2", "first")))
}

func testGetByName(t *testing.T, s store.Store) {
	ctx := context.Background()
	assert.NilError(t, s.Create(ctx, newWorkspace("workspace1", "user1", "first")))
	assert.NilError(t, s.Create(ctx, newWorkspace("workspace2", "user2", "first")))

	stored, err := s.GetByName(ctx, "first", "user2")
	assert.NilError(t, err)
	assert.Equal(t, stored.ID, "workspace2")

	_, err = s.GetByName(ctx, "first", "user3")
	assert.Assert(t, apierror.IsNotFound(err), "expected not found, got %v", err)
}

func testGetByOwner(t *testing.T, s store.Store) {
	ctx := context.Background()
	assert.NilError(t, s.Create(ctx, newWorkspace("workspace1", "user1", "second")))
	assert.NilError(t, s.Create(ctx, newWorkspace("workspace2", "user1", "first")))
	assert.NilError(t, s.Create(ctx, newWorkspace("workspace3", "user2", "third")))

	workspaces, err := s.GetByOwner(ctx, "user1")
	assert.NilError(t, err)
	assert.Equal(t, len(workspaces), 2)
	assert.Equal(t, workspaces[0].Config.Name, "first")
	assert.Equal(t, workspaces[1].Config.Name, "second")

	none, err := s.GetByOwner(ctx, "nobody")
	assert.NilError(t, err)
	assert.Assert(t, none != nil)
	assert.Assert(t, cmp.Len(none, 0))
}

func testUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	assert.NilError(t, s.Create(ctx, newWorkspace("workspace1", "user1", "first")))
	assert.NilError(t, s.Create(ctx, newWorkspace("workspace2", "user1", "second")))

	update := newWorkspace("workspace1", "user1", "renamed")
	update.Config.Description = "updated"
	updated, err := s.Update(ctx, update)
	assert.NilError(t, err)
	assert.Equal(t, updated.Config.Name, "renamed")

	stored, err := s.Get(ctx, "workspace1")
	assert.NilError(t, err)
	assert.Equal(t, stored.Config.Description, "updated")

	_, err = s.GetByName(ctx, "first", "user1")
	assert.Assert(t, apierror.IsNotFound(err), "expected not found, got %v", err)

	_, err = s.Update(ctx, newWorkspace("workspace1", "user1", "second"))
	assert.Assert(t, apierror.IsConflict(err), "expected conflict, got %v", err)

	_, err = s.Update(ctx, newWorkspace("missing", "user1", "missing"))
	assert.Assert(t, apierror.IsNotFound(err), "expected not found, got %v", err)
}

func testRemove(t *testing.T, s store.Store) {
	ctx := context.Background()
	assert.NilError(t, s.Create(ctx, newWorkspace("workspace1", "user1", "first")))

	assert.NilError(t, s.Remove(ctx, "workspace1"))
	_, err := s.Get(ctx, "workspace1")
	assert.Assert(t, apierror.IsNotFound(err), "expected not found, got %v", err)

	assert.NilError(t, s.Remove(ctx, "workspace1"))

	// the name can be reused
	assert.NilError(t, s.Create(ctx, newWorkspace("workspace2", "user1", "first")))
}

func testReturnsCopies(t *testing.T, s store.Store) {
	ctx := context.Background()
	ws := newWorkspace("workspace1", "user1", "first")
	assert.NilError(t, s.Create(ctx, ws))
	ws.Config.Environments[0].MachineConfigs[0].Name = "changed"

	stored, err := s.Get(ctx, "workspace1")
	assert.NilError(t, err)
	assert.Equal(t, stored.Config.Environments[0].MachineConfigs[0].Name, workspacetest.DevMachine)
	stored.Config.Attributes["project"] = "changed"

	stored, err = s.Get(ctx, "workspace1")
	assert.NilError(t, err)
	assert.Equal(t, stored.Config.Attributes["project"], "wsmaster")
}
