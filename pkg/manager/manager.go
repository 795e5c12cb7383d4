package manager

import (
	"context"
	"sync"
	"time"

	"github.com/loft-sh/log"
	"github.com/loft-sh/wsmaster/pkg/apierror"
	"github.com/loft-sh/wsmaster/pkg/events"
	"github.com/loft-sh/wsmaster/pkg/machine"
	"github.com/loft-sh/wsmaster/pkg/runtime"
	"github.com/loft-sh/wsmaster/pkg/store"
	"github.com/loft-sh/wsmaster/pkg/workspace"
	"github.com/pkg/errors"
)

// Option configures a Manager
type Option func(m *Manager)

func WithValidator(validator workspace.Validator) Option {
	return func(m *Manager) {
		m.validator = validator
	}
}

func WithHooks(hooks workspace.Hooks) Option {
	return func(m *Manager) {
		m.hooks = hooks
	}
}

func WithPublisher(publisher events.Publisher) Option {
	return func(m *Manager) {
		m.events = publisher
	}
}

// Manager is the entry point for all workspace operations. It persists
// workspaces through the store, starts and stops them through the runtime
// registry and reports the live status of a workspace whenever a runtime
// exists for it.
type Manager struct {
	store     store.Store
	registry  *runtime.Registry
	machines  machine.Manager
	validator workspace.Validator
	hooks     workspace.Hooks
	events    events.Publisher
	log       log.Logger

	wg sync.WaitGroup
}

func NewManager(workspaceStore store.Store, registry *runtime.Registry, machines machine.Manager, logger log.Logger, options ...Option) *Manager {
	m := &Manager{
		store:     workspaceStore,
		registry:  registry,
		machines:  machines,
		validator: workspace.NewValidator(),
		hooks:     workspace.NoopHooks{},
		events:    discardPublisher{},
		log:       logger,
	}
	for _, option := range options {
		option(m)
	}

	return m
}

// CreateWorkspace validates and persists a new stopped workspace of owner
func (m *Manager) CreateWorkspace(ctx context.Context, config *workspace.Config, owner, accountID string) (*workspace.Workspace, error) {
	ws, err := m.fromConfig(config, owner)
	if err != nil {
		return nil, err
	}

	err = m.hooks.BeforeCreate(ctx, ws, accountID)
	if err != nil {
		return nil, apierror.Ensure(errors.Wrap(err, "before create"))
	}
	err = m.store.Create(ctx, ws)
	if err != nil {
		return nil, apierror.Ensure(errors.Wrap(err, "create workspace"))
	}
	err = m.hooks.AfterCreate(ctx, ws, accountID)
	if err != nil {
		return nil, apierror.Ensure(errors.Wrap(err, "after create"))
	}

	m.log.Infof("workspace created: name=%s id=%s user=%s", ws.Config.Name, ws.ID, currentUser(ctx))
	return m.normalizeState(ws), nil
}

func (m *Manager) GetWorkspace(ctx context.Context, workspaceID string) (*workspace.Workspace, error) {
	if workspaceID == "" {
		return nil, apierror.BadRequest("Required non-null workspace id")
	}

	ws, err := m.store.Get(ctx, workspaceID)
	if err != nil {
		return nil, apierror.Ensure(err)
	}
	return m.normalizeState(ws), nil
}

func (m *Manager) GetWorkspaceByName(ctx context.Context, name, owner string) (*workspace.Workspace, error) {
	if name == "" {
		return nil, apierror.BadRequest("Required non-null workspace name")
	} else if owner == "" {
		return nil, apierror.BadRequest("Required non-null workspace owner")
	}

	ws, err := m.store.GetByName(ctx, name, owner)
	if err != nil {
		return nil, apierror.Ensure(err)
	}
	return m.normalizeState(ws), nil
}

// GetWorkspaces returns all workspaces of owner with their current status
func (m *Manager) GetWorkspaces(ctx context.Context, owner string) ([]*workspace.Workspace, error) {
	if owner == "" {
		return nil, apierror.BadRequest("Required non-null workspace owner")
	}

	runtimes := map[string]*workspace.RuntimeWorkspace{}
	for _, runtime := range m.registry.GetByOwner(owner) {
		runtimes[runtime.ID] = runtime
	}

	workspaces, err := m.store.GetByOwner(ctx, owner)
	if err != nil {
		return nil, apierror.Ensure(errors.Wrapf(err, "list workspaces of %s", owner))
	}
	for _, ws := range workspaces {
		applyRuntime(ws, runtimes[ws.ID])
	}
	return workspaces, nil
}

// UpdateWorkspace replaces the config of the workspace
func (m *Manager) UpdateWorkspace(ctx context.Context, workspaceID string, config *workspace.Config) (*workspace.Workspace, error) {
	if workspaceID == "" {
		return nil, apierror.BadRequest("Required non-null workspace id")
	} else if config == nil {
		return nil, apierror.BadRequest("Required non-null workspace configuration")
	}
	err := m.validator.Validate(config)
	if err != nil {
		return nil, err
	}

	ws, err := m.store.Get(ctx, workspaceID)
	if err != nil {
		return nil, apierror.Ensure(err)
	}
	ws.Config = config.Copy()
	ws.Temporary = false
	ws.Status = workspace.StatusStopped

	updated, err := m.store.Update(ctx, ws)
	if err != nil {
		return nil, apierror.Ensure(errors.Wrapf(err, "update workspace %s", workspaceID))
	}

	m.log.Infof("workspace updated: name=%s id=%s", updated.Config.Name, updated.ID)
	return m.normalizeState(updated), nil
}

// RemoveWorkspace deletes a workspace that is not running
func (m *Manager) RemoveWorkspace(ctx context.Context, workspaceID string) error {
	if workspaceID == "" {
		return apierror.BadRequest("Required non-null workspace id")
	}
	if m.registry.HasRuntime(workspaceID) {
		return apierror.Conflict("The workspace %s is currently running and cannot be removed.", workspaceID)
	}

	err := m.store.Remove(ctx, workspaceID)
	if err != nil {
		return apierror.Ensure(errors.Wrapf(err, "remove workspace %s", workspaceID))
	}
	m.hooks.AfterRemove(ctx, workspaceID)

	m.log.Infof("workspace removed: id=%s", workspaceID)
	return nil
}

func (m *Manager) GetRuntimeWorkspace(ctx context.Context, workspaceID string) (*workspace.RuntimeWorkspace, error) {
	if workspaceID == "" {
		return nil, apierror.BadRequest("Required non-null workspace id")
	}

	return m.registry.Get(workspaceID)
}

func (m *Manager) GetRuntimeWorkspaces(ctx context.Context, owner string) ([]*workspace.RuntimeWorkspace, error) {
	if owner == "" {
		return nil, apierror.BadRequest("Required non-null workspace owner")
	}

	return m.registry.GetByOwner(owner), nil
}

// StartWorkspaceByID starts the workspace in the background and returns it
// with status STARTING. An empty envName selects the default environment.
func (m *Manager) StartWorkspaceByID(ctx context.Context, workspaceID, envName, accountID string) (*workspace.Workspace, error) {
	if workspaceID == "" {
		return nil, apierror.BadRequest("Required non-null workspace id")
	}

	ws, err := m.store.Get(ctx, workspaceID)
	if err != nil {
		return nil, apierror.Ensure(err)
	}
	return m.PerformAsyncStart(ctx, ws, envName, false, accountID)
}

// StartWorkspaceByName is StartWorkspaceByID for a workspace looked up by name and owner
func (m *Manager) StartWorkspaceByName(ctx context.Context, name, owner, envName, accountID string) (*workspace.Workspace, error) {
	if name == "" {
		return nil, apierror.BadRequest("Required non-null workspace name")
	} else if owner == "" {
		return nil, apierror.BadRequest("Required non-null workspace owner")
	}

	ws, err := m.store.GetByName(ctx, name, owner)
	if err != nil {
		return nil, apierror.Ensure(err)
	}
	return m.PerformAsyncStart(ctx, ws, envName, false, accountID)
}

// RecoverWorkspace starts the workspace from the latest snapshots of its machines
func (m *Manager) RecoverWorkspace(ctx context.Context, workspaceID, envName, accountID string) (*workspace.Workspace, error) {
	if workspaceID == "" {
		return nil, apierror.BadRequest("Required non-null workspace id")
	}

	ws, err := m.store.Get(ctx, workspaceID)
	if err != nil {
		return nil, apierror.Ensure(err)
	}
	return m.PerformAsyncStart(ctx, ws, envName, true, accountID)
}

// StartTemporaryWorkspace starts a workspace for the current user that is
// never persisted. It blocks until the workspace is running.
func (m *Manager) StartTemporaryWorkspace(ctx context.Context, config *workspace.Config, accountID string) (*workspace.RuntimeWorkspace, error) {
	owner, _ := UserFromContext(ctx)
	ws, err := m.fromConfig(config, owner)
	if err != nil {
		return nil, err
	}
	ws.Temporary = true

	err = m.hooks.BeforeCreate(ctx, ws, accountID)
	if err != nil {
		return nil, apierror.Ensure(errors.Wrap(err, "before create"))
	}
	runtime, err := m.PerformSyncStart(ctx, ws, ws.Config.DefaultEnv, false, accountID)
	if err != nil {
		return nil, err
	}
	err = m.hooks.AfterCreate(ctx, &runtime.Workspace, accountID)
	if err != nil {
		return nil, apierror.Ensure(errors.Wrap(err, "after create"))
	}

	m.log.Infof("workspace created: name=%s id=%s user=%s temporary=true", runtime.Config.Name, runtime.ID, owner)
	return runtime, nil
}

// StopWorkspace stops the running workspace in the background
func (m *Manager) StopWorkspace(ctx context.Context, workspaceID string) error {
	if workspaceID == "" {
		return apierror.BadRequest("Required non-null workspace id")
	}

	runtime, err := m.registry.Get(workspaceID)
	if err != nil {
		return err
	} else if runtime.Status != workspace.StatusRunning {
		return apierror.Conflict("Couldn't stop '%s' workspace because its status is '%s'", runtime.Config.Name, runtime.Status)
	}

	m.PerformAsyncStop(ctx, runtime)
	return nil
}

// CreateSnapshot saves all machines of the running workspace in the
// background. The result is published as SNAPSHOT_CREATED or, if the dev
// machine could not be saved, as SNAPSHOT_CREATION_ERROR.
func (m *Manager) CreateSnapshot(ctx context.Context, workspaceID string) error {
	if workspaceID == "" {
		return apierror.BadRequest("Required non-null workspace id")
	}

	runtime, err := m.registry.Get(workspaceID)
	if err != nil {
		return err
	}

	m.goAsync(ctx, func(ctx context.Context) {
		devMachineError := ""
		for _, runtimeMachine := range runtime.Machines {
			_, err := m.machines.SaveSync(ctx, runtimeMachine.ID, runtime.Owner, runtime.ActiveEnv)
			if err != nil {
				if runtimeMachine.Config.Dev {
					devMachineError = err.Error()
				}
				m.log.Errorf("save machine %s of workspace %s: %v", runtimeMachine.ID, workspaceID, err)
			}
		}

		if devMachineError != "" {
			m.publish(events.EventTypeSnapshotCreationError, workspaceID, devMachineError)
		} else {
			m.publish(events.EventTypeSnapshotCreated, workspaceID, "")
		}
	})
	return nil
}

// GetSnapshot returns the snapshots of the workspace that belong to the current user
func (m *Manager) GetSnapshot(ctx context.Context, workspaceID string) ([]*machine.Snapshot, error) {
	if workspaceID == "" {
		return nil, apierror.BadRequest("Required non-null workspace id")
	}

	ws, err := m.store.Get(ctx, workspaceID)
	if err != nil {
		return nil, apierror.Ensure(err)
	}

	owner, ok := UserFromContext(ctx)
	if !ok {
		owner = ws.Owner
	}
	snapshots, err := m.machines.GetSnapshots(ctx, owner, workspaceID)
	if err != nil {
		return nil, apierror.Ensure(errors.Wrapf(err, "get snapshots of workspace %s", workspaceID))
	}
	return snapshots, nil
}

// PerformAsyncStart starts the workspace in the background and returns a
// copy of it with status STARTING. Start failures are logged and published.
func (m *Manager) PerformAsyncStart(ctx context.Context, ws *workspace.Workspace, envName string, recover bool, accountID string) (*workspace.Workspace, error) {
	// the registry checks this as well, but the caller would get a STARTING
	// workspace back before the registry had a chance to reject the start
	if runtime, err := m.registry.Get(ws.ID); err == nil {
		return nil, apierror.Conflict("Could not start workspace '%s' because its status is '%s'", runtime.Config.Name, runtime.Status)
	}

	if envName == "" {
		envName = ws.Config.DefaultEnv
	}
	starting := ws.Copy()
	starting.Temporary = false
	starting.Status = workspace.StatusStarting

	toStart := starting.Copy()
	m.goAsync(ctx, func(ctx context.Context) {
		_, err := m.PerformSyncStart(ctx, toStart, envName, recover, accountID)
		if err != nil {
			m.log.Errorf("start workspace %s: %v", toStart.ID, err)
		}
	})
	return starting, nil
}

// PerformSyncStart starts the workspace and blocks until all its machines
// are running. Status changes are published as events.
func (m *Manager) PerformSyncStart(ctx context.Context, ws *workspace.Workspace, envName string, recover bool, accountID string) (*workspace.RuntimeWorkspace, error) {
	if ws == nil {
		return nil, apierror.BadRequest("Required non-null workspace")
	}

	err := m.hooks.BeforeStart(ctx, ws, envName, accountID)
	if err != nil {
		return nil, apierror.Ensure(errors.Wrap(err, "before start"))
	}

	m.publish(events.EventTypeStarting, ws.ID, "")
	runtime, err := m.registry.Start(ctx, ws, envName, recover)
	if err != nil {
		m.publish(events.EventTypeError, ws.ID, err.Error())
		return nil, err
	}

	m.publish(events.EventTypeRunning, runtime.ID, "")
	return runtime, nil
}

// PerformAsyncStop stops the runtime in the background. Temporary
// workspaces are removed once they are stopped. A stop the registry
// rejected publishes ERROR without STOPPED.
func (m *Manager) PerformAsyncStop(ctx context.Context, runtime *workspace.RuntimeWorkspace) {
	m.publish(events.EventTypeStopping, runtime.ID, "")
	m.goAsync(ctx, func(ctx context.Context) {
		err := m.registry.Stop(ctx, runtime.ID)
		if err != nil {
			m.publish(events.EventTypeError, runtime.ID, err.Error())
			m.log.Errorf("stop workspace %s: %v", runtime.ID, err)
			if apierror.IsConflict(err) || apierror.IsNotFound(err) {
				return
			}
		} else if runtime.Temporary {
			m.hooks.AfterRemove(ctx, runtime.ID)
		}

		m.publish(events.EventTypeStopped, runtime.ID, "")
	})
}

// Wait blocks until all background operations are done
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown waits for background operations and stops all running
// workspaces afterwards. If ctx is done before the background operations
// finished, the registry is stopped anyway and ctx's error is returned.
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	m.registry.StopRegistry(context.WithoutCancel(ctx))
	return err
}

// goAsync runs fn in the background. The context keeps the values of ctx
// but is not cancelled together with it.
func (m *Manager) goAsync(ctx context.Context, fn func(ctx context.Context)) {
	ctx = context.WithoutCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn(ctx)
	}()
}

func (m *Manager) publish(eventType events.EventType, workspaceID, errorMessage string) {
	m.events.Publish(events.WorkspaceStatusEvent{
		EventType:   eventType,
		WorkspaceID: workspaceID,
		Error:       errorMessage,
		Timestamp:   time.Now(),
	})
}

func (m *Manager) fromConfig(config *workspace.Config, owner string) (*workspace.Workspace, error) {
	if config == nil {
		return nil, apierror.BadRequest("Required non-null workspace configuration")
	} else if owner == "" {
		return nil, apierror.BadRequest("Required non-null workspace owner")
	}
	err := m.validator.Validate(config)
	if err != nil {
		return nil, err
	}

	return &workspace.Workspace{
		ID:                workspace.NewID(),
		Owner:             owner,
		Config:            config.Copy(),
		Status:            workspace.StatusStopped,
		CreationTimestamp: time.Now(),
	}, nil
}

// normalizeState overrides the persisted status with the runtime status and
// falls back to STOPPED for workspaces without a runtime
func (m *Manager) normalizeState(ws *workspace.Workspace) *workspace.Workspace {
	runtime, err := m.registry.Get(ws.ID)
	if err != nil {
		runtime = nil
	}

	applyRuntime(ws, runtime)
	return ws
}

func applyRuntime(ws *workspace.Workspace, runtime *workspace.RuntimeWorkspace) {
	ws.Temporary = false
	if runtime == nil {
		ws.Status = workspace.StatusStopped
		return
	}

	ws.Status = runtime.Status
}

func currentUser(ctx context.Context) string {
	userID, _ := UserFromContext(ctx)
	return userID
}

type discardPublisher struct{}

func (discardPublisher) Publish(events.WorkspaceStatusEvent) {}
