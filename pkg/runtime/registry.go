package runtime

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/loft-sh/log"
	"github.com/loft-sh/wsmaster/pkg/apierror"
	"github.com/loft-sh/wsmaster/pkg/machine"
	"github.com/loft-sh/wsmaster/pkg/workspace"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/loft-sh/wsmaster/pkg/runtime"

// Option configures a Registry
type Option func(r *Registry)

// WithTracer sets the tracer used for start and stop spans
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Registry) {
		r.tracer = tracer
	}
}

// Registry is the in-memory authority over running workspaces. It holds at
// most one runtime per workspace id. Bookkeeping is guarded by a single lock
// while machines are provisioned and destroyed outside of it.
type Registry struct {
	machines machine.Manager
	log      log.Logger
	tracer   trace.Tracer

	mu         sync.RWMutex
	workspaces map[string]*workspace.RuntimeWorkspace
	owners     map[string]map[string]struct{}
	stopped    bool
}

func NewRegistry(machines machine.Manager, logger log.Logger, options ...Option) *Registry {
	r := &Registry{
		machines:   machines,
		log:        logger,
		tracer:     otel.Tracer(tracerName),
		workspaces: map[string]*workspace.RuntimeWorkspace{},
		owners:     map[string]map[string]struct{}{},
	}
	for _, option := range options {
		option(r)
	}

	return r
}

// Start boots all machines of the environment envName, the dev machine
// first. The runtime is visible with status STARTING right away and turns
// RUNNING once every machine is registered. If the runtime is removed while
// machines are still booting, all machines created by this call are destroyed
// again and an error is returned.
func (r *Registry) Start(ctx context.Context, ws *workspace.Workspace, envName string, recover bool) (_ *workspace.RuntimeWorkspace, err error) {
	if err := r.checkNotStopped(); err != nil {
		return nil, err
	}
	env, err := validateForStart(ws, envName)
	if err != nil {
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "runtime.Start", trace.WithAttributes(
		attribute.String("workspace.id", ws.ID),
		attribute.String("workspace.owner", ws.Owner),
		attribute.String("workspace.env", envName),
		attribute.Bool("workspace.recover", recover),
	))
	defer func() {
		endSpan(span, err)
	}()

	// insert if absent
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil, errRegistryStopped()
	}
	if running, ok := r.workspaces[ws.ID]; ok {
		r.mu.Unlock()
		return nil, apierror.Conflict("Could not start workspace '%s' because its status is '%s'", running.Config.Name, running.Status)
	}
	r.insert(workspace.NewRuntimeWorkspace(ws, envName, workspace.StatusStarting))
	r.mu.Unlock()

	r.log.Debugf("starting workspace %s in environment %s", ws.ID, envName)
	created, err := r.startEnvironment(ctx, ws, env, recover)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	runtime, ok := r.workspaces[ws.ID]
	if ok {
		runtime.Status = workspace.StatusRunning
		runtime = runtime.Copy()
	}
	r.mu.Unlock()
	if !ok {
		r.destroyAll(ctx, created)
		return nil, apierror.Server("Workspace '%s' had been stopped before all its machines were started", ws.ID)
	}

	span.SetAttributes(attribute.Int("workspace.machines", len(runtime.Machines)))
	r.log.Infof("started workspace %s with %d machine(s)", ws.ID, len(runtime.Machines))
	return runtime, nil
}

func (r *Registry) startEnvironment(ctx context.Context, ws *workspace.Workspace, env *workspace.Environment, recover bool) ([]*machine.Machine, error) {
	devConfig := env.DevMachines()[0]
	devMachine, err := r.createMachine(ctx, devConfig, ws, env.Name, recover)
	if err != nil {
		r.remove(ws.ID)
		return nil, apierror.Ensure(errors.Wrapf(err, "start dev machine %s of workspace %s", devConfig.Name, ws.ID))
	}
	if !r.AddRunningMachine(devMachine) {
		r.destroyAll(ctx, []*machine.Machine{devMachine})
		return nil, apierror.Server("Workspace '%s' had been stopped before its dev-machine was started", ws.ID)
	}
	trace.SpanFromContext(ctx).AddEvent("machine.registered", trace.WithAttributes(attribute.String("machine.id", devMachine.ID), attribute.Bool("machine.dev", true)))

	created := []*machine.Machine{devMachine}
	for _, machineConfig := range env.MachineConfigs {
		if machineConfig.Dev {
			continue
		}

		m, err := r.createMachine(ctx, machineConfig, ws, env.Name, recover)
		if err != nil {
			r.log.Errorf("Error while creating machine '%s' in workspace '%s', environment '%s': %v", machineConfig.Name, ws.ID, env.Name, err)
			continue
		}

		created = append(created, m)
		if !r.AddRunningMachine(m) {
			r.destroyAll(ctx, created)
			return nil, apierror.Server("Workspace '%s' had been stopped before all its machines were started", ws.ID)
		}
		trace.SpanFromContext(ctx).AddEvent("machine.registered", trace.WithAttributes(attribute.String("machine.id", m.ID), attribute.Bool("machine.dev", false)))
	}

	return created, nil
}

func (r *Registry) createMachine(ctx context.Context, config machine.Config, ws *workspace.Workspace, envName string, recover bool) (*machine.Machine, error) {
	if recover {
		return r.machines.RecoverMachine(ctx, config, ws.ID, envName, ws.Owner)
	}

	return r.machines.CreateMachineSync(ctx, config, ws.ID, envName, ws.Owner)
}

// destroyAll destroys machines created by an unwinding start. Failures are
// logged so every machine gets its destroy call.
func (r *Registry) destroyAll(ctx context.Context, machines []*machine.Machine) {
	ctx = context.WithoutCancel(ctx)
	for _, m := range machines {
		if err := r.machines.Destroy(ctx, m.ID, true); err != nil {
			r.log.Errorf("Could not destroy machine '%s' of workspace '%s': %v", m.ID, m.WorkspaceID, err)
		}
	}
}

// Stop destroys all machines of a running workspace and removes its runtime.
// Only RUNNING workspaces can be stopped.
func (r *Registry) Stop(ctx context.Context, workspaceID string) (err error) {
	if err := r.checkNotStopped(); err != nil {
		return err
	}

	ctx, span := r.tracer.Start(ctx, "runtime.Stop", trace.WithAttributes(attribute.String("workspace.id", workspaceID)))
	defer func() {
		endSpan(span, err)
	}()

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return errRegistryStopped()
	}
	runtime, ok := r.workspaces[workspaceID]
	if !ok {
		r.mu.Unlock()
		return notRunning(workspaceID)
	}
	if runtime.Status != workspace.StatusRunning {
		r.mu.Unlock()
		return apierror.Conflict("Couldn't stop '%s' workspace because its status is '%s'", runtime.Config.Name, runtime.Status)
	}
	runtime.Status = workspace.StatusStopping
	snapshot := runtime.Copy()
	r.mu.Unlock()

	r.log.Debugf("stopping workspace %s", workspaceID)
	defer r.remove(workspaceID)
	return r.destroyMachines(ctx, snapshot)
}

// destroyMachines destroys the non-dev machines first and the dev machine
// last. Only the dev machine failure is returned.
func (r *Registry) destroyMachines(ctx context.Context, runtime *workspace.RuntimeWorkspace) error {
	for _, m := range runtime.Machines {
		if m.Config.Dev {
			continue
		}
		if err := r.machines.Destroy(ctx, m.ID, true); err != nil {
			r.log.Errorf("Could not destroy machine '%s' of workspace '%s': %v", m.ID, m.WorkspaceID, err)
		}
	}
	if runtime.DevMachine == nil {
		return nil
	}

	err := r.machines.Destroy(ctx, runtime.DevMachine.ID, true)
	if err != nil {
		return apierror.Ensure(errors.Wrapf(err, "destroy dev machine %s of workspace %s", runtime.DevMachine.ID, runtime.ID))
	}
	return nil
}

// HasRuntime returns true if the workspace is starting, running or stopping
func (r *Registry) HasRuntime(workspaceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.workspaces[workspaceID]
	return ok
}

// Get returns a copy of the runtime of the workspace
func (r *Registry) Get(workspaceID string) (*workspace.RuntimeWorkspace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runtime, ok := r.workspaces[workspaceID]
	if !ok {
		return nil, notRunning(workspaceID)
	}
	return runtime.Copy(), nil
}

// GetByOwner returns copies of all runtimes of owner, sorted by workspace id
func (r *Registry) GetByOwner(owner string) []*workspace.RuntimeWorkspace {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*workspace.RuntimeWorkspace, 0, len(r.owners[owner]))
	for id := range r.owners[owner] {
		out = append(out, r.workspaces[id].Copy())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// AddRunningMachine appends the machine to the runtime of its workspace if
// that runtime still exists and reports whether it did.
func (r *Registry) AddRunningMachine(m *machine.Machine) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	runtime, ok := r.workspaces[m.WorkspaceID]
	if !ok {
		return false
	}

	if m.Config.Dev {
		runtime.DevMachine = m.Copy()
	}
	runtime.Machines = append(runtime.Machines, m.Copy())
	return true
}

// StopRegistry rejects all further start and stop calls, destroys the
// machines of every running workspace and removes all runtimes. Starts that
// are still in flight notice the removal and destroy their own machines.
func (r *Registry) StopRegistry(ctx context.Context) {
	r.mu.Lock()
	r.stopped = true
	var running []*workspace.RuntimeWorkspace
	for id, runtime := range r.workspaces {
		if runtime.Status == workspace.StatusRunning {
			running = append(running, runtime.Copy())
		}
		r.removeLocked(id)
	}
	r.mu.Unlock()

	for _, runtime := range running {
		if err := r.destroyMachines(ctx, runtime); err != nil {
			r.log.Errorf("stop workspace %s: %v", runtime.ID, err)
		}
	}
	if len(running) > 0 {
		r.log.Infof("stopped %d workspace(s)", len(running))
	}
}

func (r *Registry) insert(runtime *workspace.RuntimeWorkspace) {
	r.workspaces[runtime.ID] = runtime
	if r.owners[runtime.Owner] == nil {
		r.owners[runtime.Owner] = map[string]struct{}{}
	}
	r.owners[runtime.Owner][runtime.ID] = struct{}{}
}

// remove drops the runtime regardless of its status
func (r *Registry) remove(workspaceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(workspaceID)
}

func (r *Registry) removeLocked(workspaceID string) {
	runtime, ok := r.workspaces[workspaceID]
	if !ok {
		return
	}

	delete(r.workspaces, workspaceID)
	delete(r.owners[runtime.Owner], workspaceID)
	if len(r.owners[runtime.Owner]) == 0 {
		delete(r.owners, runtime.Owner)
	}
}

func (r *Registry) checkNotStopped() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.stopped {
		return errRegistryStopped()
	}
	return nil
}

func validateForStart(ws *workspace.Workspace, envName string) (*workspace.Environment, error) {
	if ws == nil {
		return nil, apierror.BadRequest("Required non-null workspace")
	}
	if envName == "" {
		return nil, apierror.BadRequest("Couldn't start workspace '%s', environment name is null", ws.ID)
	}

	env, ok := ws.Config.Environment(envName)
	if !ok {
		return nil, apierror.BadRequest("Couldn't start workspace '%s', workspace doesn't have environment '%s'", ws.ID, envName)
	}
	if env.Recipe == nil {
		return nil, apierror.BadRequest("Couldn't start workspace '%s' from environment '%s', environment recipe is null", ws.ID, envName)
	}
	if env.Recipe.Type != workspace.RecipeTypeDocker {
		return nil, apierror.BadRequest("Couldn't start workspace '%s' from environment '%s', environment recipe has unsupported type '%s'", ws.ID, envName, env.Recipe.Type)
	}
	if len(env.MachineConfigs) == 0 {
		return nil, apierror.BadRequest("Couldn't start workspace '%s' from environment '%s', environment doesn't contain machines", ws.ID, envName)
	}
	if devCount := len(env.DevMachines()); devCount != 1 {
		return nil, apierror.BadRequest("Couldn't start workspace '%s' from environment '%s', environment should contain exactly 1 dev machine, but contains '%d'", ws.ID, envName, devCount)
	}

	return env, nil
}

func notRunning(workspaceID string) error {
	return apierror.NotFound("Workspace with id %s is not running.", workspaceID)
}

func errRegistryStopped() error {
	return apierror.Server("Could not perform operation while registry is stopping workspaces")
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
	}
	span.End()
}
