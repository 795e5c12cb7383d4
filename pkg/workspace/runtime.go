package workspace

import (
	"github.com/loft-sh/wsmaster/pkg/machine"
)

// RuntimeWorkspace is the in-memory view of a workspace whose machines are
// booted or booting. Only the runtime registry creates and mutates them,
// everyone else works on copies.
type RuntimeWorkspace struct {
	Workspace

	// ActiveEnv is the environment the workspace was started in
	ActiveEnv string `json:"activeEnv,omitempty"`

	// DevMachine is the dev machine once it has been registered
	DevMachine *machine.Machine `json:"devMachine,omitempty"`

	// Machines are all registered machines, dev machine included
	Machines []*machine.Machine `json:"machines,omitempty"`
}

// NewRuntimeWorkspace creates a runtime view of ws in envName with the given status
func NewRuntimeWorkspace(ws *Workspace, envName string, status Status) *RuntimeWorkspace {
	runtime := &RuntimeWorkspace{
		Workspace: *ws.Copy(),
		ActiveEnv: envName,
		Machines:  []*machine.Machine{},
	}
	runtime.Status = status
	return runtime
}

// ActiveEnvironment returns the environment the workspace was started in
func (r *RuntimeWorkspace) ActiveEnvironment() (*Environment, bool) {
	return r.Config.Environment(r.ActiveEnv)
}

// Copy returns a deep copy of the runtime workspace
func (r *RuntimeWorkspace) Copy() *RuntimeWorkspace {
	if r == nil {
		return nil
	}

	out := &RuntimeWorkspace{
		Workspace:  *r.Workspace.Copy(),
		ActiveEnv:  r.ActiveEnv,
		DevMachine: r.DevMachine.Copy(),
		Machines:   make([]*machine.Machine, 0, len(r.Machines)),
	}
	for _, m := range r.Machines {
		out.Machines = append(out.Machines, m.Copy())
	}
	return out
}
