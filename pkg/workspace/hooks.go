package workspace

import "context"

// Hooks are called by the workspace manager around workspace lifecycle
// operations. An error returned from a before hook aborts the operation.
type Hooks interface {
	BeforeCreate(ctx context.Context, ws *Workspace, accountID string) error
	AfterCreate(ctx context.Context, ws *Workspace, accountID string) error
	BeforeStart(ctx context.Context, ws *Workspace, envName, accountID string) error
	AfterRemove(ctx context.Context, workspaceID string)
}

// NoopHooks is a Hooks implementation that does nothing
type NoopHooks struct{}

var _ Hooks = NoopHooks{}

func (NoopHooks) BeforeCreate(ctx context.Context, ws *Workspace, accountID string) error {
	return nil
}

func (NoopHooks) AfterCreate(ctx context.Context, ws *Workspace, accountID string) error {
	return nil
}

func (NoopHooks) BeforeStart(ctx context.Context, ws *Workspace, envName, accountID string) error {
	return nil
}

func (NoopHooks) AfterRemove(ctx context.Context, workspaceID string) {}
