package store

import (
	"context"

	"github.com/loft-sh/wsmaster/pkg/apierror"
	"github.com/loft-sh/wsmaster/pkg/workspace"
)

const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Store persists workspaces. Implementations return copies, callers may
// modify what they get back.
type Store interface {
	// Create stores a new workspace. A workspace with the same id or the
	// same name and owner results in a conflict.
	Create(ctx context.Context, ws *workspace.Workspace) error

	// Update replaces the stored workspace with the same id
	Update(ctx context.Context, ws *workspace.Workspace) (*workspace.Workspace, error)

	Get(ctx context.Context, id string) (*workspace.Workspace, error)
	GetByName(ctx context.Context, name, owner string) (*workspace.Workspace, error)

	// GetByOwner returns all workspaces of owner sorted by name
	GetByOwner(ctx context.Context, owner string) ([]*workspace.Workspace, error)

	// Remove deletes the workspace, removing a missing workspace is not an error
	Remove(ctx context.Context, id string) error

	Close() error
}

func NotFound(id string) error {
	return apierror.NotFound("Workspace with id '%s' doesn't exist", id)
}

func NotFoundByName(name, owner string) error {
	return apierror.NotFound("Workspace with name '%s' and owner '%s' doesn't exist", name, owner)
}

func ConflictID(id string) error {
	return apierror.Conflict("Workspace with id '%s' already exists", id)
}

func ConflictName(name, owner string) error {
	return apierror.Conflict("Workspace with name '%s' already exists for owner '%s'", name, owner)
}
