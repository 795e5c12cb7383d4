package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/loft-sh/wsmaster/pkg/store"
	"github.com/loft-sh/wsmaster/pkg/workspace"
	"github.com/pkg/errors"
)

const (
	WorkspaceConfigFile = "workspace.json"

	lockFile     = "workspaces.lock"
	lockInterval = 50 * time.Millisecond
)

// Store keeps every workspace as json file in its own directory below
// root. Operations hold a file lock so several processes can share root.
type Store struct {
	root string

	mu   sync.Mutex
	lock *flock.Flock
}

var _ store.Store = (*Store)(nil)

func NewStore(root string) (*Store, error) {
	err := os.MkdirAll(filepath.Join(root, "workspaces"), 0755)
	if err != nil {
		return nil, errors.Wrap(err, "create workspaces dir")
	}

	return &Store{
		root: root,
		lock: flock.New(filepath.Join(root, lockFile)),
	}, nil
}

func (s *Store) Create(ctx context.Context, ws *workspace.Workspace) error {
	return s.withLock(ctx, func() error {
		if s.exists(ws.ID) {
			return store.ConflictID(ws.ID)
		}
		existing, err := s.findByName(ws.Config.Name, ws.Owner)
		if err != nil {
			return err
		} else if existing != nil {
			return store.ConflictName(ws.Config.Name, ws.Owner)
		}

		return s.save(ws)
	})
}

func (s *Store) Update(ctx context.Context, ws *workspace.Workspace) (*workspace.Workspace, error) {
	err := s.withLock(ctx, func() error {
		if !s.exists(ws.ID) {
			return store.NotFound(ws.ID)
		}
		existing, err := s.findByName(ws.Config.Name, ws.Owner)
		if err != nil {
			return err
		} else if existing != nil && existing.ID != ws.ID {
			return store.ConflictName(ws.Config.Name, ws.Owner)
		}

		return s.save(ws)
	})
	if err != nil {
		return nil, err
	}

	return ws.Copy(), nil
}

func (s *Store) Get(ctx context.Context, id string) (*workspace.Workspace, error) {
	var ws *workspace.Workspace
	err := s.withLock(ctx, func() error {
		if !s.exists(id) {
			return store.NotFound(id)
		}

		var err error
		ws, err = s.load(id)
		return err
	})
	return ws, err
}

func (s *Store) GetByName(ctx context.Context, name, owner string) (*workspace.Workspace, error) {
	var ws *workspace.Workspace
	err := s.withLock(ctx, func() error {
		var err error
		ws, err = s.findByName(name, owner)
		if err != nil {
			return err
		} else if ws == nil {
			return store.NotFoundByName(name, owner)
		}
		return nil
	})
	return ws, err
}

func (s *Store) GetByOwner(ctx context.Context, owner string) ([]*workspace.Workspace, error) {
	out := []*workspace.Workspace{}
	err := s.withLock(ctx, func() error {
		all, err := s.list()
		if err != nil {
			return err
		}

		for _, ws := range all {
			if ws.Owner == owner {
				out = append(out, ws)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Config.Name < out[j].Config.Name
	})
	return out, nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}

	return s.withLock(ctx, func() error {
		err := os.RemoveAll(s.workspaceDir(id))
		if err != nil {
			return errors.Wrapf(err, "remove workspace %s", id)
		}
		return nil
	})
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	locked, err := s.lock.TryLockContext(ctx, lockInterval)
	if err != nil {
		return errors.Wrap(err, "acquire store lock")
	} else if !locked {
		return errors.New("couldn't acquire store lock")
	}
	defer func() {
		_ = s.lock.Unlock()
	}()

	return fn()
}

func (s *Store) workspaceDir(id string) string {
	return filepath.Join(s.root, "workspaces", id)
}

func (s *Store) exists(id string) bool {
	_, err := os.Stat(filepath.Join(s.workspaceDir(id), WorkspaceConfigFile))
	return err == nil
}

func (s *Store) save(ws *workspace.Workspace) error {
	workspaceDir := s.workspaceDir(ws.ID)
	err := os.MkdirAll(workspaceDir, 0755)
	if err != nil {
		return err
	}

	workspaceBytes, err := json.Marshal(ws)
	if err != nil {
		return err
	}

	// write to a temp file first so readers never see a partial file
	workspaceFile := filepath.Join(workspaceDir, WorkspaceConfigFile)
	err = os.WriteFile(workspaceFile+".tmp", workspaceBytes, 0600)
	if err != nil {
		return err
	}

	return os.Rename(workspaceFile+".tmp", workspaceFile)
}

func (s *Store) load(id string) (*workspace.Workspace, error) {
	workspaceBytes, err := os.ReadFile(filepath.Join(s.workspaceDir(id), WorkspaceConfigFile))
	if err != nil {
		return nil, err
	}

	ws := &workspace.Workspace{}
	err = json.Unmarshal(workspaceBytes, ws)
	if err != nil {
		return nil, errors.Wrapf(err, "parse workspace %s", id)
	}

	return ws, nil
}

func (s *Store) list() ([]*workspace.Workspace, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "workspaces"))
	if err != nil {
		return nil, err
	}

	out := []*workspace.Workspace{}
	for _, entry := range entries {
		if !entry.IsDir() || !s.exists(entry.Name()) {
			continue
		}

		ws, err := s.load(entry.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}

	return out, nil
}

func (s *Store) findByName(name, owner string) (*workspace.Workspace, error) {
	all, err := s.list()
	if err != nil {
		return nil, err
	}

	for _, ws := range all {
		if ws.Config.Name == name && ws.Owner == owner {
			return ws, nil
		}
	}
	return nil, nil
}
