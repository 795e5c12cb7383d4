package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/loft-sh/wsmaster/pkg/store"
	"github.com/loft-sh/wsmaster/pkg/workspace"
)

// Store keeps workspaces in memory only
type Store struct {
	mu         sync.RWMutex
	workspaces map[string]*workspace.Workspace
}

var _ store.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{workspaces: map[string]*workspace.Workspace{}}
}

func (s *Store) Create(ctx context.Context, ws *workspace.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workspaces[ws.ID]; ok {
		return store.ConflictID(ws.ID)
	}
	if s.findByName(ws.Config.Name, ws.Owner) != nil {
		return store.ConflictName(ws.Config.Name, ws.Owner)
	}

	s.workspaces[ws.ID] = ws.Copy()
	return nil
}

func (s *Store) Update(ctx context.Context, ws *workspace.Workspace) (*workspace.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workspaces[ws.ID]; !ok {
		return nil, store.NotFound(ws.ID)
	}
	if existing := s.findByName(ws.Config.Name, ws.Owner); existing != nil && existing.ID != ws.ID {
		return nil, store.ConflictName(ws.Config.Name, ws.Owner)
	}

	s.workspaces[ws.ID] = ws.Copy()
	return ws.Copy(), nil
}

func (s *Store) Get(ctx context.Context, id string) (*workspace.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ws, ok := s.workspaces[id]
	if !ok {
		return nil, store.NotFound(id)
	}
	return ws.Copy(), nil
}

func (s *Store) GetByName(ctx context.Context, name, owner string) (*workspace.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ws := s.findByName(name, owner)
	if ws == nil {
		return nil, store.NotFoundByName(name, owner)
	}
	return ws.Copy(), nil
}

func (s *Store) GetByOwner(ctx context.Context, owner string) ([]*workspace.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*workspace.Workspace{}
	for _, ws := range s.workspaces {
		if ws.Owner == owner {
			out = append(out, ws.Copy())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Config.Name < out[j].Config.Name
	})
	return out, nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.workspaces, id)
	return nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) findByName(name, owner string) *workspace.Workspace {
	for _, ws := range s.workspaces {
		if ws.Config.Name == name && ws.Owner == owner {
			return ws
		}
	}
	return nil
}
