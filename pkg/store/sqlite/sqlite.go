package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loft-sh/wsmaster/pkg/store"
	"github.com/loft-sh/wsmaster/pkg/workspace"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS workspaces (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	owner TEXT NOT NULL,
	config_json TEXT NOT NULL,
	temporary INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE (name, owner)
)`

// Store keeps workspaces in a sqlite database
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set store db journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set store db busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize store schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Create(ctx context.Context, ws *workspace.Workspace) error {
	configJSON, err := json.Marshal(ws.Config)
	if err != nil {
		return fmt.Errorf("marshal workspace config: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create workspace: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := checkConflicts(ctx, tx, ws, true); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO workspaces (id, name, owner, config_json, temporary, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ws.ID,
		ws.Config.Name,
		ws.Owner,
		string(configJSON),
		boolToInt(ws.Temporary),
		string(ws.Status),
		ws.CreationTimestamp.UTC().Format(time.RFC3339Nano),
		now,
	)
	if err != nil {
		return fmt.Errorf("insert workspace %q: %w", ws.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create workspace: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, ws *workspace.Workspace) (*workspace.Workspace, error) {
	configJSON, err := json.Marshal(ws.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal workspace config: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update workspace: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := checkConflicts(ctx, tx, ws, false); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE workspaces SET name = ?, owner = ?, config_json = ?, temporary = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		ws.Config.Name,
		ws.Owner,
		string(configJSON),
		boolToInt(ws.Temporary),
		string(ws.Status),
		time.Now().UTC().Format(time.RFC3339Nano),
		ws.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update workspace %q: %w", ws.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update workspace %q: %w", ws.ID, err)
	} else if affected == 0 {
		return nil, store.NotFound(ws.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update workspace: %w", err)
	}
	return ws.Copy(), nil
}

func (s *Store) Get(ctx context.Context, id string) (*workspace.Workspace, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, owner, config_json, temporary, status, created_at FROM workspaces WHERE id = ?`, id)
	ws, err := scanWorkspace(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound(id)
		}
		return nil, fmt.Errorf("query workspace %q: %w", id, err)
	}
	return ws, nil
}

func (s *Store) GetByName(ctx context.Context, name, owner string) (*workspace.Workspace, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, owner, config_json, temporary, status, created_at FROM workspaces WHERE name = ? AND owner = ?`, name, owner)
	ws, err := scanWorkspace(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFoundByName(name, owner)
		}
		return nil, fmt.Errorf("query workspace %q of %q: %w", name, owner, err)
	}
	return ws, nil
}

func (s *Store) GetByOwner(ctx context.Context, owner string) ([]*workspace.Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, owner, config_json, temporary, status, created_at FROM workspaces WHERE owner = ? ORDER BY name`, owner)
	if err != nil {
		return nil, fmt.Errorf("list workspaces of %q: %w", owner, err)
	}
	defer rows.Close()

	out := []*workspace.Workspace{}
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workspace row: %w", err)
		}
		out = append(out, ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspace rows: %w", err)
	}
	return out, nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete workspace %q: %w", id, err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func checkConflicts(ctx context.Context, tx *sql.Tx, ws *workspace.Workspace, create bool) error {
	if create {
		var count int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM workspaces WHERE id = ?`, ws.ID).Scan(&count)
		if err != nil {
			return fmt.Errorf("query workspace %q: %w", ws.ID, err)
		} else if count > 0 {
			return store.ConflictID(ws.ID)
		}
	}

	var count int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM workspaces WHERE name = ? AND owner = ? AND id != ?`, ws.Config.Name, ws.Owner, ws.ID).Scan(&count)
	if err != nil {
		return fmt.Errorf("query workspace %q of %q: %w", ws.Config.Name, ws.Owner, err)
	} else if count > 0 {
		return store.ConflictName(ws.Config.Name, ws.Owner)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkspace(row scanner) (*workspace.Workspace, error) {
	var (
		ws         workspace.Workspace
		configJSON string
		temporary  int
		status     string
		createdAt  string
	)
	if err := row.Scan(&ws.ID, &ws.Owner, &configJSON, &temporary, &status, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(configJSON), &ws.Config); err != nil {
		return nil, fmt.Errorf("unmarshal workspace %q config: %w", ws.ID, err)
	}

	creationTimestamp, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse workspace %q creation time: %w", ws.ID, err)
	}
	ws.CreationTimestamp = creationTimestamp
	ws.Temporary = temporary != 0
	ws.Status = workspace.Status(status)
	return &ws, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
