// Package db opens the workspace SQLite database. All chamber state
// lives in a single file under the .plenario directory so a workspace
// can be copied or archived as-is.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	workspaceDir = ".plenario"
	dbFileName   = "plenario.db"
)

type Config struct {
	Workspace string
}

// EnsureWorkspace creates the .plenario directory if missing and
// returns its path.
func EnsureWorkspace(workspace string) (string, error) {
	dir := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Open opens the workspace database with foreign keys enforced.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", Path(cfg.Workspace))
	return sql.Open("sqlite", dsn)
}

// Path returns the database file path for a workspace.
func Path(workspace string) string {
	ws := workspace
	if ws == "" {
		ws = "."
	}
	return filepath.Join(ws, workspaceDir, dbFileName)
}
