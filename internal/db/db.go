// Package db locates and opens the workspace journal, a SQLite file under
// .desk/ next to desk.yml.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	stateDir = ".desk"
	dbName   = "desk.db"

	defaultBusyTimeout = 5 * time.Second
)

type Config struct {
	Workspace string
	// BusyTimeout is how long a write waits on a locked database.
	BusyTimeout time.Duration
}

func workspaceDir(workspace string) string {
	if workspace == "" {
		return "."
	}
	return workspace
}

// EnsureWorkspace creates the state directory if missing and returns it.
func EnsureWorkspace(workspace string) (string, error) {
	dir := filepath.Join(workspaceDir(workspace), stateDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	return dir, nil
}

// Path returns the journal path for the workspace.
func Path(workspace string) string {
	return filepath.Join(workspaceDir(workspace), stateDir, dbName)
}

func dsn(cfg Config) string {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	pragmas := []string{
		"foreign_keys(1)",
		fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()),
		"journal_mode(WAL)",
	}
	return "file:" + Path(cfg.Workspace) + "?_pragma=" + strings.Join(pragmas, "&_pragma=")
}

// Open opens the journal. The server and the CLI may share one workspace,
// so writers wait on a busy database rather than failing.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open journal %s: %w", Path(cfg.Workspace), err)
	}
	return conn, nil
}
