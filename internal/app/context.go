// Package app opens a desk workspace for the command line and the server.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"opsdesk/internal/config"
	"opsdesk/internal/db"
	"opsdesk/internal/engine"
	"opsdesk/internal/migrate"
)

// Session is an opened workspace: its config, migrated database and an
// engine wired to the remote services the secrets unlock.
type Session struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	// Seeded is true when no desk.yml was found and defaults are in use.
	Seeded bool
}

// ResolveConfig loads desk.yml from the workspace, falling back to the
// built-in defaults when the file is absent.
func ResolveConfig(workspace string) (*config.Config, bool, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, false, err
	}
	if cfg == nil {
		return config.Default(), true, nil
	}
	return cfg, false, nil
}

// Open prepares the workspace state directory, migrates the journal and
// builds an engine. Callers must Close the session.
func Open(ctx context.Context, workspace string, secrets engine.Secrets, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, seeded, err := ResolveConfig(workspace)
	if err != nil {
		return nil, err
	}
	if seeded {
		logger.Warn("no desk.yml found; using defaults", zap.String("path", config.Path(workspace)))
	}
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	deps := engine.Connect(conn, cfg, secrets, logger)
	e, err := engine.New(conn, cfg, deps)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		conn.Close()
		return nil, err
	}
	return &Session{Workspace: workspace, Config: cfg, DB: conn, Engine: e, Seeded: seeded}, nil
}

func (s *Session) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
