package app

import (
	"database/sql"
	"fmt"
	"os"

	"regline/internal/config"
	"regline/internal/db"
	"regline/internal/engine"
	"regline/internal/migrate"
)

// Open prepares a workspace for use: opens the database, applies pending
// migrations, loads regline.yml (or defaults) and builds the engine.
func Open(workspace string) (*sql.DB, engine.Engine, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, engine.Engine{}, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, engine.Engine{}, err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		conn.Close()
		return nil, engine.Engine{}, err
	}
	e, err := engine.New(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, engine.Engine{}, err
	}
	return conn, e, nil
}

// InitConfig writes the default regline.yml into the workspace. Refuses to
// overwrite an existing file.
func InitConfig(workspace string) (string, error) {
	path := config.Path(workspace)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%s already exists", path)
	}
	data, err := config.DefaultYAML()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
