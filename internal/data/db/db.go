package db

import (
	"fmt"
	"os"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nebulus/gantry/internal/domain/chat"
	"github.com/nebulus/gantry/internal/domain/graph"
	"github.com/nebulus/gantry/internal/domain/memory"
	"github.com/nebulus/gantry/internal/domain/vault"
	"github.com/nebulus/gantry/internal/platform/envutil"
	"github.com/nebulus/gantry/internal/platform/logger"
)

// Open connects to Postgres when POSTGRES_HOST is set, otherwise to a local
// SQLite file (DB_PATH, default gantry.db). SQLite keeps single-binary dev
// setups working without a database server.
func Open(log *logger.Logger) (*gorm.DB, error) {
	cfg := &gorm.Config{DisableForeignKeyConstraintWhenMigrating: true}

	host := strings.TrimSpace(os.Getenv("POSTGRES_HOST"))
	if host == "" {
		path := envutil.Str("DB_PATH", "gantry.db")
		log.Info("connecting to sqlite", "path", path)
		return gorm.Open(sqlite.Open(path), cfg)
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		envutil.Str("POSTGRES_USER", "postgres"),
		os.Getenv("POSTGRES_PASSWORD"),
		host,
		envutil.Str("POSTGRES_PORT", "5432"),
		envutil.Str("POSTGRES_NAME", "gantry"),
		envutil.Str("POSTGRES_SSLMODE", "disable"),
	)
	log.Info("connecting to postgres", "host", host)
	gdb, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, fmt.Errorf("enable uuid-ossp: %w", err)
	}
	return gdb, nil
}

func AutoMigrateAll(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&chat.Conversation{},
		&chat.Message{},
		&chat.Generation{},
		&memory.Chunk{},
		&vault.Document{},
		&graph.Entity{},
		&graph.Relationship{},
	)
}
