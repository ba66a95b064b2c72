package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"

	"callwatch/agent/internal/models"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrateDatabase applies the embedded SQL migrations to the Postgres
// database at dsn. Running it on an up-to-date schema is a no-op.
func MigrateDatabase(dsn string) error {
	log.Println("Running SQL migrations...")

	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}

	dbSQL, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("connect to the database with SQL: %w", err)
	}
	defer dbSQL.Close()

	driver, err := migratepg.WithInstance(dbSQL, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	log.Printf("SQL migrations executed successfully (version %d, dirty %t).", version, dirty)
	return nil
}

// AutoMigrate creates the schema from the models. Used for databases the
// SQL migrations do not target, such as the in-memory SQLite used in tests.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Keyword{},
		&models.Alert{},
		&models.UserCall{},
		&models.UptimeConfig{},
		&models.Target{},
	)
}
