// Пакет migrations содержит схему БД и применяет ее через golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Поддерживаемые диалекты. Совпадают с именами драйверов database/sql.
const (
	Postgres = "postgres"
	SQLite   = "sqlite"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Up применяет все миграции диалекта к БД по dsn.
// Для миграций открывается отдельное соединение, которое закрывается по завершении.
func Up(dialect, dsn string) error {
	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return fmt.Errorf("opening database for migrations: %w", err)
	}

	var driver database.Driver
	switch dialect {
	case Postgres:
		driver, err = migratepg.WithInstance(db, &migratepg.Config{})
	case SQLite:
		driver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	default:
		db.Close()
		return fmt.Errorf("unknown migration dialect: %s", dialect)
	}
	if err != nil {
		db.Close()
		return fmt.Errorf("creating migration driver: %w", err)
	}

	src, err := iofs.New(files, dialect)
	if err != nil {
		driver.Close()
		return fmt.Errorf("loading migration files: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dialect, driver)
	if err != nil {
		src.Close()
		driver.Close()
		return fmt.Errorf("creating migrator: %w", err)
	}
	// Close закрывает и источник, и драйвер вместе с db
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}
