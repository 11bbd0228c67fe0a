package docstore

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

type SQLiteDBOption struct {
	// mode can be ro | rw | rwc | memory
	Mode string
	// cache can be shared | private
	Cache string
	// JournalMode be DELETE | TRUNCATE | PERSIST | MEMORY | WAL | OFF
	JournalMode string
	// BusyTimeout in milliseconds.
	BusyTimeout int
}

func (config *SQLiteDBOption) params() []string {
	if config == nil {
		return nil
	}
	var params []string
	if config.Mode != "" {
		params = append(params, "mode="+config.Mode)
	}
	if config.Cache != "" {
		params = append(params, "cache="+config.Cache)
	}
	if config.JournalMode != "" {
		params = append(params, "_journal_mode="+config.JournalMode)
	}
	if config.BusyTimeout > 0 {
		params = append(params, fmt.Sprintf("_busy_timeout=%d", config.BusyTimeout))
	}
	return params
}

// DSN returns the go-sqlite3 data source name for file.
func (config *SQLiteDBOption) DSN(file string) string {
	var dsn strings.Builder
	dsn.WriteString("file:")
	dsn.WriteString(file)
	if params := config.params(); len(params) > 0 {
		if strings.Contains(file, "?") {
			dsn.WriteString("&")
		} else {
			dsn.WriteString("?")
		}
		dsn.WriteString(strings.Join(params, "&"))
	}
	return dsn.String()
}

type SQLiteDB struct {
	*sql.DB
	config       *SQLiteDBOption
	file         string
	migrationDir string
}

func NewSQLiteDB(file, migrationDir string, config *SQLiteDBOption) (*SQLiteDB, error) {
	db := &SQLiteDB{config: config, migrationDir: migrationDir, file: file}

	d, err := sql.Open("sqlite3", config.DSN(file))
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// writes are serialized through a single connection
	d.SetMaxOpenConns(1)

	db.DB = d
	return db, nil
}

// Migrate applies every pending goose migration found in the migration directory.
func (db *SQLiteDB) Migrate() error {
	return Migrate(db.DB, db.migrationDir)
}

func Migrate(db *sql.DB, dir string) error {
	goose.SetBaseFS(os.DirFS(dir))
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose.SetDialect: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("goose.Up: %w", err)
	}
	return nil
}
