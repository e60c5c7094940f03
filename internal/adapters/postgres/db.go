package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type Options struct {
	URL            string
	MaxConns       int32
	ConnectTimeout time.Duration
}

// Open returns the gorm handle and its underlying pool. The pool is what callers close
// on shutdown and ping for readiness.
func Open(ctx context.Context, opts Options) (*gorm.DB, *sql.DB, error) {
	db, err := gorm.Open(postgres.Open(opts.URL), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	pool, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("postgres pool: %w", err)
	}
	if opts.MaxConns > 0 {
		pool.SetMaxOpenConns(int(opts.MaxConns))
		pool.SetMaxIdleConns(max(1, int(opts.MaxConns)/4))
	}
	pool.SetConnMaxIdleTime(5 * time.Minute)
	pool.SetConnMaxLifetime(30 * time.Minute)

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		_ = pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, pool, nil
}

type appliedMigration struct {
	Name      string    `gorm:"column:name;primaryKey"`
	AppliedAt time.Time `gorm:"column:applied_at"`
}

func (appliedMigration) TableName() string { return "media_upload_schema_migrations" }

func migrationNames() ([]string, error) {
	paths, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, path.Base(p))
	}
	slices.Sort(names)
	return names, nil
}

// RunMigrations applies each embedded script that is not yet recorded in the ledger
// table, one transaction per script.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	db = db.WithContext(ctx)
	if err := db.Exec(`CREATE TABLE IF NOT EXISTS media_upload_schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL
	)`).Error; err != nil {
		return fmt.Errorf("create migration ledger: %w", err)
	}
	var done []string
	if err := db.Model(&appliedMigration{}).Pluck("name", &done).Error; err != nil {
		return fmt.Errorf("read migration ledger: %w", err)
	}
	names, err := migrationNames()
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	for _, name := range names {
		if slices.Contains(done, name) {
			continue
		}
		script, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(string(script)).Error; err != nil {
				return err
			}
			return tx.Create(&appliedMigration{Name: name, AppliedAt: time.Now().UTC()}).Error
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}
