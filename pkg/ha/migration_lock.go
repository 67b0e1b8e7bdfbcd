package ha

import (
	"context"
	"database/sql"
	"fmt"
	"hash/crc32"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

const migrationLockName = "envreg-migration"

// MigrationLocker is the interface for acquiring a lock around database
// migrations to prevent concurrent AutoMigrate calls from multiple replicas.
type MigrationLocker interface {
	// WithLock executes fn while holding the migration lock.
	// It blocks until the lock is acquired, then releases it after fn returns.
	WithLock(ctx context.Context, fn func() error) error
}

// NewMigrationLocker creates a MigrationLocker appropriate for the database
// dialect. PostgreSQL uses advisory locks, MySQL named locks; other
// databases use a table-based fallback. The lock table is created
// immediately for the fallback strategy.
func NewMigrationLocker(db *gorm.DB, cfg *HAConfig) MigrationLocker {
	if db == nil {
		return &noopMigrationLock{}
	}
	if cfg == nil {
		cfg = DefaultHAConfig()
	}
	switch db.Dialector.Name() {
	case "postgres":
		return &pgAdvisoryLock{
			db:      db,
			lockID:  int64(crc32.ChecksumIEEE([]byte(migrationLockName))),
			timeout: cfg.LockTimeout,
		}
	case "mysql":
		return &mysqlNamedLock{db: db, name: migrationLockName, timeout: cfg.LockTimeout}
	}
	lock := &fallbackMigrationLock{
		db:            db,
		holder:        cfg.Identity,
		retryInterval: time.Second,
		maxRetries:    max(1, int(cfg.LockTimeout/time.Second)),
	}
	// Create the lock table immediately so that concurrent callers never
	// hit "no such table" errors on their first WithLock call.
	_ = db.AutoMigrate(&migrationLockRecord{})
	return lock
}

// RunMigrations runs every migration in order, under the migration lock
// unless cfg disables it.
func RunMigrations(ctx context.Context, db *gorm.DB, cfg *HAConfig, logger *slog.Logger, migrations ...func(*gorm.DB) error) error {
	if cfg == nil {
		cfg = DefaultHAConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	var locker MigrationLocker = &noopMigrationLock{}
	if cfg.MigrationLockEnabled {
		locker = NewMigrationLocker(db, cfg)
	}

	start := time.Now()
	err := locker.WithLock(ctx, func() error {
		for _, migrate := range migrations {
			if err := migrate(db.WithContext(ctx)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info("database schema up to date",
		"dialect", db.Dialector.Name(),
		"locked", cfg.MigrationLockEnabled,
		"duration", time.Since(start).String())
	return nil
}

// noopMigrationLock is used when no database is configured or locking is
// disabled.
type noopMigrationLock struct{}

func (n *noopMigrationLock) WithLock(_ context.Context, fn func() error) error {
	return fn()
}

// sessionConn returns a dedicated connection: advisory and named locks
// belong to the session that took them.
func sessionConn(ctx context.Context, db *gorm.DB) (*sql.Conn, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("open lock connection: %w", err)
	}
	return conn, nil
}

// pgAdvisoryLock uses PostgreSQL advisory locks for migration serialization.
type pgAdvisoryLock struct {
	db      *gorm.DB
	lockID  int64
	timeout time.Duration
}

func (l *pgAdvisoryLock) WithLock(ctx context.Context, fn func() error) error {
	conn, err := sessionConn(ctx, l.db)
	if err != nil {
		return err
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", l.lockID); err != nil {
		return fmt.Errorf("failed to acquire migration advisory lock: %w", err)
	}

	// Always release the lock.
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", l.lockID)
	}()

	return fn()
}

// mysqlNamedLock uses MySQL GET_LOCK for migration serialization.
type mysqlNamedLock struct {
	db      *gorm.DB
	name    string
	timeout time.Duration
}

func (l *mysqlNamedLock) WithLock(ctx context.Context, fn func() error) error {
	conn, err := sessionConn(ctx, l.db)
	if err != nil {
		return err
	}
	defer conn.Close()

	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", l.name, int(l.timeout/time.Second)).Scan(&got); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !got.Valid || got.Int64 != 1 {
		return fmt.Errorf("failed to acquire migration lock %q within %s", l.name, l.timeout)
	}

	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT RELEASE_LOCK(?)", l.name)
	}()

	return fn()
}

// migrationLockRecord is the table-based lock row for databases without
// session locks.
type migrationLockRecord struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (migrationLockRecord) TableName() string { return "migration_lock" }

// fallbackMigrationLock uses a database table for locking. It uses
// INSERT-or-fail semantics to ensure only one holder at a time, with stale
// lock cleanup for crash recovery.
type fallbackMigrationLock struct {
	db            *gorm.DB
	holder        string
	retryInterval time.Duration
	maxRetries    int
}

const staleLockAge = 5 * time.Minute

func (l *fallbackMigrationLock) WithLock(ctx context.Context, fn func() error) error {
	lockRow := migrationLockRecord{
		ID:       "migration",
		LockedBy: l.holder,
	}

	for i := 0; ; i++ {
		// Delete stale locks to handle crash recovery.
		l.db.WithContext(ctx).Where("id = ? AND locked_at < ?", "migration", time.Now().Add(-staleLockAge)).Delete(&migrationLockRecord{})

		lockRow.LockedAt = time.Now()
		result := l.db.WithContext(ctx).Create(&lockRow)
		if result.Error == nil {
			break
		}
		if i >= l.maxRetries-1 {
			return fmt.Errorf("failed to acquire migration lock after %d retries: %w", l.maxRetries, result.Error)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}

	// Always release the lock.
	defer func() {
		l.db.Where("id = ?", "migration").Delete(&migrationLockRecord{})
	}()

	return fn()
}
