// Package db opens the relational store backing the registry and classifies
// driver errors the registry needs to react to.
package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported database types.
const (
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
	TypeSQLite   = "sqlite"
)

// Config describes how to reach the database.
type Config struct {
	Type string
	DSN  string

	// MaxOpenConns and MaxIdleConns size the connection pool; zero keeps
	// the database/sql defaults.
	MaxOpenConns int
	MaxIdleConns int

	// ConnMaxLifetime recycles pooled connections; zero disables it.
	ConnMaxLifetime time.Duration

	// LogLevel is the gorm SQL log level: silent, error, warn or info.
	LogLevel string
}

// Validate checks the type and DSN before any connection is attempted.
func (c Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("database DSN is required (use --db-dsn or ENVREG_DB_DSN)")
	}
	switch c.Type {
	case TypePostgres, TypeSQLite:
	case TypeMySQL:
		if _, err := mysqldriver.ParseDSN(c.DSN); err != nil {
			return fmt.Errorf("invalid mysql DSN: %w", err)
		}
	default:
		return fmt.Errorf("unsupported database type %q (expected postgres, mysql or sqlite)", c.Type)
	}
	return nil
}

func (c Config) dialector() gorm.Dialector {
	switch c.Type {
	case TypeMySQL:
		return mysql.Open(c.DSN)
	case TypeSQLite:
		return sqlite.Open(c.DSN)
	default:
		return postgres.Open(c.DSN)
	}
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "info":
		return logger.Info
	case "warn":
		return logger.Warn
	case "error":
		return logger.Error
	default:
		return logger.Silent
	}
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg Config) (*gorm.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	gormDB, err := gorm.Open(cfg.dialector(), &gorm.Config{
		Logger:         logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Type, err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.Type == TypeSQLite {
		// SQLite allows a single writer; serialize through one connection
		// and enforce foreign keys, which are off by default.
		sqlDB.SetMaxOpenConns(1)
		if err := gormDB.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	}

	if err := Ping(ctx, gormDB); err != nil {
		return nil, err
	}
	return gormDB, nil
}

// Ping checks that the database answers.
func Ping(ctx context.Context, gormDB *gorm.DB) error {
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err was caused by a unique or primary
// key constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

// IsTransactionConflict reports whether the database aborted a transaction
// because it raced with another one: a deadlock or a serialization failure.
func IsTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1213 || myErr.Number == 1205
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "deadlock detected")
}
