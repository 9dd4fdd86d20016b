// Package db contains code for connecting to the mirror databases.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql" // registers the mysql database/sql driver
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/inventory-mirror/internal/config"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
	defaultConnectTimeout  = 10 * time.Second
)

func validate(cfg *config.DatabaseConfig) error {
	if cfg == nil {
		return errors.New("database configuration is required")
	}
	if cfg.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.User == "" {
		return errors.New("database user is required")
	}
	if cfg.Database == "" {
		return errors.New("database name is required")
	}
	return nil
}

// NewPool creates a PostgreSQL connection pool from the provided configuration
// and verifies it can reach the server
func NewPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	if cfg.Port == 0 {
		return nil, errors.New("database port is required")
	}

	connStr, err := cfg.GetConnectionString()
	if err != nil {
		return nil, fmt.Errorf("failed to get database password: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database connection string: %w", err)
	}
	poolConfig.ConnConfig.ConnectTimeout = defaultConnectTimeout
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	}
	if lifetime := cfg.GetConnMaxLifetime(); lifetime > 0 {
		poolConfig.MaxConnLifetime = lifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.InfoContext(ctx, "Database connection pool created",
		"driver", config.DriverPostgres,
		"user", cfg.User,
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database)
	return pool, nil
}

// NewMySQL opens a MySQL handle from the provided configuration and verifies
// it can reach the server
func NewMySQL(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	dsn, err := cfg.GetMySQLDSN()
	if err != nil {
		return nil, fmt.Errorf("failed to get database password: %w", err)
	}

	sqlDB, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	configureSQLPool(sqlDB, cfg)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		if closeErr := sqlDB.Close(); closeErr != nil {
			slog.ErrorContext(ctx, "Failed to close database connection after ping failure", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.InfoContext(ctx, "Database connection established",
		"driver", config.DriverMySQL,
		"user", cfg.User,
		"host", cfg.Host,
		"database", cfg.Database)
	return sqlDB, nil
}

func configureSQLPool(sqlDB *sql.DB, cfg *config.DatabaseConfig) {
	maxOpenConns := int(cfg.MaxOpenConns)
	if maxOpenConns == 0 {
		maxOpenConns = defaultMaxOpenConns
	}
	maxIdleConns := int(cfg.MaxIdleConns)
	if maxIdleConns == 0 {
		maxIdleConns = defaultMaxIdleConns
	}
	connMaxLifetime := cfg.GetConnMaxLifetime()
	if connMaxLifetime == 0 {
		connMaxLifetime = defaultConnMaxLifetime
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
}
