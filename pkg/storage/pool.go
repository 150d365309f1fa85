package storage

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// PoolConfig holds connection pool configuration.
type PoolConfig struct {
	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 25
	MaxOpenConns int

	// MaxIdleConns is the maximum number of connections in the idle pool.
	// Default: 10
	MaxIdleConns int

	// ConnMaxLifetime is the maximum amount of time a connection may be reused.
	// Default: 5 minutes
	ConnMaxLifetime time.Duration

	// ConnMaxIdleTime is the maximum amount of time a connection may be idle.
	// Default: 1 minute
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig returns pool defaults sized for a moderate worker
// fleet polling the coordination endpoints.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// PoolOption configures connection pool settings.
type PoolOption interface {
	applyPool(*PoolConfig)
}

type poolOptionFunc func(*PoolConfig)

func (f poolOptionFunc) applyPool(c *PoolConfig) { f(c) }

// MaxOpenConns sets the maximum number of open connections.
func MaxOpenConns(n int) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		c.MaxOpenConns = n
	})
}

// MaxIdleConns sets the maximum number of idle connections.
// Should be less than or equal to MaxOpenConns.
func MaxIdleConns(n int) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		c.MaxIdleConns = n
	})
}

// ConnMaxLifetime sets the maximum connection lifetime.
// Connections older than this are closed and replaced.
func ConnMaxLifetime(d time.Duration) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		c.ConnMaxLifetime = d
	})
}

// ConnMaxIdleTime sets the maximum idle time for connections.
// Idle connections older than this are closed.
func ConnMaxIdleTime(d time.Duration) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		c.ConnMaxIdleTime = d
	})
}

// ConfigurePool applies pool configuration to a GORM database connection.
// Returns an error if the underlying *sql.DB cannot be retrieved.
func ConfigurePool(db *gorm.DB, opts ...PoolOption) error {
	config := DefaultPoolConfig()
	for _, opt := range opts {
		opt.applyPool(&config)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	return nil
}

// NewGormStoreWithPool creates a new GORM-backed store with connection
// pooling configured. Uses DefaultPoolConfig() values, which can be
// overridden with PoolOption arguments.
func NewGormStoreWithPool(db *gorm.DB, opts ...PoolOption) (*GormStore, error) {
	if err := ConfigurePool(db, opts...); err != nil {
		return nil, err
	}
	return NewGormStore(db), nil
}
