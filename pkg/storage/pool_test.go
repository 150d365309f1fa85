package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestDefaultPoolConfig(t *testing.T) {
	cfg := DefaultPoolConfig()
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 10, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
	assert.Equal(t, 1*time.Minute, cfg.ConnMaxIdleTime)
}

func TestPoolOptions_Apply(t *testing.T) {
	cfg := DefaultPoolConfig()
	MaxOpenConns(50).applyPool(&cfg)
	MaxIdleConns(20).applyPool(&cfg)
	ConnMaxLifetime(time.Hour).applyPool(&cfg)
	ConnMaxIdleTime(10 * time.Minute).applyPool(&cfg)

	assert.Equal(t, 50, cfg.MaxOpenConns)
	assert.Equal(t, 20, cfg.MaxIdleConns)
	assert.Equal(t, time.Hour, cfg.ConnMaxLifetime)
	assert.Equal(t, 10*time.Minute, cfg.ConnMaxIdleTime)
}

func TestNewGormStoreWithPool(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	s, err := NewGormStoreWithPool(db, MaxOpenConns(30))
	require.NoError(t, err)
	require.NotNil(t, s)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	stats := sqlDB.Stats()
	assert.Equal(t, 30, stats.MaxOpenConnections)
}
