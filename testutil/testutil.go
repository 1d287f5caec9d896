package testutil

import (
	"testing"

	"github.com/Skynet2005/MobileGame-sub001/cache"
	"github.com/Skynet2005/MobileGame-sub001/config"
	dbadapter "github.com/Skynet2005/MobileGame-sub001/db"
	"github.com/Skynet2005/MobileGame-sub001/model"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// SetupTestDB creates an isolated in-memory SQLite DB and runs AutoMigrate.
// It requires no external services and is safe to use in parallel tests.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dbadapter.Open(config.DatabaseConfig{
		Mode: dbadapter.ModeSQLiteMemory,
	})
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SetupTestCache creates LocalCache and LocalPubSub (no Redis required).
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	cfg := cache.CacheConfig{} // empty RedisAddr → LocalCache
	c, err := cache.NewCache(cfg)
	require.NoError(t, err, "SetupTestCache: NewCache")
	ps, err := cache.NewPubSub(cfg)
	require.NoError(t, err, "SetupTestCache: NewPubSub")
	return c, ps
}

// CreateCharacter inserts a character row for tests.
func CreateCharacter(t *testing.T, db *gorm.DB, name string, allianceID *int64) *model.Character {
	t.Helper()
	c := &model.Character{Name: name, AllianceID: allianceID}
	require.NoError(t, db.Create(c).Error, "CreateCharacter")
	return c
}

// CreateAlliance inserts an alliance row for tests.
func CreateAlliance(t *testing.T, db *gorm.DB, name, tag string) *model.Alliance {
	t.Helper()
	a := &model.Alliance{Name: name, Tag: tag}
	require.NoError(t, db.Create(a).Error, "CreateAlliance")
	return a
}
