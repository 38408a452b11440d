package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/jukeboxd/jukebox/pkg/database/models"
)

// Manager wraps the GORM connection and owns schema migration
type Manager struct {
	db *gorm.DB
}

// NewManager creates a database manager and migrates the music tables
func NewManager(gormDB *gorm.DB) (*Manager, error) {
	err := gormDB.AutoMigrate(
		&models.VideoCache{},
		&models.SearchString{},
		&models.Playlist{},
		&models.PlaylistItem{},
		&models.GuildAnalytics{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate music tables: %w", err)
	}

	return &Manager{db: gormDB}, nil
}

// DB returns the underlying GORM handle
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Close closes the database connection
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
