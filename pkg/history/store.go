package history

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jukeboxd/jukebox/pkg/database/models"
)

// historyStore is the persistence surface for playlists and analytics.
// Tests substitute an in-memory implementation.
type historyStore interface {
	GetPlaylist(guildID, name string) (*models.Playlist, error)
	GetOrCreatePlaylist(guildID, name, kind string) (*models.Playlist, error)
	ListPlaylists(guildID string) ([]models.Playlist, error)
	DeletePlaylist(id uuid.UUID) error
	SavePlaylist(playlist *models.Playlist) error

	AddItem(item *models.PlaylistItem) error
	DeleteItem(id uuid.UUID) error
	CountItems(playlistID uuid.UUID) (int64, error)
	OldestItems(playlistID uuid.UUID, limit int) ([]models.PlaylistItem, error)
	NewestItems(playlistID uuid.UUID, limit int) ([]models.PlaylistItem, error)
	ListItems(playlistID uuid.UUID) ([]models.PlaylistItem, error)

	BumpAnalytics(guildID string, durationSeconds int64, cacheHit bool) error
	GetAnalytics(guildID string) (*models.GuildAnalytics, error)
}

type gormStore struct {
	db *gorm.DB
}

// NewGormStore wraps a gorm connection as the history persistence layer
func NewGormStore(db *gorm.DB) historyStore {
	return &gormStore{db: db}
}

func (s *gormStore) GetPlaylist(guildID, name string) (*models.Playlist, error) {
	var playlist models.Playlist
	err := s.db.Where("guild_id = ? AND name = ?", guildID, name).First(&playlist).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &playlist, nil
}

func (s *gormStore) GetOrCreatePlaylist(guildID, name, kind string) (*models.Playlist, error) {
	playlist, err := s.GetPlaylist(guildID, name)
	if err != nil {
		return nil, err
	}
	if playlist != nil {
		return playlist, nil
	}
	playlist = &models.Playlist{
		ID:      uuid.New(),
		GuildID: guildID,
		Name:    name,
		Kind:    kind,
	}
	if err := s.db.Create(playlist).Error; err != nil {
		return nil, err
	}
	return playlist, nil
}

func (s *gormStore) ListPlaylists(guildID string) ([]models.Playlist, error) {
	var playlists []models.Playlist
	err := s.db.Where("guild_id = ?", guildID).Order("created_at asc").Find(&playlists).Error
	if err != nil {
		return nil, err
	}
	return playlists, nil
}

func (s *gormStore) DeletePlaylist(id uuid.UUID) error {
	if err := s.db.Where("playlist_id = ?", id).Delete(&models.PlaylistItem{}).Error; err != nil {
		return err
	}
	return s.db.Where("id = ?", id).Delete(&models.Playlist{}).Error
}

func (s *gormStore) SavePlaylist(playlist *models.Playlist) error {
	return s.db.Save(playlist).Error
}

func (s *gormStore) AddItem(item *models.PlaylistItem) error {
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now()
	}
	return s.db.Create(item).Error
}

func (s *gormStore) DeleteItem(id uuid.UUID) error {
	return s.db.Where("id = ?", id).Delete(&models.PlaylistItem{}).Error
}

func (s *gormStore) CountItems(playlistID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.Model(&models.PlaylistItem{}).Where("playlist_id = ?", playlistID).Count(&count).Error
	return count, err
}

func (s *gormStore) OldestItems(playlistID uuid.UUID, limit int) ([]models.PlaylistItem, error) {
	var items []models.PlaylistItem
	err := s.db.Where("playlist_id = ?", playlistID).
		Order("added_at asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *gormStore) NewestItems(playlistID uuid.UUID, limit int) ([]models.PlaylistItem, error) {
	var items []models.PlaylistItem
	err := s.db.Where("playlist_id = ?", playlistID).
		Order("added_at desc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *gormStore) ListItems(playlistID uuid.UUID) ([]models.PlaylistItem, error) {
	var items []models.PlaylistItem
	err := s.db.Where("playlist_id = ?", playlistID).Order("added_at asc").Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *gormStore) BumpAnalytics(guildID string, durationSeconds int64, cacheHit bool) error {
	var analytics models.GuildAnalytics
	err := s.db.Where("guild_id = ?", guildID).First(&analytics).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		analytics = models.GuildAnalytics{GuildID: guildID}
	} else if err != nil {
		return err
	}
	analytics.TotalPlays++
	analytics.TotalDurationSeconds += durationSeconds
	if cacheHit {
		analytics.CachedPlays++
	}
	return s.db.Save(&analytics).Error
}

func (s *gormStore) GetAnalytics(guildID string) (*models.GuildAnalytics, error) {
	var analytics models.GuildAnalytics
	err := s.db.Where("guild_id = ?", guildID).First(&analytics).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &analytics, nil
}
