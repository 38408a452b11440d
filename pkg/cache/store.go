package cache

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/jukeboxd/jukebox/pkg/database/models"
)

// entryStore is the persistence surface the cache needs. The gorm
// implementation is used at runtime; tests substitute an in-memory one.
type entryStore interface {
	GetEntry(url string) (*models.VideoCache, error)
	SaveEntry(entry *models.VideoCache) error
	DeleteEntry(url string) error
	ListEntries() ([]models.VideoCache, error)
	CountEntries() (int64, error)
	OldestUnmarked(limit int) ([]models.VideoCache, error)
	MarkedEntries() ([]models.VideoCache, error)
	PendingBackup(limit int) ([]models.VideoCache, error)

	GetSearch(query string) (*models.SearchString, error)
	SaveSearch(search *models.SearchString) error
	CountSearch() (int64, error)
	OldestSearches(limit int) ([]models.SearchString, error)
	DeleteSearch(query string) error
}

type gormStore struct {
	db *gorm.DB
}

// NewGormStore wraps a gorm connection as the cache's persistence layer
func NewGormStore(db *gorm.DB) entryStore {
	return &gormStore{db: db}
}

func (s *gormStore) GetEntry(url string) (*models.VideoCache, error) {
	var entry models.VideoCache
	err := s.db.Where("url = ?", url).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *gormStore) SaveEntry(entry *models.VideoCache) error {
	return s.db.Save(entry).Error
}

func (s *gormStore) DeleteEntry(url string) error {
	return s.db.Where("url = ?", url).Delete(&models.VideoCache{}).Error
}

func (s *gormStore) ListEntries() ([]models.VideoCache, error) {
	var entries []models.VideoCache
	if err := s.db.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *gormStore) CountEntries() (int64, error) {
	var count int64
	err := s.db.Model(&models.VideoCache{}).Count(&count).Error
	return count, err
}

func (s *gormStore) OldestUnmarked(limit int) ([]models.VideoCache, error) {
	var entries []models.VideoCache
	err := s.db.Where("marked_for_delete = ? AND failure_kind = ?", false, "").
		Order("last_iterated_at asc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *gormStore) MarkedEntries() ([]models.VideoCache, error) {
	var entries []models.VideoCache
	err := s.db.Where("marked_for_delete = ?", true).Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *gormStore) PendingBackup(limit int) ([]models.VideoCache, error) {
	var entries []models.VideoCache
	err := s.db.Where("backup_key = ? AND marked_for_delete = ? AND failure_kind = ?", "", false, "").
		Order("created_at asc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *gormStore) GetSearch(query string) (*models.SearchString, error) {
	var search models.SearchString
	err := s.db.Where("query = ?", query).First(&search).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &search, nil
}

func (s *gormStore) SaveSearch(search *models.SearchString) error {
	if search.LastIteratedAt.IsZero() {
		search.LastIteratedAt = time.Now()
	}
	return s.db.Save(search).Error
}

func (s *gormStore) CountSearch() (int64, error) {
	var count int64
	err := s.db.Model(&models.SearchString{}).Count(&count).Error
	return count, err
}

func (s *gormStore) OldestSearches(limit int) ([]models.SearchString, error) {
	var searches []models.SearchString
	err := s.db.Order("last_iterated_at asc").Limit(limit).Find(&searches).Error
	if err != nil {
		return nil, err
	}
	return searches, nil
}

func (s *gormStore) DeleteSearch(query string) error {
	return s.db.Where("query = ?", query).Delete(&models.SearchString{}).Error
}
