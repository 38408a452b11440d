package models

import (
	"time"

	"github.com/google/uuid"
)

// Playlist kinds. The history playlist is created automatically per guild
// and keeps the most recently played items.
const (
	PlaylistKindUser    = "user"
	PlaylistKindHistory = "history"
)

// VideoCache represents one cached download keyed by canonical URL.
// Rows with FailureKind set are terminal-failure sentinels so repeat
// requests for the same URL fail fast without re-downloading.
type VideoCache struct {
	URL             string     `gorm:"primaryKey" json:"url"`
	Path            string     `gorm:"not null" json:"path"`
	Title           string     `gorm:"type:text" json:"title"`
	Uploader        string     `gorm:"type:text" json:"uploader"`
	DurationSeconds int        `json:"duration_seconds"`
	Extractor       string     `gorm:"index" json:"extractor"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastIteratedAt  time.Time  `gorm:"index;not null" json:"last_iterated_at"`
	MarkedForDelete bool       `gorm:"index;default:false" json:"marked_for_delete"`
	BackupKey       string     `gorm:"index" json:"backup_key"`
	FailureKind     string     `gorm:"index" json:"failure_kind"`
	FailureMessage  string     `gorm:"type:text" json:"failure_message"`
	FailureAt       *time.Time `json:"failure_at"`
}

// SearchString memoizes a normalized free-text query to a canonical URL
type SearchString struct {
	Query          string    `gorm:"primaryKey" json:"query"`
	URL            string    `gorm:"not null" json:"url"`
	LastIteratedAt time.Time `gorm:"index;not null" json:"last_iterated_at"`
}

// Playlist is a persistent per-guild list of saved tracks
type Playlist struct {
	ID        uuid.UUID  `gorm:"primaryKey" json:"id"`
	GuildID   string     `gorm:"index:idx_playlist_guild_name,unique;not null" json:"guild_id"`
	Name      string     `gorm:"index:idx_playlist_guild_name,unique;not null" json:"name"`
	Kind      string     `gorm:"index;not null;default:'user'" json:"kind"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	QueuedAt  *time.Time `json:"queued_at"`
}

// PlaylistItem is one track inside a playlist
type PlaylistItem struct {
	ID         uuid.UUID `gorm:"primaryKey" json:"id"`
	PlaylistID uuid.UUID `gorm:"index:idx_playlist_item_added;not null" json:"playlist_id"`
	URL        string    `gorm:"not null" json:"url"`
	Title      string    `gorm:"type:text" json:"title"`
	Uploader   string    `gorm:"type:text" json:"uploader"`
	AddedAt    time.Time `gorm:"index:idx_playlist_item_added;not null" json:"added_at"`
}

// GuildAnalytics tracks per-guild playback counters
type GuildAnalytics struct {
	GuildID              string    `gorm:"primaryKey" json:"guild_id"`
	TotalPlays           int64     `gorm:"default:0" json:"total_plays"`
	TotalDurationSeconds int64     `gorm:"default:0" json:"total_duration_seconds"`
	CachedPlays          int64     `gorm:"default:0" json:"cached_plays"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for VideoCache
func (VideoCache) TableName() string {
	return "video_cache"
}

// TableName returns the table name for SearchString
func (SearchString) TableName() string {
	return "search_strings"
}

// TableName returns the table name for Playlist
func (Playlist) TableName() string {
	return "playlists"
}

// TableName returns the table name for PlaylistItem
func (PlaylistItem) TableName() string {
	return "playlist_items"
}

// TableName returns the table name for GuildAnalytics
func (GuildAnalytics) TableName() string {
	return "guild_analytics"
}
