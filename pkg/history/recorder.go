package history

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jukeboxd/jukebox/pkg/database/models"
	"github.com/jukeboxd/jukebox/pkg/download"
	"github.com/jukeboxd/jukebox/pkg/logging"
)

// HistoryPlaylistPrefix names the per-guild auto-managed history playlist
const HistoryPlaylistPrefix = "__playhistory__"

// PlayedItem is one finished playback handed to the recorder
type PlayedItem struct {
	GuildID         string
	URL             string
	Title           string
	Uploader        string
	DurationSeconds int
	CacheHit        bool
}

// PlayedItemFrom builds a history item from a finished download
func PlayedItemFrom(dl *download.MediaDownload) PlayedItem {
	return PlayedItem{
		GuildID:         dl.Request.GuildID,
		URL:             dl.WebpageURL,
		Title:           dl.Title,
		Uploader:        dl.Uploader,
		DurationSeconds: dl.DurationSeconds,
		CacheHit:        dl.CacheHit,
	}
}

// Recorder persists play history and per-guild analytics. Each guild gets
// one bounded history playlist; the oldest items roll off as new plays
// arrive.
type Recorder struct {
	store    historyStore
	maxItems int
	logger   logging.Logger

	now func() time.Time
}

// NewRecorder creates a recorder keeping at most maxItems per guild
func NewRecorder(store historyStore, maxItems int, logger logging.Logger) *Recorder {
	return &Recorder{
		store:    store,
		maxItems: maxItems,
		logger:   logger,
		now:      time.Now,
	}
}

// HistoryPlaylistName returns the reserved playlist name for a guild
func HistoryPlaylistName(guildID string) string {
	return HistoryPlaylistPrefix + guildID
}

// Record updates analytics and appends the item to the guild's history
// playlist, evicting the oldest entries past the bound
func (r *Recorder) Record(item PlayedItem) error {
	if err := r.store.BumpAnalytics(item.GuildID, int64(item.DurationSeconds), item.CacheHit); err != nil {
		return fmt.Errorf("failed to update analytics: %w", err)
	}

	playlist, err := r.store.GetOrCreatePlaylist(item.GuildID, HistoryPlaylistName(item.GuildID), models.PlaylistKindHistory)
	if err != nil {
		return fmt.Errorf("failed to load history playlist: %w", err)
	}

	if err := r.store.AddItem(&models.PlaylistItem{
		ID:         uuid.New(),
		PlaylistID: playlist.ID,
		URL:        item.URL,
		Title:      item.Title,
		Uploader:   item.Uploader,
		AddedAt:    r.now(),
	}); err != nil {
		return fmt.Errorf("failed to append history item: %w", err)
	}

	return r.trim(playlist.ID)
}

func (r *Recorder) trim(playlistID uuid.UUID) error {
	count, err := r.store.CountItems(playlistID)
	if err != nil {
		return err
	}
	excess := int(count) - r.maxItems
	if excess < 1 {
		return nil
	}
	oldest, err := r.store.OldestItems(playlistID, excess)
	if err != nil {
		return err
	}
	for _, item := range oldest {
		if err := r.store.DeleteItem(item.ID); err != nil {
			return err
		}
	}
	r.logger.Debug("trimmed history playlist", map[string]interface{}{
		"playlist_id": playlistID.String(),
		"removed":     excess,
	})
	return nil
}

// Recent returns the newest history items for a guild, newest first
func (r *Recorder) Recent(guildID string, limit int) ([]models.PlaylistItem, error) {
	playlist, err := r.store.GetPlaylist(guildID, HistoryPlaylistName(guildID))
	if err != nil {
		return nil, err
	}
	if playlist == nil {
		return nil, nil
	}
	return r.store.NewestItems(playlist.ID, limit)
}

// Analytics returns the per-guild playback counters
func (r *Recorder) Analytics(guildID string) (*models.GuildAnalytics, error) {
	return r.store.GetAnalytics(guildID)
}
