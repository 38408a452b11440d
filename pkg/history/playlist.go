package history

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jukeboxd/jukebox/pkg/database/models"
	"github.com/jukeboxd/jukebox/pkg/logging"
)

// ErrReservedName rejects user playlists that collide with the history
// namespace
var ErrReservedName = fmt.Errorf("playlist name is reserved")

// PlaylistManager owns user-created playlists. The history playlists share
// the same tables but are written only by the Recorder.
type PlaylistManager struct {
	store  historyStore
	logger logging.Logger
}

// NewPlaylistManager creates a playlist manager
func NewPlaylistManager(store historyStore, logger logging.Logger) *PlaylistManager {
	return &PlaylistManager{store: store, logger: logger}
}

// Create makes a new user playlist for the guild
func (p *PlaylistManager) Create(guildID, name string) (*models.Playlist, error) {
	if strings.HasPrefix(name, HistoryPlaylistPrefix) {
		return nil, ErrReservedName
	}
	return p.store.GetOrCreatePlaylist(guildID, name, models.PlaylistKindUser)
}

// Get returns a playlist by name, nil when absent
func (p *PlaylistManager) Get(guildID, name string) (*models.Playlist, error) {
	return p.store.GetPlaylist(guildID, name)
}

// List returns the guild's user playlists, hiding history playlists
func (p *PlaylistManager) List(guildID string) ([]models.Playlist, error) {
	playlists, err := p.store.ListPlaylists(guildID)
	if err != nil {
		return nil, err
	}
	var user []models.Playlist
	for _, playlist := range playlists {
		if playlist.Kind == models.PlaylistKindUser {
			user = append(user, playlist)
		}
	}
	return user, nil
}

// Delete removes a user playlist and its items. History playlists cannot
// be deleted.
func (p *PlaylistManager) Delete(guildID, name string) error {
	playlist, err := p.store.GetPlaylist(guildID, name)
	if err != nil {
		return err
	}
	if playlist == nil {
		return fmt.Errorf("playlist %q not found", name)
	}
	if playlist.Kind == models.PlaylistKindHistory {
		return ErrReservedName
	}
	return p.store.DeletePlaylist(playlist.ID)
}

// Rename changes a user playlist's name. History playlists and reserved
// target names are refused.
func (p *PlaylistManager) Rename(guildID, oldName, newName string) error {
	if strings.HasPrefix(newName, HistoryPlaylistPrefix) {
		return ErrReservedName
	}
	playlist, err := p.store.GetPlaylist(guildID, oldName)
	if err != nil {
		return err
	}
	if playlist == nil {
		return fmt.Errorf("playlist %q not found", oldName)
	}
	if playlist.Kind == models.PlaylistKindHistory {
		return ErrReservedName
	}
	existing, err := p.store.GetPlaylist(guildID, newName)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("playlist %q already exists", newName)
	}
	playlist.Name = newName
	return p.store.SavePlaylist(playlist)
}

// AddItem appends a track to a playlist
func (p *PlaylistManager) AddItem(playlistID uuid.UUID, url, title, uploader string) error {
	return p.store.AddItem(&models.PlaylistItem{
		ID:         uuid.New(),
		PlaylistID: playlistID,
		URL:        url,
		Title:      title,
		Uploader:   uploader,
		AddedAt:    time.Now(),
	})
}

// Items returns a playlist's tracks in added order
func (p *PlaylistManager) Items(playlistID uuid.UUID) ([]models.PlaylistItem, error) {
	return p.store.ListItems(playlistID)
}

// RemoveItem deletes one track from a playlist
func (p *PlaylistManager) RemoveItem(itemID uuid.UUID) error {
	return p.store.DeleteItem(itemID)
}

// MarkQueued stamps the playlist as having been queued for playback
func (p *PlaylistManager) MarkQueued(playlist *models.Playlist) error {
	now := time.Now()
	playlist.QueuedAt = &now
	return p.store.SavePlaylist(playlist)
}

// RandomHistoryItems picks up to n distinct items from the guild's play
// history for the random-play command
func (p *PlaylistManager) RandomHistoryItems(guildID string, n int) ([]models.PlaylistItem, error) {
	playlist, err := p.store.GetPlaylist(guildID, HistoryPlaylistName(guildID))
	if err != nil {
		return nil, err
	}
	if playlist == nil {
		return nil, nil
	}
	items, err := p.store.ListItems(playlist.ID)
	if err != nil {
		return nil, err
	}
	rand.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
	if n > 0 && n < len(items) {
		items = items[:n]
	}
	return items, nil
}
