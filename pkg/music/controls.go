package music

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"github.com/jukeboxd/jukebox/pkg/database/models"
	"github.com/jukeboxd/jukebox/pkg/download"
	"github.com/jukeboxd/jukebox/pkg/history"
	"github.com/jukeboxd/jukebox/pkg/search"
)

// ErrNotPlaying is returned by playback controls when the guild has no
// active player
var ErrNotPlaying = fmt.Errorf("nothing is playing in this server")

// Join connects the guild's player to a voice channel without queueing
// anything
func (o *Orchestrator) Join(guildID, textChannelID, voiceChannelID string) error {
	if o.isShuttingDown() {
		return fmt.Errorf("music pipeline is shutting down")
	}
	p := o.EnsurePlayer(guildID, textChannelID)
	return p.Join(voiceChannelID)
}

// Skip ends the current track without recording it to history
func (o *Orchestrator) Skip(guildID string) error {
	p := o.Player(guildID)
	if p == nil {
		return ErrNotPlaying
	}
	p.Skip()
	return nil
}

// Pause holds the current track mid-stream
func (o *Orchestrator) Pause(guildID string) error {
	p := o.Player(guildID)
	if p == nil {
		return ErrNotPlaying
	}
	p.Pause()
	return nil
}

// Resume releases a paused track
func (o *Orchestrator) Resume(guildID string) error {
	p := o.Player(guildID)
	if p == nil {
		return ErrNotPlaying
	}
	p.Resume()
	return nil
}

// Stop shuts the guild's player down, dropping its queue and leaving the
// voice channel
func (o *Orchestrator) Stop(guildID string) error {
	p := o.Player(guildID)
	if p == nil {
		return ErrNotPlaying
	}
	p.Shutdown()
	return nil
}

// RemoveTrack drops the track at a 1-based queue position
func (o *Orchestrator) RemoveTrack(guildID string, position int) (*download.MediaDownload, error) {
	p := o.Player(guildID)
	if p == nil {
		return nil, ErrNotPlaying
	}
	dl, ok := p.RemoveTrack(position)
	if !ok {
		return nil, fmt.Errorf("no track at position %d", position)
	}
	return dl, nil
}

// BumpTrack moves the track at a 1-based queue position to the front
func (o *Orchestrator) BumpTrack(guildID string, position int) (*download.MediaDownload, error) {
	p := o.Player(guildID)
	if p == nil {
		return nil, ErrNotPlaying
	}
	dl, ok := p.BumpTrack(position)
	if !ok {
		return nil, fmt.Errorf("no track at position %d", position)
	}
	return dl, nil
}

// Shuffle randomizes the guild's play queue
func (o *Orchestrator) Shuffle(guildID string) error {
	p := o.Player(guildID)
	if p == nil {
		return ErrNotPlaying
	}
	p.ShuffleQueue()
	return nil
}

// Clear empties the guild's play queue, keeping the current track
func (o *Orchestrator) Clear(guildID string) error {
	p := o.Player(guildID)
	if p == nil {
		return ErrNotPlaying
	}
	p.ClearQueue()
	return nil
}

// NowPlaying returns the guild's current track, nil when idle
func (o *Orchestrator) NowPlaying(guildID string) *download.MediaDownload {
	p := o.Player(guildID)
	if p == nil {
		return nil
	}
	return p.NowPlaying()
}

// Queue returns the guild's current track and the tracks waiting behind it
func (o *Orchestrator) Queue(guildID string) (*download.MediaDownload, []*download.MediaDownload, error) {
	p := o.Player(guildID)
	if p == nil {
		return nil, nil, ErrNotPlaying
	}
	return p.NowPlaying(), p.QueuedTracks(), nil
}

// MoveMessages redirects the player's queue message and every live request
// bundle for the guild to a new text channel
func (o *Orchestrator) MoveMessages(guildID, newChannelID string) error {
	p := o.Player(guildID)
	if p == nil {
		return ErrNotPlaying
	}
	p.MoveTextChannel(newChannelID)
	o.dispatcher.MoveChannel(p.BundleID(), newChannelID)

	o.mu.Lock()
	var bundleIDs []string
	for id, b := range o.bundles {
		if b.GuildID == guildID {
			bundleIDs = append(bundleIDs, id)
		}
	}
	o.mu.Unlock()
	for _, id := range bundleIDs {
		o.dispatcher.MoveChannel(id, newChannelID)
	}
	return nil
}

// RecentHistory lists the guild's newest recorded plays
func (o *Orchestrator) RecentHistory(guildID string, limit int) ([]models.PlaylistItem, error) {
	return o.recorder.Recent(guildID, limit)
}

// Analytics returns the guild's cumulative play counters
func (o *Orchestrator) Analytics(guildID string) (*models.GuildAnalytics, error) {
	return o.recorder.Analytics(guildID)
}

// RandomPlay queues n random tracks from the guild's play history. Zero
// requeues the whole history.
func (o *Orchestrator) RandomPlay(in search.RequestInput, voiceChannelID string, n int) error {
	items, err := o.playlists.RandomHistoryItems(in.GuildID, n)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("no play history for this server")
	}
	return o.PlayHistoryItems(in, voiceChannelID, items, true)
}

// RandomPlayFromCache queues n random tracks from the download cache pool.
// These count as ordinary plays and are recorded to history.
func (o *Orchestrator) RandomPlayFromCache(in search.RequestInput, voiceChannelID string, n int) error {
	entries, err := o.cache.RandomEntries(n)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("the download cache is empty")
	}
	items := make([]models.PlaylistItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, models.PlaylistItem{
			ID:       uuid.New(),
			URL:      entry.URL,
			Title:    entry.Title,
			Uploader: entry.Uploader,
		})
	}
	return o.PlayHistoryItems(in, voiceChannelID, items, false)
}

// PlaylistQueue queues every item of a saved playlist for playback,
// optionally in shuffled order
func (o *Orchestrator) PlaylistQueue(in search.RequestInput, voiceChannelID, name string, shuffle bool) error {
	playlist, err := o.playlists.Get(in.GuildID, name)
	if err != nil {
		return err
	}
	if playlist == nil {
		return fmt.Errorf("no playlist named %q", name)
	}
	items, err := o.playlists.Items(playlist.ID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("playlist %q is empty", name)
	}
	if shuffle {
		rand.Shuffle(len(items), func(i, j int) {
			items[i], items[j] = items[j], items[i]
		})
	}
	if err := o.PlayHistoryItems(in, voiceChannelID, items, false); err != nil {
		return err
	}
	if err := o.playlists.MarkQueued(playlist); err != nil {
		o.logger.Warn("failed to mark playlist queued", map[string]interface{}{
			"guild_id": in.GuildID,
			"playlist": name,
			"error":    err.Error(),
		})
	}
	return nil
}

// RecentPlayed replays the most recent history items in order
func (o *Orchestrator) RecentPlayed(in search.RequestInput, voiceChannelID string, limit int) error {
	items, err := o.recorder.Recent(in.GuildID, limit)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("no play history for this server")
	}
	return o.PlayHistoryItems(in, voiceChannelID, items, true)
}

// HistoryName exposes the reserved history playlist name for display
func HistoryName(guildID string) string {
	return history.HistoryPlaylistName(guildID)
}
