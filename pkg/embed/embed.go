package embed

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jukeboxd/jukebox/pkg/database/models"
)

// Builder provides basic embed creation functionality
type Builder interface {
	Success(title, description string) *discordgo.MessageEmbed
	Error(title, description string) *discordgo.MessageEmbed
	Info(title, description string) *discordgo.MessageEmbed
	Warning(title, description string) *discordgo.MessageEmbed
}

// MusicEmbedBuilder provides music-specific embed creation on top of the
// basic builder
type MusicEmbedBuilder interface {
	Builder
	NowPlaying(title, url string, duration time.Duration) *discordgo.MessageEmbed
	TrackList(title string, items []models.PlaylistItem) *discordgo.MessageEmbed
	PlaylistList(playlists []models.Playlist) *discordgo.MessageEmbed
	Analytics(guildID string, stats *models.GuildAnalytics) *discordgo.MessageEmbed
}

// MusicEmbeds implements MusicEmbedBuilder
type MusicEmbeds struct {
	baseColor int
}

// NewMusicEmbedBuilder creates a new MusicEmbeds instance
func NewMusicEmbedBuilder() MusicEmbedBuilder {
	return &MusicEmbeds{
		baseColor: 0x7289da, // Discord blurple
	}
}

// Global builder instance for convenience
var globalBuilder = NewMusicEmbedBuilder()

// GetGlobalMusicEmbedBuilder returns the shared builder
func GetGlobalMusicEmbedBuilder() MusicEmbedBuilder {
	return globalBuilder
}

// Success creates a success embed
func (m *MusicEmbeds) Success(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       0x00ff00, // Green
		Timestamp:   time.Now().Format(time.RFC3339),
	}
}

// Error creates an error embed
func (m *MusicEmbeds) Error(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       0xff0000, // Red
		Timestamp:   time.Now().Format(time.RFC3339),
	}
}

// Info creates an info embed
func (m *MusicEmbeds) Info(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       m.baseColor,
		Timestamp:   time.Now().Format(time.RFC3339),
	}
}

// Warning creates a warning embed
func (m *MusicEmbeds) Warning(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       0xffaa00, // Orange
		Timestamp:   time.Now().Format(time.RFC3339),
	}
}

// NowPlaying creates an embed for the currently playing track
func (m *MusicEmbeds) NowPlaying(title, url string, duration time.Duration) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       "🎵 Now Playing",
		Description: fmt.Sprintf("[%s](%s)", title, url),
		Color:       0x00ff00,
		Timestamp:   time.Now().Format(time.RFC3339),
	}
	if duration > 0 {
		embed.Fields = []*discordgo.MessageEmbedField{
			{
				Name:   "Duration",
				Value:  formatDuration(duration),
				Inline: true,
			},
		}
	}
	return embed
}

// TrackList renders playlist or history items as a numbered list
func (m *MusicEmbeds) TrackList(title string, items []models.PlaylistItem) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:     title,
		Color:     m.baseColor,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if len(items) == 0 {
		embed.Description = "No tracks"
		return embed
	}

	maxItems := 20 // Keep the embed under Discord's size limits
	text := ""
	for i, item := range items {
		if i >= maxItems {
			text += fmt.Sprintf("... and %d more", len(items)-maxItems)
			break
		}
		name := item.Title
		if name == "" {
			name = item.URL
		}
		text += fmt.Sprintf("%d. [%s](%s)\n", i+1, name, item.URL)
	}
	embed.Description = text
	return embed
}

// PlaylistList renders the guild's saved playlists
func (m *MusicEmbeds) PlaylistList(playlists []models.Playlist) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:     "📋 Saved Playlists",
		Color:     m.baseColor,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if len(playlists) == 0 {
		embed.Description = "No playlists saved for this server"
		return embed
	}
	text := ""
	for _, p := range playlists {
		text += fmt.Sprintf("• %s\n", p.Name)
	}
	embed.Description = text
	return embed
}

// Analytics renders the guild's cumulative play counters
func (m *MusicEmbeds) Analytics(guildID string, stats *models.GuildAnalytics) *discordgo.MessageEmbed {
	if stats == nil {
		stats = &models.GuildAnalytics{GuildID: guildID}
	}
	return &discordgo.MessageEmbed{
		Title:     "📊 Playback Stats",
		Color:     m.baseColor,
		Timestamp: time.Now().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:   "Total Plays",
				Value:  fmt.Sprintf("%d", stats.TotalPlays),
				Inline: true,
			},
			{
				Name:   "Played Time",
				Value:  formatDuration(time.Duration(stats.TotalDurationSeconds) * time.Second),
				Inline: true,
			},
			{
				Name:   "Served From Cache",
				Value:  fmt.Sprintf("%d", stats.CachedPlays),
				Inline: true,
			},
		},
	}
}

// formatDuration formats a duration as MM:SS or HH:MM:SS
func formatDuration(d time.Duration) string {
	total := int(d.Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
