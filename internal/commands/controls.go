package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jukeboxd/jukebox/pkg/database/models"
)

// SkipCommand ends the current track
func SkipCommand(s *discordgo.Session, m *discordgo.MessageCreate, _ []string) {
	if err := orchestrator.Skip(m.GuildID); err != nil {
		replyError(s, m, "Skip", err.Error())
		return
	}
	replySuccess(s, m, "Skipped", "Skipped the current track.")
}

// PauseCommand holds playback
func PauseCommand(s *discordgo.Session, m *discordgo.MessageCreate, _ []string) {
	if err := orchestrator.Pause(m.GuildID); err != nil {
		replyError(s, m, "Pause", err.Error())
		return
	}
	replySuccess(s, m, "Paused", "Playback paused.")
}

// ResumeCommand releases held playback
func ResumeCommand(s *discordgo.Session, m *discordgo.MessageCreate, _ []string) {
	if err := orchestrator.Resume(m.GuildID); err != nil {
		replyError(s, m, "Resume", err.Error())
		return
	}
	replySuccess(s, m, "Resumed", "Playback resumed.")
}

// StopCommand shuts the player down and leaves voice
func StopCommand(s *discordgo.Session, m *discordgo.MessageCreate, _ []string) {
	if err := orchestrator.Stop(m.GuildID); err != nil {
		replyError(s, m, "Stop", err.Error())
	}
}

// JoinCommand connects the bot to the caller's voice channel without
// queueing anything
func JoinCommand(s *discordgo.Session, m *discordgo.MessageCreate, _ []string) {
	voiceChannelID := userVoiceChannel(s, m)
	if voiceChannelID == "" {
		return
	}
	if err := orchestrator.Join(m.GuildID, m.ChannelID, voiceChannelID); err != nil {
		replyError(s, m, "Join", "Unable to join the voice channel.")
	}
}

// RemoveCommand drops the track at a queue position
func RemoveCommand(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	position, ok := parseQueuePosition(s, m, args)
	if !ok {
		return
	}
	dl, err := orchestrator.RemoveTrack(m.GuildID, position)
	if err != nil {
		replyError(s, m, "Remove", err.Error())
		return
	}
	replySuccess(s, m, "Removed", fmt.Sprintf("Removed **%s** from the queue.", dl.DisplayName()))
}

// BumpCommand moves the track at a queue position to the front
func BumpCommand(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	position, ok := parseQueuePosition(s, m, args)
	if !ok {
		return
	}
	dl, err := orchestrator.BumpTrack(m.GuildID, position)
	if err != nil {
		replyError(s, m, "Bump", err.Error())
		return
	}
	replySuccess(s, m, "Bumped", fmt.Sprintf("**%s** plays next.", dl.DisplayName()))
}

// ShuffleCommand randomizes the queue
func ShuffleCommand(s *discordgo.Session, m *discordgo.MessageCreate, _ []string) {
	if err := orchestrator.Shuffle(m.GuildID); err != nil {
		replyError(s, m, "Shuffle", err.Error())
		return
	}
	replySuccess(s, m, "Shuffled", "Queue shuffled.")
}

// ClearCommand empties the queue but keeps the current track playing
func ClearCommand(s *discordgo.Session, m *discordgo.MessageCreate, _ []string) {
	if err := orchestrator.Clear(m.GuildID); err != nil {
		replyError(s, m, "Clear", err.Error())
		return
	}
	replySuccess(s, m, "Cleared", "Queue cleared.")
}

// NowPlayingCommand shows the current track
func NowPlayingCommand(s *discordgo.Session, m *discordgo.MessageCreate, _ []string) {
	dl := orchestrator.NowPlaying(m.GuildID)
	if dl == nil {
		replyInfo(s, m, "Now Playing", "Nothing is playing.")
		return
	}
	duration := time.Duration(dl.DurationSeconds) * time.Second
	s.ChannelMessageSendEmbed(m.ChannelID, embedBuilder.NowPlaying(dl.DisplayName(), dl.WebpageURL, duration))
}

// QueueCommand lists the current track and everything waiting behind it
func QueueCommand(s *discordgo.Session, m *discordgo.MessageCreate, _ []string) {
	now, upcoming, err := orchestrator.Queue(m.GuildID)
	if err != nil {
		replyError(s, m, "Queue", err.Error())
		return
	}
	if now == nil && len(upcoming) == 0 {
		replyInfo(s, m, "Queue", "The queue is empty.")
		return
	}

	items := make([]models.PlaylistItem, 0, len(upcoming))
	for _, dl := range upcoming {
		items = append(items, models.PlaylistItem{
			Title:    dl.DisplayName(),
			URL:      dl.WebpageURL,
			Uploader: dl.Uploader,
		})
	}
	title := "🎶 Queue"
	if now != nil {
		title = fmt.Sprintf("🎶 Queue | Now: %s", now.DisplayName())
	}
	s.ChannelMessageSendEmbed(m.ChannelID, embedBuilder.TrackList(title, items))
}

// MoveMessagesCommand redirects the bot's live messages for this guild to
// the channel the command was issued in
func MoveMessagesCommand(s *discordgo.Session, m *discordgo.MessageCreate, _ []string) {
	if err := orchestrator.MoveMessages(m.GuildID, m.ChannelID); err != nil {
		replyError(s, m, "Move Messages", err.Error())
		return
	}
	replySuccess(s, m, "Moved", "Bot messages will appear in this channel now.")
}

func parseQueuePosition(s *discordgo.Session, m *discordgo.MessageCreate, args []string) (int, bool) {
	if len(args) < 1 {
		replyError(s, m, "Usage Error", "Provide a queue position number.")
		return 0, false
	}
	position, err := strconv.Atoi(args[0])
	if err != nil || position < 1 {
		replyError(s, m, "Usage Error", "Queue position must be a positive number.")
		return 0, false
	}
	return position, true
}
