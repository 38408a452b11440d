package commands

import (
	"github.com/bwmarrin/discordgo"

	"github.com/jukeboxd/jukebox/internal/config"
	"github.com/jukeboxd/jukebox/pkg/embed"
	"github.com/jukeboxd/jukebox/pkg/logging"
	"github.com/jukeboxd/jukebox/pkg/music"
	"github.com/jukeboxd/jukebox/pkg/player"
	"github.com/jukeboxd/jukebox/pkg/search"
)

// CommandFunc is the signature every chat command implements
type CommandFunc func(s *discordgo.Session, m *discordgo.MessageCreate, args []string)

var (
	orchestrator *music.Orchestrator
	voiceLookup  *player.DiscordVoiceSession
	appConfig    *config.Config
	embedBuilder embed.MusicEmbedBuilder
)

// Initialize wires the command package to the running orchestrator. Must be
// called before any command executes.
func Initialize(orch *music.Orchestrator, voice *player.DiscordVoiceSession, cfg *config.Config) {
	orchestrator = orch
	voiceLookup = voice
	appConfig = cfg
	embedBuilder = embed.GetGlobalMusicEmbedBuilder()
}

// Registry maps command names (without prefix) to their handlers
func Registry() map[string]CommandFunc {
	return map[string]CommandFunc{
		"play":          PlayCommand,
		"p":             PlayCommand,
		"skip":          SkipCommand,
		"pause":         PauseCommand,
		"resume":        ResumeCommand,
		"stop":          StopCommand,
		"join":          JoinCommand,
		"remove":        RemoveCommand,
		"bump":          BumpCommand,
		"shuffle":       ShuffleCommand,
		"clear":         ClearCommand,
		"queue":         QueueCommand,
		"q":             QueueCommand,
		"nowplaying":    NowPlayingCommand,
		"np":            NowPlayingCommand,
		"history":       HistoryCommand,
		"stats":         StatsCommand,
		"random-play":   RandomPlayCommand,
		"move-messages": MoveMessagesCommand,
		"playlist":      PlaylistCommand,
	}
}

func commandLogger(name string) logging.Logger {
	return logging.GetGlobalLoggerFactory().CreateCommandLogger(name)
}

func requestInput(m *discordgo.MessageCreate, input string) search.RequestInput {
	name := m.Author.Username
	if m.Member != nil && m.Member.Nick != "" {
		name = m.Member.Nick
	}
	return search.RequestInput{
		GuildID:       m.GuildID,
		ChannelID:     m.ChannelID,
		RequesterName: name,
		RequesterID:   m.Author.ID,
		Input:         input,
	}
}

// userVoiceChannel resolves the channel the message author is sitting in.
// Replies with an error embed and returns empty when they are not in voice.
func userVoiceChannel(s *discordgo.Session, m *discordgo.MessageCreate) string {
	channelID, err := voiceLookup.FindUserVoiceChannel(m.GuildID, m.Author.ID)
	if err != nil || channelID == "" {
		replyError(s, m, "Not in Voice", "Join a voice channel first.")
		return ""
	}
	return channelID
}

func replyError(s *discordgo.Session, m *discordgo.MessageCreate, title, description string) {
	s.ChannelMessageSendEmbed(m.ChannelID, embedBuilder.Error("❌ "+title, description))
}

func replySuccess(s *discordgo.Session, m *discordgo.MessageCreate, title, description string) {
	s.ChannelMessageSendEmbed(m.ChannelID, embedBuilder.Success("✅ "+title, description))
}

func replyInfo(s *discordgo.Session, m *discordgo.MessageCreate, title, description string) {
	s.ChannelMessageSendEmbed(m.ChannelID, embedBuilder.Info(title, description))
}
