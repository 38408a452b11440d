package commands

import (
	"github.com/bwmarrin/discordgo"
)

const historyDisplayLimit = 20

// HistoryCommand lists the guild's most recent plays
func HistoryCommand(s *discordgo.Session, m *discordgo.MessageCreate, _ []string) {
	items, err := orchestrator.RecentHistory(m.GuildID, historyDisplayLimit)
	if err != nil {
		commandLogger("history").Error("failed to read history", err, map[string]interface{}{
			"guild_id": m.GuildID,
		})
		replyError(s, m, "History", "Unable to read play history.")
		return
	}
	s.ChannelMessageSendEmbed(m.ChannelID, embedBuilder.TrackList("🕘 Recently Played", items))
}

// StatsCommand shows the guild's cumulative playback counters
func StatsCommand(s *discordgo.Session, m *discordgo.MessageCreate, _ []string) {
	stats, err := orchestrator.Analytics(m.GuildID)
	if err != nil {
		replyError(s, m, "Stats", "Unable to read playback stats.")
		return
	}
	s.ChannelMessageSendEmbed(m.ChannelID, embedBuilder.Analytics(m.GuildID, stats))
}
