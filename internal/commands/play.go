package commands

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/jukeboxd/jukebox/pkg/music"
)

// PlayCommand resolves the input and feeds it into the request pipeline.
// Progress is reported through the request bundle, so the command itself
// only replies on early failures.
func PlayCommand(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	logger := commandLogger("play")

	if len(args) < 1 {
		replyError(s, m, "Usage Error", "Provide a URL, a Spotify/YouTube playlist, or a search query.")
		return
	}

	voiceChannelID := userVoiceChannel(s, m)
	if voiceChannelID == "" {
		return
	}

	input := strings.Join(args, " ")
	logger.Info("play command executed", map[string]interface{}{
		"user_id":  m.Author.ID,
		"guild_id": m.GuildID,
		"input":    input,
	})

	err := orchestrator.Play(context.Background(), requestInput(m, input), music.PlayOptions{
		VoiceChannelID: voiceChannelID,
	})
	if err != nil {
		// The bundle already shows the failure; log for diagnostics
		logger.Warn("play request did not start", map[string]interface{}{
			"guild_id": m.GuildID,
			"error":    err.Error(),
		})
	}
}

// RandomPlayCommand queues random tracks from history, or from the whole
// download cache with the "cache" token. An optional leading number bounds
// how many.
func RandomPlayCommand(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	logger := commandLogger("random-play")

	voiceChannelID := userVoiceChannel(s, m)
	if voiceChannelID == "" {
		return
	}

	n := 0
	fromCache := false
	for _, arg := range args {
		if strings.EqualFold(arg, "cache") {
			fromCache = true
			continue
		}
		if parsed, ok := parsePositive(arg); ok {
			n = parsed
		}
	}

	in := requestInput(m, strings.Join(args, " "))
	var err error
	if fromCache {
		err = orchestrator.RandomPlayFromCache(in, voiceChannelID, n)
	} else {
		err = orchestrator.RandomPlay(in, voiceChannelID, n)
	}
	if err != nil {
		logger.Warn("random-play failed", map[string]interface{}{
			"guild_id": m.GuildID,
			"error":    err.Error(),
		})
		replyError(s, m, "Random Play", err.Error())
	}
}

func parsePositive(s string) (int, bool) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return 0, false
	}
	return n, true
}
