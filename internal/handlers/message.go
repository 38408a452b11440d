package handlers

import (
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/jukeboxd/jukebox/internal/commands"
	"github.com/jukeboxd/jukebox/pkg/logging"
)

var (
	commandPrefix   string
	commandRegistry map[string]commands.CommandFunc
	handlerLogger   logging.Logger
)

// Initialize sets the command prefix and registry. Must run before the
// handler is registered on the session.
func Initialize(prefix string) {
	commandPrefix = prefix
	commandRegistry = commands.Registry()
	handlerLogger = logging.GetGlobalLoggerFactory().CreateLogger("handler")
}

// MessageHandler routes prefixed chat messages to their command functions
func MessageHandler(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore the bot's own messages and other bots
	if m.Author == nil || m.Author.Bot {
		return
	}
	if m.GuildID == "" {
		return
	}

	name, args, ok := parseCommand(m.Content, commandPrefix)
	if !ok {
		return
	}
	cmd, ok := commandRegistry[name]
	if !ok {
		return
	}

	handlerLogger.Debug("dispatching command", map[string]interface{}{
		"command":  name,
		"guild_id": m.GuildID,
		"user_id":  m.Author.ID,
	})
	cmd(s, m, args)
}

// parseCommand splits a prefixed message into a lowercased command name and
// its arguments. Reports false for non-command messages.
func parseCommand(content, prefix string) (string, []string, bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}
