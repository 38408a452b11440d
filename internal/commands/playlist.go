package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/jukeboxd/jukebox/pkg/database/models"
	"github.com/jukeboxd/jukebox/pkg/music"
)

// PlaylistCommand dispatches the playlist subcommands:
//
//	playlist create <name>
//	playlist list
//	playlist show <name>
//	playlist delete <name>
//	playlist rename <old> <new>
//	playlist add <name> <url or search>
//	playlist remove-item <name> <position>
//	playlist queue <name> [shuffle]
func PlaylistCommand(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	if len(args) < 1 {
		replyError(s, m, "Usage Error", "Subcommands: create, list, show, delete, rename, add, remove-item, queue.")
		return
	}
	sub := strings.ToLower(args[0])
	rest := args[1:]

	switch sub {
	case "create":
		playlistCreate(s, m, rest)
	case "list":
		playlistList(s, m)
	case "show":
		playlistShow(s, m, rest)
	case "delete":
		playlistDelete(s, m, rest)
	case "rename":
		playlistRename(s, m, rest)
	case "add":
		playlistAdd(s, m, rest)
	case "remove-item":
		playlistRemoveItem(s, m, rest)
	case "queue":
		playlistQueue(s, m, rest)
	default:
		replyError(s, m, "Usage Error", fmt.Sprintf("Unknown playlist subcommand %q.", sub))
	}
}

func playlistCreate(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	if len(args) < 1 {
		replyError(s, m, "Usage Error", "Provide a playlist name.")
		return
	}
	name := strings.Join(args, " ")
	if _, err := orchestrator.Playlists().Create(m.GuildID, name); err != nil {
		replyError(s, m, "Playlist", fmt.Sprintf("Unable to create playlist %q.", name))
		return
	}
	replySuccess(s, m, "Playlist Created", fmt.Sprintf("Created playlist **%s**.", name))
}

func playlistList(s *discordgo.Session, m *discordgo.MessageCreate) {
	playlists, err := orchestrator.Playlists().List(m.GuildID)
	if err != nil {
		replyError(s, m, "Playlist", "Unable to list playlists.")
		return
	}
	s.ChannelMessageSendEmbed(m.ChannelID, embedBuilder.PlaylistList(playlists))
}

func playlistShow(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	if len(args) < 1 {
		replyError(s, m, "Usage Error", "Provide a playlist name.")
		return
	}
	name := strings.Join(args, " ")
	playlist, err := orchestrator.Playlists().Get(m.GuildID, name)
	if err != nil || playlist == nil {
		replyError(s, m, "Playlist", fmt.Sprintf("No playlist named %q.", name))
		return
	}
	items, err := orchestrator.Playlists().Items(playlist.ID)
	if err != nil {
		replyError(s, m, "Playlist", "Unable to read playlist items.")
		return
	}
	s.ChannelMessageSendEmbed(m.ChannelID, embedBuilder.TrackList("📋 "+name, items))
}

func playlistDelete(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	if len(args) < 1 {
		replyError(s, m, "Usage Error", "Provide a playlist name.")
		return
	}
	name := strings.Join(args, " ")
	if err := orchestrator.Playlists().Delete(m.GuildID, name); err != nil {
		replyError(s, m, "Playlist", err.Error())
		return
	}
	replySuccess(s, m, "Playlist Deleted", fmt.Sprintf("Deleted playlist **%s**.", name))
}

func playlistRename(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	if len(args) < 2 {
		replyError(s, m, "Usage Error", "Provide the current and the new name.")
		return
	}
	oldName, newName := args[0], args[1]
	if err := orchestrator.Playlists().Rename(m.GuildID, oldName, newName); err != nil {
		replyError(s, m, "Playlist", err.Error())
		return
	}
	replySuccess(s, m, "Playlist Renamed", fmt.Sprintf("**%s** is now **%s**.", oldName, newName))
}

func playlistAdd(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	if len(args) < 2 {
		replyError(s, m, "Usage Error", "Provide a playlist name and a URL or search query.")
		return
	}
	name := args[0]
	input := strings.Join(args[1:], " ")

	playlist, err := orchestrator.Playlists().Get(m.GuildID, name)
	if err != nil || playlist == nil {
		replyError(s, m, "Playlist", fmt.Sprintf("No playlist named %q.", name))
		return
	}

	// The pipeline resolves and downloads the track, then saves it to the
	// playlist instead of queueing it
	err = orchestrator.Play(context.Background(), requestInput(m, input), music.PlayOptions{
		AddToPlaylist: &playlist.ID,
	})
	if err != nil {
		commandLogger("playlist").Warn("playlist add did not start", map[string]interface{}{
			"guild_id": m.GuildID,
			"playlist": name,
			"error":    err.Error(),
		})
	}
}

func playlistRemoveItem(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	if len(args) < 2 {
		replyError(s, m, "Usage Error", "Provide a playlist name and an item position.")
		return
	}
	name := args[0]
	position, err := strconv.Atoi(args[1])
	if err != nil || position < 1 {
		replyError(s, m, "Usage Error", "Item position must be a positive number.")
		return
	}

	playlist, err := orchestrator.Playlists().Get(m.GuildID, name)
	if err != nil || playlist == nil {
		replyError(s, m, "Playlist", fmt.Sprintf("No playlist named %q.", name))
		return
	}
	if playlist.Kind != models.PlaylistKindUser {
		replyError(s, m, "Playlist", "The play history cannot be edited.")
		return
	}
	items, err := orchestrator.Playlists().Items(playlist.ID)
	if err != nil || position > len(items) {
		replyError(s, m, "Playlist", fmt.Sprintf("No item at position %d.", position))
		return
	}
	item := items[position-1]
	if err := orchestrator.Playlists().RemoveItem(item.ID); err != nil {
		replyError(s, m, "Playlist", "Unable to remove the item.")
		return
	}
	replySuccess(s, m, "Item Removed", fmt.Sprintf("Removed **%s** from **%s**.", item.Title, name))
}

func playlistQueue(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	if len(args) < 1 {
		replyError(s, m, "Usage Error", "Provide a playlist name.")
		return
	}
	shuffle := false
	var nameParts []string
	for _, arg := range args {
		if strings.EqualFold(arg, "shuffle") {
			shuffle = true
			continue
		}
		nameParts = append(nameParts, arg)
	}
	name := strings.Join(nameParts, " ")

	voiceChannelID := userVoiceChannel(s, m)
	if voiceChannelID == "" {
		return
	}
	err := orchestrator.PlaylistQueue(requestInput(m, name), voiceChannelID, name, shuffle)
	if err != nil {
		replyError(s, m, "Playlist", err.Error())
	}
}
