package player

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// VoiceConn is one live voice channel connection
type VoiceConn interface {
	Speaking(flag bool) error
	OpusSend() chan<- []byte
	Disconnect() error
	ChannelID() string
}

// VoiceSession joins voice channels and inspects their membership
type VoiceSession interface {
	Join(guildID, channelID string) (VoiceConn, error)
	NonBotMembers(guildID, channelID string) (int, error)
}

// DiscordVoiceSession implements VoiceSession on a discordgo session
type DiscordVoiceSession struct {
	session *discordgo.Session
}

// NewDiscordVoiceSession wraps a discordgo session
func NewDiscordVoiceSession(session *discordgo.Session) *DiscordVoiceSession {
	return &DiscordVoiceSession{session: session}
}

type discordVoiceConn struct {
	conn *discordgo.VoiceConnection
}

func (c *discordVoiceConn) Speaking(flag bool) error {
	return c.conn.Speaking(flag)
}

func (c *discordVoiceConn) OpusSend() chan<- []byte {
	return c.conn.OpusSend
}

func (c *discordVoiceConn) Disconnect() error {
	return c.conn.Disconnect()
}

func (c *discordVoiceConn) ChannelID() string {
	return c.conn.ChannelID
}

// Join connects to a voice channel, unmuted and undeafened for playback
func (d *DiscordVoiceSession) Join(guildID, channelID string) (VoiceConn, error) {
	conn, err := d.session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("failed to join voice channel: %w", err)
	}
	return &discordVoiceConn{conn: conn}, nil
}

// NonBotMembers counts human users currently in the voice channel
func (d *DiscordVoiceSession) NonBotMembers(guildID, channelID string) (int, error) {
	guild, err := d.session.State.Guild(guildID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		member, err := d.session.State.Member(guildID, vs.UserID)
		if err != nil || member.User == nil || member.User.Bot {
			continue
		}
		count++
	}
	return count, nil
}

// FindUserVoiceChannel returns the voice channel the user currently sits in,
// empty when they are not connected
func (d *DiscordVoiceSession) FindUserVoiceChannel(guildID, userID string) (string, error) {
	guild, err := d.session.State.Guild(guildID)
	if err != nil {
		return "", err
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID, nil
		}
	}
	return "", nil
}
