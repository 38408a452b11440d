package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

var (
	// ErrNotFound marks a 404-class failure; the message is gone and the
	// handle should be forgotten
	ErrNotFound = errors.New("message not found")
	// ErrTransient marks a 5xx-class failure worth retrying next tick
	ErrTransient = errors.New("transient chat API error")
)

// ChatMessenger is the minimal chat-platform surface the dispatcher needs.
// Implementations translate platform errors into ErrNotFound / ErrTransient.
type ChatMessenger interface {
	Send(ctx context.Context, channelID, content string) (string, error)
	Edit(ctx context.Context, channelID, messageID, content string) error
	Delete(ctx context.Context, channelID, messageID string) error
	// FetchRecent returns the newest n message ids in the channel,
	// newest first
	FetchRecent(ctx context.Context, channelID string, n int) ([]string, error)
}

// DiscordMessenger implements ChatMessenger on a discordgo session
type DiscordMessenger struct {
	session *discordgo.Session
}

// NewDiscordMessenger creates a messenger bound to a discord session
func NewDiscordMessenger(session *discordgo.Session) *DiscordMessenger {
	return &DiscordMessenger{session: session}
}

// Send sends a message and returns its id
func (d *DiscordMessenger) Send(_ context.Context, channelID, content string) (string, error) {
	msg, err := d.session.ChannelMessageSend(channelID, content)
	if err != nil {
		return "", classifyDiscordError(err)
	}
	return msg.ID, nil
}

// Edit replaces the content of an existing message
func (d *DiscordMessenger) Edit(_ context.Context, channelID, messageID, content string) error {
	_, err := d.session.ChannelMessageEdit(channelID, messageID, content)
	if err != nil {
		return classifyDiscordError(err)
	}
	return nil
}

// Delete removes a message
func (d *DiscordMessenger) Delete(_ context.Context, channelID, messageID string) error {
	if err := d.session.ChannelMessageDelete(channelID, messageID); err != nil {
		return classifyDiscordError(err)
	}
	return nil
}

// FetchRecent returns the newest n message ids in the channel
func (d *DiscordMessenger) FetchRecent(_ context.Context, channelID string, n int) ([]string, error) {
	msgs, err := d.session.ChannelMessages(channelID, n, "", "", "")
	if err != nil {
		return nil, classifyDiscordError(err)
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// classifyDiscordError maps discord REST errors onto the dispatcher's two
// error classes
func classifyDiscordError(err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		code := restErr.Response.StatusCode
		if code == 404 {
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		if code >= 500 {
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return err
	}
	// Network-level failures are retryable
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
