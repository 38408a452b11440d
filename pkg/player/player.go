package player

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jukeboxd/jukebox/pkg/bundle"
	"github.com/jukeboxd/jukebox/pkg/dispatch"
	"github.com/jukeboxd/jukebox/pkg/download"
	"github.com/jukeboxd/jukebox/pkg/history"
	"github.com/jukeboxd/jukebox/pkg/logging"
	"github.com/jukeboxd/jukebox/pkg/queue"
)

// State is the player lifecycle state
type State int

const (
	StateIdle State = iota
	StateJoining
	StatePlaying
	StatePaused
	StateShuttingDown
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

const queuePageCharLimit = 1500

// AudioStreamer plays one local file into a voice send channel
type AudioStreamer interface {
	Stream(ctx context.Context, path string, send chan<- []byte, gate *PauseGate) error
}

// Config bounds one guild player
type Config struct {
	QueueSize           int
	EmptyChannelTimeout time.Duration
}

// Hooks are the player's callbacks into its owner. OnFinished receives
// every naturally finished track; OnRelease drops the cache reference for
// a URL; OnStopped fires once after shutdown completes.
type Hooks struct {
	OnFinished func(item history.PlayedItem)
	OnRelease  func(url string)
	OnStopped  func(guildID string)
}

// GuildPlayer is the per-guild playback state machine. Commands mutate it
// from the handler path; the Run loop is the only consumer of the play
// queue.
type GuildPlayer struct {
	guildID       string
	textChannelID string
	cfg           Config
	voice         VoiceSession
	streamer      AudioStreamer
	dispatcher    *dispatch.MessageDispatcher
	hooks         Hooks
	logger        logging.Logger

	playQueue *queue.Queue[*download.MediaDownload]
	gate      *PauseGate

	mu          sync.Mutex
	state       State
	conn        VoiceConn
	nowPlaying  *download.MediaDownload
	trackCancel context.CancelFunc
	skipping    bool
	emptySince  time.Time

	shutdownOnce sync.Once
}

// NewGuildPlayer creates a player and registers its sticky queue bundle on
// the dispatcher
func NewGuildPlayer(guildID, textChannelID string, cfg Config, voice VoiceSession, streamer AudioStreamer, dispatcher *dispatch.MessageDispatcher, hooks Hooks, logger logging.Logger) *GuildPlayer {
	p := &GuildPlayer{
		guildID:       guildID,
		textChannelID: textChannelID,
		cfg:           cfg,
		voice:         voice,
		streamer:      streamer,
		dispatcher:    dispatcher,
		hooks:         hooks,
		logger:        logger,
		playQueue:     queue.NewQueue[*download.MediaDownload](cfg.QueueSize),
		gate:          NewPauseGate(),
		state:         StateIdle,
	}
	dispatcher.RegisterBundle(p.BundleID(), guildID, textChannelID, true, dispatch.RenderFunc(p.renderQueue))
	return p
}

// BundleID returns the dispatcher id of the player's queue display
func (p *GuildPlayer) BundleID() string {
	return fmt.Sprintf("play-order-%s", p.guildID)
}

// MoveTextChannel repoints the player's messages at a different text
// channel. The dispatcher resends the queue display there.
func (p *GuildPlayer) MoveTextChannel(channelID string) {
	p.mu.Lock()
	p.textChannelID = channelID
	p.mu.Unlock()
	p.dispatcher.MoveChannel(p.BundleID(), channelID)
}

// State returns the current lifecycle state
func (p *GuildPlayer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Join connects the player to a voice channel. Joining an already
// connected channel is a no-op.
func (p *GuildPlayer) Join(channelID string) error {
	p.mu.Lock()
	if p.state == StateShuttingDown {
		p.mu.Unlock()
		return fmt.Errorf("player is shutting down")
	}
	if p.conn != nil && p.conn.ChannelID() == channelID {
		p.mu.Unlock()
		return nil
	}
	p.state = StateJoining
	p.mu.Unlock()

	conn, err := p.voice.Join(p.guildID, channelID)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.state = StateIdle
		return err
	}
	if p.conn != nil {
		p.conn.Disconnect()
	}
	p.conn = conn
	p.state = StatePlaying
	p.emptySince = time.Time{}
	return nil
}

// Connected reports whether a voice connection is live
func (p *GuildPlayer) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// AddTrack appends a finished download to the play queue
func (p *GuildPlayer) AddTrack(dl *download.MediaDownload) error {
	if err := p.playQueue.PutNowait(dl); err != nil {
		return err
	}
	p.dispatcher.Touch(p.BundleID())
	return nil
}

// QueueSize returns how many tracks wait behind the current one
func (p *GuildPlayer) QueueSize() int {
	return p.playQueue.Size()
}

// QueuedTracks snapshots the tracks waiting behind the current one
func (p *GuildPlayer) QueuedTracks() []*download.MediaDownload {
	return p.playQueue.Items()
}

// Run consumes the play queue until the context ends. It is the only
// goroutine that touches the voice connection's send channel.
func (p *GuildPlayer) Run(ctx context.Context) {
	for {
		dl, err := p.playQueue.Get(ctx)
		if err != nil {
			return
		}
		p.playTrack(ctx, dl)
	}
}

func (p *GuildPlayer) playTrack(ctx context.Context, dl *download.MediaDownload) {
	p.mu.Lock()
	if p.state == StateShuttingDown || p.conn == nil {
		p.mu.Unlock()
		p.discardTrack(dl)
		return
	}
	trackCtx, cancel := context.WithCancel(ctx)
	p.trackCancel = cancel
	p.skipping = false
	p.nowPlaying = dl
	conn := p.conn
	p.mu.Unlock()

	p.dispatcher.Touch(p.BundleID())

	fields := map[string]interface{}{
		"guild_id": p.guildID,
		"title":    dl.Title,
		"url":      dl.WebpageURL,
	}
	p.logger.Info("starting playback", fields)

	conn.Speaking(true)
	err := p.streamer.Stream(trackCtx, dl.PlayPath, conn.OpusSend(), p.gate)
	conn.Speaking(false)

	if err != nil && trackCtx.Err() == nil && ctx.Err() == nil {
		// One reconnect attempt before giving up on the track
		p.logger.Warn("playback failed, attempting voice reconnect", map[string]interface{}{
			"guild_id": p.guildID,
			"error":    err.Error(),
		})
		if rejoinErr := p.rejoin(); rejoinErr == nil {
			p.mu.Lock()
			conn = p.conn
			p.mu.Unlock()
			conn.Speaking(true)
			err = p.streamer.Stream(trackCtx, dl.PlayPath, conn.OpusSend(), p.gate)
			conn.Speaking(false)
		}
	}
	if err != nil && trackCtx.Err() == nil && ctx.Err() == nil {
		p.logger.Error("playback failed", err, fields)
		p.dispatcher.QueueMessage(p.textChannelID,
			fmt.Sprintf("Issue playing %q, skipping", bundle.ShortenString(dl.DisplayName(), 128)), 0)
	}

	p.mu.Lock()
	skipped := p.skipping
	p.nowPlaying = nil
	p.trackCancel = nil
	p.mu.Unlock()
	cancel()

	finished := err == nil && !skipped && ctx.Err() == nil
	p.releaseTrack(dl)
	if finished && p.hooks.OnFinished != nil && !dl.Request.FromHistory {
		p.hooks.OnFinished(history.PlayedItemFrom(dl))
	}
	p.dispatcher.Touch(p.BundleID())
}

func (p *GuildPlayer) rejoin() error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("no previous voice connection")
	}
	channelID := conn.ChannelID()
	conn.Disconnect()
	return p.Join(channelID)
}

func (p *GuildPlayer) releaseTrack(dl *download.MediaDownload) {
	if err := dl.Delete(); err != nil {
		p.logger.Warn("failed to delete per-use file", map[string]interface{}{
			"guild_id": p.guildID,
			"path":     dl.PlayPath,
			"error":    err.Error(),
		})
	}
	if p.hooks.OnRelease != nil {
		p.hooks.OnRelease(dl.WebpageURL)
	}
}

func (p *GuildPlayer) discardTrack(dl *download.MediaDownload) {
	p.releaseTrack(dl)
}

// Skip cancels the current track. The Run loop advances to the next one.
func (p *GuildPlayer) Skip() {
	p.mu.Lock()
	cancel := p.trackCancel
	if cancel != nil {
		p.skipping = true
	}
	p.mu.Unlock()
	if cancel != nil {
		p.gate.Resume()
		cancel()
	}
}

// Pause suspends frame delivery
func (p *GuildPlayer) Pause() {
	p.mu.Lock()
	if p.state == StatePlaying {
		p.state = StatePaused
	}
	p.mu.Unlock()
	p.gate.Pause()
}

// Resume continues a paused track
func (p *GuildPlayer) Resume() {
	p.mu.Lock()
	if p.state == StatePaused {
		p.state = StatePlaying
	}
	p.mu.Unlock()
	p.gate.Resume()
}

// Paused reports whether playback is currently suspended
func (p *GuildPlayer) Paused() bool {
	return p.gate.Paused()
}

// NowPlaying returns the currently streaming track, nil when idle
func (p *GuildPlayer) NowPlaying() *download.MediaDownload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nowPlaying
}

// RemoveTrack drops the queued track at a 1-based position
func (p *GuildPlayer) RemoveTrack(position int) (*download.MediaDownload, bool) {
	dl, ok := p.playQueue.RemoveItem(position)
	if !ok {
		return nil, false
	}
	p.releaseTrack(dl)
	p.dispatcher.Touch(p.BundleID())
	return dl, true
}

// BumpTrack moves the queued track at a 1-based position to the front
func (p *GuildPlayer) BumpTrack(position int) (*download.MediaDownload, bool) {
	dl, ok := p.playQueue.BumpItem(position)
	if ok {
		p.dispatcher.Touch(p.BundleID())
	}
	return dl, ok
}

// ShuffleQueue randomly permutes the upcoming tracks
func (p *GuildPlayer) ShuffleQueue() {
	p.playQueue.Shuffle()
	p.dispatcher.Touch(p.BundleID())
}

// ClearQueue drops every queued track and its per-use file
func (p *GuildPlayer) ClearQueue() {
	for _, dl := range p.playQueue.Clear() {
		p.releaseTrack(dl)
	}
	p.dispatcher.Touch(p.BundleID())
}

// CheckEmptyChannel reports whether the voice channel has been empty past
// the configured timeout. The caller shuts the player down on true.
func (p *GuildPlayer) CheckEmptyChannel(now time.Time) bool {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return false
	}
	count, err := p.voice.NonBotMembers(p.guildID, conn.ChannelID())
	if err != nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if count > 0 {
		p.emptySince = time.Time{}
		return false
	}
	if p.emptySince.IsZero() {
		p.emptySince = now
		return false
	}
	return now.Sub(p.emptySince) >= p.cfg.EmptyChannelTimeout
}

// Shutdown stops playback, drains the queue and per-use files, closes the
// voice connection, and announces the disconnect
func (p *GuildPlayer) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.state = StateShuttingDown
		cancel := p.trackCancel
		conn := p.conn
		p.conn = nil
		p.mu.Unlock()

		p.playQueue.Block()
		if cancel != nil {
			p.gate.Resume()
			cancel()
		}
		for _, dl := range p.playQueue.Clear() {
			p.releaseTrack(dl)
		}
		if conn != nil {
			conn.Disconnect()
		}

		p.dispatcher.RemoveBundle(p.BundleID())
		p.dispatcher.QueueMessage(p.textChannelID, "Disconnected from voice channel", 0)
		p.logger.Info("player shut down", map[string]interface{}{"guild_id": p.guildID})

		if p.hooks.OnStopped != nil {
			p.hooks.OnStopped(p.guildID)
		}
	})
}

// renderQueue builds the sticky queue display: the current track plus a
// numbered list of what comes next
func (p *GuildPlayer) renderQueue() []string {
	p.mu.Lock()
	now := p.nowPlaying
	paused := p.state == StatePaused
	p.mu.Unlock()
	upcoming := p.playQueue.Items()

	if now == nil && len(upcoming) == 0 {
		return nil
	}

	var lines []string
	if now != nil {
		status := "Now playing"
		if paused {
			status = "Paused"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", status, bundle.FormatNoEmbed(bundle.ShortenString(now.DisplayName(), 96))))
	}
	for i, dl := range upcoming {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, bundle.FormatNoEmbed(bundle.ShortenString(dl.DisplayName(), 96))))
	}

	var pages []string
	var current strings.Builder
	for _, line := range lines {
		if current.Len() > 0 && current.Len()+len(line)+1 > queuePageCharLimit {
			pages = append(pages, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		pages = append(pages, current.String())
	}
	return pages
}
