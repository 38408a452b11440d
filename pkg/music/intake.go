package music

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jukeboxd/jukebox/pkg/bundle"
	"github.com/jukeboxd/jukebox/pkg/database/models"
	"github.com/jukeboxd/jukebox/pkg/dispatch"
	"github.com/jukeboxd/jukebox/pkg/search"
)

// PlayOptions modifies how resolved requests are delivered
type PlayOptions struct {
	// VoiceChannelID is where the player should join. Empty is allowed
	// only when AddToPlaylist is set.
	VoiceChannelID string
	// AddToPlaylist saves finished downloads to a playlist instead of
	// queueing them for playback
	AddToPlaylist *uuid.UUID
	// FromHistory marks replayed items so they are not re-recorded
	FromHistory bool
}

// Play is the command entry point: resolve the input, build and freeze a
// progress bundle, and enqueue every sub-request into the pipeline
func (o *Orchestrator) Play(ctx context.Context, in search.RequestInput, opts PlayOptions) error {
	if o.isShuttingDown() {
		return fmt.Errorf("music pipeline is shutting down")
	}

	b := bundle.NewRequestBundle(in.GuildID, in.ChannelID, o.cfg.PageCharLimit)
	b.SetInitialSearch(in.Input)
	o.trackBundle(b)
	o.dispatcher.RegisterBundle(b.ID, in.GuildID, in.ChannelID, false, dispatch.RenderFunc(b.Render))
	o.dispatcher.Touch(b.ID)

	requests, err := o.resolver.Resolve(ctx, in)
	if err != nil {
		var searchErr *search.Error
		if errors.As(err, &searchErr) {
			b.SetSearchResult(searchErr.UserMessage, "")
		} else {
			b.SetSearchResult("Issue processing search", "")
		}
		o.dispatcher.Touch(b.ID)
		return err
	}
	if len(requests) == 0 {
		b.SetSearchResult("No results found for search", "")
		o.dispatcher.Touch(b.ID)
		return nil
	}
	b.SetSearchResult("", "")

	if opts.AddToPlaylist == nil {
		p := o.EnsurePlayer(in.GuildID, in.ChannelID)
		if err := p.Join(opts.VoiceChannelID); err != nil {
			b.SetSearchResult("Unable to join voice channel", "")
			o.dispatcher.Touch(b.ID)
			return err
		}
	}

	for _, req := range requests {
		req.BundleID = b.ID
		req.AddToPlaylist = opts.AddToPlaylist
		req.FromHistory = opts.FromHistory
		stage := bundle.StageQueued
		if req.SearchType.NeedsSearch() {
			stage = bundle.StageSearching
		}
		b.AddRequest(req, stage)
	}
	b.Freeze()
	o.dispatcher.Touch(b.ID)

	for _, req := range requests {
		if req.SearchType.NeedsSearch() {
			if err := o.searchQueue.Put(req.GuildID, req); err != nil {
				o.updateRow(req, bundle.StageFailed, "search queue full")
			}
			continue
		}
		o.enqueueDownload(req)
	}
	return nil
}

// PlayHistoryItems replays stored history or playlist items. Each item
// already carries a canonical URL so the search stage is skipped.
func (o *Orchestrator) PlayHistoryItems(in search.RequestInput, voiceChannelID string, items []models.PlaylistItem, fromHistory bool) error {
	if o.isShuttingDown() {
		return fmt.Errorf("music pipeline is shutting down")
	}
	if len(items) == 0 {
		return fmt.Errorf("no items to play")
	}

	b := bundle.NewRequestBundle(in.GuildID, in.ChannelID, o.cfg.PageCharLimit)
	b.SetInitialSearch(in.Input)
	o.trackBundle(b)
	o.dispatcher.RegisterBundle(b.ID, in.GuildID, in.ChannelID, false, dispatch.RenderFunc(b.Render))
	b.SetSearchResult("", "")

	p := o.EnsurePlayer(in.GuildID, in.ChannelID)
	if err := p.Join(voiceChannelID); err != nil {
		b.SetSearchResult("Unable to join voice channel", "")
		o.dispatcher.Touch(b.ID)
		return err
	}

	var requests []*bundle.MediaRequest
	for _, item := range items {
		req := bundle.NewMediaRequest(in.GuildID, in.ChannelID, in.RequesterName, in.RequesterID, item.URL, bundle.SearchTypeVideoURL)
		req.BundleID = b.ID
		req.FromHistory = fromHistory
		req.HistoryItemID = item.ID.String()
		if item.Title != "" {
			req.DisplayNameOverride = item.Title
		}
		requests = append(requests, req)
		b.AddRequest(req, bundle.StageQueued)
	}
	b.Freeze()
	o.dispatcher.Touch(b.ID)

	for _, req := range requests {
		o.enqueueDownload(req)
	}
	return nil
}

// enqueueDownload consults the cache before the download queue. Cache hits
// are delivered straight to the player; terminal sentinels fail fast.
func (o *Orchestrator) enqueueDownload(req *bundle.MediaRequest) {
	entry, err := o.cache.Lookup(req.ResolvedSearch)
	if err != nil {
		o.logger.Warn("cache lookup failed", map[string]interface{}{
			"url":   req.ResolvedSearch,
			"error": err.Error(),
		})
	}
	if entry != nil {
		if entry.FailureKind != "" {
			o.updateRow(req, bundle.StageFailed, entry.FailureMessage)
			return
		}
		if o.deliverFromCache(req, entry) {
			return
		}
	}

	if err := o.downloadQueue.Put(req.GuildID, req); err != nil {
		o.updateRow(req, bundle.StageFailed, "download queue full")
		return
	}
	o.updateRow(req, bundle.StageQueued, "")
}
