package music

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jukeboxd/jukebox/pkg/bundle"
	"github.com/jukeboxd/jukebox/pkg/database/models"
	"github.com/jukeboxd/jukebox/pkg/download"
	"github.com/jukeboxd/jukebox/pkg/player"
	"github.com/jukeboxd/jukebox/pkg/search"
)

const (
	dispatchIdleWait    = 500 * time.Millisecond
	dispatchErrorWait   = 2 * time.Second
	playerSweepInterval = 30 * time.Second
	reaperInterval      = time.Minute
)

// runDispatchLoop drives the message dispatcher. Idle ticks back off so
// the loop does not spin.
func (o *Orchestrator) runDispatchLoop(ctx context.Context) {
	for {
		o.heartbeat(LoopDispatch)
		did, err := o.dispatcher.Tick(ctx)
		wait := time.Duration(0)
		if err != nil {
			wait = dispatchErrorWait
		} else if !did {
			wait = dispatchIdleWait
		}
		if wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// runSearchLoop resolves free-text and streaming-track requests to
// canonical URLs and forwards them to the download stage
func (o *Orchestrator) runSearchLoop(ctx context.Context) {
	for {
		o.heartbeat(LoopSearch)
		req, err := o.searchQueue.Get(ctx)
		if err != nil {
			return
		}
		o.processSearch(ctx, req)
	}
}

func (o *Orchestrator) processSearch(ctx context.Context, req *bundle.MediaRequest) {
	url, err := o.cache.SearchLookup(req.SearchType, req.RawSearch)
	if err != nil {
		o.logger.Warn("search cache lookup failed", map[string]interface{}{
			"search": req.RawSearch,
			"error":  err.Error(),
		})
	}

	if url == "" {
		if o.musicSearch == nil {
			o.updateRow(req, bundle.StageFailed, "No music search catalog configured")
			return
		}
		videoID, err := o.musicSearch.SearchVideoID(ctx, req.RawSearch)
		if err != nil {
			o.logger.Error("music search failed", err, map[string]interface{}{
				"search": req.RawSearch,
			})
			o.updateRow(req, bundle.StageFailed, fmt.Sprintf("Issue searching for %q", bundle.ShortenString(req.RawSearch, 64)))
			return
		}
		if videoID == "" {
			o.updateRow(req, bundle.StageFailed, fmt.Sprintf("No results found for %q", bundle.ShortenString(req.RawSearch, 64)))
			return
		}
		url = search.VideoURLFromID(videoID)
	}

	req.ResolvedSearch = url
	o.enqueueDownload(req)
}

// runDownloadLoop drains the download queue one item at a time, honoring
// the adaptive backoff between downloads
func (o *Orchestrator) runDownloadLoop(ctx context.Context) {
	for {
		o.heartbeat(LoopDownload)
		req, err := o.downloadQueue.Get(ctx)
		if err != nil {
			return
		}
		o.processDownload(ctx, req)
	}
}

func (o *Orchestrator) processDownload(ctx context.Context, req *bundle.MediaRequest) {
	// Every download waits at least the base interval; recorded failures
	// stretch the wait for every guild
	multiplier := o.failures.Multiplier()
	wait := o.cfg.BaseDownloadWait + time.Duration(multiplier)*o.cfg.BaseDownloadWait
	if multiplier > 0 {
		o.updateRow(req, bundle.StageBackoff, "")
	}
	select {
	case <-ctx.Done():
		o.updateRow(req, bundle.StageDiscarded, "")
		return
	case <-time.After(wait):
	}

	if o.isShuttingDown() {
		o.updateRow(req, bundle.StageDiscarded, "")
		return
	}

	// The entry may have landed while this request waited in the queue
	if entry, err := o.cache.Lookup(req.ResolvedSearch); err == nil && entry != nil {
		if entry.FailureKind != "" {
			o.updateRow(req, bundle.StageFailed, entry.FailureMessage)
			return
		}
		if o.deliverFromCache(req, entry) {
			return
		}
	}

	o.updateRow(req, bundle.StageInProgress, "")

	dl, err := o.downloader.Download(ctx, req)
	if err != nil {
		o.handleDownloadError(req, err)
		return
	}

	o.failures.RecordSuccess()
	if err := o.cache.Insert(dl); err != nil {
		o.logger.Warn("cache insert failed", map[string]interface{}{
			"url":   dl.WebpageURL,
			"error": err.Error(),
		})
	}
	if err := o.cache.SearchInsert(req.SearchType, req.RawSearch, dl.WebpageURL); err != nil {
		o.logger.Warn("search cache insert failed", map[string]interface{}{
			"search": req.RawSearch,
			"error":  err.Error(),
		})
	}
	o.deliver(req, dl)
}

func (o *Orchestrator) handleDownloadError(req *bundle.MediaRequest, err error) {
	var dlErr *download.Error
	if !errors.As(err, &dlErr) {
		o.updateRow(req, bundle.StageFailed, "Download failed")
		return
	}

	if download.IsTerminal(err) {
		o.updateRow(req, bundle.StageFailed, dlErr.UserMessage)
		if cacheErr := o.cache.InsertFailure(req.ResolvedSearch, dlErr); cacheErr != nil {
			o.logger.Warn("failed to record failure sentinel", map[string]interface{}{
				"url":   req.ResolvedSearch,
				"error": cacheErr.Error(),
			})
		}
		return
	}

	o.failures.RecordFailure(dlErr.Error())
	req.RetryCount++
	if req.RetryCount > o.cfg.MaxRetries {
		o.updateRow(req, bundle.StageFailed, dlErr.UserMessage)
		return
	}
	if putErr := o.downloadQueue.Put(req.GuildID, req); putErr != nil {
		o.updateRow(req, bundle.StageFailed, dlErr.UserMessage)
		return
	}
	o.updateRow(req, bundle.StageBackoff, dlErr.UserMessage)
}

// deliverFromCache hands a cached entry to the request's destination.
// Returns false when the caller should fall through to a fresh download.
func (o *Orchestrator) deliverFromCache(req *bundle.MediaRequest, entry *models.VideoCache) bool {
	if req.AddToPlaylist != nil {
		if err := o.playlists.AddItem(*req.AddToPlaylist, entry.URL, entry.Title, entry.Uploader); err != nil {
			o.updateRow(req, bundle.StageFailed, "Unable to save to playlist")
			return true
		}
		o.updateRow(req, bundle.StageCompleted, "")
		return true
	}

	dl, err := o.cache.LinkForUse(entry, req, o.guildDir(req.GuildID))
	if err != nil {
		// Stale entry, let the downloader repopulate it
		o.logger.Warn("cache link failed, falling back to download", map[string]interface{}{
			"url":   entry.URL,
			"error": err.Error(),
		})
		return false
	}
	o.deliverDownload(req, dl)
	return true
}

// deliver routes a fresh download to its destination
func (o *Orchestrator) deliver(req *bundle.MediaRequest, dl *download.MediaDownload) {
	if o.isShuttingDown() {
		o.updateRow(req, bundle.StageDiscarded, "")
		return
	}

	if req.AddToPlaylist != nil {
		if err := o.playlists.AddItem(*req.AddToPlaylist, dl.WebpageURL, dl.Title, dl.Uploader); err != nil {
			o.updateRow(req, bundle.StageFailed, "Unable to save to playlist")
			return
		}
		o.updateRow(req, bundle.StageCompleted, "")
		return
	}

	o.cache.Acquire(dl.WebpageURL)
	if err := dl.ReadyFile(o.guildDir(req.GuildID)); err != nil {
		o.cache.Release(dl.WebpageURL)
		o.updateRow(req, bundle.StageFailed, "Unable to prepare file for playback")
		return
	}
	o.deliverDownload(req, dl)
}

// deliverDownload enqueues a ready download onto the guild's player. The
// caller has already acquired the in-transit reference.
func (o *Orchestrator) deliverDownload(req *bundle.MediaRequest, dl *download.MediaDownload) {
	p := o.Player(req.GuildID)
	if p == nil || o.isShuttingDown() {
		dl.Delete()
		o.cache.Release(dl.WebpageURL)
		o.updateRow(req, bundle.StageDiscarded, "")
		return
	}
	if err := p.AddTrack(dl); err != nil {
		dl.Delete()
		o.cache.Release(dl.WebpageURL)
		o.updateRow(req, bundle.StageFailed, "Play queue is full")
		return
	}
	o.updateRow(req, bundle.StageCompleted, "")
}

// runPlayerCleanupLoop shuts down players whose voice channels have been
// empty past the timeout
func (o *Orchestrator) runPlayerCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(playerSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			o.heartbeat(LoopPlayerCleanup)
			o.mu.Lock()
			players := make([]*playerEntry, 0, len(o.players))
			for guildID, p := range o.players {
				players = append(players, &playerEntry{guildID: guildID, player: p})
			}
			o.mu.Unlock()
			for _, entry := range players {
				if entry.player.CheckEmptyChannel(now) {
					o.logger.Info("voice channel empty, shutting player down", map[string]interface{}{
						"guild_id": entry.guildID,
					})
					entry.player.Shutdown()
				}
			}
		}
	}
}

// runHistoryLoop writes finished plays to the persistent store
func (o *Orchestrator) runHistoryLoop(ctx context.Context) {
	for {
		o.heartbeat(LoopHistoryWrite)
		item, err := o.historyQueue.Get(ctx)
		if err != nil {
			return
		}
		if err := o.recorder.Record(item); err != nil {
			o.logger.Error("failed to record history", err, map[string]interface{}{
				"guild_id": item.GuildID,
				"url":      item.URL,
			})
		}
	}
}

// runBundleReaperLoop removes finished bundles after the grace period,
// deleting their chat messages
func (o *Orchestrator) runBundleReaperLoop(ctx context.Context) {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			o.heartbeat(LoopBundleReaper)
			o.reapBundles(now)
		}
	}
}

func (o *Orchestrator) reapBundles(now time.Time) {
	o.mu.Lock()
	var expired []*bundle.RequestBundle
	for _, b := range o.bundles {
		finishedAt := b.FinishedAt()
		if finishedAt != nil && now.Sub(*finishedAt) >= o.cfg.BundleGracePeriod {
			expired = append(expired, b)
			delete(o.bundles, b.ID)
		}
	}
	o.mu.Unlock()

	for _, b := range expired {
		b.Shutdown()
		o.dispatcher.RemoveBundle(b.ID)
	}
}

// runCacheCleanup is scheduled on the cron: evict LRU entries, delete the
// collectable ones, then push backups
func (o *Orchestrator) runCacheCleanup(ctx context.Context) {
	o.heartbeat(LoopCacheCleanup)

	if _, err := o.cache.MarkLRUForDelete(); err != nil {
		o.logger.Error("cache LRU mark failed", err, nil)
		return
	}
	deletable, err := o.cache.CollectDeletable()
	if err != nil {
		o.logger.Error("cache collect failed", err, nil)
		return
	}
	if len(deletable) > 0 {
		if err := o.cache.DeleteEntries(ctx, deletable); err != nil {
			o.logger.Error("cache delete failed", err, nil)
		}
	}
	if _, err := o.cache.BackupPending(ctx, o.cfg.BackupBatchSize); err != nil {
		o.logger.Error("cache backup failed", err, nil)
	}
	if _, err := o.cache.TrimSearchCache(); err != nil {
		o.logger.Error("search cache trim failed", err, nil)
	}
}

type playerEntry struct {
	guildID string
	player  *player.GuildPlayer
}
