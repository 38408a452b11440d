package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jukeboxd/jukebox/pkg/logging"
	"github.com/jukeboxd/jukebox/pkg/queue"
)

// immutableMessage is a fire-and-forget notification
type immutableMessage struct {
	channelID   string
	content     string
	deleteAfter time.Duration
}

// MessageDispatcher owns the single-immutable message queue and the mutable
// bundle registry. Components signal updates via Touch; the dispatch loop
// calls Tick which serves the oldest-touched bundle, or one immutable
// message when no bundle is pending.
type MessageDispatcher struct {
	mu           sync.Mutex
	messenger    ChatMessenger
	logger       logging.Logger
	bundles      map[string]*MutableBundle
	singleQueue  *queue.Queue[immutableMessage]
	stickyWindow int
}

// NewMessageDispatcher creates a dispatcher. stickyWindow controls how many
// recent channel messages are inspected for the sticky re-anchor check; 0
// means "as many as the bundle has messages".
func NewMessageDispatcher(messenger ChatMessenger, logger logging.Logger, stickyWindow int) *MessageDispatcher {
	return &MessageDispatcher{
		messenger:    messenger,
		logger:       logger,
		bundles:      make(map[string]*MutableBundle),
		singleQueue:  queue.NewQueue[immutableMessage](0),
		stickyWindow: stickyWindow,
	}
}

// RegisterBundle adds a mutable bundle backed by the given renderer.
// Registering a live id is a no-op; an id whose bundle was removed but not
// yet cleared by a tick is replaced immediately, its old messages deleted
// out of band, so the new renderer is never dropped.
func (d *MessageDispatcher) RegisterBundle(bundleID, guildID, channelID string, sticky bool, renderer Renderer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if old, exists := d.bundles[bundleID]; exists {
		if !old.removed {
			return
		}
		for _, h := range old.handles {
			if h.id != "" {
				d.singleDelete(old.channelID, h.id)
			}
		}
		old.handles = nil
	}
	d.bundles[bundleID] = &MutableBundle{
		bundleID:  bundleID,
		guildID:   guildID,
		channelID: channelID,
		sticky:    sticky,
		renderer:  renderer,
	}
}

// Touch marks a bundle as having pending work. The first touch after a
// dispatch sets the timestamp used for oldest-first ordering.
func (d *MessageDispatcher) Touch(bundleID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, exists := d.bundles[bundleID]
	if !exists {
		return
	}
	if !b.pending {
		b.pending = true
		b.pendingAt = time.Now()
	}
}

// RemoveBundle schedules a bundle's messages for deletion and removes it
// from the registry once they are gone
func (d *MessageDispatcher) RemoveBundle(bundleID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, exists := d.bundles[bundleID]
	if !exists {
		return
	}
	b.removed = true
	if !b.pending {
		b.pending = true
		b.pendingAt = time.Now()
	}
}

// MoveChannel redirects a bundle's future messages to a new channel. The
// old channel's messages are deleted on the next dispatch.
func (d *MessageDispatcher) MoveChannel(bundleID, newChannelID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, exists := d.bundles[bundleID]
	if !exists {
		return
	}
	for _, h := range b.handles {
		if h.id != "" {
			d.singleDelete(b.channelID, h.id)
		}
	}
	b.handles = nil
	b.channelID = newChannelID
	if !b.pending {
		b.pending = true
		b.pendingAt = time.Now()
	}
}

// QueueMessage adds a fire-and-forget message. A non-zero deleteAfter
// removes the message again after that duration.
func (d *MessageDispatcher) QueueMessage(channelID, content string, deleteAfter time.Duration) {
	d.singleQueue.PutNowait(immutableMessage{ //nolint:errcheck
		channelID:   channelID,
		content:     content,
		deleteAfter: deleteAfter,
	})
}

// singleDelete queues a bare delete as an immutable work item. Caller must
// hold the lock or be on the dispatch loop.
func (d *MessageDispatcher) singleDelete(channelID, messageID string) {
	go func() {
		if err := d.messenger.Delete(context.Background(), channelID, messageID); err != nil && !errors.Is(err, ErrNotFound) {
			d.logger.Warn("failed to delete message on channel move", map[string]interface{}{
				"channel_id": channelID,
				"message_id": messageID,
				"error":      err.Error(),
			})
		}
	}()
}

// Tick performs one dispatch iteration. It returns true when any work was
// done. Transient errors leave the bundle pending for the next tick.
func (d *MessageDispatcher) Tick(ctx context.Context) (bool, error) {
	b := d.selectPendingBundle()
	if b != nil {
		if err := d.dispatchBundle(ctx, b); err != nil {
			d.Touch(b.bundleID)
			return true, err
		}
		return true, nil
	}

	item, err := d.singleQueue.GetNowait()
	if err != nil {
		return false, nil
	}
	if err := d.sendImmutable(ctx, item); err != nil {
		if errors.Is(err, ErrTransient) {
			d.singleQueue.PutNowait(item) //nolint:errcheck
		}
		return true, err
	}
	return true, nil
}

// selectPendingBundle returns the pending bundle with the oldest touch
// timestamp and clears its pending flag
func (d *MessageDispatcher) selectPendingBundle() *MutableBundle {
	d.mu.Lock()
	defer d.mu.Unlock()

	var oldest *MutableBundle
	for _, b := range d.bundles {
		if !b.pending {
			continue
		}
		if oldest == nil || b.pendingAt.Before(oldest.pendingAt) {
			oldest = b
		}
	}
	if oldest != nil {
		oldest.pending = false
	}
	return oldest
}

// dispatchBundle projects the bundle's rendered content onto its chat
// messages with the minimal operation set
func (d *MessageDispatcher) dispatchBundle(ctx context.Context, b *MutableBundle) error {
	if b.removed {
		ops := b.planClearAll()
		if err := d.executeOps(ctx, b, ops); err != nil {
			return err
		}
		d.mu.Lock()
		// The id may have been re-registered since this bundle was
		// selected; only drop the registry entry if it is still ours
		if d.bundles[b.bundleID] == b {
			delete(d.bundles, b.bundleID)
		}
		d.mu.Unlock()
		return nil
	}

	clearExisting := false
	if b.sticky && len(b.handles) > 0 {
		window := d.stickyWindow
		if window <= 0 || window < len(b.handles) {
			window = len(b.handles)
		}
		recent, err := d.messenger.FetchRecent(ctx, b.channelID, window)
		if err != nil {
			return err
		}
		clearExisting = !b.isAnchoredBottom(recent)
	}

	content := b.renderer.Render()
	ops := b.planDispatch(content, clearExisting)
	if err := d.executeOps(ctx, b, ops); err != nil {
		return err
	}
	b.lastDispatchedAt = time.Now()
	return nil
}

// executeOps runs planned operations in order. Missing messages are
// forgotten and skipped; transient errors abort so the tick can retry.
func (d *MessageDispatcher) executeOps(ctx context.Context, b *MutableBundle, ops []messageOp) error {
	for _, op := range ops {
		switch op.kind {
		case opSend:
			id, err := d.messenger.Send(ctx, b.channelID, op.content)
			if err != nil {
				// Handle never materialized, drop it so the next
				// tick resends
				b.forgetHandle(op.handle)
				return err
			}
			op.handle.id = id
			op.handle.content = op.content
		case opEdit:
			err := d.messenger.Edit(ctx, b.channelID, op.handle.id, op.content)
			if errors.Is(err, ErrNotFound) {
				b.forgetHandle(op.handle)
				continue
			}
			if err != nil {
				return err
			}
			op.handle.content = op.content
		case opDelete:
			err := d.messenger.Delete(ctx, b.channelID, op.handle.id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// sendImmutable sends one fire-and-forget message, scheduling its deletion
// when requested
func (d *MessageDispatcher) sendImmutable(ctx context.Context, item immutableMessage) error {
	id, err := d.messenger.Send(ctx, item.channelID, item.content)
	if err != nil {
		return err
	}
	if item.deleteAfter > 0 {
		channelID := item.channelID
		time.AfterFunc(item.deleteAfter, func() {
			if err := d.messenger.Delete(context.Background(), channelID, id); err != nil && !errors.Is(err, ErrNotFound) {
				d.logger.Debug("failed delayed message delete", map[string]interface{}{
					"channel_id": channelID,
					"message_id": id,
				})
			}
		})
	}
	return nil
}

// BundleMessageCount returns how many chat messages a bundle currently
// tracks, for tests and diagnostics
func (d *MessageDispatcher) BundleMessageCount(bundleID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, exists := d.bundles[bundleID]
	if !exists {
		return 0
	}
	return len(b.handles)
}

// HasBundle reports whether a bundle id is registered
func (d *MessageDispatcher) HasBundle(bundleID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, exists := d.bundles[bundleID]
	return exists
}
