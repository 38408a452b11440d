package cache

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jukeboxd/jukebox/pkg/bundle"
	"github.com/jukeboxd/jukebox/pkg/database/models"
	"github.com/jukeboxd/jukebox/pkg/download"
	"github.com/jukeboxd/jukebox/pkg/logging"
)

// Search memoization only applies to streaming-platform tracks, where the
// artist and title pair deterministically identifies the right video
var memoizableSearchTypes = map[bundle.SearchType]bool{
	bundle.SearchTypeStreamingTrack: true,
}

// Config bounds the cache tables
type Config struct {
	Directory        string
	MaxEntries       int
	MaxSearchEntries int
}

// DownloadCache is a content-addressed file store keyed by canonical URL.
// Rows live in the relational store, bytes in the local directory, and
// optionally a mirror in object storage. The in-transit set reference
// counts entries currently queued or playing so eviction never deletes a
// file in use.
type DownloadCache struct {
	store       entryStore
	objectStore ObjectStore
	cfg         Config
	logger      logging.Logger

	mu        sync.Mutex
	inTransit map[string]int

	now func() time.Time
}

// NewDownloadCache creates a cache. objectStore may be nil to disable
// backups.
func NewDownloadCache(store entryStore, objectStore ObjectStore, cfg Config, logger logging.Logger) *DownloadCache {
	return &DownloadCache{
		store:       store,
		objectStore: objectStore,
		cfg:         cfg,
		logger:      logger,
		inTransit:   make(map[string]int),
		now:         time.Now,
	}
}

// Lookup returns the entry for a canonical URL, bumping its recency.
// Marked-for-delete entries are invisible. Terminal-failure sentinels come
// back with FailureKind set so callers can fail fast.
func (c *DownloadCache) Lookup(url string) (*models.VideoCache, error) {
	entry, err := c.store.GetEntry(url)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.MarkedForDelete {
		return nil, nil
	}
	entry.LastIteratedAt = c.now()
	if err := c.store.SaveEntry(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Insert records a finished download. Inserts are idempotent on URL; a
// repeat insert refreshes recency and clears any delete mark.
func (c *DownloadCache) Insert(dl *download.MediaDownload) error {
	entry, err := c.store.GetEntry(dl.WebpageURL)
	if err != nil {
		return err
	}
	now := c.now()
	if entry != nil {
		entry.LastIteratedAt = now
		entry.MarkedForDelete = false
		entry.FailureKind = ""
		entry.FailureMessage = ""
		entry.FailureAt = nil
		if dl.SourcePath != "" {
			entry.Path = dl.SourcePath
		}
		return c.store.SaveEntry(entry)
	}
	return c.store.SaveEntry(&models.VideoCache{
		URL:             dl.WebpageURL,
		Path:            dl.SourcePath,
		Title:           dl.Title,
		Uploader:        dl.Uploader,
		DurationSeconds: dl.DurationSeconds,
		Extractor:       dl.Extractor,
		CreatedAt:       now,
		LastIteratedAt:  now,
	})
}

// InsertFailure records a terminal sentinel so repeat requests for the same
// URL short-circuit without calling the downloader. An existing entry keeps
// its metadata but loses its file, since the URL no longer downloads.
func (c *DownloadCache) InsertFailure(url string, dlErr *download.Error) error {
	entry, err := c.store.GetEntry(url)
	if err != nil {
		return err
	}
	now := c.now()
	if entry == nil {
		entry = &models.VideoCache{URL: url, CreatedAt: now}
	} else if entry.Path != "" {
		if rmErr := os.Remove(entry.Path); rmErr != nil && !os.IsNotExist(rmErr) {
			c.logger.Warn("failed to remove stale cache file", map[string]interface{}{
				"url":   url,
				"path":  entry.Path,
				"error": rmErr.Error(),
			})
		}
		entry.Path = ""
	}
	entry.LastIteratedAt = now
	entry.FailureKind = string(dlErr.Kind)
	entry.FailureMessage = dlErr.UserMessage
	entry.FailureAt = &now
	return c.store.SaveEntry(entry)
}

// LinkForUse builds a cache-hit download for the request and produces its
// per-use copy under guildDir. The entry is acquired into the in-transit
// set; the caller must Release when playback or queue removal drops it.
func (c *DownloadCache) LinkForUse(entry *models.VideoCache, req *bundle.MediaRequest, guildDir string) (*download.MediaDownload, error) {
	if entry.FailureKind != "" {
		return nil, fmt.Errorf("entry for %q is a failure sentinel", entry.URL)
	}
	dl := &download.MediaDownload{
		Request:         req,
		WebpageURL:      entry.URL,
		Title:           entry.Title,
		Uploader:        entry.Uploader,
		Extractor:       entry.Extractor,
		DurationSeconds: entry.DurationSeconds,
		SourcePath:      entry.Path,
		CacheHit:        true,
	}
	c.Acquire(entry.URL)
	if err := dl.ReadyFile(guildDir); err != nil {
		c.Release(entry.URL)
		return nil, err
	}
	return dl, nil
}

// Acquire adds a reference to the in-transit set for a URL
func (c *DownloadCache) Acquire(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTransit[url]++
}

// Release drops a reference. The entry becomes evictable once the count
// reaches zero.
func (c *DownloadCache) Release(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inTransit[url] <= 1 {
		delete(c.inTransit, url)
		return
	}
	c.inTransit[url]--
}

func (c *DownloadCache) isInTransit(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inTransit[url] > 0
}

// MarkLRUForDelete marks the least-recently-iterated excess entries for
// deletion, skipping anything in transit
func (c *DownloadCache) MarkLRUForDelete() (int, error) {
	count, err := c.store.CountEntries()
	if err != nil {
		return 0, err
	}
	excess := int(count) - c.cfg.MaxEntries
	if excess < 1 {
		return 0, nil
	}

	c.mu.Lock()
	transitCount := len(c.inTransit)
	c.mu.Unlock()

	candidates, err := c.store.OldestUnmarked(excess + transitCount)
	if err != nil {
		return 0, err
	}

	marked := 0
	for i := range candidates {
		if marked >= excess {
			break
		}
		entry := candidates[i]
		if c.isInTransit(entry.URL) {
			continue
		}
		entry.MarkedForDelete = true
		if err := c.store.SaveEntry(&entry); err != nil {
			return marked, err
		}
		marked++
	}
	return marked, nil
}

// CollectDeletable returns marked entries with no outstanding references
func (c *DownloadCache) CollectDeletable() ([]models.VideoCache, error) {
	marked, err := c.store.MarkedEntries()
	if err != nil {
		return nil, err
	}
	var deletable []models.VideoCache
	for _, entry := range marked {
		if c.isInTransit(entry.URL) {
			continue
		}
		deletable = append(deletable, entry)
	}
	return deletable, nil
}

// DeleteEntries removes the files, backup objects, and rows for collected
// entries
func (c *DownloadCache) DeleteEntries(ctx context.Context, entries []models.VideoCache) error {
	for _, entry := range entries {
		if entry.Path != "" {
			if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove cached file %s: %w", entry.Path, err)
			}
		}
		if entry.BackupKey != "" && c.objectStore != nil {
			if err := c.objectStore.Delete(ctx, entry.BackupKey); err != nil {
				c.logger.Warn("failed to delete backup object", map[string]interface{}{
					"url":   entry.URL,
					"key":   entry.BackupKey,
					"error": err.Error(),
				})
			}
		}
		if err := c.store.DeleteEntry(entry.URL); err != nil {
			return err
		}
	}
	return nil
}

// BackupPending uploads un-backed-up entries to object storage and records
// their keys. Returns how many were uploaded.
func (c *DownloadCache) BackupPending(ctx context.Context, limit int) (int, error) {
	if c.objectStore == nil {
		return 0, nil
	}
	pending, err := c.store.PendingBackup(limit)
	if err != nil {
		return 0, err
	}
	uploaded := 0
	for i := range pending {
		entry := pending[i]
		key, err := c.objectStore.Put(ctx, filepath.Base(entry.Path), entry.Path)
		if err != nil {
			c.logger.Warn("backup upload failed", map[string]interface{}{
				"url":   entry.URL,
				"error": err.Error(),
			})
			continue
		}
		entry.BackupKey = key
		if err := c.store.SaveEntry(&entry); err != nil {
			return uploaded, err
		}
		uploaded++
	}
	return uploaded, nil
}

// RestoreFromBackup pulls an entry's bytes back down from object storage
func (c *DownloadCache) RestoreFromBackup(ctx context.Context, entry *models.VideoCache) error {
	if c.objectStore == nil || entry.BackupKey == "" {
		return fmt.Errorf("entry %q has no backup", entry.URL)
	}
	return c.objectStore.Get(ctx, entry.BackupKey, entry.Path)
}

// VerifyCache reconciles rows against the local directory on startup.
// Rows whose files are gone are restored from backup when possible,
// otherwise dropped; files with no row are removed.
func (c *DownloadCache) VerifyCache(ctx context.Context) error {
	entries, err := c.store.ListEntries()
	if err != nil {
		return err
	}

	known := make(map[string]bool)
	for i := range entries {
		entry := entries[i]
		if entry.FailureKind != "" {
			continue
		}
		if _, statErr := os.Stat(entry.Path); statErr == nil {
			known[entry.Path] = true
			continue
		}
		if entry.BackupKey != "" && c.objectStore != nil {
			if err := c.RestoreFromBackup(ctx, &entry); err == nil {
				known[entry.Path] = true
				continue
			}
			c.logger.Warn("restore from backup failed, dropping entry", map[string]interface{}{
				"url": entry.URL,
				"key": entry.BackupKey,
			})
		}
		if err := c.store.DeleteEntry(entry.URL); err != nil {
			return err
		}
	}

	dirEntries, err := os.ReadDir(c.cfg.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, de := range dirEntries {
		full := filepath.Join(c.cfg.Directory, de.Name())
		if de.IsDir() {
			if err := os.RemoveAll(full); err != nil {
				return err
			}
			continue
		}
		if !known[full] {
			if err := os.Remove(full); err != nil {
				return err
			}
		}
	}
	return nil
}

// RandomEntries returns up to n random playable entries, the whole pool
// when n is zero
func (c *DownloadCache) RandomEntries(n int) ([]models.VideoCache, error) {
	entries, err := c.store.ListEntries()
	if err != nil {
		return nil, err
	}
	var playable []models.VideoCache
	for _, entry := range entries {
		if entry.FailureKind != "" || entry.MarkedForDelete {
			continue
		}
		playable = append(playable, entry)
	}
	rand.Shuffle(len(playable), func(i, j int) {
		playable[i], playable[j] = playable[j], playable[i]
	})
	if n > 0 && n < len(playable) {
		playable = playable[:n]
	}
	return playable, nil
}

// SearchLookup returns the memoized canonical URL for a query, or empty
// when the search type is not memoizable or nothing is cached
func (c *DownloadCache) SearchLookup(searchType bundle.SearchType, query string) (string, error) {
	if !memoizableSearchTypes[searchType] {
		return "", nil
	}
	search, err := c.store.GetSearch(query)
	if err != nil || search == nil {
		return "", err
	}
	search.LastIteratedAt = c.now()
	if err := c.store.SaveSearch(search); err != nil {
		return "", err
	}
	return search.URL, nil
}

// SearchInsert memoizes a resolved query. Non-memoizable search types are
// ignored.
func (c *DownloadCache) SearchInsert(searchType bundle.SearchType, query, url string) error {
	if !memoizableSearchTypes[searchType] {
		return nil
	}
	return c.store.SaveSearch(&models.SearchString{
		Query:          query,
		URL:            url,
		LastIteratedAt: c.now(),
	})
}

// TrimSearchCache deletes the oldest memoized searches over the cap
func (c *DownloadCache) TrimSearchCache() (int, error) {
	count, err := c.store.CountSearch()
	if err != nil {
		return 0, err
	}
	excess := int(count) - c.cfg.MaxSearchEntries
	if excess < 1 {
		return 0, nil
	}
	oldest, err := c.store.OldestSearches(excess)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, search := range oldest {
		if err := c.store.DeleteSearch(search.Query); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
